// Package service ties the checklist catalog, the mutation engine, the store
// and the metrics together into the operations the command line exposes.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/inspectcheck/internal/checklist"
	"github.com/dshills/inspectcheck/internal/conformity"
	"github.com/dshills/inspectcheck/internal/logging"
	"github.com/dshills/inspectcheck/internal/metrics"
	"github.com/dshills/inspectcheck/internal/narrative"
	"github.com/dshills/inspectcheck/internal/record"
	"github.com/dshills/inspectcheck/internal/report"
	"github.com/dshills/inspectcheck/internal/response"
	"github.com/dshills/inspectcheck/internal/store"
	"github.com/dshills/inspectcheck/internal/submission"
)

const moduleName = "service"

// RejectedError is returned by Submit when validation fails. The stored
// inspection is left as it was.
type RejectedError struct {
	ID     string
	Errors []submission.ValidationError
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("service: submission of %s rejected: %d validation error(s)", e.ID, len(e.Errors))
}

// Options configures a Service. Catalog and Store are required.
type Options struct {
	Catalog *checklist.Catalog
	Store   store.Store
	Policy  submission.Policy
	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service runs inspection operations against a store.
type Service struct {
	catalog *checklist.Catalog
	store   store.Store
	policy  submission.Policy
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New returns a Service. A nil Log uses the logrus standard logger.
func New(opts Options) (*Service, error) {
	if opts.Catalog == nil {
		return nil, errors.New("service: nil catalog")
	}
	if opts.Store == nil {
		return nil, errors.New("service: nil store")
	}
	s := &Service{
		catalog: opts.Catalog,
		store:   opts.Store,
		policy:  opts.Policy,
		log:     opts.Log,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Create starts a draft inspection against schema name at version (0 means
// the latest) and stores it.
func (s *Service) Create(ctx context.Context, name string, version int, meta response.Metadata) (*response.Inspection, error) {
	sch, err := s.catalog.Lookup(name, version)
	if err != nil {
		return nil, fmt.Errorf("service: create: %w", err)
	}
	in := response.New(response.NewID(), sch, meta)
	in.CreatedAt = s.now().UTC()

	rev, err := s.store.Create(ctx, record.HeaderOf(in), record.Emit(in, sch))
	if err != nil {
		s.metrics.PersistenceError("create")
		logging.LogError(s.log, moduleName, "Create", "store create", map[string]any{"inspection": in.ID}, err)
		return nil, err
	}
	in.Revision = rev
	s.log.WithFields(logrus.Fields{"inspection": in.ID, "schema": sch.Key()}).Info("inspection created")
	return in, nil
}

// Load reads an inspection and the schema it is rendered with. When the
// stored schema version is no longer in the catalog the latest version of
// the same schema is used; the inspection can then be read but not edited.
func (s *Service) Load(ctx context.Context, id string) (*response.Inspection, *checklist.Schema, error) {
	h, rows, err := s.store.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.metrics.PersistenceError("load")
		}
		return nil, nil, err
	}

	sch, err := s.catalog.Lookup(h.SchemaName, h.SchemaVersion)
	if errors.Is(err, checklist.ErrUnknownSchema) {
		sch, err = s.catalog.Lookup(h.SchemaName, 0)
		if err == nil {
			s.log.WithFields(logrus.Fields{
				"inspection": id,
				"stored":     h.SchemaVersion,
				"using":      sch.Version,
			}).Warn("stored schema version unavailable, rendering with latest")
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("service: load %s: %w", id, err)
	}

	in, err := record.Reconstruct(h, rows, sch)
	if err != nil {
		return nil, nil, fmt.Errorf("service: load %s: %w", id, err)
	}
	return in, sch, nil
}

// Apply runs actions in order on the stored inspection and saves the result.
// The first rejected action aborts the batch with an *ActionError and
// nothing is saved.
func (s *Service) Apply(ctx context.Context, id string, actions []Action) (*response.Inspection, error) {
	start := time.Now()
	defer s.metrics.ObserveApply(start)

	in, sch, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := in.Revision

	e := response.NewEngine(sch)
	for i, a := range actions {
		err := a.apply(e, in)
		s.metrics.Mutation(string(a.Op), err)
		if err != nil {
			s.log.WithFields(logrus.Fields{"inspection": id, "action": i + 1, "op": a.Op}).WithError(err).Warn("action rejected")
			return nil, &ActionError{Index: i, Action: a, Err: err}
		}
	}

	rev, err := s.store.Save(ctx, record.HeaderOf(in), record.Emit(in, sch), expected)
	if err != nil {
		s.metrics.PersistenceError("save")
		logging.LogError(s.log, moduleName, "Apply", "store save", map[string]any{"inspection": id, "revision": expected}, err)
		return nil, err
	}
	in.Revision = rev
	s.log.WithFields(logrus.Fields{"inspection": id, "actions": len(actions), "revision": rev}).Info("actions applied")
	return in, nil
}

// Status evaluates the stored inspection.
func (s *Service) Status(ctx context.Context, id string) (conformity.InspectionResult, error) {
	in, sch, err := s.Load(ctx, id)
	if err != nil {
		return conformity.InspectionResult{}, err
	}
	s.metrics.Evaluation()
	return conformity.EvaluateInspection(in, sch), nil
}

// Document synthesizes the report of the stored inspection.
func (s *Service) Document(ctx context.Context, id string) (*report.Document, error) {
	in, sch, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.metrics.Evaluation()
	return report.NewDocument(in, sch, conformity.Standard{}), nil
}

// Submit validates the stored inspection against the policy and, when it
// passes, finalizes and saves it. Validation failures are returned as a
// *RejectedError.
func (s *Service) Submit(ctx context.Context, id string) (*response.Inspection, error) {
	in, sch, err := s.Load(ctx, id)
	if err != nil {
		s.metrics.Submission(metrics.OutcomeError)
		return nil, err
	}
	expected := in.Revision

	verrs, err := submission.Submit(in, sch, s.policy, s.now())
	if err != nil {
		s.metrics.Submission(metrics.OutcomeError)
		return nil, fmt.Errorf("service: submit %s: %w", id, err)
	}
	if len(verrs) > 0 {
		s.metrics.Submission(metrics.OutcomeRejected)
		s.log.WithFields(logrus.Fields{"inspection": id, "errors": len(verrs)}).Warn("submission rejected")
		return nil, &RejectedError{ID: id, Errors: verrs}
	}

	rev, err := s.store.Save(ctx, record.HeaderOf(in), record.Emit(in, sch), expected)
	if err != nil {
		s.metrics.Submission(metrics.OutcomeError)
		s.metrics.PersistenceError("save")
		logging.LogError(s.log, moduleName, "Submit", "store save", map[string]any{"inspection": id}, err)
		return nil, err
	}
	in.Revision = rev
	s.metrics.Submission(metrics.OutcomeAccepted)
	s.log.WithFields(logrus.Fields{"inspection": id, "revision": rev}).Info("inspection submitted")
	return in, nil
}

// List returns the stored inspection headers with status, or all of them
// when status is empty.
func (s *Service) List(ctx context.Context, status response.Status) ([]record.Header, error) {
	hs, err := s.store.List(ctx, status)
	if err != nil {
		s.metrics.PersistenceError("list")
		return nil, err
	}
	return hs, nil
}

// Summarize drafts the findings narrative of the stored inspection.
func (s *Service) Summarize(ctx context.Context, id string, opts narrative.Options) (*narrative.Summary, error) {
	doc, err := s.Document(ctx, id)
	if err != nil {
		return nil, err
	}
	if opts.Log == nil {
		opts.Log = s.log
	}
	sum, err := narrative.Summarize(ctx, doc, opts)
	if err != nil {
		logging.LogError(s.log, moduleName, "Summarize", "narrative", map[string]any{"inspection": id, "provider": opts.Provider}, err)
		return nil, err
	}
	if len(sum.Dropped) > 0 || len(sum.Uncovered) > 0 {
		s.log.WithFields(logrus.Fields{
			"inspection": id,
			"dropped":    sum.Dropped,
			"uncovered":  sum.Uncovered,
		}).Warn("narrative citations adjusted")
	}
	return sum, nil
}
