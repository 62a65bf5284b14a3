package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Mutation("toggle", nil)
	m.Mutation("toggle", nil)
	m.Mutation("toggle", errors.New("nope"))
	m.Evaluation()
	m.Submission(OutcomeRejected)
	m.PersistenceError("save")
	m.ObserveApply(time.Now())

	if got := testutil.ToFloat64(m.Mutations.WithLabelValues("toggle", "ok")); got != 2 {
		t.Errorf("toggle ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Mutations.WithLabelValues("toggle", "rejected")); got != 1 {
		t.Errorf("toggle rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Evaluations); got != 1 {
		t.Errorf("evaluations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Submissions.WithLabelValues(OutcomeRejected)); got != 1 {
		t.Errorf("rejected submissions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PersistenceErrors.WithLabelValues("save")); got != 1 {
		t.Errorf("persistence errors = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.ApplyDuration); n != 1 {
		t.Errorf("apply histogram series = %d, want 1", n)
	}
}

func TestNilMetricsRecordsNothing(t *testing.T) {
	var m *Metrics
	m.Mutation("toggle", nil)
	m.Evaluation()
	m.Submission(OutcomeAccepted)
	m.PersistenceError("load")
	m.ObserveApply(time.Now())
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Errorf("WriteTextfile on nil: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Submission(OutcomeAccepted)
	path := filepath.Join(t.TempDir(), "inspectcheck.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `inspectcheck_submissions_total{outcome="accepted"} 1`) {
		t.Errorf("textfile missing submission counter:\n%s", b)
	}
}
