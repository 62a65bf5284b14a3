// Package store persists inspections as header + record rows over
// database/sql. SQLite (modernc.org/sqlite, driver "sqlite") and PostgreSQL
// (lib/pq, driver "postgres") are supported with the same SQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/dshills/inspectcheck/internal/record"
	"github.com/dshills/inspectcheck/internal/response"
)

// Sentinel errors, reachable through errors.Is on a *PersistenceError.
var (
	ErrNotFound  = errors.New("store: inspection not found")
	ErrConflict  = errors.New("store: revision conflict")
	ErrSubmitted = errors.New("store: inspection already submitted")
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// PersistenceError wraps every failure of the store.
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store is the persistence collaborator of the inspection service.
type Store interface {
	// Create stores a new inspection at revision 1.
	Create(ctx context.Context, h record.Header, rows []record.Row) (int64, error)
	// Save replaces the stored rows when the stored revision equals
	// expectedRevision and returns the new revision.
	Save(ctx context.Context, h record.Header, rows []record.Row, expectedRevision int64) (int64, error)
	Load(ctx context.Context, id string) (record.Header, []record.Row, error)
	// List returns the headers with the given status, or all when status is
	// empty, oldest first.
	List(ctx context.Context, status response.Status) ([]record.Header, error)
	Close() error
}

// SQLStore implements Store over a *sql.DB.
type SQLStore struct {
	db  *sql.DB
	log logrus.FieldLogger
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

// Open connects to dsn with driver, checks the connection and creates the
// tables if needed. A nil log uses the logrus standard logger.
func Open(ctx context.Context, driver, dsn string, log logrus.FieldLogger) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, &PersistenceError{Op: "open", Err: fmt.Errorf("unsupported driver %q", driver)}
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &PersistenceError{Op: "open", Err: err}
	}
	if driver == DriverSQLite {
		// An in-memory database lives and dies with its connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &PersistenceError{Op: "ping", Err: err}
	}
	if err := CreateSchema(ctx, db); err != nil {
		db.Close()
		return nil, &PersistenceError{Op: "migrate", Err: err}
	}
	return New(db, log), nil
}

// New wraps an open database whose schema already exists.
func New(db *sql.DB, log logrus.FieldLogger) *SQLStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SQLStore{db: db, log: log, now: time.Now}
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Create(ctx context.Context, h record.Header, rows []record.Row) (int64, error) {
	if h.ID == "" {
		return 0, &PersistenceError{Op: "create", Err: errors.New("empty inspection id")}
	}
	meta, err := json.Marshal(h.Metadata)
	if err != nil {
		return 0, &PersistenceError{Op: "create", ID: h.ID, Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &PersistenceError{Op: "create", ID: h.ID, Err: err}
	}
	defer tx.Rollback()

	now := formatTime(s.now())
	_, err = tx.ExecContext(ctx, `
		INSERT INTO inspection (id, schema_name, schema_version, status, metadata, created_at, submitted_at, updated_at, revision)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
	`, h.ID, h.SchemaName, h.SchemaVersion, string(h.Status), string(meta), formatTime(h.CreatedAt), formatTimePtr(h.SubmittedAt), now)
	if err != nil {
		return 0, &PersistenceError{Op: "create", ID: h.ID, Err: err}
	}
	if err := insertRows(ctx, tx, h.ID, rows); err != nil {
		return 0, &PersistenceError{Op: "create", ID: h.ID, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &PersistenceError{Op: "create", ID: h.ID, Err: err}
	}

	s.log.WithFields(logrus.Fields{"inspection": h.ID, "schema": h.SchemaName, "rows": len(rows)}).Debug("inspection created")
	return 1, nil
}

func (s *SQLStore) Save(ctx context.Context, h record.Header, rows []record.Row, expectedRevision int64) (int64, error) {
	meta, err := json.Marshal(h.Metadata)
	if err != nil {
		return 0, &PersistenceError{Op: "save", ID: h.ID, Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &PersistenceError{Op: "save", ID: h.ID, Err: err}
	}
	defer tx.Rollback()

	var status string
	var revision int64
	err = tx.QueryRowContext(ctx, `SELECT status, revision FROM inspection WHERE id = $1`, h.ID).Scan(&status, &revision)
	if err == sql.ErrNoRows {
		return 0, &PersistenceError{Op: "save", ID: h.ID, Err: ErrNotFound}
	}
	if err != nil {
		return 0, &PersistenceError{Op: "save", ID: h.ID, Err: err}
	}
	if response.Status(status) == response.StatusSubmitted {
		return 0, &PersistenceError{Op: "save", ID: h.ID, Err: ErrSubmitted}
	}
	if revision != expectedRevision {
		s.log.WithFields(logrus.Fields{"inspection": h.ID, "stored": revision, "expected": expectedRevision}).Warn("revision conflict")
		return 0, &PersistenceError{Op: "save", ID: h.ID, Err: fmt.Errorf("%w: stored %d, expected %d", ErrConflict, revision, expectedRevision)}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE inspection
		SET status = $1, metadata = $2, submitted_at = $3, updated_at = $4, revision = revision + 1
		WHERE id = $5 AND revision = $6
	`, string(h.Status), string(meta), formatTimePtr(h.SubmittedAt), formatTime(s.now()), h.ID, expectedRevision)
	if err != nil {
		return 0, &PersistenceError{Op: "save", ID: h.ID, Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return 0, &PersistenceError{Op: "save", ID: h.ID, Err: ErrConflict}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM response_row WHERE inspection_id = $1`, h.ID); err != nil {
		return 0, &PersistenceError{Op: "save", ID: h.ID, Err: err}
	}
	if err := insertRows(ctx, tx, h.ID, rows); err != nil {
		return 0, &PersistenceError{Op: "save", ID: h.ID, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &PersistenceError{Op: "save", ID: h.ID, Err: err}
	}

	next := expectedRevision + 1
	s.log.WithFields(logrus.Fields{"inspection": h.ID, "revision": next, "status": h.Status, "rows": len(rows)}).Debug("inspection saved")
	return next, nil
}

func insertRows(ctx context.Context, tx *sql.Tx, id string, rows []record.Row) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO response_row (
			inspection_id, seq, section_code, item_number, section_not_applicable,
			section_location, section_voltage, section_current, section_power, section_notes,
			selected_options, free_text, is_nonconforming
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`)
	if err != nil {
		return fmt.Errorf("prepare row insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range rows {
		if r.InspectionID != id {
			return fmt.Errorf("row %d belongs to inspection %q", i, r.InspectionID)
		}
		var item sql.NullInt64
		if r.ItemNumber != nil {
			item = sql.NullInt64{Int64: int64(*r.ItemNumber), Valid: true}
		}
		var selected sql.NullString
		if r.SelectedOptions != nil {
			b, err := json.Marshal(r.SelectedOptions)
			if err != nil {
				return fmt.Errorf("row %d: encode options: %w", i, err)
			}
			selected = sql.NullString{String: string(b), Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			id, i, r.SectionCode, item, r.SectionNotApplicable,
			nullString(r.SectionLocation), nullString(r.SectionVoltage), nullString(r.SectionCurrent),
			nullString(r.SectionPower), nullString(r.SectionNotes),
			selected, nullString(r.FreeText), r.IsNonconforming,
		)
		if err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, id string) (record.Header, []record.Row, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, schema_name, schema_version, status, metadata, created_at, submitted_at, revision
		FROM inspection WHERE id = $1
	`, id)
	h, err := scanHeader(row)
	if err == sql.ErrNoRows {
		return record.Header{}, nil, &PersistenceError{Op: "load", ID: id, Err: ErrNotFound}
	}
	if err != nil {
		return record.Header{}, nil, &PersistenceError{Op: "load", ID: id, Err: err}
	}

	rs, err := s.db.QueryContext(ctx, `
		SELECT section_code, item_number, section_not_applicable,
			section_location, section_voltage, section_current, section_power, section_notes,
			selected_options, free_text, is_nonconforming
		FROM response_row WHERE inspection_id = $1 ORDER BY seq
	`, id)
	if err != nil {
		return record.Header{}, nil, &PersistenceError{Op: "load", ID: id, Err: err}
	}
	defer rs.Close()

	var rows []record.Row
	for rs.Next() {
		r := record.Row{InspectionID: id}
		var (
			item                                           sql.NullInt64
			location, voltage, current, power, notes, text sql.NullString
			selected                                       sql.NullString
		)
		if err := rs.Scan(&r.SectionCode, &item, &r.SectionNotApplicable,
			&location, &voltage, &current, &power, &notes,
			&selected, &text, &r.IsNonconforming); err != nil {
			return record.Header{}, nil, &PersistenceError{Op: "load", ID: id, Err: err}
		}
		if item.Valid {
			n := int(item.Int64)
			r.ItemNumber = &n
		}
		r.SectionLocation = stringPtr(location)
		r.SectionVoltage = stringPtr(voltage)
		r.SectionCurrent = stringPtr(current)
		r.SectionPower = stringPtr(power)
		r.SectionNotes = stringPtr(notes)
		r.FreeText = stringPtr(text)
		if selected.Valid {
			if err := json.Unmarshal([]byte(selected.String), &r.SelectedOptions); err != nil {
				return record.Header{}, nil, &PersistenceError{Op: "load", ID: id, Err: fmt.Errorf("decode options of %s: %w", r.SectionCode, err)}
			}
		}
		rows = append(rows, r)
	}
	if err := rs.Err(); err != nil {
		return record.Header{}, nil, &PersistenceError{Op: "load", ID: id, Err: err}
	}
	return h, rows, nil
}

func (s *SQLStore) List(ctx context.Context, status response.Status) ([]record.Header, error) {
	q := `SELECT id, schema_name, schema_version, status, metadata, created_at, submitted_at, revision FROM inspection`
	var args []any
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at, id`

	rs, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	defer rs.Close()

	var out []record.Header
	for rs.Next() {
		h, err := scanHeader(rs)
		if err != nil {
			return nil, &PersistenceError{Op: "list", Err: err}
		}
		out = append(out, h)
	}
	if err := rs.Err(); err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHeader(sc scanner) (record.Header, error) {
	var (
		h         record.Header
		status    string
		meta      string
		created   string
		submitted sql.NullString
	)
	if err := sc.Scan(&h.ID, &h.SchemaName, &h.SchemaVersion, &status, &meta, &created, &submitted, &h.Revision); err != nil {
		return record.Header{}, err
	}
	h.Status = response.Status(status)
	if err := json.Unmarshal([]byte(meta), &h.Metadata); err != nil {
		return record.Header{}, fmt.Errorf("decode metadata: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return record.Header{}, fmt.Errorf("decode created_at: %w", err)
	}
	h.CreatedAt = t
	if submitted.Valid {
		t, err := time.Parse(time.RFC3339Nano, submitted.String)
		if err != nil {
			return record.Header{}, fmt.Errorf("decode submitted_at: %w", err)
		}
		h.SubmittedAt = &t
	}
	return h, nil
}

// timeLayout is RFC 3339 with a fixed-width fraction so stored values sort
// lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
