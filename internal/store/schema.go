package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables needed by the store.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	return nil
}

// Timestamps are RFC 3339 text and selections JSON text so that the same DDL
// runs unchanged on SQLite and PostgreSQL.
const schema = `
-- Inspections
CREATE TABLE IF NOT EXISTS inspection (
    id TEXT PRIMARY KEY,
    schema_name TEXT NOT NULL,
    schema_version INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'submitted')),
    metadata TEXT NOT NULL,
    created_at TEXT NOT NULL,
    submitted_at TEXT,
    updated_at TEXT NOT NULL,
    revision INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_inspection_status ON inspection(status);

-- Response rows
CREATE TABLE IF NOT EXISTS response_row (
    inspection_id TEXT NOT NULL REFERENCES inspection(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    section_code TEXT NOT NULL,
    item_number INTEGER,
    section_not_applicable BOOLEAN NOT NULL DEFAULT FALSE,
    section_location TEXT,
    section_voltage TEXT,
    section_current TEXT,
    section_power TEXT,
    section_notes TEXT,
    selected_options TEXT,
    free_text TEXT,
    is_nonconforming BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (inspection_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_response_row_section ON response_row(inspection_id, section_code);
`
