// Package record converts inspections to and from the flat row format used
// by storage. One section row is written per section, followed by one row per
// answered item.
package record

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/dshills/inspectcheck/internal/checklist"
	"github.com/dshills/inspectcheck/internal/response"
)

// ErrForeignRow is returned by Reconstruct for a row that belongs to another
// inspection.
var ErrForeignRow = errors.New("record: row belongs to another inspection")

// Header is the inspection-level part of a stored inspection.
type Header struct {
	ID            string            `json:"id"`
	SchemaName    string            `json:"schema_name"`
	SchemaVersion int               `json:"schema_version"`
	Status        response.Status   `json:"status"`
	Metadata      response.Metadata `json:"metadata"`
	CreatedAt     time.Time         `json:"created_at"`
	SubmittedAt   *time.Time        `json:"submitted_at,omitempty"`
	Revision      int64             `json:"revision"`
}

// Row is one stored record. A nil ItemNumber marks a section row, which
// carries the section scalars; item rows carry the answer.
type Row struct {
	InspectionID         string   `json:"inspection_id"`
	SectionCode          string   `json:"section_code"`
	ItemNumber           *int     `json:"item_number,omitempty"`
	SectionNotApplicable bool     `json:"section_not_applicable"`
	SectionLocation      *string  `json:"section_location,omitempty"`
	SectionVoltage       *string  `json:"section_voltage,omitempty"`
	SectionCurrent       *string  `json:"section_current,omitempty"`
	SectionPower         *string  `json:"section_power,omitempty"`
	SectionNotes         *string  `json:"section_notes,omitempty"`
	SelectedOptions      []string `json:"selected_options"`
	FreeText             *string  `json:"free_text,omitempty"`
	IsNonconforming      bool     `json:"is_nonconforming"`
}

// IsSection reports whether r is a section row.
func (r Row) IsSection() bool { return r.ItemNumber == nil }

// HeaderOf extracts the header of in.
func HeaderOf(in *response.Inspection) Header {
	h := Header{
		ID:            in.ID,
		SchemaName:    in.SchemaName,
		SchemaVersion: in.SchemaVersion,
		Status:        in.Status,
		Metadata:      in.Metadata,
		CreatedAt:     in.CreatedAt,
		Revision:      in.Revision,
	}
	if in.SubmittedAt != nil {
		t := *in.SubmittedAt
		h.SubmittedAt = &t
	}
	return h
}

// Emit flattens in. Sections and items of s come first in schema order;
// entries s does not define follow, sorted by section code then item number,
// so that nothing stored is ever lost. Unanswered items are not written.
func Emit(in *response.Inspection, s *checklist.Schema) []Row {
	var rows []Row
	for _, sec := range s.Sections {
		sr := in.Sections[sec.Code]
		if sr == nil {
			sr = &response.SectionResponse{}
		}
		rows = append(rows, sectionRow(in.ID, sec.Code, sr))
		for _, it := range sec.Items {
			if r := sr.Items[it.Number]; r != nil && r.Answered() {
				rows = append(rows, itemRow(in.ID, sec.Code, it.Number, r))
			}
		}
	}

	for _, code := range slices.Sorted(maps.Keys(in.Sections)) {
		sr := in.Sections[code]
		sec, err := s.FindSection(code)
		if err != nil {
			rows = append(rows, sectionRow(in.ID, code, sr))
		}
		for _, n := range slices.Sorted(maps.Keys(sr.Items)) {
			if sec != nil {
				if _, ok := sec.Item(n); ok {
					continue
				}
			}
			if r := sr.Items[n]; r.Answered() {
				rows = append(rows, itemRow(in.ID, code, n, r))
			}
		}
	}
	return rows
}

func sectionRow(id, code string, sr *response.SectionResponse) Row {
	return Row{
		InspectionID:         id,
		SectionCode:          code,
		SectionNotApplicable: sr.NotApplicable,
		SectionLocation:      optional(sr.Location),
		SectionVoltage:       optional(sr.Voltage),
		SectionCurrent:       optional(sr.Current),
		SectionPower:         optional(sr.Power),
		SectionNotes:         optional(sr.Notes),
	}
}

func itemRow(id, code string, n int, r *response.ItemResponse) Row {
	row := Row{
		InspectionID:    id,
		SectionCode:     code,
		ItemNumber:      &n,
		FreeText:        optional(r.FreeText),
		IsNonconforming: r.NonConforming,
	}
	if len(r.Selected) > 0 {
		row.SelectedOptions = slices.Clone(r.Selected)
	}
	return row
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Reconstruct rebuilds an inspection from its header and rows. Every schema
// section and item gets a response, answered or not. Rows for sections or
// items s does not define are kept and flagged Unrenderable. Stored
// selections are normalized and the non-conformity flag is always derived
// from them, never read from the row. A not-applicable flag on a section the
// schema does not allow to be not applicable is ignored.
//
// A header for a different schema name is rejected; a different version of
// the same schema is accepted.
func Reconstruct(h Header, rows []Row, s *checklist.Schema) (*response.Inspection, error) {
	if h.SchemaName != s.Name {
		return nil, fmt.Errorf("record: inspection %s uses schema %q, got %q", h.ID, h.SchemaName, s.Name)
	}
	in := response.New(h.ID, s, h.Metadata)
	in.SchemaVersion = h.SchemaVersion
	in.Status = h.Status
	in.CreatedAt = h.CreatedAt
	in.Revision = h.Revision
	if h.SubmittedAt != nil {
		t := *h.SubmittedAt
		in.SubmittedAt = &t
	}

	for i, row := range rows {
		if row.InspectionID != h.ID {
			return nil, fmt.Errorf("%w: row %d has %q, want %q", ErrForeignRow, i, row.InspectionID, h.ID)
		}
		if row.SectionCode == "" {
			return nil, fmt.Errorf("record: row %d: empty section code", i)
		}
		sec, lookupErr := s.FindSection(row.SectionCode)
		sr := in.Section(row.SectionCode)
		if lookupErr != nil {
			sr.Unrenderable = true
		}

		if row.IsSection() {
			// The flag is dropped where the schema forbids it; it would
			// otherwise hide the section's non-conformities.
			sr.NotApplicable = row.SectionNotApplicable && (sec == nil || sec.SupportsNotApplicable)
			sr.Location = deref(row.SectionLocation)
			sr.Voltage = deref(row.SectionVoltage)
			sr.Current = deref(row.SectionCurrent)
			sr.Power = deref(row.SectionPower)
			sr.Notes = deref(row.SectionNotes)
			continue
		}

		n := *row.ItemNumber
		r := sr.Item(n)
		r.Selected = slices.Clone(row.SelectedOptions)
		r.FreeText = deref(row.FreeText)

		var it *checklist.Item
		if sec != nil {
			it, _ = sec.Item(n)
		}
		r.Unrenderable = it == nil
		response.Normalize(it, r)
	}
	return in, nil
}
