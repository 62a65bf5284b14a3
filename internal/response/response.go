// Package response holds the mutable per-inspection answers built against a
// checklist schema, and the engine that applies user actions to them.
package response

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/inspectcheck/internal/checklist"
)

// Status is the persistence lifecycle state of an inspection.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
)

// ErrSubmitted is returned by every mutation once the inspection has been
// finalized.
var ErrSubmitted = errors.New("response: inspection already submitted")

// ItemResponse is the answer to one item. NonConforming mirrors the presence
// of a non-conformity option in Selected and is only ever written by the
// engine.
type ItemResponse struct {
	Selected      []string `json:"selected,omitempty"`
	FreeText      string   `json:"free_text,omitempty"`
	NonConforming bool     `json:"non_conforming"`
	// Unrenderable marks an answer loaded for an item the schema no longer
	// defines. It is kept for storage and ignored everywhere else.
	Unrenderable bool `json:"unrenderable,omitempty"`
}

// Has reports whether value is selected.
func (r *ItemResponse) Has(value string) bool {
	return slices.Contains(r.Selected, value)
}

// Answered reports whether any option or free text was given.
func (r *ItemResponse) Answered() bool {
	return len(r.Selected) > 0 || r.FreeText != ""
}

func (r *ItemResponse) clone() *ItemResponse {
	c := *r
	c.Selected = slices.Clone(r.Selected)
	return &c
}

// SectionResponse holds the answers and context values of one section. While
// NotApplicable is set, Items is ignored but kept intact.
type SectionResponse struct {
	NotApplicable bool                  `json:"not_applicable"`
	Location      string                `json:"location,omitempty"`
	Voltage       string                `json:"voltage,omitempty"`
	Current       string                `json:"current,omitempty"`
	Power         string                `json:"power,omitempty"`
	Notes         string                `json:"notes,omitempty"`
	Items         map[int]*ItemResponse `json:"items"`
	Unrenderable  bool                  `json:"unrenderable,omitempty"`
}

// Field returns the value of a context field.
func (s *SectionResponse) Field(f checklist.Field) string {
	switch f {
	case checklist.FieldLocation:
		return s.Location
	case checklist.FieldVoltage:
		return s.Voltage
	case checklist.FieldCurrent:
		return s.Current
	case checklist.FieldPower:
		return s.Power
	case checklist.FieldNotes:
		return s.Notes
	}
	return ""
}

func (s *SectionResponse) setField(f checklist.Field, v string) {
	switch f {
	case checklist.FieldLocation:
		s.Location = v
	case checklist.FieldVoltage:
		s.Voltage = v
	case checklist.FieldCurrent:
		s.Current = v
	case checklist.FieldPower:
		s.Power = v
	case checklist.FieldNotes:
		s.Notes = v
	}
}

// Item returns the response for item n, creating an empty one if needed.
func (s *SectionResponse) Item(n int) *ItemResponse {
	if s.Items == nil {
		s.Items = make(map[int]*ItemResponse)
	}
	r, ok := s.Items[n]
	if !ok {
		r = &ItemResponse{}
		s.Items[n] = r
	}
	return r
}

func (s *SectionResponse) clone() *SectionResponse {
	c := *s
	c.Items = make(map[int]*ItemResponse, len(s.Items))
	for n, r := range s.Items {
		c.Items[n] = r.clone()
	}
	return &c
}

// Metadata is the inspection-level information the engine carries but does
// not interpret. The validate tags are enforced at submission.
type Metadata struct {
	Subject            string    `json:"subject" yaml:"subject" validate:"required"`
	Inspector          string    `json:"inspector" yaml:"inspector" validate:"required"`
	Date               time.Time `json:"date" yaml:"date" validate:"required"`
	Notes              string    `json:"notes,omitempty" yaml:"notes"`
	InspectorSignature string    `json:"inspector_signature,omitempty" yaml:"inspector_signature" validate:"required"`
	ClientSignature    string    `json:"client_signature,omitempty" yaml:"client_signature" validate:"required"`
}

// Inspection is the aggregate root: one set of answers against one schema
// version.
type Inspection struct {
	ID            string                      `json:"id"`
	SchemaName    string                      `json:"schema_name"`
	SchemaVersion int                         `json:"schema_version"`
	Status        Status                      `json:"status"`
	Metadata      Metadata                    `json:"metadata"`
	Sections      map[string]*SectionResponse `json:"sections"`
	CreatedAt     time.Time                   `json:"created_at"`
	SubmittedAt   *time.Time                  `json:"submitted_at,omitempty"`
	// Revision is the optimistic-concurrency token of the stored copy.
	Revision int64 `json:"revision"`
}

// NewID returns a fresh inspection identifier.
func NewID() string {
	return uuid.New().String()
}

// New returns an empty draft inspection with one response per section and
// item of s.
func New(id string, s *checklist.Schema, meta Metadata) *Inspection {
	in := &Inspection{
		ID:            id,
		SchemaName:    s.Name,
		SchemaVersion: s.Version,
		Status:        StatusDraft,
		Metadata:      meta,
		Sections:      make(map[string]*SectionResponse, len(s.Sections)),
		CreatedAt:     time.Now().UTC(),
	}
	for _, sec := range s.Sections {
		sr := &SectionResponse{Items: make(map[int]*ItemResponse, len(sec.Items))}
		for _, it := range sec.Items {
			sr.Items[it.Number] = &ItemResponse{}
		}
		in.Sections[sec.Code] = sr
	}
	return in
}

// Section returns the response of section code, creating an empty one if the
// inspection predates the section.
func (in *Inspection) Section(code string) *SectionResponse {
	if in.Sections == nil {
		in.Sections = make(map[string]*SectionResponse)
	}
	sr, ok := in.Sections[code]
	if !ok {
		sr = &SectionResponse{Items: make(map[int]*ItemResponse)}
		in.Sections[code] = sr
	}
	return sr
}

// Submitted reports whether the inspection has been finalized.
func (in *Inspection) Submitted() bool {
	return in.Status == StatusSubmitted
}

// Finalize moves a draft to the submitted state. No engine mutation is
// accepted afterwards.
func (in *Inspection) Finalize(now time.Time) error {
	if in.Submitted() {
		return ErrSubmitted
	}
	t := now.UTC()
	in.Status = StatusSubmitted
	in.SubmittedAt = &t
	return nil
}

// Clone returns a deep copy.
func (in *Inspection) Clone() *Inspection {
	c := *in
	if in.SubmittedAt != nil {
		t := *in.SubmittedAt
		c.SubmittedAt = &t
	}
	c.Sections = make(map[string]*SectionResponse, len(in.Sections))
	for code, sr := range in.Sections {
		c.Sections[code] = sr.clone()
	}
	return &c
}

// Ref points at a section, or at an item when Item is non-zero.
type Ref struct {
	Section string `json:"section"`
	Item    int    `json:"item,omitempty"`
}

func (r Ref) String() string {
	if r.Item == 0 {
		return r.Section
	}
	return fmt.Sprintf("%s/%d", r.Section, r.Item)
}

// Unrenderable lists the stored answers that the current schema cannot place,
// sorted by section code then item number.
func (in *Inspection) Unrenderable() []Ref {
	var refs []Ref
	for _, code := range slices.Sorted(maps.Keys(in.Sections)) {
		sr := in.Sections[code]
		if sr.Unrenderable {
			refs = append(refs, Ref{Section: code})
			continue
		}
		for _, n := range slices.Sorted(maps.Keys(sr.Items)) {
			if sr.Items[n].Unrenderable {
				refs = append(refs, Ref{Section: code, Item: n})
			}
		}
	}
	return refs
}
