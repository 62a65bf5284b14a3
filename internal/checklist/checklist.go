// Package checklist defines the immutable checklist schema: sections made of
// numbered items, each item offering a closed set of options.
package checklist

import (
	"fmt"
	"slices"
)

// OptionClass partitions options by the role they play in the toggle rule.
type OptionClass string

const (
	ClassOrdinary      OptionClass = "ordinary"
	ClassNotApplicable OptionClass = "not_applicable"
	ClassNonConformity OptionClass = "non_conformity"
)

// Conventional option values recognised by ClassifyValue.
const (
	ValueNonConformity   = "nc"
	ValueNotApplicable   = "na"
	ValueNotApplicableCh = "nac"
)

// ClassifyValue returns the class implied by an option value when the schema
// does not tag the option explicitly.
func ClassifyValue(value string) OptionClass {
	switch value {
	case ValueNonConformity:
		return ClassNonConformity
	case ValueNotApplicable, ValueNotApplicableCh:
		return ClassNotApplicable
	default:
		return ClassOrdinary
	}
}

// Option is one selectable answer for an item.
type Option struct {
	Value string      `json:"value" yaml:"value"`
	Label string      `json:"label" yaml:"label"`
	Class OptionClass `json:"class,omitempty" yaml:"class,omitempty"`
}

// Item is a single numbered checklist question within a section.
type Item struct {
	Number          int      `json:"number"`
	Name            string   `json:"name"`
	Options         []Option `json:"options,omitempty"`
	AcceptsFreeText bool     `json:"accepts_free_text,omitempty"`
	FreeTextLabel   string   `json:"free_text_label,omitempty"`
}

// Option returns the option with the given value.
func (it *Item) Option(value string) (Option, bool) {
	for _, o := range it.Options {
		if o.Value == value {
			return o, true
		}
	}
	return Option{}, false
}

// ClassOf returns the class of value as offered by this item. Values the item
// does not offer fall back to the naming convention.
func (it *Item) ClassOf(value string) OptionClass {
	if o, ok := it.Option(value); ok && o.Class != "" {
		return o.Class
	}
	return ClassifyValue(value)
}

// SupportsNonConformity reports whether any option of the item flags a
// non-conformity.
func (it *Item) SupportsNonConformity() bool {
	for _, o := range it.Options {
		if it.ClassOf(o.Value) == ClassNonConformity {
			return true
		}
	}
	return false
}

// Field names a section context field.
type Field string

const (
	FieldLocation Field = "location"
	FieldVoltage  Field = "voltage"
	FieldCurrent  Field = "current"
	FieldPower    Field = "power"
	FieldNotes    Field = "notes"
)

// Section is a named group of items sharing context fields and an optional
// not-applicable toggle.
type Section struct {
	Code                  string `json:"code"`
	Name                  string `json:"name"`
	Order                 int    `json:"order"`
	Items                 []Item `json:"items"`
	SupportsNotApplicable bool   `json:"supports_not_applicable,omitempty"`
	HasLocation           bool   `json:"has_location,omitempty"`
	HasVoltage            bool   `json:"has_voltage,omitempty"`
	HasCurrent            bool   `json:"has_current,omitempty"`
	HasPower              bool   `json:"has_power,omitempty"`
}

// HasField reports whether the section exposes f. Notes are available on
// every section.
func (s *Section) HasField(f Field) bool {
	switch f {
	case FieldLocation:
		return s.HasLocation
	case FieldVoltage:
		return s.HasVoltage
	case FieldCurrent:
		return s.HasCurrent
	case FieldPower:
		return s.HasPower
	case FieldNotes:
		return true
	}
	return false
}

// Item returns the item numbered n.
func (s *Section) Item(n int) (*Item, bool) {
	for i := range s.Items {
		if s.Items[i].Number == n {
			return &s.Items[i], true
		}
	}
	return nil, false
}

// Schema is an ordered list of sections. A Schema built by New is treated as
// read-only by every consumer.
type Schema struct {
	Name     string    `json:"name"`
	Version  int       `json:"version"`
	Title    string    `json:"title,omitempty"`
	Sections []Section `json:"sections"`

	index map[string]int
}

// New validates sections, orders them by Order (stable on ties) and returns an
// indexed schema.
func New(name string, version int, title string, sections []Section) (*Schema, error) {
	s := &Schema{
		Name:     name,
		Version:  version,
		Title:    title,
		Sections: slices.Clone(sections),
	}
	slices.SortStableFunc(s.Sections, func(a, b Section) int { return a.Order - b.Order })
	if err := s.validate(); err != nil {
		return nil, err
	}
	s.index = make(map[string]int, len(s.Sections))
	for i, sec := range s.Sections {
		s.index[sec.Code] = i
	}
	return s, nil
}

// Key identifies the schema as name@version.
func (s *Schema) Key() string {
	return fmt.Sprintf("%s@%d", s.Name, s.Version)
}

// FindSection returns the section with the given code.
func (s *Schema) FindSection(code string) (*Section, error) {
	i, ok := s.index[code]
	if !ok {
		return nil, &SchemaLookupError{Kind: UnknownSection, Section: code}
	}
	return &s.Sections[i], nil
}

// FindItem returns item number n of the section with the given code.
func (s *Schema) FindItem(code string, n int) (*Item, error) {
	sec, err := s.FindSection(code)
	if err != nil {
		return nil, err
	}
	it, ok := sec.Item(n)
	if !ok {
		return nil, &SchemaLookupError{Kind: UnknownItem, Section: code, Item: n}
	}
	return it, nil
}

// TotalSectionCount returns the number of sections.
func (s *Schema) TotalSectionCount() int {
	return len(s.Sections)
}

// TotalItemCount returns the number of items across all sections.
func (s *Schema) TotalItemCount() int {
	n := 0
	for _, sec := range s.Sections {
		n += len(sec.Items)
	}
	return n
}

// LookupKind distinguishes the two lookup failures.
type LookupKind string

const (
	UnknownSection LookupKind = "UNKNOWN_SECTION"
	UnknownItem    LookupKind = "UNKNOWN_ITEM"
)

// SchemaLookupError reports a section or item the schema does not define.
type SchemaLookupError struct {
	Kind    LookupKind
	Section string
	Item    int
}

func (e *SchemaLookupError) Error() string {
	if e.Kind == UnknownItem {
		return fmt.Sprintf("checklist: unknown item %d in section %q", e.Item, e.Section)
	}
	return fmt.Sprintf("checklist: unknown section %q", e.Section)
}
