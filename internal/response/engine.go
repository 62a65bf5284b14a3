package response

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dshills/inspectcheck/internal/checklist"
)

// ErrSchemaMismatch is returned when an inspection is edited through an engine
// bound to a different schema than the one it was created against.
var ErrSchemaMismatch = errors.New("response: inspection belongs to another schema")

// InvalidOperationError reports a mutation the schema does not permit, such as
// setting voltage on a section without a voltage field.
type InvalidOperationError struct {
	Op      string
	Section string
	Item    int
	Reason  string
}

func (e *InvalidOperationError) Error() string {
	if e.Item != 0 {
		return fmt.Sprintf("response: %s %s/%d: %s", e.Op, e.Section, e.Item, e.Reason)
	}
	return fmt.Sprintf("response: %s %s: %s", e.Op, e.Section, e.Reason)
}

// Engine applies user actions to inspections of one schema. It holds no
// per-inspection state; the inspection is always passed in.
type Engine struct {
	schema *checklist.Schema
}

// NewEngine returns an engine bound to s.
func NewEngine(s *checklist.Schema) *Engine {
	return &Engine{schema: s}
}

// Schema returns the schema the engine enforces.
func (e *Engine) Schema() *checklist.Schema {
	return e.schema
}

func (e *Engine) writable(in *Inspection) error {
	if in.Submitted() {
		return ErrSubmitted
	}
	if in.SchemaName != e.schema.Name || in.SchemaVersion != e.schema.Version {
		return fmt.Errorf("%w: %s@%d, engine has %s", ErrSchemaMismatch, in.SchemaName, in.SchemaVersion, e.schema.Key())
	}
	return nil
}

// SetMetadata replaces the inspection-level metadata of a draft.
func (e *Engine) SetMetadata(in *Inspection, m Metadata) error {
	if err := e.writable(in); err != nil {
		return err
	}
	in.Metadata = m
	return nil
}

// SetSectionNotApplicable marks or unmarks a section as not applicable. Item
// answers are left untouched either way.
func (e *Engine) SetSectionNotApplicable(in *Inspection, code string, flag bool) error {
	if err := e.writable(in); err != nil {
		return err
	}
	sec, err := e.schema.FindSection(code)
	if err != nil {
		return err
	}
	if !sec.SupportsNotApplicable {
		return &InvalidOperationError{Op: "set not applicable", Section: code, Reason: "section cannot be marked not applicable"}
	}
	in.Section(code).NotApplicable = flag
	return nil
}

// SetSectionContextField sets one of the section's declared context fields.
func (e *Engine) SetSectionContextField(in *Inspection, code string, field checklist.Field, value string) error {
	if err := e.writable(in); err != nil {
		return err
	}
	sec, err := e.schema.FindSection(code)
	if err != nil {
		return err
	}
	if !sec.HasField(field) {
		return &InvalidOperationError{Op: "set field", Section: code, Reason: fmt.Sprintf("section has no %s field", field)}
	}
	in.Section(code).setField(field, value)
	return nil
}

// ToggleItemOption selects or deselects value on an item:
//  1. a selected value is removed;
//  2. a non-conformity value is added alongside whatever is selected;
//  3. any other value replaces every selected value except non-conformities.
//
// NonConforming is recomputed afterwards.
func (e *Engine) ToggleItemOption(in *Inspection, code string, n int, value string) error {
	if err := e.writable(in); err != nil {
		return err
	}
	it, err := e.schema.FindItem(code, n)
	if err != nil {
		return err
	}
	if _, ok := it.Option(value); !ok {
		return &InvalidOperationError{Op: "toggle", Section: code, Item: n, Reason: fmt.Sprintf("option %q is not offered", value)}
	}
	r := in.Section(code).Item(n)
	r.Selected = Toggle(it, r.Selected, value)
	r.NonConforming = nonConforming(it, r.Selected)
	return nil
}

// SetItemFreeText sets the free-text answer of an item that accepts one.
func (e *Engine) SetItemFreeText(in *Inspection, code string, n int, text string) error {
	if err := e.writable(in); err != nil {
		return err
	}
	it, err := e.schema.FindItem(code, n)
	if err != nil {
		return err
	}
	if !it.AcceptsFreeText {
		return &InvalidOperationError{Op: "set free text", Section: code, Item: n, Reason: "item does not accept free text"}
	}
	in.Section(code).Item(n).FreeText = text
	return nil
}

// Toggle returns the selection that results from toggling value on sel. sel
// is not modified. The result is ordered like the item's options; values the
// item does not offer keep their relative order at the end.
func Toggle(it *checklist.Item, sel []string, value string) []string {
	if slices.Contains(sel, value) {
		return slices.DeleteFunc(slices.Clone(sel), func(v string) bool { return v == value })
	}
	var next []string
	if it.ClassOf(value) == checklist.ClassNonConformity {
		next = slices.Clone(sel)
	} else {
		for _, v := range sel {
			if it.ClassOf(v) == checklist.ClassNonConformity {
				next = append(next, v)
			}
		}
	}
	next = append(next, value)
	return sortByOptions(it, next)
}

// Normalize rebuilds a stored answer so that it satisfies the toggle rule:
// duplicates are dropped, the exclusivity rule is replayed in stored order and
// NonConforming is derived from the result. it may be nil for items the schema
// does not know, in which case the naming convention classifies values.
func Normalize(it *checklist.Item, r *ItemResponse) {
	if it == nil {
		it = &checklist.Item{}
	}
	var sel []string
	for _, v := range r.Selected {
		if slices.Contains(sel, v) {
			continue
		}
		sel = Toggle(it, sel, v)
	}
	r.Selected = sel
	r.NonConforming = nonConforming(it, sel)
}

func nonConforming(it *checklist.Item, sel []string) bool {
	return slices.ContainsFunc(sel, func(v string) bool {
		return it.ClassOf(v) == checklist.ClassNonConformity
	})
}

func sortByOptions(it *checklist.Item, sel []string) []string {
	pos := func(v string) int {
		for i, o := range it.Options {
			if o.Value == v {
				return i
			}
		}
		return len(it.Options)
	}
	slices.SortStableFunc(sel, func(a, b string) int { return pos(a) - pos(b) })
	return sel
}
