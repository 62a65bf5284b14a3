// Package conformity derives item, section and inspection status from a
// schema and the current answers. Everything here is a pure function of its
// inputs and safe to call as often as needed.
package conformity

import (
	"github.com/dshills/inspectcheck/internal/checklist"
	"github.com/dshills/inspectcheck/internal/response"
)

// ItemStatus is the derived status of one item.
type ItemStatus string

const (
	ItemOK            ItemStatus = "OK"
	ItemNonConforming ItemStatus = "NON_CONFORMING"
	ItemUnanswered    ItemStatus = "UNANSWERED"
)

// SectionStatus is the derived status of one section.
type SectionStatus string

const (
	SectionNotApplicable SectionStatus = "NOT_APPLICABLE"
	SectionNonConforming SectionStatus = "NON_CONFORMING"
	SectionPartial       SectionStatus = "PARTIAL"
	SectionIncomplete    SectionStatus = "INCOMPLETE"
)

// StatusOrdinal orders section statuses by severity for threshold checks.
// NOT_APPLICABLE=0, PARTIAL=1, INCOMPLETE=2, NON_CONFORMING=3.
func StatusOrdinal(s SectionStatus) int {
	switch s {
	case SectionNotApplicable:
		return 0
	case SectionPartial:
		return 1
	case SectionIncomplete:
		return 2
	case SectionNonConforming:
		return 3
	default:
		return -1
	}
}

// ParseSectionStatus converts a string to a SectionStatus constant.
func ParseSectionStatus(s string) (SectionStatus, bool) {
	switch st := SectionStatus(s); st {
	case SectionNotApplicable, SectionNonConforming, SectionPartial, SectionIncomplete:
		return st, true
	}
	return "", false
}

// EvaluateItem classifies one answer. A nil response is unanswered.
func EvaluateItem(r *response.ItemResponse) ItemStatus {
	switch {
	case r == nil:
		return ItemUnanswered
	case r.NonConforming:
		return ItemNonConforming
	case !r.Answered():
		return ItemUnanswered
	default:
		return ItemOK
	}
}

// EvaluateSection applies, in order of precedence:
//  1. section flagged not applicable → NOT_APPLICABLE
//  2. any item non-conforming → NON_CONFORMING
//  3. any item answered → PARTIAL
//  4. otherwise → INCOMPLETE
//
// A nil response (section added to the schema after the inspection was
// created) is INCOMPLETE. Only items the schema defines are considered.
func EvaluateSection(sr *response.SectionResponse, sec *checklist.Section) SectionStatus {
	if sr == nil {
		return SectionIncomplete
	}
	if sr.NotApplicable {
		return SectionNotApplicable
	}

	// Rule 2: non-conformity dominates.
	for _, it := range sec.Items {
		if EvaluateItem(sr.Items[it.Number]) == ItemNonConforming {
			return SectionNonConforming
		}
	}

	// Rule 3: anything answered.
	for _, it := range sec.Items {
		if EvaluateItem(sr.Items[it.Number]) != ItemUnanswered {
			return SectionPartial
		}
	}

	return SectionIncomplete
}

// CountItems tallies the schema items of a section by status. Not-applicable
// sections count nothing as answered.
func CountItems(sr *response.SectionResponse, sec *checklist.Section) (answered, nonConforming, total int) {
	return countItems(sr, sec, Standard{})
}

func countItems(sr *response.SectionResponse, sec *checklist.Section, ev Evaluator) (answered, nonConforming, total int) {
	total = len(sec.Items)
	if sr == nil || sr.NotApplicable {
		return 0, 0, total
	}
	for _, it := range sec.Items {
		switch ev.EvaluateItem(sr.Items[it.Number]) {
		case ItemNonConforming:
			nonConforming++
			answered++
		case ItemOK:
			answered++
		}
	}
	return answered, nonConforming, total
}

// SectionResult is the evaluation of one section.
type SectionResult struct {
	Code          string        `json:"code"`
	Status        SectionStatus `json:"status"`
	Answered      int           `json:"answered"`
	NonConforming int           `json:"non_conforming"`
	Total         int           `json:"total"`
}

// InspectionResult is the inspection-level rollup. HasNonconformities is the
// single signal downstream alerting keys off.
type InspectionResult struct {
	HasNonconformities bool            `json:"has_nonconformities"`
	UnansweredSections []string        `json:"unanswered_sections"`
	NonConformingItems int             `json:"non_conforming_items"`
	Sections           []SectionResult `json:"sections"`
}

// EvaluateInspection evaluates every schema section in schema order.
// Not-applicable sections never contribute non-conformities.
func EvaluateInspection(in *response.Inspection, s *checklist.Schema) InspectionResult {
	return EvaluateInspectionWith(in, s, Standard{})
}

// EvaluateInspectionWith is EvaluateInspection with the item and section rules
// of ev. A nil ev uses Standard.
func EvaluateInspectionWith(in *response.Inspection, s *checklist.Schema, ev Evaluator) InspectionResult {
	if ev == nil {
		ev = Standard{}
	}
	res := InspectionResult{
		UnansweredSections: []string{},
		Sections:           make([]SectionResult, 0, len(s.Sections)),
	}
	for i := range s.Sections {
		sec := &s.Sections[i]
		sr := in.Sections[sec.Code]
		st := ev.EvaluateSection(sr, sec)
		answered, nc, total := countItems(sr, sec, ev)
		res.Sections = append(res.Sections, SectionResult{
			Code:          sec.Code,
			Status:        st,
			Answered:      answered,
			NonConforming: nc,
			Total:         total,
		})
		switch st {
		case SectionNonConforming:
			res.HasNonconformities = true
		case SectionIncomplete:
			res.UnansweredSections = append(res.UnansweredSections, sec.Code)
		}
		res.NonConformingItems += nc
	}
	return res
}

// Evaluator is the item and section classification used by report synthesis.
type Evaluator interface {
	EvaluateItem(r *response.ItemResponse) ItemStatus
	EvaluateSection(sr *response.SectionResponse, sec *checklist.Section) SectionStatus
}

// Standard evaluates with the package-level rules.
type Standard struct{}

func (Standard) EvaluateItem(r *response.ItemResponse) ItemStatus { return EvaluateItem(r) }

func (Standard) EvaluateSection(sr *response.SectionResponse, sec *checklist.Section) SectionStatus {
	return EvaluateSection(sr, sec)
}
