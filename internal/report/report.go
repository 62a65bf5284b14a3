// Package report flattens a schema, an inspection and its evaluation into the
// ordered record sequence consumed by document renderers.
package report

import (
	"iter"
	"slices"
	"time"

	"github.com/dshills/inspectcheck/internal/checklist"
	"github.com/dshills/inspectcheck/internal/conformity"
	"github.com/dshills/inspectcheck/internal/response"
)

// ItemReport is one renderable item row.
type ItemReport struct {
	Number        int                   `json:"number"`
	Name          string                `json:"name"`
	Values        []string              `json:"values,omitempty"`
	Labels        []string              `json:"labels,omitempty"`
	FreeTextLabel string                `json:"free_text_label,omitempty"`
	FreeText      string                `json:"free_text,omitempty"`
	Status        conformity.ItemStatus `json:"status"`
}

// SectionReport is one renderable section with its items in schema order.
// Not-applicable sections carry no items.
type SectionReport struct {
	Code     string                   `json:"code"`
	Name     string                   `json:"name"`
	Order    int                      `json:"order"`
	Location string                   `json:"location,omitempty"`
	Voltage  string                   `json:"voltage,omitempty"`
	Current  string                   `json:"current,omitempty"`
	Power    string                   `json:"power,omitempty"`
	Notes    string                   `json:"notes,omitempty"`
	Status   conformity.SectionStatus `json:"status"`
	Answered int                      `json:"answered"`
	Total    int                      `json:"total"`
	Items    []ItemReport             `json:"items"`
}

// Sections yields one SectionReport per schema section, in schema order. The
// sequence is computed on iteration and can be ranged over any number of
// times. A nil ev uses conformity.Standard.
func Sections(in *response.Inspection, s *checklist.Schema, ev conformity.Evaluator) iter.Seq[SectionReport] {
	if ev == nil {
		ev = conformity.Standard{}
	}
	return func(yield func(SectionReport) bool) {
		for i := range s.Sections {
			if !yield(sectionReport(in.Sections[s.Sections[i].Code], &s.Sections[i], ev)) {
				return
			}
		}
	}
}

// Synthesize collects Sections into a slice.
func Synthesize(in *response.Inspection, s *checklist.Schema, ev conformity.Evaluator) []SectionReport {
	return slices.Collect(Sections(in, s, ev))
}

func sectionReport(sr *response.SectionResponse, sec *checklist.Section, ev conformity.Evaluator) SectionReport {
	rep := SectionReport{
		Code:   sec.Code,
		Name:   sec.Name,
		Order:  sec.Order,
		Status: ev.EvaluateSection(sr, sec),
		Total:  len(sec.Items),
		Items:  []ItemReport{},
	}
	if sr == nil {
		sr = &response.SectionResponse{}
	}
	rep.Location, rep.Voltage, rep.Current, rep.Power, rep.Notes = sr.Location, sr.Voltage, sr.Current, sr.Power, sr.Notes
	if rep.Status == conformity.SectionNotApplicable {
		return rep
	}
	for i := range sec.Items {
		it := &sec.Items[i]
		r := sr.Items[it.Number]
		ir := ItemReport{
			Number:        it.Number,
			Name:          it.Name,
			FreeTextLabel: it.FreeTextLabel,
			Status:        ev.EvaluateItem(r),
		}
		if r != nil {
			if len(r.Selected) > 0 {
				ir.Values = slices.Clone(r.Selected)
				ir.Labels = labels(it, r.Selected)
			}
			ir.FreeText = r.FreeText
		}
		if ir.Status != conformity.ItemUnanswered {
			rep.Answered++
		}
		rep.Items = append(rep.Items, ir)
	}
	return rep
}

// labels resolves option values to display labels. Values the item does not
// offer are shown as-is.
func labels(it *checklist.Item, values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v
		if o, ok := it.Option(v); ok && o.Label != "" {
			out[i] = o.Label
		}
	}
	return out
}

// Rebuild derives an inspection from synthesized section reports. Hidden
// answers of not-applicable sections are not part of a report and are not
// restored.
func Rebuild(id string, s *checklist.Schema, reports []SectionReport) *response.Inspection {
	in := response.New(id, s, response.Metadata{})
	for _, rep := range reports {
		sr := in.Section(rep.Code)
		sr.NotApplicable = rep.Status == conformity.SectionNotApplicable
		sr.Location, sr.Voltage, sr.Current, sr.Power, sr.Notes = rep.Location, rep.Voltage, rep.Current, rep.Power, rep.Notes
		for _, ir := range rep.Items {
			if len(ir.Values) == 0 && ir.FreeText == "" {
				continue
			}
			r := sr.Item(ir.Number)
			r.Selected = slices.Clone(ir.Values)
			r.FreeText = ir.FreeText
			it, _ := s.FindItem(rep.Code, ir.Number)
			response.Normalize(it, r)
		}
	}
	return in
}

// Document is everything a renderer needs for one inspection.
type Document struct {
	InspectionID  string                      `json:"inspection_id"`
	SchemaName    string                      `json:"schema_name"`
	SchemaVersion int                         `json:"schema_version"`
	SchemaTitle   string                      `json:"schema_title,omitempty"`
	Status        response.Status             `json:"status"`
	Metadata      response.Metadata           `json:"metadata"`
	SubmittedAt   *time.Time                  `json:"submitted_at,omitempty"`
	Result        conformity.InspectionResult `json:"result"`
	Sections      []SectionReport             `json:"sections"`
	Unrenderable  []response.Ref              `json:"unrenderable,omitempty"`
}

// NewDocument synthesizes the full document for in. Sections and Result are
// both computed with ev; a nil ev uses conformity.Standard.
func NewDocument(in *response.Inspection, s *checklist.Schema, ev conformity.Evaluator) *Document {
	return &Document{
		InspectionID:  in.ID,
		SchemaName:    s.Name,
		SchemaVersion: s.Version,
		SchemaTitle:   s.Title,
		Status:        in.Status,
		Metadata:      in.Metadata,
		SubmittedAt:   in.SubmittedAt,
		Result:        conformity.EvaluateInspectionWith(in, s, ev),
		Sections:      Synthesize(in, s, ev),
		Unrenderable:  in.Unrenderable(),
	}
}

// NonConformities returns every non-conforming item of the document, paired
// with its section.
func (d *Document) NonConformities() []Finding {
	var out []Finding
	for _, sec := range d.Sections {
		for _, it := range sec.Items {
			if it.Status == conformity.ItemNonConforming {
				out = append(out, Finding{Section: sec, Item: it})
			}
		}
	}
	return out
}

// Finding pairs a non-conforming item with its section.
type Finding struct {
	Section SectionReport
	Item    ItemReport
}
