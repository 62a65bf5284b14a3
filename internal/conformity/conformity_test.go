package conformity

import (
	"fmt"
	"slices"
	"testing"

	"github.com/dshills/inspectcheck/internal/checklist"
	"github.com/dshills/inspectcheck/internal/response"
)

var okNC = []checklist.Option{{Value: "ok", Label: "OK"}, {Value: "nc", Label: "NC"}}

// scenarioSchema is section A with three items (item 2 NC-capable with a
// material choice) and N/A-capable section B with one item.
func scenarioSchema(t *testing.T) *checklist.Schema {
	t.Helper()
	s, err := checklist.New("scenario", 1, "", []checklist.Section{
		{Code: "A", Order: 1, Items: []checklist.Item{
			{Number: 1, Name: "one", Options: []checklist.Option{{Value: "ok", Label: "OK"}}},
			{Number: 2, Name: "two", Options: []checklist.Option{
				{Value: "cuivre", Label: "Cuivre"},
				{Value: "aluminium", Label: "Aluminium"},
				{Value: "nc", Label: "Non conforme"},
			}},
			{Number: 3, Name: "three", Options: okNC},
		}},
		{Code: "B", Order: 2, SupportsNotApplicable: true, Items: []checklist.Item{
			{Number: 1, Name: "only", Options: okNC},
		}},
	})
	if err != nil {
		t.Fatalf("checklist.New: %v", err)
	}
	return s
}

func mustDo(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func TestEvaluateItem(t *testing.T) {
	cases := []struct {
		name string
		r    *response.ItemResponse
		want ItemStatus
	}{
		{"nil", nil, ItemUnanswered},
		{"empty", &response.ItemResponse{}, ItemUnanswered},
		{"option", &response.ItemResponse{Selected: []string{"ok"}}, ItemOK},
		{"free text only", &response.ItemResponse{FreeText: "RAS"}, ItemOK},
		{"non-conforming", &response.ItemResponse{Selected: []string{"cuivre", "nc"}, NonConforming: true}, ItemNonConforming},
	}
	for _, c := range cases {
		if got := EvaluateItem(c.r); got != c.want {
			t.Errorf("%s: EvaluateItem = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestEvaluateSection_NonConformityDominates(t *testing.T) {
	items := make([]checklist.Item, 10)
	for i := range items {
		items[i] = checklist.Item{Number: i + 1, Name: fmt.Sprintf("item %d", i+1), Options: okNC}
	}
	s, err := checklist.New("ten", 1, "", []checklist.Section{{Code: "S", Items: items}})
	mustDo(t, err)
	e := response.NewEngine(s)
	in := response.New("x", s, response.Metadata{})
	for n := 1; n <= 10; n++ {
		v := "ok"
		if n == 7 {
			v = "nc"
		}
		mustDo(t, e.ToggleItemOption(in, "S", n, v))
	}
	sec, _ := s.FindSection("S")
	if got := EvaluateSection(in.Sections["S"], sec); got != SectionNonConforming {
		t.Errorf("EvaluateSection = %q, want NON_CONFORMING", got)
	}
}

func TestEvaluateSection_Statuses(t *testing.T) {
	s := scenarioSchema(t)
	e := response.NewEngine(s)
	secA, _ := s.FindSection("A")

	in := response.New("x", s, response.Metadata{})
	if got := EvaluateSection(in.Sections["A"], secA); got != SectionIncomplete {
		t.Errorf("empty section = %q, want INCOMPLETE", got)
	}
	mustDo(t, e.ToggleItemOption(in, "A", 1, "ok"))
	if got := EvaluateSection(in.Sections["A"], secA); got != SectionPartial {
		t.Errorf("one answer = %q, want PARTIAL", got)
	}
	if got := EvaluateSection(nil, secA); got != SectionIncomplete {
		t.Errorf("missing section response = %q, want INCOMPLETE", got)
	}
}

func TestEvaluateSection_NotApplicableShortCircuit(t *testing.T) {
	s := scenarioSchema(t)
	e := response.NewEngine(s)
	secB, _ := s.FindSection("B")
	in := response.New("x", s, response.Metadata{})

	mustDo(t, e.ToggleItemOption(in, "B", 1, "nc"))
	mustDo(t, e.SetSectionNotApplicable(in, "B", true))
	if got := EvaluateSection(in.Sections["B"], secB); got != SectionNotApplicable {
		t.Errorf("N/A section = %q, want NOT_APPLICABLE", got)
	}
	if EvaluateInspection(in, s).HasNonconformities {
		t.Error("N/A section contributed a non-conformity")
	}

	mustDo(t, e.SetSectionNotApplicable(in, "B", false))
	if got := EvaluateSection(in.Sections["B"], secB); got != SectionNonConforming {
		t.Errorf("after un-marking N/A = %q, want NON_CONFORMING", got)
	}
}

func TestEvaluateInspection_Scenario(t *testing.T) {
	s := scenarioSchema(t)
	e := response.NewEngine(s)
	in := response.New("x", s, response.Metadata{})

	mustDo(t, e.SetSectionNotApplicable(in, "B", true))
	mustDo(t, e.ToggleItemOption(in, "A", 1, "ok"))
	mustDo(t, e.ToggleItemOption(in, "A", 2, "cuivre"))
	mustDo(t, e.ToggleItemOption(in, "A", 2, "nc"))

	res := EvaluateInspection(in, s)
	if !res.HasNonconformities {
		t.Error("HasNonconformities = false, want true")
	}
	if len(res.Sections) != 2 || res.Sections[0].Status != SectionNonConforming || res.Sections[1].Status != SectionNotApplicable {
		t.Errorf("section results = %+v", res.Sections)
	}
	if res.Sections[0].Answered != 2 || res.Sections[0].NonConforming != 1 || res.Sections[0].Total != 3 {
		t.Errorf("section A counts = %+v", res.Sections[0])
	}
	if res.NonConformingItems != 1 {
		t.Errorf("NonConformingItems = %d, want 1", res.NonConformingItems)
	}
	if len(res.UnansweredSections) != 0 {
		t.Errorf("UnansweredSections = %v, want none", res.UnansweredSections)
	}
}

func TestEvaluateInspection_MissingSectionIsIncomplete(t *testing.T) {
	s := scenarioSchema(t)
	in := response.New("x", s, response.Metadata{})
	delete(in.Sections, "A")

	res := EvaluateInspection(in, s)
	if !slices.Equal(res.UnansweredSections, []string{"A", "B"}) {
		t.Errorf("UnansweredSections = %v, want [A B]", res.UnansweredSections)
	}
	if res.HasNonconformities {
		t.Error("empty inspection has non-conformities")
	}
}

func TestEvaluateSection_IgnoresUnknownItems(t *testing.T) {
	s := scenarioSchema(t)
	secA, _ := s.FindSection("A")
	sr := &response.SectionResponse{Items: map[int]*response.ItemResponse{
		99: {Selected: []string{"nc"}, NonConforming: true, Unrenderable: true},
	}}
	if got := EvaluateSection(sr, secA); got != SectionIncomplete {
		t.Errorf("EvaluateSection = %q, want INCOMPLETE", got)
	}
}

func TestStatusOrdinal(t *testing.T) {
	order := []SectionStatus{SectionNotApplicable, SectionPartial, SectionIncomplete, SectionNonConforming}
	for i := 1; i < len(order); i++ {
		if StatusOrdinal(order[i-1]) >= StatusOrdinal(order[i]) {
			t.Errorf("StatusOrdinal(%q) >= StatusOrdinal(%q)", order[i-1], order[i])
		}
	}
	if got := StatusOrdinal("BOGUS"); got != -1 {
		t.Errorf("StatusOrdinal(BOGUS) = %d, want -1", got)
	}
	if st, ok := ParseSectionStatus("PARTIAL"); !ok || st != SectionPartial {
		t.Errorf("ParseSectionStatus(PARTIAL) = %q, %v", st, ok)
	}
	if _, ok := ParseSectionStatus("partial"); ok {
		t.Error("ParseSectionStatus accepted lowercase")
	}
}

func TestStandardMatchesPackageRules(t *testing.T) {
	var ev Evaluator = Standard{}
	r := &response.ItemResponse{Selected: []string{"ok"}}
	if ev.EvaluateItem(r) != EvaluateItem(r) {
		t.Error("Standard.EvaluateItem diverges")
	}
}
