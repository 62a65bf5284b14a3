package response

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/dshills/inspectcheck/internal/checklist"
)

func testSchema(t *testing.T) *checklist.Schema {
	t.Helper()
	okNC := []checklist.Option{{Value: "ok", Label: "OK"}, {Value: "nc", Label: "NC"}}
	s, err := checklist.New("demo", 1, "", []checklist.Section{
		{
			Code:        "A",
			Order:       1,
			HasLocation: true,
			HasVoltage:  true,
			Items: []checklist.Item{
				{Number: 1, Name: "one", Options: okNC},
				{Number: 2, Name: "two", Options: []checklist.Option{
					{Value: "cuivre", Label: "Cuivre"},
					{Value: "aluminium", Label: "Aluminium"},
					{Value: "na", Label: "N/A"},
					{Value: "nc", Label: "NC"},
				}},
				{Number: 3, Name: "three", AcceptsFreeText: true},
			},
		},
		{
			Code:                  "B",
			Order:                 2,
			SupportsNotApplicable: true,
			Items:                 []checklist.Item{{Number: 1, Name: "only", Options: okNC}},
		},
	})
	if err != nil {
		t.Fatalf("checklist.New: %v", err)
	}
	return s
}

func newFixture(t *testing.T) (*Engine, *Inspection) {
	t.Helper()
	s := testSchema(t)
	return NewEngine(s), New("insp-1", s, Metadata{})
}

func selected(in *Inspection, code string, n int) []string {
	return in.Sections[code].Items[n].Selected
}

func TestNew_Skeleton(t *testing.T) {
	_, in := newFixture(t)
	if len(in.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(in.Sections))
	}
	if len(in.Sections["A"].Items) != 3 || len(in.Sections["B"].Items) != 1 {
		t.Errorf("items not pre-populated: A=%d B=%d", len(in.Sections["A"].Items), len(in.Sections["B"].Items))
	}
	for code, sr := range in.Sections {
		if sr.NotApplicable {
			t.Errorf("section %s starts not applicable", code)
		}
		for n, r := range sr.Items {
			if r.Answered() || r.NonConforming {
				t.Errorf("item %s/%d not empty: %+v", code, n, r)
			}
		}
	}
	if in.Status != StatusDraft {
		t.Errorf("status = %q, want draft", in.Status)
	}
}

func TestToggle_Rules(t *testing.T) {
	cases := []struct {
		name    string
		toggles []string
		want    []string
		wantNC  bool
	}{
		{"select ordinary", []string{"cuivre"}, []string{"cuivre"}, false},
		{"ordinary replaces ordinary", []string{"cuivre", "aluminium"}, []string{"aluminium"}, false},
		{"nc is additive", []string{"cuivre", "nc"}, []string{"cuivre", "nc"}, true},
		{"ordinary keeps nc", []string{"nc", "cuivre", "aluminium"}, []string{"aluminium", "nc"}, true},
		{"na replaces ordinary keeps nc", []string{"cuivre", "nc", "na"}, []string{"na", "nc"}, true},
		{"deselect nc", []string{"cuivre", "nc", "nc"}, []string{"cuivre"}, false},
		{"deselect ordinary", []string{"cuivre", "cuivre"}, nil, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e, in := newFixture(t)
			for _, v := range c.toggles {
				if err := e.ToggleItemOption(in, "A", 2, v); err != nil {
					t.Fatalf("toggle %q: %v", v, err)
				}
			}
			r := in.Sections["A"].Items[2]
			if !slices.Equal(r.Selected, c.want) {
				t.Errorf("selected = %v, want %v", r.Selected, c.want)
			}
			if r.NonConforming != c.wantNC {
				t.Errorf("NonConforming = %v, want %v", r.NonConforming, c.wantNC)
			}
		})
	}
}

func TestToggle_Idempotence(t *testing.T) {
	e, in := newFixture(t)
	for _, v := range []string{"cuivre", "aluminium", "na", "nc"} {
		before := slices.Clone(selected(in, "A", 2))
		if err := e.ToggleItemOption(in, "A", 2, v); err != nil {
			t.Fatal(err)
		}
		if err := e.ToggleItemOption(in, "A", 2, v); err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(selected(in, "A", 2), before) {
			t.Errorf("toggle %q twice: %v, want %v", v, selected(in, "A", 2), before)
		}
	}

	// With an ordinary answer in place the non-conformity flag still round-trips.
	if err := e.ToggleItemOption(in, "A", 2, "cuivre"); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := e.ToggleItemOption(in, "A", 2, "nc"); err != nil {
			t.Fatal(err)
		}
	}
	if got := selected(in, "A", 2); !slices.Equal(got, []string{"cuivre"}) {
		t.Errorf("after nc twice = %v, want [cuivre]", got)
	}
}

func TestToggle_ExclusivityProperty(t *testing.T) {
	e, _ := newFixture(t)
	it, _ := e.Schema().FindItem("A", 2)
	values := []string{"cuivre", "aluminium", "na", "nc"}
	rng := rand.New(rand.NewPCG(1, 2))

	for run := range 200 {
		in := New("prop", e.Schema(), Metadata{})
		steps := 1 + rng.IntN(20)
		for range steps {
			v := values[rng.IntN(len(values))]
			if err := e.ToggleItemOption(in, "A", 2, v); err != nil {
				t.Fatal(err)
			}
			r := in.Sections["A"].Items[2]
			exclusive := 0
			for _, s := range r.Selected {
				if it.ClassOf(s) != checklist.ClassNonConformity {
					exclusive++
				}
			}
			if exclusive > 1 {
				t.Fatalf("run %d: %d ordinary/N/A options selected: %v", run, exclusive, r.Selected)
			}
			if r.NonConforming != r.Has("nc") {
				t.Fatalf("run %d: NonConforming=%v with selection %v", run, r.NonConforming, r.Selected)
			}
			seen := map[string]bool{}
			for _, s := range r.Selected {
				if seen[s] {
					t.Fatalf("run %d: duplicate %q in %v", run, s, r.Selected)
				}
				seen[s] = true
			}
		}
	}
}

func TestToggle_NonConformityIndependence(t *testing.T) {
	e, in := newFixture(t)
	must := func(v string) {
		t.Helper()
		if err := e.ToggleItemOption(in, "A", 2, v); err != nil {
			t.Fatal(err)
		}
	}
	must("aluminium")
	must("nc")
	if !in.Sections["A"].Items[2].Has("aluminium") {
		t.Error("selecting nc removed the ordinary option")
	}
	must("cuivre")
	if !in.Sections["A"].Items[2].Has("nc") {
		t.Error("selecting an ordinary option removed nc")
	}
}

func TestSetSectionNotApplicable_Reversible(t *testing.T) {
	e, in := newFixture(t)
	if err := e.ToggleItemOption(in, "B", 1, "nc"); err != nil {
		t.Fatal(err)
	}
	before := in.Sections["B"].Items[1].clone()

	if err := e.SetSectionNotApplicable(in, "B", true); err != nil {
		t.Fatalf("set N/A: %v", err)
	}
	if !in.Sections["B"].NotApplicable {
		t.Fatal("flag not set")
	}
	if err := e.SetSectionNotApplicable(in, "B", false); err != nil {
		t.Fatalf("unset N/A: %v", err)
	}
	after := in.Sections["B"].Items[1]
	if !slices.Equal(after.Selected, before.Selected) || after.NonConforming != before.NonConforming {
		t.Errorf("answers changed across N/A toggle: %+v -> %+v", before, after)
	}
}

func TestInvalidOperations(t *testing.T) {
	e, in := newFixture(t)
	var ioe *InvalidOperationError
	var le *checklist.SchemaLookupError

	if err := e.SetSectionNotApplicable(in, "A", true); !errors.As(err, &ioe) {
		t.Errorf("N/A on section A: %v, want InvalidOperationError", err)
	}
	if err := e.SetSectionContextField(in, "A", checklist.FieldCurrent, "16"); !errors.As(err, &ioe) {
		t.Errorf("current on section A: %v, want InvalidOperationError", err)
	}
	if err := e.SetSectionContextField(in, "A", checklist.FieldVoltage, "230"); err != nil {
		t.Errorf("voltage on section A: %v", err)
	}
	if in.Sections["A"].Voltage != "230" {
		t.Errorf("voltage = %q", in.Sections["A"].Voltage)
	}
	if err := e.SetSectionContextField(in, "B", checklist.FieldNotes, "rien"); err != nil {
		t.Errorf("notes on section B: %v", err)
	}
	if err := e.ToggleItemOption(in, "A", 1, "cuivre"); !errors.As(err, &ioe) {
		t.Errorf("unknown option: %v, want InvalidOperationError", err)
	}
	if err := e.SetItemFreeText(in, "A", 1, "text"); !errors.As(err, &ioe) {
		t.Errorf("free text on option-only item: %v, want InvalidOperationError", err)
	}
	if err := e.SetItemFreeText(in, "A", 3, "RAS"); err != nil {
		t.Errorf("free text: %v", err)
	}
	if err := e.ToggleItemOption(in, "Z", 1, "ok"); !errors.As(err, &le) || le.Kind != checklist.UnknownSection {
		t.Errorf("unknown section: %v, want UnknownSection", err)
	}
	if err := e.ToggleItemOption(in, "A", 42, "ok"); !errors.As(err, &le) || le.Kind != checklist.UnknownItem {
		t.Errorf("unknown item: %v, want UnknownItem", err)
	}
}

func TestMutationsRejectedAfterFinalize(t *testing.T) {
	e, in := newFixture(t)
	if err := in.Finalize(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	if in.SubmittedAt == nil || !in.Submitted() {
		t.Fatal("not submitted")
	}
	if err := in.Finalize(time.Now()); !errors.Is(err, ErrSubmitted) {
		t.Errorf("second Finalize: %v, want ErrSubmitted", err)
	}
	checks := map[string]error{
		"toggle":   e.ToggleItemOption(in, "A", 1, "ok"),
		"text":     e.SetItemFreeText(in, "A", 3, "x"),
		"na":       e.SetSectionNotApplicable(in, "B", true),
		"field":    e.SetSectionContextField(in, "A", checklist.FieldLocation, "x"),
		"metadata": e.SetMetadata(in, Metadata{Subject: "x"}),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrSubmitted) {
			t.Errorf("%s after finalize: %v, want ErrSubmitted", name, err)
		}
	}
}

func TestSchemaMismatch(t *testing.T) {
	e, in := newFixture(t)
	in.SchemaVersion = 9
	if err := e.ToggleItemOption(in, "A", 1, "ok"); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("got %v, want ErrSchemaMismatch", err)
	}
}

func TestNormalize(t *testing.T) {
	e, _ := newFixture(t)
	it, _ := e.Schema().FindItem("A", 2)
	cases := []struct {
		name   string
		stored ItemResponse
		want   []string
		wantNC bool
	}{
		{"stale nc flag with empty selection", ItemResponse{NonConforming: true}, nil, false},
		{"duplicates", ItemResponse{Selected: []string{"nc", "nc", "cuivre"}}, []string{"cuivre", "nc"}, true},
		{"two ordinary keeps last", ItemResponse{Selected: []string{"cuivre", "aluminium"}}, []string{"aluminium"}, false},
		{"missing flag", ItemResponse{Selected: []string{"nc"}}, []string{"nc"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := c.stored
			Normalize(it, &r)
			if !slices.Equal(r.Selected, c.want) || r.NonConforming != c.wantNC {
				t.Errorf("got %v nc=%v, want %v nc=%v", r.Selected, r.NonConforming, c.want, c.wantNC)
			}
		})
	}

	unknown := ItemResponse{Selected: []string{"x", "nc", "y"}}
	Normalize(nil, &unknown)
	if !slices.Equal(unknown.Selected, []string{"nc", "y"}) || !unknown.NonConforming {
		t.Errorf("unknown item normalized to %v nc=%v", unknown.Selected, unknown.NonConforming)
	}
}

func TestClone_IsDeep(t *testing.T) {
	e, in := newFixture(t)
	if err := e.ToggleItemOption(in, "A", 1, "ok"); err != nil {
		t.Fatal(err)
	}
	c := in.Clone()
	if err := e.ToggleItemOption(in, "A", 1, "nc"); err != nil {
		t.Fatal(err)
	}
	if got := c.Sections["A"].Items[1].Selected; !slices.Equal(got, []string{"ok"}) {
		t.Errorf("clone shares state: %v", got)
	}
}

func TestUnrenderable(t *testing.T) {
	_, in := newFixture(t)
	in.Section("ZZ").Unrenderable = true
	in.Sections["A"].Item(9).Unrenderable = true
	got := in.Unrenderable()
	want := []Ref{{Section: "A", Item: 9}, {Section: "ZZ"}}
	if !slices.Equal(got, want) {
		t.Errorf("Unrenderable = %v, want %v", got, want)
	}
	if got[0].String() != "A/9" || got[1].String() != "ZZ" {
		t.Errorf("Ref.String = %q, %q", got[0], got[1])
	}
}
