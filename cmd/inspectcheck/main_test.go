package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/dshills/inspectcheck/internal/conformity"
	"github.com/dshills/inspectcheck/internal/narrative"
	"github.com/dshills/inspectcheck/internal/render"
	"github.com/dshills/inspectcheck/internal/report"
)

// testEnv writes a config pointing at a fresh sqlite file and returns the
// matching global flags.
func testEnv(t *testing.T) (globalFlags, string) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, k := range []string{"STORE_DRIVER", "STORE_DSN", "SCHEMAS_DIR", "LOG_LEVEL", "LOG_FORMAT", "METRICS_TEXTFILE", "REQUIRE_COMPLETE_SECTIONS"} {
		t.Setenv("INSPECTCHECK_"+k, "")
	}
	cfg := "store:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "test.db") + "\n" +
		"metrics:\n  textfile: " + filepath.Join(dir, "inspectcheck.prom") + "\n"
	path := filepath.Join(dir, "inspectcheck.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return globalFlags{configFile: path, logOut: &bytes.Buffer{}}, dir
}

func mustNew(t *testing.T, g globalFlags, f newFlags) string {
	t.Helper()
	var out bytes.Buffer
	if err := runNew(context.Background(), g, f, &out); err != nil {
		t.Fatalf("new: %v", err)
	}
	return strings.TrimSpace(out.String())
}

func apply(g globalFlags, id, actions string) error {
	return runApply(context.Background(), g, id, applyFlags{file: "-"}, strings.NewReader(actions), &bytes.Buffer{})
}

const draftActions = `
- {op: field, section: IDENT, field: location, value: Atelier 2}
- {op: toggle, section: IDENT, item: 1, value: ok}
- {op: text, section: IDENT, item: 4, value: SN-4411}
- {op: toggle, section: STRUCT, item: 2, value: nc}
- {op: not_applicable, section: SECU}
- {op: not_applicable, section: ALIM}
`

func TestCLI_DraftToSubmission(t *testing.T) {
	ctx := context.Background()
	g, dir := testEnv(t)

	id := mustNew(t, g, newFlags{schema: "equipment", subject: "Compresseur C-12", date: "2026-09-14"})
	if err := apply(g, id, draftActions); err != nil {
		t.Fatalf("apply: %v", err)
	}

	var status bytes.Buffer
	if err := runStatus(ctx, g, id, statusFlags{json: true}, &status); err != nil {
		t.Fatalf("status: %v", err)
	}
	var res conformity.InspectionResult
	if err := json.Unmarshal(status.Bytes(), &res); err != nil {
		t.Fatalf("parse status: %v", err)
	}
	if !res.HasNonconformities || res.NonConformingItems != 1 {
		t.Errorf("status = %+v", res)
	}
	if len(res.UnansweredSections) != 1 || res.UnansweredSections[0] != "OBS" {
		t.Errorf("unanswered = %v, want [OBS]", res.UnansweredSections)
	}

	var out bytes.Buffer
	err := runSubmit(ctx, g, id, &out)
	if code := exitCode(err); code != exitCodeRejected {
		t.Fatalf("expected exit %d, got %d: %v", exitCodeRejected, code, err)
	}
	for _, want := range []string{"metadata.inspector:", "metadata.client_signature:", "section.OBS:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("submit output missing %q:\n%s", want, out.String())
		}
	}

	err = apply(g, id, `
actions:
  - op: meta
    metadata: {inspector: A. Ndiaye, inspector_signature: AN, client_signature: SOTRA}
  - {op: text, section: OBS, item: 1, value: RAS}
`)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	out.Reset()
	if err := runSubmit(ctx, g, id, &out); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(out.String(), "submitted at") {
		t.Errorf("submit output = %q", out.String())
	}

	err = apply(g, id, "- {op: toggle, section: IDENT, item: 2, value: ok}")
	if code := exitCode(err); code != exitCodeBadInput {
		t.Errorf("apply after submit: exit %d, want %d: %v", code, exitCodeBadInput, err)
	}

	var list bytes.Buffer
	if err := runList(ctx, g, listFlags{status: "submitted"}, &list); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(list.String(), id) || !strings.Contains(list.String(), "equipment@1") {
		t.Errorf("list output:\n%s", list.String())
	}

	prom, err := os.ReadFile(filepath.Join(dir, "inspectcheck.prom"))
	if err != nil {
		t.Fatalf("metrics textfile: %v", err)
	}
	if !strings.Contains(string(prom), "inspectcheck_evaluations_total") {
		t.Errorf("metrics textfile has no inspectcheck series:\n%s", prom)
	}
}

func TestCLI_Report(t *testing.T) {
	ctx := context.Background()
	g, dir := testEnv(t)
	id := mustNew(t, g, newFlags{schema: "equipment", subject: "Compresseur C-12"})
	if err := apply(g, id, draftActions); err != nil {
		t.Fatalf("apply: %v", err)
	}

	var js bytes.Buffer
	if err := runReport(ctx, g, id, reportFlags{format: render.FormatJSON}, &js); err != nil {
		t.Fatalf("report json: %v", err)
	}
	var doc report.Document
	if err := json.Unmarshal(js.Bytes(), &doc); err != nil {
		t.Fatalf("parse report: %v", err)
	}
	if doc.InspectionID != id || len(doc.Sections) != 5 || len(doc.NonConformities()) != 1 {
		t.Errorf("report = %+v", doc)
	}

	var md bytes.Buffer
	if err := runReport(ctx, g, id, reportFlags{format: render.FormatMarkdown}, &md); err != nil {
		t.Fatalf("report markdown: %v", err)
	}
	if !strings.Contains(md.String(), "### STRUCT.") {
		t.Errorf("markdown missing STRUCT section:\n%s", md.String())
	}

	xlsxPath := filepath.Join(dir, "report.xlsx")
	if err := runReport(ctx, g, id, reportFlags{format: render.FormatXLSX, out: xlsxPath}, &bytes.Buffer{}); err != nil {
		t.Fatalf("report xlsx: %v", err)
	}
	f, err := excelize.OpenFile(xlsxPath)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(render.SheetItems)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	// Header, 4 + 4 items, one row each for SECU, ALIM and OBS.
	if len(rows) != 12 {
		t.Errorf("xlsx rows = %d, want 12", len(rows))
	}
}

func TestCLI_BadInput(t *testing.T) {
	ctx := context.Background()
	g, _ := testEnv(t)
	id := mustNew(t, g, newFlags{schema: "equipment"})

	cases := []struct {
		name string
		run  func() error
	}{
		{"new without schema", func() error { return runNew(ctx, g, newFlags{}, &bytes.Buffer{}) }},
		{"new unknown schema", func() error { return runNew(ctx, g, newFlags{schema: "boiler"}, &bytes.Buffer{}) }},
		{"new bad date", func() error { return runNew(ctx, g, newFlags{schema: "equipment", date: "14/09/2026"}, &bytes.Buffer{}) }},
		{"apply empty", func() error { return apply(g, id, "") }},
		{"apply unknown op", func() error { return apply(g, id, "- {op: erase, section: IDENT}") }},
		{"apply unknown item", func() error { return apply(g, id, "- {op: toggle, section: IDENT, item: 9, value: ok}") }},
		{"apply unknown id", func() error { return apply(g, "nope", "- {op: toggle, section: IDENT, item: 1, value: ok}") }},
		{"status unknown id", func() error { return runStatus(ctx, g, "nope", statusFlags{}, &bytes.Buffer{}) }},
		{"report unknown format", func() error { return runReport(ctx, g, id, reportFlags{format: "pdf"}, &bytes.Buffer{}) }},
		{"xlsx without out", func() error { return runReport(ctx, g, id, reportFlags{format: render.FormatXLSX}, &bytes.Buffer{}) }},
		{"list unknown status", func() error { return runList(ctx, g, listFlags{status: "archived"}, &bytes.Buffer{}) }},
		{"missing config", func() error {
			return runStatus(ctx, globalFlags{configFile: "missing.yaml", logOut: &bytes.Buffer{}}, id, statusFlags{}, &bytes.Buffer{})
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if code := exitCode(c.run()); code != exitCodeBadInput {
				t.Errorf("exit %d, want %d", code, exitCodeBadInput)
			}
		})
	}

	loaded := mustNew(t, g, newFlags{schema: "equipment"})
	if loaded == id {
		t.Error("ids must differ")
	}
}

func TestCLI_Schema(t *testing.T) {
	g, dir := testEnv(t)

	var out bytes.Buffer
	if err := runSchemaList(g, &out); err != nil {
		t.Fatalf("schema list: %v", err)
	}
	for _, want := range []string{"electrical", "equipment"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("schema list missing %s:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := runSchemaShow(g, "equipment", schemaFlags{}, &out); err != nil {
		t.Fatalf("schema show: %v", err)
	}
	if !strings.Contains(out.String(), "ALIM. Alimentation électrique [n/a, voltage, current, power]") {
		t.Errorf("schema show:\n%s", out.String())
	}
	if err := runSchemaShow(g, "boiler", schemaFlags{}, &out); exitCode(err) != exitCodeBadInput {
		t.Errorf("unknown schema: %v", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("name: x\nversion: 1\nsections: []\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := runSchemaValidate(bad, &out); exitCode(err) != exitCodeBadInput {
		t.Errorf("validate bad schema: %v", err)
	}
}

type cannedProvider struct{ raw string }

func (p cannedProvider) Complete(context.Context, narrative.Request) (string, error) {
	return p.raw, nil
}

func TestCLI_Summarize(t *testing.T) {
	ctx := context.Background()
	g, _ := testEnv(t)
	orig := narrative.NewProvider
	narrative.NewProvider = func(_, _ string) (narrative.Provider, error) {
		return cannedProvider{raw: `{"overview": "Fixations à reprendre.", "findings": [{"section": "STRUCT", "item": 2, "severity": "HIGH", "observation": "Boulons desserrés", "recommendation": "Resserrer"}]}`}, nil
	}
	t.Cleanup(func() { narrative.NewProvider = orig })

	id := mustNew(t, g, newFlags{schema: "equipment"})
	if err := apply(g, id, draftActions); err != nil {
		t.Fatalf("apply: %v", err)
	}

	var out bytes.Buffer
	if err := runSummarize(ctx, g, id, summarizeFlags{}, &out); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	for _, want := range []string{"Fixations à reprendre.", "[HIGH] STRUCT/2: Boulons desserrés", "-> Resserrer"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, out.String())
		}
	}
}

func TestRootCommand(t *testing.T) {
	g, _ := testEnv(t)
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", g.configFile, "schema", "show", "electrical"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "electrical v") {
		t.Errorf("output:\n%s", out.String())
	}

	root = newRootCmd()
	root.SetArgs([]string{"status"})
	if code := exitCode(root.Execute()); code != exitCodeBadInput {
		t.Errorf("missing argument: exit %d, want %d", code, exitCodeBadInput)
	}
}
