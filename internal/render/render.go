// Package render produces output from a synthesized report.Document.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/inspectcheck/internal/conformity"
	"github.com/dshills/inspectcheck/internal/report"
)

// Format names accepted by the CLI.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatXLSX     = "xlsx"
)

// RenderJSON produces a pretty-printed JSON representation of the document.
// The output round-trips through json.Unmarshal back to an equal Document.
func RenderJSON(doc *report.Document) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("render: nil document")
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: json marshal: %w", err)
	}
	return b, nil
}

// RenderMarkdown produces a Markdown inspection report with one table per
// section in schema order. Not-applicable sections are shown with their
// context values and no items.
func RenderMarkdown(doc *report.Document) string {
	if doc == nil {
		return ""
	}
	var sb strings.Builder

	title := doc.SchemaTitle
	if title == "" {
		title = doc.SchemaName
	}
	fmt.Fprintf(&sb, "## %s\n\n", mdEscape(title))
	fmt.Fprintf(&sb, "**Inspection:** %s  \n", doc.InspectionID)
	fmt.Fprintf(&sb, "**Checklist:** %s v%d  \n", doc.SchemaName, doc.SchemaVersion)
	fmt.Fprintf(&sb, "**Status:** %s  \n", doc.Status)
	if doc.Metadata.Subject != "" {
		fmt.Fprintf(&sb, "**Subject:** %s  \n", mdEscape(doc.Metadata.Subject))
	}
	if doc.Metadata.Inspector != "" {
		fmt.Fprintf(&sb, "**Inspector:** %s  \n", mdEscape(doc.Metadata.Inspector))
	}
	if !doc.Metadata.Date.IsZero() {
		fmt.Fprintf(&sb, "**Date:** %s  \n", doc.Metadata.Date.Format("2006-01-02"))
	}
	if doc.SubmittedAt != nil {
		fmt.Fprintf(&sb, "**Submitted:** %s  \n", doc.SubmittedAt.Format("2006-01-02 15:04 MST"))
	}
	fmt.Fprintf(&sb, "**Non-conformities:** %d", doc.Result.NonConformingItems)
	if len(doc.Result.UnansweredSections) > 0 {
		fmt.Fprintf(&sb, " | **Incomplete sections:** %s", strings.Join(doc.Result.UnansweredSections, ", "))
	}
	sb.WriteString("\n\n")
	if doc.Metadata.Notes != "" {
		fmt.Fprintf(&sb, "%s\n\n", mdEscape(doc.Metadata.Notes))
	}

	for _, sec := range doc.Sections {
		writeSection(&sb, sec)
	}

	if len(doc.Unrenderable) > 0 {
		sb.WriteString("## Unrenderable Answers\n\n")
		sb.WriteString("Stored answers for entries this checklist version does not define:\n\n")
		for _, ref := range doc.Unrenderable {
			fmt.Fprintf(&sb, "- `%s`\n", ref)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// writeSection renders one section heading, its context values and its item
// table into sb.
func writeSection(sb *strings.Builder, sec report.SectionReport) {
	fmt.Fprintf(sb, "### %s. %s [%s]\n\n", sec.Code, mdEscape(sec.Name), sec.Status)

	var ctx []string
	for _, kv := range [][2]string{
		{"Location", sec.Location},
		{"Voltage", sec.Voltage},
		{"Current", sec.Current},
		{"Power", sec.Power},
	} {
		if kv[1] != "" {
			ctx = append(ctx, fmt.Sprintf("**%s:** %s", kv[0], mdEscape(kv[1])))
		}
	}
	if len(ctx) > 0 {
		sb.WriteString(strings.Join(ctx, " | "))
		sb.WriteString("\n\n")
	}

	if sec.Status == conformity.SectionNotApplicable {
		sb.WriteString("_Not applicable._\n\n")
	} else if len(sec.Items) > 0 {
		fmt.Fprintf(sb, "%d/%d answered\n\n", sec.Answered, sec.Total)
		sb.WriteString("| # | Item | Answer | Status |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, it := range sec.Items {
			fmt.Fprintf(sb, "| %d | %s | %s | %s |\n", it.Number, mdEscape(it.Name), mdEscape(answer(it)), it.Status)
		}
		sb.WriteString("\n")
	}

	if sec.Notes != "" {
		fmt.Fprintf(sb, "**Notes:** %s\n\n", mdEscape(sec.Notes))
	}
}

// answer joins the selected labels and the free text of an item.
func answer(it report.ItemReport) string {
	parts := append([]string(nil), it.Labels...)
	if it.FreeText != "" {
		if it.FreeTextLabel != "" {
			parts = append(parts, it.FreeTextLabel+": "+it.FreeText)
		} else {
			parts = append(parts, it.FreeText)
		}
	}
	return strings.Join(parts, ", ")
}

// mdEscape replaces characters that would break Markdown table cells.
func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}
