package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dshills/inspectcheck/internal/report"
)

// Sheet names of the workbook written by RenderXLSX.
const (
	SheetItems   = "Inspection"
	SheetSummary = "Summary"
)

var xlsxHeader = []any{
	"Section", "Section name", "Section status",
	"Location", "Voltage", "Current", "Power", "Section notes",
	"Item", "Item name", "Values", "Labels", "Free text", "Item status",
}

// RenderXLSX writes the document as a workbook: one row per item on the
// Inspection sheet (not-applicable and empty sections take a single row
// without item columns) and the inspection header on the Summary sheet.
func RenderXLSX(doc *report.Document, w io.Writer) error {
	if doc == nil {
		return fmt.Errorf("render: nil document")
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetItems); err != nil {
		return fmt.Errorf("render: xlsx: %w", err)
	}
	if err := f.SetSheetRow(SheetItems, "A1", &xlsxHeader); err != nil {
		return fmt.Errorf("render: xlsx header: %w", err)
	}

	row := 2
	for _, sec := range doc.Sections {
		prefix := []any{
			sec.Code, sec.Name, string(sec.Status),
			sec.Location, sec.Voltage, sec.Current, sec.Power, sec.Notes,
		}
		if len(sec.Items) == 0 {
			if err := setRow(f, row, prefix); err != nil {
				return err
			}
			row++
			continue
		}
		for _, it := range sec.Items {
			cells := append(append([]any(nil), prefix...),
				it.Number, it.Name,
				strings.Join(it.Values, ", "), strings.Join(it.Labels, ", "),
				it.FreeText, string(it.Status),
			)
			if err := setRow(f, row, cells); err != nil {
				return err
			}
			row++
		}
	}

	if _, err := f.NewSheet(SheetSummary); err != nil {
		return fmt.Errorf("render: xlsx: %w", err)
	}
	summary := [][]any{
		{"Inspection", doc.InspectionID},
		{"Checklist", fmt.Sprintf("%s v%d", doc.SchemaName, doc.SchemaVersion)},
		{"Title", doc.SchemaTitle},
		{"Status", string(doc.Status)},
		{"Subject", doc.Metadata.Subject},
		{"Inspector", doc.Metadata.Inspector},
		{"Date", dateCell(doc)},
		{"Non-conformities", doc.Result.NonConformingItems},
		{"Has non-conformities", doc.Result.HasNonconformities},
		{"Incomplete sections", strings.Join(doc.Result.UnansweredSections, ", ")},
	}
	for i, cells := range summary {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("render: xlsx: %w", err)
		}
		if err := f.SetSheetRow(SheetSummary, cell, &cells); err != nil {
			return fmt.Errorf("render: xlsx summary: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("render: xlsx write: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("render: xlsx: %w", err)
	}
	if err := f.SetSheetRow(SheetItems, cell, &cells); err != nil {
		return fmt.Errorf("render: xlsx row %d: %w", row, err)
	}
	return nil
}

func dateCell(doc *report.Document) string {
	if doc.Metadata.Date.IsZero() {
		return ""
	}
	return doc.Metadata.Date.Format("2006-01-02")
}
