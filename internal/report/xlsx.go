package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"invoicepipe/pkg/models"
)

// Sheet names of the workbook.
const (
	InvoicesSheet = "Invoices"
	ItemsSheet    = "Items"
)

// WriteXLSX writes a workbook with an Invoices sheet and an Items sheet.
func WriteXLSX(w io.Writer, results []models.BatchResult) error {
	f := excelize.NewFile()
	defer f.Close()

	// The default sheet becomes Invoices.
	if err := f.SetSheetName("Sheet1", InvoicesSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(ItemsSheet); err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	if err := writeSheet(f, InvoicesSheet, InvoiceHeader, InvoiceRows(results), bold); err != nil {
		return err
	}
	if err := writeSheet(f, ItemsSheet, ItemHeader, ItemRows(results), bold); err != nil {
		return err
	}

	_ = f.SetColWidth(InvoicesSheet, "A", "A", 28)
	_ = f.SetColWidth(InvoicesSheet, "C", "F", 18)
	_ = f.SetColWidth(InvoicesSheet, "K", "L", 36)
	_ = f.SetColWidth(ItemsSheet, "A", "C", 28)
	_ = f.SetColWidth(ItemsSheet, "D", "D", 36)

	if idx, err := f.GetSheetIndex(InvoicesSheet); err == nil {
		f.SetActiveSheet(idx)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any, headerStyle int) error {
	headerRow := make([]any, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return fmt.Errorf("%s header: %w", sheet, err)
	}

	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("%s header style: %w", sheet, err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}
