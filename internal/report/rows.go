// Package report flattens extraction results into spreadsheet rows for the XLSX and
// Google Sheets exports.
package report

import (
	"strings"

	"invoicepipe/pkg/models"
)

// InvoiceHeader names the columns of InvoiceRows.
var InvoiceHeader = []string{
	"File", "Status", "Invoice ID", "Date", "Customer", "Phone",
	"Total", "Tax", "Variance", "Consistent", "Missing Fields",
	"Total In Words", "Bank", "Account", "IFSC", "Branch", "Error",
}

// ItemHeader names the columns of ItemRows.
var ItemHeader = []string{
	"File", "Invoice ID", "Product ID", "Item", "Quantity", "Unit Price", "Tax", "Amount",
}

// FromExtract turns a single-file response into batch entries so both shapes export alike.
func FromExtract(filename string, resp models.ExtractResponse) []models.BatchResult {
	results := make([]models.BatchResult, len(resp.Invoices))
	for i := range resp.Invoices {
		results[i] = models.BatchResult{
			Filename: filename,
			Invoice:  &resp.Invoices[i],
			Status:   models.StatusSuccess,
		}
	}
	return results
}

// InvoiceRows returns one row per result. Failed entries keep the file, status and error.
func InvoiceRows(results []models.BatchResult) [][]any {
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		row := make([]any, len(InvoiceHeader))
		for i := range row {
			row[i] = ""
		}
		row[0] = r.Filename
		row[1] = r.Status
		row[16] = r.Error

		if inv := r.Invoice; inv != nil {
			row[2] = deref(inv.InvoiceID)
			row[3] = deref(inv.Date)
			row[4] = deref(inv.CustomerName)
			row[5] = deref(inv.CustomerPhone)
			row[6] = inv.TotalAmount
			row[7] = inv.TaxAmount
			row[8] = inv.Variance
			row[9] = inv.IsConsistent
			row[10] = strings.Join(inv.MissingFields, ", ")
			row[11] = deref(inv.TotalInWords)
			row[12] = deref(inv.BankDetails.BankName)
			row[13] = deref(inv.BankDetails.AccountNumber)
			row[14] = deref(inv.BankDetails.IFSC)
			row[15] = deref(inv.BankDetails.Branch)
		}
		rows = append(rows, row)
	}
	return rows
}

// ItemRows returns one row per line item of every successful result.
func ItemRows(results []models.BatchResult) [][]any {
	var rows [][]any
	for _, r := range results {
		if r.Invoice == nil {
			continue
		}
		id := deref(r.Invoice.InvoiceID)
		for _, it := range r.Invoice.Items {
			rows = append(rows, []any{
				r.Filename, id, it.ProductID, it.ItemName,
				it.Quantity, it.UnitPrice, it.TaxAmount, it.Amount,
			})
		}
	}
	return rows
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
