// Package tabular turns spreadsheet and CSV uploads into raw invoice records.
//
// Rows are decoded locally, re-serialised as CSV and handed to a language model that
// groups them by invoice number. Everything after the model call (locating the JSON
// object, phone cleanup, synthesised balance items) is deterministic and lives here.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Spreadsheet MIME types routed to the tabular path.
const (
	MIMETypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MIMETypeXLS  = "application/vnd.ms-excel"
	MIMETypeCSV  = "text/csv"
)

var (
	// ErrEmptySpreadsheet is returned when the upload has no header row.
	ErrEmptySpreadsheet = errors.New("spreadsheet has no rows")

	// ErrInvalidSpreadsheet is returned when the bytes cannot be decoded as CSV or workbook.
	ErrInvalidSpreadsheet = errors.New("spreadsheet cannot be decoded")
)

var tabularMIMETypes = map[string]bool{
	MIMETypeXLSX: true,
	MIMETypeXLS:  true,
	MIMETypeCSV:  true,
}

var tabularExtensions = map[string]bool{
	".xlsx": true,
	".xls":  true,
	".csv":  true,
}

// IsSpreadsheet reports whether an upload takes the tabular path: a spreadsheet or CSV
// MIME type, or an .xlsx/.xls/.csv file name.
func IsSpreadsheet(filename, contentType string) bool {
	if tabularMIMETypes[mediaType(contentType)] {
		return true
	}
	return tabularExtensions[strings.ToLower(filepath.Ext(filename))]
}

func isCSV(filename, contentType string) bool {
	if mt := mediaType(contentType); mt == MIMETypeCSV {
		return true
	} else if tabularMIMETypes[mt] {
		return false
	}
	return strings.EqualFold(filepath.Ext(filename), ".csv")
}

// mediaType strips parameters such as "; charset=utf-8".
func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// Table is a decoded sheet: a header row and data rows padded to the header width.
type Table struct {
	Header []string
	Rows   [][]string
}

// Decode reads the first worksheet of a workbook, or the whole of a CSV file.
// Legacy .xls workbooks are recognised by their compound file header whatever
// the declared type. Fully blank rows are dropped.
func Decode(filename, contentType string, content []byte) (*Table, error) {
	var (
		records [][]string
		err     error
	)
	switch {
	case isCSV(filename, contentType):
		records, err = readCSV(content)
	case isXLS(content):
		records, err = readXLS(content)
	default:
		records, err = readWorkbook(content)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpreadsheet, err)
	}

	return newTable(records)
}

func readCSV(content []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\ufeff"))))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}

func readWorkbook(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	return f.GetRows(sheets[0])
}

func newTable(records [][]string) (*Table, error) {
	var rows [][]string
	for _, rec := range records {
		if !blank(rec) {
			rows = append(rows, rec)
		}
	}
	if len(rows) == 0 {
		return nil, ErrEmptySpreadsheet
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}

	width := len(header)
	for _, r := range rows[1:] {
		width = max(width, len(r))
	}
	for len(header) < width {
		header = append(header, fmt.Sprintf("Column %d", len(header)+1))
	}

	t := &Table{Header: header}
	for _, r := range rows[1:] {
		padded := make([]string, width)
		for i, cell := range r {
			padded[i] = strings.TrimSpace(cell)
		}
		t.Rows = append(t.Rows, padded)
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// CSV renders the table as CSV text for the model prompt.
func (t *Table) CSV() string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(t.Header)
	_ = w.WriteAll(t.Rows)
	return buf.String()
}
