package invoice

import (
	"regexp"
	"strings"

	"invoicepipe/pkg/models"
)

var (
	nonProductPattern = regexp.MustCompile(`(?i)charge|fee|shipping|debit|making|round`)

	textTotalPattern = regexp.MustCompile(`(?i)(?:Total Amount|Total|Amount Due).*?(\d{1,3}(?:,\d{3})*\.\d{2})`)
	textTaxPattern   = regexp.MustCompile(`(CGST|SGST|IGST).*?(\d{1,3}(?:,\d{3})*\.\d{2})`)
	tableRowPattern  = regexp.MustCompile(`^(.*?)\s+([\d,.]+)\s+([\d,.]+)\s+([\d,.]+)$`)

	bankNamePattern = regexp.MustCompile(`(?i)Bank:\s*(.+)`)
	accountPattern  = regexp.MustCompile(`(?i)Account\s*#:\s*(\d+)`)
	ifscPattern     = regexp.MustCompile(`(?i)IFSC\s*(?:Code)?:\s*(\w+)`)
	branchPattern   = regexp.MustCompile(`(?i)Branch:\s*(.+)`)
	wordsPattern    = regexp.MustCompile(`(?i)Total amount.*?:\s*(.+)`)
)

// totalFromText returns the last total/amount-due figure in the text, or 0.
func totalFromText(text string) float64 {
	matches := textTotalPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return 0
	}
	return ParseNumberOrDefault(matches[len(matches)-1][1], 0)
}

// taxFromText sums every CGST, SGST and IGST figure in the text.
func taxFromText(text string) float64 {
	var sum float64
	for _, m := range textTaxPattern.FindAllStringSubmatch(text, -1) {
		sum += ParseNumberOrDefault(m[2], 0)
	}
	return sum
}

func bankFromText(text string) models.BankDetails {
	return models.BankDetails{
		BankName:      models.Text(firstGroup(bankNamePattern, text)),
		AccountNumber: models.Text(firstGroup(accountPattern, text)),
		IFSC:          models.Text(firstGroup(ifscPattern, text)),
		Branch:        models.Text(firstGroup(branchPattern, text)),
	}
}

func wordsFromText(text string) string {
	return firstGroup(wordsPattern, text)
}

// firstGroup returns the trimmed first capture group of the first match, or "".
// "." does not cross newlines, so labeled values end at the end of their line.
func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// itemsFromText rebuilds line items from the printed item table. The table starts after
// the first line containing both "Description" and "Quantity" and ends at a "Total Items"
// or "Sub Total" line, or at the end of the text. Rows read name, rate, quantity, total.
func itemsFromText(text string) []models.RawItem {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	start := -1
	for i, l := range lines {
		if strings.Contains(l, "Description") && strings.Contains(l, "Quantity") {
			start = i + 1
			break
		}
	}
	if start == -1 {
		return nil
	}

	end := len(lines)
	for i := start; i < len(lines); i++ {
		if strings.Contains(lines[i], "Total Items") || strings.Contains(lines[i], "Sub Total") {
			end = i
			break
		}
	}

	var items []models.RawItem
	for _, row := range lines[start:end] {
		m := tableRowPattern.FindStringSubmatch(row)
		if m == nil {
			continue
		}
		items = append(items, models.RawItem{
			Name:      models.Text(strings.TrimSpace(m[1])),
			UnitPrice: models.NewValue(ParseNumberOrDefault(m[2], 0)),
			Quantity:  models.NewValue(ParseNumberOrDefault(m[3], 0)),
			Total:     models.NewValue(ParseNumberOrDefault(m[4], 0)),
			Tax:       models.NewValue(0.0),
			TaxRate:   models.NewValue(0.0),
		})
	}
	return items
}
