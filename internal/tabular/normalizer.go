package tabular

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"invoicepipe/internal/invoice"
	"invoicepipe/internal/llm"
	"invoicepipe/pkg/models"
)

// BalanceItemName names the single item synthesised for invoices listed only by totals.
const BalanceItemName = "Invoice Balance"

var (
	// A phone stored as a spreadsheet number comes back as "9876543210.0".
	floatPhonePattern = regexp.MustCompile(`^(\+?\d+)\.0+$`)

	// Large numbers may also come back in exponent form, "9.87654321E9".
	exponentPhonePattern = regexp.MustCompile(`^\d+(?:\.\d+)?[eE]\+?\d+$`)
)

var responseSchema = llm.MustCompileSchema("bulk-invoices.json", `{
  "type": "object",
  "required": ["invoices"],
  "properties": {
    "invoices": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["invoice_id", "items"],
        "properties": {
          "invoice_id": {"type": ["string", "number", "null"]},
          "date": {"type": ["string", "null"]},
          "customer": {"type": ["object", "string", "null"]},
          "items": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["name"],
              "properties": {
                "name": {"type": ["string", "null"]},
                "qty": {"type": ["number", "string", "null"]},
                "unit_price": {"type": ["number", "string", "null"]},
                "tax": {"type": ["number", "string", "null"]},
                "total": {"type": ["number", "string", "null"]}
              }
            }
          },
          "subtotal": {"type": ["number", "string", "null"]},
          "tax_total": {"type": ["number", "string", "null"]},
          "total": {"type": ["number", "string", "null"]}
        }
      }
    }
  }
}`)

// Normalizer groups spreadsheet rows into raw invoices with a language model.
type Normalizer struct {
	generator llm.Generator
	log       zerolog.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(generator llm.Generator, log zerolog.Logger) *Normalizer {
	return &Normalizer{
		generator: generator,
		log:       log.With().Str("stage", "tabular").Logger(),
	}
}

// Normalize sends the table to the model and post-processes its answer. A failed model
// call is returned as an error; an unusable answer yields an empty list and no error.
func (n *Normalizer) Normalize(ctx context.Context, table *Table) ([]models.RawInvoice, error) {
	const op = "Normalize"

	if table == nil || len(table.Rows) == 0 {
		n.log.Debug().Msg("Spreadsheet has no data rows, nothing to group")
		return []models.RawInvoice{}, nil
	}

	n.log.Debug().
		Strs("columns", table.Header).
		Int("rows", len(table.Rows)).
		Msg("Grouping spreadsheet rows into invoices")

	text, err := n.generator.Generate(ctx, llm.Request{
		System: bulkSystemPrompt,
		Prompt: buildBulkPrompt(table.CSV()),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	invoices := n.ParseResponse(text)

	n.log.Info().
		Int("rows", len(table.Rows)).
		Int("invoices", len(invoices)).
		Msg("Spreadsheet normalized")

	return invoices, nil
}

// ParseResponse decodes {"invoices": [...]} from the first JSON object in text and
// applies the post-processing rules. Any failure gives an empty list.
func (n *Normalizer) ParseResponse(text string) []models.RawInvoice {
	obj, ok := llm.ExtractObject(text)
	if !ok {
		n.log.Warn().
			Int("response_length", len(text)).
			Msg("No JSON object in model response, returning no invoices")
		return []models.RawInvoice{}
	}

	if err := responseSchema.Validate(obj); err != nil {
		n.log.Warn().Err(err).Msg("Model response does not match the bulk schema, decoding leniently")
	}

	var envelope struct {
		Invoices []json.RawMessage `json:"invoices"`
	}
	if err := json.Unmarshal([]byte(obj), &envelope); err != nil {
		n.log.Warn().Err(err).Msg("Model response is not valid JSON, returning no invoices")
		return []models.RawInvoice{}
	}

	invoices := make([]models.RawInvoice, 0, len(envelope.Invoices))
	for i, msg := range envelope.Invoices {
		var raw models.RawInvoice
		if err := json.Unmarshal(msg, &raw); err != nil {
			n.log.Warn().
				Err(err).
				Int("index", i).
				Msg("Skipping invoice that cannot be decoded")
			continue
		}
		invoices = append(invoices, postProcess(raw))
	}
	return invoices
}

func postProcess(raw models.RawInvoice) models.RawInvoice {
	raw.Customer.Phone = models.Text(CleanPhone(string(raw.Customer.Phone)))
	if len(raw.Items) == 0 {
		if item, ok := balanceItem(raw); ok {
			raw.Items = []models.RawItem{item}
		}
	}
	return raw
}

// CleanPhone removes the ".0" suffix (or exponent form) that numeric spreadsheet cells
// add to phone numbers. Other values are returned trimmed.
func CleanPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if m := floatPhonePattern.FindStringSubmatch(phone); m != nil {
		return m[1]
	}
	if exponentPhonePattern.MatchString(phone) {
		if f, err := strconv.ParseFloat(phone, 64); err == nil && f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10)
		}
	}
	return phone
}

// balanceItem builds the single item for an invoice that only states totals:
// unit price is the net amount, tax the stated tax.
func balanceItem(raw models.RawInvoice) (models.RawItem, bool) {
	total := invoice.ParseNumberOrDefault(raw.Total, 0)
	if total <= 0 {
		return models.RawItem{}, false
	}
	tax := invoice.ParseNumberOrDefault(raw.TaxTotal, 0)

	return models.RawItem{
		Name:      BalanceItemName,
		Qty:       models.NewValue(1.0),
		UnitPrice: models.NewValue(total - tax),
		Tax:       models.NewValue(tax),
		Total:     models.NewValue(total),
	}, true
}

const bulkSystemPrompt = "You convert spreadsheet exports into invoice JSON. Reply with one JSON object and nothing else."

func buildBulkPrompt(csvText string) string {
	var sb strings.Builder
	sb.WriteString("Convert the CSV rows below into invoices.\n\n")
	sb.WriteString("RULES:\n")
	sb.WriteString("1. The grouping column is usually \"Serial Number\" or \"Invoice Number\". Group rows by it.\n")
	sb.WriteString("2. The customer comes from \"Party Name\" or \"Party Company Name\".\n")
	sb.WriteString("3. Groups with product columns (\"Product Name\", \"Qty\", \"Price\"): one item per row.\n")
	sb.WriteString("   unit_price is \"Unit Price\", or \"Price with Tax\" / (1 + Tax%/100).\n")
	sb.WriteString("   tax is computed from Tax% when given, otherwise from the difference.\n")
	sb.WriteString("   qty is the \"Qty\" column, total is \"Item Total Amount\" or \"Price with Tax\".\n")
	sb.WriteString("4. Groups with only \"Net Amount\" / \"Total Amount\": one item named \"" + BalanceItemName + "\",\n")
	sb.WriteString("   qty 1, unit_price = Net Amount (or Total Amount - Tax Amount), tax = Tax Amount, total = Total Amount.\n")
	sb.WriteString("5. Phone numbers like \"9999999999.0\" become \"9999999999\".\n")
	sb.WriteString("6. Keep dates exactly as written, e.g. \"12 Nov 2024\".\n")
	sb.WriteString("7. subtotal + tax_total must equal total.\n\n")
	sb.WriteString("OUTPUT SCHEMA:\n")
	sb.WriteString(`{
  "invoices": [
    {
      "invoice_id": string,
      "date": string,
      "customer": {"name": string, "phone": string|null},
      "items": [
        {"name": string, "qty": number, "unit_price": number, "tax": number, "total": number}
      ],
      "subtotal": number,
      "tax_total": number,
      "total": number
    }
  ]
}`)
	sb.WriteString("\n\nINPUT DATA:\n")
	sb.WriteString(csvText)
	return sb.String()
}
