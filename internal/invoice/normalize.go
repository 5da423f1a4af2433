package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"invoicepipe/internal/llm"
	"invoicepipe/internal/ocr"
	"invoicepipe/pkg/models"
)

// ParseFailureMessage is the Error text of the sentinel record.
const ParseFailureMessage = "Failed to parse PDF JSON"

// SentinelRecord is returned when model output holds no usable invoice. It flows through
// Validate like any other record and surfaces as missing fields.
func SentinelRecord() models.RawInvoice {
	return models.RawInvoice{
		Error: ParseFailureMessage,
		Items: []models.RawItem{},
		Total: models.NewValue(0.0),
	}
}

// ModelNormalizer turns OCR output into a raw invoice by asking a language model.
type ModelNormalizer struct {
	generator llm.Generator
	log       zerolog.Logger
}

// NewModelNormalizer creates a ModelNormalizer.
func NewModelNormalizer(generator llm.Generator, log zerolog.Logger) *ModelNormalizer {
	return &ModelNormalizer{generator: generator, log: log}
}

// Normalize sends the OCR text and entities to the model. A failed call is returned as
// an error; unparsable output yields SentinelRecord and no error.
func (n *ModelNormalizer) Normalize(ctx context.Context, doc *ocr.Document) (models.RawInvoice, error) {
	const op = "Normalize"

	prompt, err := buildDocumentPrompt(doc)
	if err != nil {
		return models.RawInvoice{}, fmt.Errorf("%s: %w", op, err)
	}

	text, err := n.generator.Generate(ctx, llm.Request{System: documentSystemPrompt, Prompt: prompt})
	if err != nil {
		return models.RawInvoice{}, fmt.Errorf("%s: %w", op, err)
	}

	raw, err := parseDocumentResponse(text)
	if err != nil {
		n.log.Warn().
			Err(err).
			Int("response_length", len(text)).
			Msg("Model output is not a usable invoice, returning sentinel record")
		return SentinelRecord(), nil
	}

	n.log.Debug().
		Str("invoice_id", string(raw.InvoiceID)).
		Int("items", len(raw.Items)).
		Msg("Normalized document with model")

	return raw, nil
}

// parseDocumentResponse decodes the first JSON object. An {"invoices": [...]} wrapper is
// unwrapped to its first element.
func parseDocumentResponse(text string) (models.RawInvoice, error) {
	var envelope struct {
		Invoices []json.RawMessage `json:"invoices"`
	}
	if err := llm.DecodeObject(text, &envelope); err != nil {
		return models.RawInvoice{}, err
	}

	var raw models.RawInvoice
	if envelope.Invoices != nil {
		if len(envelope.Invoices) == 0 {
			return models.RawInvoice{}, fmt.Errorf("empty invoices array")
		}
		if err := json.Unmarshal(envelope.Invoices[0], &raw); err != nil {
			return models.RawInvoice{}, fmt.Errorf("decode first invoice: %w", err)
		}
		return raw, nil
	}

	if err := llm.DecodeObject(text, &raw); err != nil {
		return models.RawInvoice{}, err
	}
	return raw, nil
}

const documentSystemPrompt = "You extract invoice data from OCR output. Reply with one JSON object and nothing else."

const documentSchema = `{
  "invoice_id": string,
  "date": string,
  "total_in_words": string|null,
  "customer": {"name": string|null, "phone": string|null},
  "bank": {"bank_name": string|null, "account_number": string|null, "ifsc": string|null, "branch": string|null},
  "items": [
    {"name": string, "qty": number, "unit_price": number, "tax": number, "total": number}
  ],
  "subtotal": number,
  "tax_total": number,
  "total": number
}`

func buildDocumentPrompt(doc *ocr.Document) (string, error) {
	if doc == nil {
		doc = &ocr.Document{}
	}

	entities := "[]"
	if len(doc.Entities) > 0 {
		b, err := json.MarshalIndent(doc.Entities, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode entities: %w", err)
		}
		entities = string(b)
	}

	var sb strings.Builder
	sb.WriteString("Extract a single invoice as a JSON object.\n\n")
	sb.WriteString("ITEMS:\n")
	sb.WriteString("- List every product row of the item table.\n")
	sb.WriteString("- unit_price is the rate per unit before tax.\n")
	sb.WriteString("- tax is the tax amount of the row only, e.g. \"238.10 (5%)\" gives 238.10.\n")
	sb.WriteString("- total is the rightmost amount of the row.\n")
	sb.WriteString("- qty is the quantity column, 1 when missing.\n")
	sb.WriteString("- Making, card and shipping charges are separate items with qty 1 and tax 0.\n\n")
	sb.WriteString("TAX:\n")
	sb.WriteString("- When tax appears only as invoice-level CGST/SGST/IGST totals, set item tax to 0.\n")
	sb.WriteString("- tax_total is the invoice-level CGST+SGST or IGST total.\n\n")
	sb.WriteString("EXTRAS:\n")
	sb.WriteString("- total_in_words: the amount written in words (\"Rupees ... Only\", \"Total (in words)\").\n")
	sb.WriteString("- bank: bank name, account number, IFSC and branch from the bank details block.\n\n")
	sb.WriteString("SCHEMA:\n")
	sb.WriteString(documentSchema)
	sb.WriteString("\n\nOCR TEXT:\n")
	sb.WriteString(doc.Text)
	sb.WriteString("\n\nENTITIES:\n")
	sb.WriteString(entities)
	sb.WriteString("\n")

	return sb.String(), nil
}
