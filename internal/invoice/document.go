package invoice

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"invoicepipe/internal/ocr"
	"invoicepipe/pkg/models"
)

// Document AI entity types read by the mapper.
const (
	EntityReceiverName  = "receiver_name"
	EntityReceiverPhone = "receiver_phone"
	EntityInvoiceID     = "invoice_id"
	EntityInvoiceDate   = "invoice_date"
	EntityLineItem      = "line_item"
	EntityTotalAmount   = "total_amount"
	EntityNetAmount     = "net_amount"

	lineItemPrefix = "line_item/"
)

// minStructuredItems is the structured item count below which the text table is tried.
const minStructuredItems = 2

// DocumentMapper builds a raw invoice from OCR entities and text.
type DocumentMapper struct {
	log zerolog.Logger
}

// NewDocumentMapper creates a DocumentMapper.
func NewDocumentMapper(log zerolog.Logger) *DocumentMapper {
	return &DocumentMapper{log: log}
}

// Normalize is Map behind the context-aware signature shared with ModelNormalizer.
func (m *DocumentMapper) Normalize(_ context.Context, doc *ocr.Document) (models.RawInvoice, error) {
	return m.Map(doc), nil
}

// Map extracts a best-effort record. It never fails: anything not found stays empty
// and is reported by Validate.
func (m *DocumentMapper) Map(doc *ocr.Document) models.RawInvoice {
	if doc == nil {
		doc = &ocr.Document{}
	}

	raw := models.RawInvoice{
		InvoiceID: models.Text(headerText(doc.Entities, EntityInvoiceID)),
		Date:      models.Text(headerText(doc.Entities, EntityInvoiceDate)),
		Customer: models.Customer{
			Name:  models.Text(headerText(doc.Entities, EntityReceiverName)),
			Phone: models.Text(headerText(doc.Entities, EntityReceiverPhone)),
		},
		Bank:         bankFromText(doc.Text),
		TotalInWords: models.Text(wordsFromText(doc.Text)),
	}

	items := structuredItems(doc.Entities)
	source := "entities"
	if len(items) < minStructuredItems {
		if fromText := itemsFromText(doc.Text); len(fromText) > len(items) {
			items = fromText
			source = "text"
		}
	}
	raw.Items = items

	entityTotal := headerNumber(doc.Entities, EntityTotalAmount)
	netAmount := headerNumber(doc.Entities, EntityNetAmount)
	textTotal := totalFromText(doc.Text)
	total := math.Max(entityTotal, math.Max(netAmount, textTotal))
	tax := taxFromText(doc.Text)

	raw.Total = models.NewValue(round2(total))
	raw.TaxTotal = models.NewValue(round2(tax))

	m.log.Debug().
		Int("entities", len(doc.Entities)).
		Int("items", len(items)).
		Str("item_source", source).
		Float64("entity_total", entityTotal).
		Float64("net_amount", netAmount).
		Float64("text_total", textTotal).
		Float64("text_tax", tax).
		Strs("provisional_missing", provisionalMissing(raw)).
		Msg("Mapped document entities")

	return raw
}

// structuredItems reads line_item entities, skipping charge-like rows and rows without
// a positive amount.
func structuredItems(entities []ocr.Entity) []models.RawItem {
	var items []models.RawItem
	for _, li := range ocr.FindAll(entities, EntityLineItem) {
		props := lineItemProperties(li)

		desc := textOf(props["description"])
		if nonProductPattern.MatchString(desc) {
			continue
		}
		name := strings.TrimSpace(desc)
		if name == "" {
			name = "Unknown"
		}

		qty := ParseNumberOrDefault(props["quantity"], 1)
		if qty == 0 {
			qty = 1
		}
		unitPrice := ParseNumberOrDefault(props["unit_price"], 0)
		amount := ParseNumberOrDefault(props["amount"], 0)
		if _, declared := props["amount"]; !declared {
			amount = qty * unitPrice
		}
		if amount <= 0 {
			continue
		}

		items = append(items, models.RawItem{
			Name:      models.Text(name),
			Quantity:  models.NewValue(qty),
			UnitPrice: models.NewValue(unitPrice),
			Tax:       models.NewValue(ParseNumberOrDefault(props["tax_amount"], 0)),
			TaxRate:   models.NewValue(ParseNumberOrDefault(props["tax_rate"], 0)),
			Total:     models.NewValue(amount),
			Discount:  models.NewValue(props["discount"]),
		})
	}
	return items
}

// lineItemProperties indexes the first value of each property, with or without the
// "line_item/" prefix.
func lineItemProperties(li ocr.Entity) map[string]any {
	props := make(map[string]any, len(li.Properties))
	for _, p := range li.Properties {
		key := strings.TrimPrefix(p.Type, lineItemPrefix)
		if _, seen := props[key]; seen {
			continue
		}
		if v := p.Value(); v != nil {
			props[key] = v
		}
	}
	return props
}

func headerText(entities []ocr.Entity, entityType string) string {
	e, ok := ocr.Find(entities, entityType)
	if !ok {
		return ""
	}
	return strings.TrimSpace(textOf(e.Value()))
}

func headerNumber(entities []ocr.Entity, entityType string) float64 {
	e, ok := ocr.Find(entities, entityType)
	if !ok {
		return 0
	}
	return ParseNumberOrDefault(e.Value(), 0)
}

func textOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// provisionalMissing is logged for diagnostics only; Validate owns the reported list.
func provisionalMissing(raw models.RawInvoice) []string {
	var missing []string
	if raw.Customer.Name == "" {
		missing = append(missing, "customer.name")
	}
	if raw.Customer.Phone == "" {
		missing = append(missing, "customer.phone")
	}
	if len(raw.Items) == 0 {
		missing = append(missing, FieldItems)
	}
	return missing
}

func round2(f float64) float64 {
	return decimal.NewFromFloat(f).Round(2).InexactFloat64()
}
