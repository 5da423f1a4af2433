// Package ocr recognizes text and typed entities in scanned invoices.
//
// Two backends are available:
//   - Document AI (an invoice or form parser processor): full text plus typed entities,
//     line items arrive as composite entities with nested properties.
//   - Cloud Vision document text detection: full text only, entity list is empty.
//
// Credentials come from GOOGLE_CREDENTIALS (inline JSON) or GOOGLE_APPLICATION_CREDENTIALS
// (file path); without either, Application Default Credentials are used.
package ocr

import "context"

// Service recognizes a single document.
type Service interface {
	// Process sends the document bytes with their MIME type and returns the recognized content.
	Process(ctx context.Context, content []byte, mimeType string) (*Document, error)
}

// Document is the recognized content of one upload.
type Document struct {
	// Text is the full recognized text in reading order.
	Text string `json:"text"`

	// Entities are the typed entities found by the processor. Empty for text-only backends.
	Entities []Entity `json:"entities"`

	// PageCount is the number of pages the backend reported.
	PageCount int `json:"page_count"`
}

// Entity is one typed piece of information, for example an invoice date or a line item.
type Entity struct {
	Type        string           `json:"type"`
	MentionText string           `json:"mention_text,omitempty"`
	Confidence  float32          `json:"confidence,omitempty"`
	Normalized  *NormalizedValue `json:"normalized_value,omitempty"`

	// Properties holds child entities of composite types such as line_item.
	Properties []Entity `json:"properties,omitempty"`
}

// NormalizedValue is the machine-parsed form of an entity. Either field may be unset.
type NormalizedValue struct {
	Text   string   `json:"text,omitempty"`
	Number *float64 `json:"number,omitempty"`
}

// Value resolves the entity to its most reliable form: the normalized number, then the
// normalized text, then the raw mention text. It returns nil when nothing is populated.
func (e Entity) Value() any {
	if nv := e.Normalized; nv != nil {
		if nv.Number != nil {
			return *nv.Number
		}
		if nv.Text != "" {
			return nv.Text
		}
	}
	if e.MentionText != "" {
		return e.MentionText
	}
	return nil
}

// Find returns the first entity of the given type.
func Find(entities []Entity, entityType string) (Entity, bool) {
	for _, e := range entities {
		if e.Type == entityType {
			return e, true
		}
	}
	return Entity{}, false
}

// FindAll returns every entity of the given type, in document order.
func FindAll(entities []Entity, entityType string) []Entity {
	var out []Entity
	for _, e := range entities {
		if e.Type == entityType {
			out = append(out, e)
		}
	}
	return out
}
