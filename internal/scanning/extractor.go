package scanning

import "context"

// LineItem is one receipt line as reported by the model. Category is free
// text; reconciling it against the canonical list happens downstream.
type LineItem struct {
	Name     string  `json:"name"`
	Amount   float64 `json:"amount"`
	Category string  `json:"category"`
}

// Extraction is the structured payload extracted from one receipt.
type Extraction struct {
	Items []LineItem `json:"items"`
	Total float64    `json:"total"`
	Date  string     `json:"date"` // ISO 8601
}

// Extractor analyzes a receipt image or PDF and extracts its line items.
type Extractor interface {
	Extract(ctx context.Context, imageData []byte, contentType string) (*Extraction, error)
	Close() error
}

// receiptExtractionPrompt is the shared prompt used by all providers.
const receiptExtractionPrompt = `You are analyzing a store receipt. Carefully read all text in the image and extract every purchased line item.

For each line item extract:
1. **name**: the product name as printed on the receipt.
2. **amount**: the line total as a number (e.g. 4.20), after any discounts on that line.
3. **category**: a short expense category for the item, e.g. "Żywność", "Chemia domowa", "Transport", "Inne".

Also extract:
- **total**: the receipt's final total (look for "SUMA", "RAZEM", "TOTAL" near the bottom).
- **date**: the purchase date in YYYY-MM-DD format.

Important:
- Amounts must be numbers, not strings.
- Skip deposit/return lines and loyalty-card noise.
- If the date cannot be found, use an empty string.
- Respond with JSON only.`

const extractionSystemPrompt = "You are an expert at reading Polish and English store receipts and extracting accurate, itemized purchase data."

// extractionSchema is the strict structured-output schema for a receipt.
func extractionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":     map[string]any{"type": "string"},
						"amount":   map[string]any{"type": "number"},
						"category": map[string]any{"type": "string"},
					},
					"required":             []string{"name", "amount", "category"},
					"additionalProperties": false,
				},
			},
			"total": map[string]any{"type": "number"},
			"date":  map[string]any{"type": "string"},
		},
		"required":             []string{"items", "total", "date"},
		"additionalProperties": false,
	}
}
