package scanning

import (
	"encoding/json"
	"strings"
	"time"
)

// stripMarkdownFence removes a surrounding markdown code block, which some
// models emit even when asked for bare JSON.
func stripMarkdownFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// parseExtractionJSON parses a model's free-form text response into an
// Extraction, tolerating markdown fences and surrounding prose.
func parseExtractionJSON(text string) (*Extraction, error) {
	text = stripMarkdownFence(text)

	// Look for the outermost JSON object.
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, &Error{Kind: KindValidation, Msg: "no JSON object found in response"}
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, &Error{Kind: KindValidation, Msg: "invalid JSON object in response"}
	}
	text = text[startIdx : endIdx+1]

	var data Extraction
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, &Error{Kind: KindValidation, Msg: "unmarshaling extraction", Err: err}
	}

	normalizeExtraction(&data)
	return &data, nil
}

// dateFormats are the receipt date layouts accepted besides ISO 8601.
var dateFormats = []string{
	"2006/01/02",
	"02.01.2006",
	"02-01-2006",
	"01/02/2006",
}

// normalizeExtraction cleans up model output in place: dates are coerced to
// YYYY-MM-DD with a today fallback, item names are trimmed.
func normalizeExtraction(data *Extraction) {
	data.Date = normalizeDate(data.Date)
	for i := range data.Items {
		data.Items[i].Name = strings.TrimSpace(data.Items[i].Name)
		if data.Items[i].Name == "" {
			data.Items[i].Name = "Unknown item"
		}
	}
}

func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().Format("2006-01-02")
	}
	if d, err := time.Parse("2006-01-02", raw); err == nil {
		return d.Format("2006-01-02")
	}
	for _, format := range dateFormats {
		if d, err := time.Parse(format, raw); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return time.Now().Format("2006-01-02")
}
