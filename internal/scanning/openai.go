package scanning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// OpenAI implements the Extractor interface over an OpenAI-compatible chat
// completions API with structured output.
type OpenAI struct {
	client *Client
}

// NewOpenAI creates an OpenAI-backed extractor.
func NewOpenAI(cfg ClientConfig) (*OpenAI, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &OpenAI{client: client}, nil
}

// NewOpenAIWithClient wraps an existing client, for testing.
func NewOpenAIWithClient(client *Client) *OpenAI {
	return &OpenAI{client: client}
}

// Extract analyzes a receipt and extracts its line items.
func (o *OpenAI) Extract(ctx context.Context, imageData []byte, contentType string) (*Extraction, error) {
	pngData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Msg: "preparing receipt image", Err: err}
	}

	userMessage := fmt.Sprintf("%s\n\nReceipt image (base64-encoded PNG):\n%s",
		receiptExtractionPrompt,
		base64.StdEncoding.EncodeToString(pngData),
	)

	result, err := o.client.Complete(ctx, CompletionRequest{
		SystemMessage: extractionSystemPrompt,
		UserMessage:   userMessage,
		Schema: ResponseSchema{
			Name:   "receipt_extraction",
			Schema: extractionSchema(),
		},
	})
	if err != nil {
		return nil, err
	}

	var data Extraction
	if err := json.Unmarshal(result.Data, &data); err != nil {
		return nil, &Error{Kind: KindValidation, Msg: "unmarshaling extraction", Err: err}
	}

	normalizeExtraction(&data)
	return &data, nil
}

// Close releases resources (no-op for the HTTP client).
func (o *OpenAI) Close() error {
	return nil
}
