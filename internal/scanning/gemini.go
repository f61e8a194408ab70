package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Extractor interface using Google Gemini.
type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewGemini creates a Gemini-backed extractor.
func NewGemini(apiKey string, modelName string, timeout time.Duration) (*Gemini, error) {
	if apiKey == "" {
		return nil, &Error{Kind: KindValidation, Msg: "gemini api key is required"}
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:  client,
		model:   client.GenerativeModel(modelName),
		timeout: timeout,
	}, nil
}

// Extract analyzes a receipt and extracts its line items.
func (g *Gemini) Extract(ctx context.Context, imageData []byte, contentType string) (*Extraction, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	pngData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Msg: "preparing receipt image", Err: err}
	}

	parts := []genai.Part{
		genai.ImageData("png", pngData),
		genai.Text(receiptExtractionPrompt),
	}

	resp, err := g.model.GenerateContent(callCtx, parts...)
	if err != nil {
		return nil, classifyGeminiError(err, callCtx)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &Error{Kind: KindValidation, Msg: "no response from gemini"}
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	data, err := parseExtractionJSON(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("parsing extraction: %w", err)
	}
	return data, nil
}

// classifyGeminiError maps SDK failures onto the provider error taxonomy.
func classifyGeminiError(err error, callCtx context.Context) *Error {
	if callCtx.Err() == context.DeadlineExceeded {
		return &Error{Kind: KindTimeout, Msg: "gemini call timed out", Err: err}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return &Error{Kind: KindRateLimit, Msg: "gemini rate limited", Err: err}
	case strings.Contains(msg, "api key") || strings.Contains(msg, "unauthenticated") || strings.Contains(msg, "permission"):
		return &Error{Kind: KindAuthentication, Msg: "gemini authentication failed", Err: err}
	default:
		return &Error{Kind: KindAPI, Msg: "generating content", Err: err}
	}
}

// Close closes the underlying Gemini client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
