package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout    = 20 * time.Second
	defaultAttempts   = 3
	defaultRetryDelay = 1000 * time.Millisecond
)

// Sleeper pauses between retry attempts. Injectable so retry timing is
// testable without wall-clock delays.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type defaultSleeper struct{}

func (defaultSleeper) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ClientConfig configures a chat completions client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration // per-attempt bound, default 20s
	MaxAttempts int           // default 3
	RetryDelay  time.Duration // backoff base, default 1s
}

// Client calls an OpenAI-compatible chat completions API with structured
// output, a per-attempt timeout and retry with exponential backoff.
type Client struct {
	httpClient *http.Client
	sleeper    Sleeper
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	attempts   int
	retryDelay time.Duration
}

// NewClient creates a chat completions client. A missing credential fails
// immediately; no network call is ever attempted without one.
func NewClient(cfg ClientConfig) (*Client, error) {
	return NewClientWithDeps(cfg, nil, nil)
}

// NewClientWithDeps creates a client with a custom HTTP client and sleeper
// for testing.
func NewClientWithDeps(cfg ClientConfig, httpClient *http.Client, sleeper Sleeper) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, &Error{Kind: KindValidation, Msg: "api key is required"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if sleeper == nil {
		sleeper = defaultSleeper{}
	}

	return &Client{
		httpClient: httpClient,
		sleeper:    sleeper,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		attempts:   cfg.MaxAttempts,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// ResponseSchema names the strict JSON schema the model must conform to.
type ResponseSchema struct {
	Name   string
	Schema map[string]any
}

// CompletionRequest is one structured-output exchange.
type CompletionRequest struct {
	SystemMessage string
	UserMessage   string
	Schema        ResponseSchema
	Model         string   // overrides the client default when set
	Temperature   *float64 // only sent when set
	MaxTokens     *int
	TopP          *float64
}

// Usage reports provider token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResult carries the parsed structured payload. Data is the raw
// JSON document the model produced under the declared schema.
type CompletionResult struct {
	Data  json.RawMessage
	Model string
	Usage Usage
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatJSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type chatResponseFormat struct {
	Type       string         `json:"type"`
	JSONSchema chatJSONSchema `json:"json_schema"`
}

type chatRequest struct {
	Model          string             `json:"model"`
	Messages       []chatMessage      `json:"messages"`
	ResponseFormat chatResponseFormat `json:"response_format"`
	Temperature    *float64           `json:"temperature,omitempty"`
	MaxTokens      *int               `json:"max_tokens,omitempty"`
	TopP           *float64           `json:"top_p,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// Complete executes one structured-output exchange, retrying network, rate
// limit and generic API failures with exponential backoff. Authentication,
// validation and timeout failures surface after a single attempt; the last
// attempt's error is the one returned when all attempts fail.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemMessage},
			{Role: "user", Content: req.UserMessage},
		},
		ResponseFormat: chatResponseFormat{
			Type: "json_schema",
			JSONSchema: chatJSONSchema{
				Name:   req.Schema.Name,
				Strict: true,
				Schema: req.Schema.Schema,
			},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	})
	if err != nil {
		return nil, &Error{Kind: KindValidation, Msg: "marshaling request", Err: err}
	}

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		result, err := c.do(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var perr *Error
		if !errors.As(err, &perr) || !perr.Retryable() {
			return nil, err
		}
		if attempt == c.attempts-1 {
			break
		}

		delay := c.retryDelay * (1 << attempt)
		slog.Warn("Model call failed, retrying",
			"attempt", attempt+1,
			"max_attempts", c.attempts,
			"delay", delay,
			"error", err,
		)
		if sleepErr := c.sleeper.Sleep(ctx, delay); sleepErr != nil {
			return nil, lastErr
		}
	}

	return nil, lastErr
}

// do issues a single attempt bounded by the configured timeout.
func (c *Client) do(ctx context.Context, body []byte) (*CompletionResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindValidation, Msg: "creating request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, Msg: fmt.Sprintf("attempt exceeded %s", c.timeout), Err: err}
		}
		return nil, &Error{Kind: KindNetwork, Msg: "calling provider", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Msg: "reading response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyStatus(resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Error{Kind: KindValidation, Msg: "decoding response", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &Error{Kind: KindValidation, Msg: "no completion choices returned"}
	}

	content := stripMarkdownFence(parsed.Choices[0].Message.Content)
	if !json.Valid([]byte(content)) {
		return nil, &Error{Kind: KindValidation, Msg: "structured payload is not valid JSON"}
	}

	return &CompletionResult{
		Data:  json.RawMessage(content),
		Model: parsed.Model,
		Usage: parsed.Usage,
	}, nil
}
