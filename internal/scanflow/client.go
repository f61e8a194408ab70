package scanflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"paragon/internal/category"
	"paragon/internal/receipt"
)

// Client implements the API boundary over HTTP against the paragon server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
}

// NewClient creates an HTTP client for the given server.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		username:   username,
		password:   password,
	}
}

func (c *Client) do(ctx context.Context, method, path string, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling server: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// decodeAPIError turns a non-2xx response into an APIError, keeping the
// server's stable code when the body carries one.
func decodeAPIError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Code == "" {
		return &APIError{
			Code:    receipt.CodeInternal,
			Message: string(body),
			Status:  status,
		}
	}
	return &APIError{
		Code:    payload.Code,
		Message: payload.Error,
		Status:  status,
	}
}

// Upload transfers a receipt file to the server.
func (c *Client) Upload(ctx context.Context, filename string, data []byte, contentType string) (*UploadResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("writing form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	var result UploadResult
	if err := c.do(ctx, http.MethodPost, "/receipts/upload", writer.FormDataContentType(), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Process runs a stored receipt through the extraction pipeline.
func (c *Client) Process(ctx context.Context, filePath string) (*receipt.ProcessResult, error) {
	body, err := json.Marshal(map[string]string{"file_path": filePath})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	var result receipt.ProcessResult
	if err := c.do(ctx, http.MethodPost, "/receipts/process", "application/json", bytes.NewReader(body), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Categories fetches the canonical category list.
func (c *Client) Categories(ctx context.Context) ([]category.Category, error) {
	var result struct {
		Categories []category.Category `json:"categories"`
	}
	if err := c.do(ctx, http.MethodGet, "/categories", "", nil, &result); err != nil {
		return nil, err
	}
	return result.Categories, nil
}

// SaveBatch persists the verified expenses in one batch-create call.
func (c *Client) SaveBatch(ctx context.Context, expenses []EditableExpense) error {
	type wireExpense struct {
		CategoryID   string   `json:"category_id"`
		CategoryName string   `json:"category_name"`
		Amount       string   `json:"amount"`
		Items        []string `json:"items"`
		ReceiptDate  string   `json:"receipt_date"`
	}

	wire := make([]wireExpense, 0, len(expenses))
	for _, e := range expenses {
		wire = append(wire, wireExpense{
			CategoryID:   e.CategoryID,
			CategoryName: e.CategoryName,
			Amount:       e.Amount,
			Items:        e.Items,
			ReceiptDate:  e.ReceiptDate,
		})
	}

	body, err := json.Marshal(map[string]any{"expenses": wire})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/expenses/batch", "application/json", bytes.NewReader(body), nil)
}

// UpdateConsent records the user's AI processing consent.
func (c *Client) UpdateConsent(ctx context.Context, consent bool) error {
	body, err := json.Marshal(map[string]bool{"ai_consent": consent})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	return c.do(ctx, http.MethodPut, "/profile/consent", "application/json", bytes.NewReader(body), nil)
}
