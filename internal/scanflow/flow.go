package scanflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"paragon/internal/category"
	"paragon/internal/receipt"
)

// State names a stage of the scan flow.
type State string

const (
	StateConsent      State = "consent"
	StateUpload       State = "upload"
	StateProcessing   State = "processing"
	StateVerification State = "verification"
	StateSaving       State = "saving"
	StateComplete     State = "complete"
	StateError        State = "error"
)

// UploadResult is the handle returned by the upload endpoint.
type UploadResult struct {
	FileID     string `json:"file_id"`
	FilePath   string `json:"file_path"`
	UploadedAt string `json:"uploaded_at"`
}

// APIError is a boundary failure carrying the server's stable error code.
type APIError struct {
	Code    string
	Message string
	Status  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// EditableExpense is one expense group promoted into the verification
// working set. IsEdited flips to true on any user change.
type EditableExpense struct {
	ID           string
	CategoryID   string
	CategoryName string
	Amount       string
	Items        []string
	ReceiptDate  string
	IsEdited     bool
}

// API is the server boundary the flow drives.
type API interface {
	Upload(ctx context.Context, filename string, data []byte, contentType string) (*UploadResult, error)
	Process(ctx context.Context, filePath string) (*receipt.ProcessResult, error)
	Categories(ctx context.Context) ([]category.Category, error)
	SaveBatch(ctx context.Context, expenses []EditableExpense) error
	UpdateConsent(ctx context.Context, consent bool) error
}

// IDGenerator generates ids for editable expenses.
type IDGenerator interface {
	Generate() string
}

type defaultIDGenerator struct{}

func (defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// Flow drives a single receipt from upload through verification to saved
// expenses. It is not safe for concurrent use; one flow serves one scan.
type Flow struct {
	api        API
	idGen      IDGenerator
	state      State
	categories []category.Category
	uploadPath string
	processed  *receipt.ProcessResult
	edited     []EditableExpense
	lastErr    error
	errCode    string
	loading    bool
	startedAt  time.Time
}

// NewFlow creates a flow. It starts in the consent state unless consent has
// already been established.
func NewFlow(api API, consentEstablished bool) *Flow {
	return NewFlowWithDeps(api, consentEstablished, defaultIDGenerator{})
}

// NewFlowWithDeps creates a flow with a custom id generator for testing.
func NewFlowWithDeps(api API, consentEstablished bool, idGen IDGenerator) *Flow {
	state := StateConsent
	if consentEstablished {
		state = StateUpload
	}
	return &Flow{api: api, idGen: idGen, state: state}
}

// State returns the current flow state.
func (f *Flow) State() State { return f.state }

// Err returns the failure that moved the flow into the error state, or the
// last save failure.
func (f *Flow) Err() error { return f.lastErr }

// ErrCode returns the stable code of the last boundary failure, if any.
func (f *Flow) ErrCode() string { return f.errCode }

// Loading reports whether a network call for the current step is
// outstanding.
func (f *Flow) Loading() bool { return f.loading }

// Expenses returns the editable working set.
func (f *Flow) Expenses() []EditableExpense { return f.edited }

// ProcessingStartedAt returns when the current pipeline run began, or the
// zero time when processing has not started. UIs derive elapsed-time
// indicators from it.
func (f *Flow) ProcessingStartedAt() time.Time { return f.startedAt }

// Processed returns the pipeline response the working set was seeded from.
func (f *Flow) Processed() *receipt.ProcessResult { return f.processed }

// fail records a failure and moves the flow into the error state.
func (f *Flow) fail(err error) error {
	f.lastErr = err
	f.errCode = ""
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		f.errCode = apiErr.Code
	}
	f.state = StateError
	return err
}

// ConfirmConsent records AI processing consent and advances to upload. A
// failure keeps the flow in the consent state.
func (f *Flow) ConfirmConsent(ctx context.Context) error {
	if f.state != StateConsent {
		return fmt.Errorf("cannot confirm consent in state %q", f.state)
	}
	f.loading = true
	defer func() { f.loading = false }()

	if err := f.api.UpdateConsent(ctx, true); err != nil {
		f.lastErr = err
		return err
	}
	f.state = StateUpload
	return nil
}

// Upload transfers the receipt file to temporary storage and advances to
// processing.
func (f *Flow) Upload(ctx context.Context, filename string, data []byte, contentType string) error {
	if f.state != StateUpload {
		return fmt.Errorf("cannot upload in state %q", f.state)
	}
	f.loading = true
	defer func() { f.loading = false }()

	result, err := f.api.Upload(ctx, filename, data, contentType)
	if err != nil {
		return f.fail(err)
	}

	f.uploadPath = result.FilePath
	f.state = StateProcessing
	return nil
}

// Process submits the uploaded file to the extraction pipeline and seeds the
// verification working set from the response.
func (f *Flow) Process(ctx context.Context) error {
	if f.state != StateProcessing {
		return fmt.Errorf("cannot process in state %q", f.state)
	}
	f.loading = true
	f.startedAt = time.Now()
	defer func() { f.loading = false }()

	result, err := f.api.Process(ctx, f.uploadPath)
	if err != nil {
		return f.fail(err)
	}

	categories, err := f.api.Categories(ctx)
	if err != nil {
		return f.fail(err)
	}

	f.processed = result
	f.categories = categories
	f.edited = make([]EditableExpense, 0, len(result.Expenses))
	for _, g := range result.Expenses {
		f.edited = append(f.edited, EditableExpense{
			ID:           f.idGen.Generate(),
			CategoryID:   g.CategoryID,
			CategoryName: g.CategoryName,
			Amount:       g.Amount,
			Items:        g.Items,
			ReceiptDate:  result.ReceiptDate,
		})
	}
	f.state = StateVerification
	return nil
}

func (f *Flow) findExpense(id string) (*EditableExpense, error) {
	if f.state != StateVerification {
		return nil, fmt.Errorf("cannot edit in state %q", f.state)
	}
	for i := range f.edited {
		if f.edited[i].ID == id {
			return &f.edited[i], nil
		}
	}
	return nil, fmt.Errorf("no expense with id %q", id)
}

// EditAmount changes an expense's amount and marks it edited.
func (f *Flow) EditAmount(id, amount string) error {
	e, err := f.findExpense(id)
	if err != nil {
		return err
	}
	e.Amount = amount
	e.IsEdited = true
	return nil
}

// EditCategory reassigns an expense to another canonical category and marks
// it edited.
func (f *Flow) EditCategory(id, categoryID string) error {
	e, err := f.findExpense(id)
	if err != nil {
		return err
	}
	for _, c := range f.categories {
		if c.ID == categoryID {
			e.CategoryID = c.ID
			e.CategoryName = c.Name
			e.IsEdited = true
			return nil
		}
	}
	return fmt.Errorf("no canonical category with id %q", categoryID)
}

// EditReceiptDate changes an expense's receipt date and marks it edited.
func (f *Flow) EditReceiptDate(id, date string) error {
	e, err := f.findExpense(id)
	if err != nil {
		return err
	}
	e.ReceiptDate = date
	e.IsEdited = true
	return nil
}

// RemoveExpense drops an expense from the working set.
func (f *Flow) RemoveExpense(id string) error {
	if _, err := f.findExpense(id); err != nil {
		return err
	}
	kept := f.edited[:0]
	for _, e := range f.edited {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	f.edited = kept
	return nil
}

// Valid reports whether the working set can be saved: at least one expense,
// every amount positive, every category canonical.
func (f *Flow) Valid() bool {
	if len(f.edited) == 0 {
		return false
	}
	known := make(map[string]bool, len(f.categories))
	for _, c := range f.categories {
		known[c.ID] = true
	}
	for _, e := range f.edited {
		amount, err := strconv.ParseFloat(e.Amount, 64)
		if err != nil || amount <= 0 {
			return false
		}
		if !known[e.CategoryID] {
			return false
		}
	}
	return true
}

// Save persists the working set as one batch. A failure returns the flow to
// verification with every edit intact.
func (f *Flow) Save(ctx context.Context) error {
	if f.state != StateVerification {
		return fmt.Errorf("cannot save in state %q", f.state)
	}
	if !f.Valid() {
		return errors.New("working set is not valid for saving")
	}

	f.state = StateSaving
	f.loading = true
	defer func() { f.loading = false }()

	if err := f.api.SaveBatch(ctx, f.edited); err != nil {
		f.state = StateVerification
		f.lastErr = err
		f.errCode = ""
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			f.errCode = apiErr.Code
		}
		return err
	}

	f.state = StateComplete
	return nil
}

// Retry resumes a failed flow: upload and processing failures return to
// upload rather than restarting from scratch.
func (f *Flow) Retry() error {
	if f.state != StateError {
		return fmt.Errorf("cannot retry in state %q", f.state)
	}
	f.lastErr = nil
	f.errCode = ""
	f.uploadPath = ""
	f.startedAt = time.Time{}
	f.state = StateUpload
	return nil
}

// CanContinueManually reports whether the UI should offer manual entry
// instead of retry; only consent failures qualify.
func (f *Flow) CanContinueManually() bool {
	return f.state == StateError && f.errCode == receipt.CodeConsentRequired
}

// Reset abandons the flow and returns it to its initial state.
func (f *Flow) Reset(consentEstablished bool) {
	state := StateConsent
	if consentEstablished {
		state = StateUpload
	}
	*f = Flow{api: f.api, idGen: f.idGen, state: state}
}
