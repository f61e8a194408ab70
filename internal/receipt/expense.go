package receipt

import (
	"time"

	"paragon/internal/category"
)

// Currency is the fixed settlement currency for extracted expenses.
const Currency = "PLN"

// ProcessResult is the terminal payload of a successful pipeline run.
type ProcessResult struct {
	Expenses       []category.ExpenseGroup `json:"expenses"`
	TotalAmount    string                  `json:"total_amount"`
	Currency       string                  `json:"currency"`
	ReceiptDate    string                  `json:"receipt_date"`
	ProcessingTime int64                   `json:"processing_time_ms"`
}

// Expense is one persisted expense record.
type Expense struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	CategoryID   string    `json:"category_id"`
	CategoryName string    `json:"category_name"`
	Amount       string    `json:"amount"`
	Items        []string  `json:"items"`
	ReceiptDate  string    `json:"receipt_date"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile holds the per-user settings this service reads and writes.
type Profile struct {
	UserID    string    `json:"user_id"`
	AIConsent bool      `json:"ai_consent"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileStore reads and writes user profiles.
type ProfileStore interface {
	// GetConsent reports whether the user has consented to AI processing.
	GetConsent(userID string) (bool, error)

	// SetConsent records the user's AI processing consent.
	SetConsent(userID string, consent bool) error
}

// CategoryStore lists the canonical expense categories.
type CategoryStore interface {
	ListCategories() ([]category.Category, error)
}

// ExpenseStore persists expense records.
type ExpenseStore interface {
	// SaveExpenses persists a batch of expenses atomically.
	SaveExpenses(expenses []*Expense) error

	// ListExpenses returns all expenses for a user.
	ListExpenses(userID string) ([]*Expense, error)
}

// BlobStore stores uploaded receipt files under
// receipts/{userId}/{uuid}.{ext} paths.
type BlobStore interface {
	// Put saves an object and returns its path. Existing objects are never
	// overwritten.
	Put(path string, data []byte, contentType string) (string, error)

	// Get retrieves an object and its content type.
	Get(path string) ([]byte, string, error)

	// Delete removes an object.
	Delete(path string) error
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}
