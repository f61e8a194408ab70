package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxUploadSize caps receipt uploads; high-resolution phone photos need the
// headroom.
const maxUploadSize = int64(50 << 20) // 50MB

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// writePipelineError maps a coded pipeline failure to its boundary status.
func writePipelineError(w http.ResponseWriter, err error) {
	var perr *Error
	if errors.As(err, &perr) {
		writeError(w, HTTPStatus(perr.Code), perr.Code, perr.Msg)
		return
	}
	writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUploadReceipt stores an uploaded receipt file and returns its handle.
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request, userID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		message := "Error parsing form"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) || err.Error() == "http: request body too large" {
			message = "File is too large. Maximum size is 50MB."
		}
		writeError(w, http.StatusBadRequest, CodeValidation, message)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeError(w, http.StatusBadRequest, CodeValidation, "No file provided")
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		writeError(w, http.StatusBadRequest, CodeValidation, "File is too large. Maximum size is 50MB.")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Error reading file")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic", ".heif":
			contentType = "image/heic"
		default:
			contentType = "application/octet-stream"
		}
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	path := NewObjectPath(userID, contentType)
	savedPath, err := s.blobs.Put(path, data, contentType)
	if err != nil {
		slog.Error("Error storing receipt file", "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Error storing file")
		return
	}

	fileID := strings.TrimSuffix(filepath.Base(savedPath), filepath.Ext(savedPath))
	writeJSON(w, http.StatusCreated, map[string]string{
		"file_id":     fileID,
		"file_path":   savedPath,
		"uploaded_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleProcessReceipt runs a stored receipt through the extraction pipeline.
func (s *Server) handleProcessReceipt(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		FilePath string `json:"file_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "Invalid request body")
		return
	}
	if req.FilePath == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "file_path is required")
		return
	}

	result, err := s.processor.Process(r.Context(), userID, req.FilePath)
	if err != nil {
		slog.Error("Error processing receipt", "user_id", userID, "file_path", req.FilePath, "error", err)
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// batchExpense is one expense in a batch-create request.
type batchExpense struct {
	CategoryID   string   `json:"category_id"`
	CategoryName string   `json:"category_name"`
	Amount       string   `json:"amount"`
	Items        []string `json:"items"`
	ReceiptDate  string   `json:"receipt_date"`
}

// handleBatchCreateExpenses persists a verified batch of expenses.
func (s *Server) handleBatchCreateExpenses(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Expenses []batchExpense `json:"expenses"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "Invalid request body")
		return
	}
	if len(req.Expenses) == 0 {
		writeError(w, http.StatusBadRequest, CodeValidation, "At least one expense is required")
		return
	}

	categories, err := s.categories.ListCategories()
	if err != nil {
		slog.Error("Error listing categories", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Error listing categories")
		return
	}
	known := make(map[string]bool, len(categories))
	for _, c := range categories {
		known[c.ID] = true
	}

	now := time.Now().UTC()
	expenses := make([]*Expense, 0, len(req.Expenses))
	for _, e := range req.Expenses {
		amount, err := strconv.ParseFloat(e.Amount, 64)
		if err != nil || amount <= 0 {
			writeError(w, http.StatusBadRequest, CodeValidation, "Every expense needs a positive amount")
			return
		}
		if !known[e.CategoryID] {
			writeError(w, http.StatusBadRequest, CodeValidation, "Unknown category: "+e.CategoryID)
			return
		}
		expenses = append(expenses, &Expense{
			ID:           uuid.NewString(),
			UserID:       userID,
			CategoryID:   e.CategoryID,
			CategoryName: e.CategoryName,
			Amount:       e.Amount,
			Items:        e.Items,
			ReceiptDate:  e.ReceiptDate,
			CreatedAt:    now,
		})
	}

	if err := s.expenses.SaveExpenses(expenses); err != nil {
		slog.Error("Error saving expenses", "user_id", userID, "count", len(expenses), "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Error saving expenses")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"expenses": expenses})
}

// handleListExpenses returns the authenticated user's expenses.
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request, userID string) {
	expenses, err := s.expenses.ListExpenses(userID)
	if err != nil {
		slog.Error("Error listing expenses", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Error listing expenses")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expenses": expenses})
}

// handleListCategories returns the canonical category list.
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request, _ string) {
	categories, err := s.categories.ListCategories()
	if err != nil {
		slog.Error("Error listing categories", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Error listing categories")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

// handleUpdateConsent records the user's AI processing consent.
func (s *Server) handleUpdateConsent(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		AIConsent bool `json:"ai_consent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "Invalid request body")
		return
	}

	if err := s.profiles.SetConsent(userID, req.AIConsent); err != nil {
		slog.Error("Error updating consent", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Error updating consent")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ai_consent": req.AIConsent})
}
