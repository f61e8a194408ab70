package receipt

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
)

// Processor runs uploaded receipts through the extraction pipeline.
type Processor interface {
	Process(ctx context.Context, userID, filePath string) (*ProcessResult, error)
}

// BasicAuth holds basic authentication credentials. The authenticated
// username doubles as the user id for consent and ownership checks.
type BasicAuth struct {
	Username string
	Password string
}

// Server exposes the receipt extraction surface over HTTP.
type Server struct {
	processor  Processor
	profiles   ProfileStore
	categories CategoryStore
	expenses   ExpenseStore
	blobs      BlobStore
	basicAuth  BasicAuth
	mux        *http.ServeMux
}

// NewServer creates a server with a default mux.
func NewServer(processor Processor, profiles ProfileStore, categories CategoryStore, expenses ExpenseStore, blobs BlobStore, basicAuth BasicAuth) *Server {
	return NewServerWithMux(processor, profiles, categories, expenses, blobs, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a server with a custom mux for testing.
func NewServerWithMux(processor Processor, profiles ProfileStore, categories CategoryStore, expenses ExpenseStore, blobs BlobStore, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		processor:  processor,
		profiles:   profiles,
		categories: categories,
		expenses:   expenses,
		blobs:      blobs,
		basicAuth:  basicAuth,
		mux:        mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials and resolves the user id. When
// auth is not configured, the request's basic username still names the user.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")

	var username, password string
	if strings.HasPrefix(auth, "Basic ") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
		if err != nil {
			return "", false
		}
		credentials := strings.SplitN(string(decoded), ":", 2)
		if len(credentials) != 2 {
			return "", false
		}
		username, password = credentials[0], credentials[1]
	}

	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		if username == "" {
			username = "local"
		}
		return username, true
	}

	if username != s.basicAuth.Username || password != s.basicAuth.Password {
		return "", false
	}
	return username, true
}

// authedHandler is a handler that requires an authenticated user.
type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

// requireAuth middleware
func (s *Server) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.authenticate(r)
		if !ok {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Paragon"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, userID)
	}
}

// corsMiddleware adds CORS headers and answers preflight requests.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /receipts/upload", s.requireAuth(s.handleUploadReceipt))
	s.mux.HandleFunc("POST /receipts/process", s.requireAuth(s.handleProcessReceipt))
	s.mux.HandleFunc("POST /expenses/batch", s.requireAuth(s.handleBatchCreateExpenses))
	s.mux.HandleFunc("GET /expenses", s.requireAuth(s.handleListExpenses))
	s.mux.HandleFunc("GET /categories", s.requireAuth(s.handleListCategories))
	s.mux.HandleFunc("PUT /profile/consent", s.requireAuth(s.handleUpdateConsent))
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(s.mux.ServeHTTP)(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux.ServeHTTP)(w, r)
}
