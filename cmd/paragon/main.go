package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"paragon/internal/receipt"
	"paragon/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("paragon")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "paragon.db", "Database file path")
		storagePath   = fs.StringLong("storage", "./receipts", "Receipt storage directory path")
		provider      = fs.StringLong("provider", "openai", "Extraction provider: 'openai' or 'gemini'")
		openaiBaseURL = fs.StringLong("openai-base-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
		openaiKey     = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openaiModel   = fs.StringLong("openai-model", "gpt-4o-mini", "OpenAI model name")
		timeoutMS     = fs.IntLong("timeout-ms", 20000, "Per-attempt extraction timeout in milliseconds")
		maxAttempts   = fs.IntLong("max-attempts", 3, "Extraction attempts before giving up")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("PARAGON"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize database
	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.SeedCategories(receipt.DefaultCategories); err != nil {
		slog.Error("Failed to seed categories", "error", err)
		os.Exit(1)
	}

	timeout := time.Duration(*timeoutMS) * time.Millisecond

	// Initialize extractor based on provider
	var extractor scanning.Extractor
	switch *provider {
	case "openai":
		apiKey := *openaiKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("OpenAI API key is required. Set --openai-key flag or OPENAI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing OpenAI extractor...", "model", *openaiModel, "base_url", *openaiBaseURL)
		extractor, err = scanning.NewOpenAI(scanning.ClientConfig{
			BaseURL:     *openaiBaseURL,
			APIKey:      apiKey,
			Model:       *openaiModel,
			Timeout:     timeout,
			MaxAttempts: *maxAttempts,
		})
		if err != nil {
			slog.Error("Failed to initialize OpenAI extractor", "error", err)
			os.Exit(1)
		}
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
		extractor, err = scanning.NewGemini(apiKey, *geminiModel, timeout)
		if err != nil {
			slog.Error("Failed to initialize Gemini extractor", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid extraction provider", "provider", *provider, "valid", "openai or gemini")
		os.Exit(1)
	}
	defer extractor.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	blobs, err := receipt.NewLocalBlobStore(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize pipeline
	pipeline := receipt.NewPipeline(db, db, blobs, extractor)

	// Initialize server
	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(pipeline, db, db, db, blobs, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
