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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zombor/invoicer/internal/bill"
	"github.com/zombor/invoicer/internal/logging"
	"github.com/zombor/invoicer/internal/metrics"
	"github.com/zombor/invoicer/internal/scanning"
	"github.com/zombor/invoicer/internal/server"
	"github.com/zombor/invoicer/internal/session"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// aiBackend reads bills and answers questions
type aiBackend interface {
	scanning.Scanner
	scanning.Assistant
}

// imageStore is an image store that can be emptied at startup
type imageStore interface {
	bill.ImageStore
	Purge() error
}

func main() {
	// Check version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("invoicer")
	var (
		port                 = fs.IntLong("port", 8080, "HTTP server port")
		dbPath               = fs.StringLong("db", "invoicer.db", "BoltDB image store file path")
		storagePath          = fs.StringLong("storage", "./bills", "Local image store directory")
		imageStoreType       = fs.StringLong("image-store", "bolt", "Image store: 'bolt' or 'local'")
		scannerType          = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey            = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel          = fs.StringLong("gemini-model", "gemini-2.5-flash", "Gemini model used to read bills")
		assistantModel       = fs.StringLong("assistant-model", "gemini-2.5-pro", "Gemini model used to answer questions")
		ollamaURL            = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel          = fs.StringLong("ollama-model", "llava", "Ollama vision model (e.g., llava, qwen2-vl, bakllava)")
		ollamaAssistantModel = fs.StringLong("ollama-assistant-model", "llama3.1", "Ollama model used to answer questions")
		authUser             = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass             = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		paymentDelay         = fs.DurationLong("payment-delay", 2500*time.Millisecond, "Simulated payment duration")
		extractTimeout       = fs.DurationLong("extract-timeout", 2*time.Minute, "Bill extraction timeout (0 for none)")
		askTimeout           = fs.DurationLong("ask-timeout", time.Minute, "Assistant question timeout (0 for none)")
		logLevel             = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		showVersion          = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICER"),
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

	level := *logLevel
	if env := os.Getenv("LOG_LEVEL"); env != "" && level == "info" {
		level = env
	}
	logging.Setup(os.Stderr, logging.ParseLevel(level))

	// Initialize image store
	var images imageStore
	switch *imageStoreType {
	case "bolt":
		slog.Info("Initializing image store...", "type", "bolt", "path", *dbPath)
		db, err := bill.NewBoltStorage(*dbPath)
		if err != nil {
			slog.Error("Failed to initialize image store", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		images = db
	case "local":
		slog.Info("Initializing image store...", "type", "local", "path", *storagePath)
		local, err := bill.NewLocalStorage(*storagePath)
		if err != nil {
			slog.Error("Failed to initialize image store", "error", err)
			os.Exit(1)
		}
		images = local
	default:
		slog.Error("Invalid image store type", "type", *imageStoreType, "valid", "bolt or local")
		os.Exit(1)
	}

	// Images never outlive a session, so anything left over is from a previous run
	if err := images.Purge(); err != nil {
		slog.Error("Failed to purge image store", "error", err)
		os.Exit(1)
	}

	// Initialize scanner based on type
	var (
		backend aiBackend
		err     error
	)
	switch *scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel, "assistant_model", *assistantModel)
		backend, err = scanning.NewGemini(apiKey, *geminiModel, *assistantModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel, "assistant_model", *ollamaAssistantModel)
		backend, err = scanning.NewOllama(*ollamaURL, *ollamaModel, *ollamaAssistantModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer backend.Close()

	sessions := session.NewManager(session.Deps{
		Scanner:        backend,
		Assistant:      backend,
		Images:         images,
		Metrics:        metrics.New(prometheus.DefaultRegisterer),
		PaymentDelay:   *paymentDelay,
		ExtractTimeout: *extractTimeout,
		AskTimeout:     *askTimeout,
	})

	basicAuth := server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	srv := server.NewServer(sessions, basicAuth, prometheus.DefaultGatherer)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := srv.Start(addr); err != nil {
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
