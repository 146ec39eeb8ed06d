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

	"github.com/curatrack/curatrack/internal/capture"
	"github.com/curatrack/curatrack/internal/item"
	"github.com/curatrack/curatrack/internal/ocr"
	"github.com/curatrack/curatrack/internal/prefs"
	"github.com/curatrack/curatrack/internal/reminder"
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

	fs := ff.NewFlagSet("curatrack")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "curatrack.db", "Database file path")
		storagePath    = fs.StringLong("storage", "./scans", "Scan image storage directory")
		prefsPath      = fs.StringLong("prefs", "curatrack.yml", "Preferences file path")
		recognizerType = fs.StringLong("recognizer", "gemini", "Recognizer type: 'gemini' or 'ollama'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		retryAttempts  = fs.IntLong("retry-attempts", 5, "Maximum delivery attempts per reminder")
		retryDelay     = fs.DurationLong("retry-delay", 30*time.Second, "Base delay between delivery retries")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("CURATRACK"),
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

	// Load preferences
	preferences, err := prefs.Load(*prefsPath)
	if err != nil {
		slog.Error("Failed to load preferences", "path", *prefsPath, "error", err)
		os.Exit(1)
	}
	slog.Info("Preferences loaded",
		"date_order", preferences.DateOrder,
		"lead_days", preferences.LeadDays,
		"upcoming_days", preferences.UpcomingDays,
	)

	// Initialize database
	slog.Info("Initializing database...")
	db, err := item.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize recognizer based on type
	var recognizer ocr.Recognizer
	switch *recognizerType {
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
		slog.Info("Initializing Gemini recognizer...", "model", *geminiModel)
		recognizer, err = ocr.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama recognizer...", "url", *ollamaURL, "model", *ollamaModel)
		recognizer, err = ocr.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid recognizer type", "type", *recognizerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer recognizer.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := capture.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize the reminder pipeline. The runner is the work queue the
	// scheduler registers with, and the executor handles its fires.
	runner := reminder.NewRunner(*retryAttempts, *retryDelay)
	defer runner.Stop()
	scheduler := reminder.NewScheduler(db, runner)
	executor := reminder.NewExecutor(db, scheduler, &reminder.LogNotifier{})
	runner.Bind(executor)

	// Re-register pending reminders lost to the last shutdown
	if err := runner.Rehydrate(db, scheduler); err != nil {
		slog.Error("Failed to rehydrate reminders", "error", err)
		os.Exit(1)
	}

	// Initialize service
	captureService := capture.NewService(db, recognizer, store, scheduler, preferences)

	// Initialize server
	basicAuth := capture.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := capture.NewServer(captureService, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
