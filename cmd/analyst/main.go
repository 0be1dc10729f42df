// Command analyst runs the solar-fleet conversation orchestrator: an HTTP
// chat API that routes user turns into analysis workflows backed by a tool
// execution service and an OpenAI model.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/solarlytics/analyst/internal/api"
	"github.com/solarlytics/analyst/internal/config"
	"github.com/solarlytics/analyst/internal/flow"
	"github.com/solarlytics/analyst/internal/genai"
	"github.com/solarlytics/analyst/internal/store"
	"github.com/solarlytics/analyst/internal/tools"
)

func main() {
	initializeLogger()

	cfg := loadConfiguration()

	if cfg.OpenAIKey == "" {
		slog.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}

	sessions, err := store.New(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		slog.Error("Failed to open session store", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	defer sessions.Close()

	genaiClient := genai.NewClientWithConfig(cfg.OpenAIKey, cfg.OpenAIModel)
	executor := tools.NewClient(cfg.ToolServiceURL)
	engine := flow.NewEngine(cfg, genaiClient, executor, sessions)

	slog.Info("Bootstrapping solar analyst",
		"apiAddr", cfg.APIAddr, "storeDriver", cfg.DBDriver, "model", cfg.OpenAIModel,
		"toolService", cfg.ToolServiceURL, "workflowsEnabled", cfg.WorkflowsEnabled)

	server := api.NewServer(cfg.APIAddr, engine)
	if err := server.Run(); err != nil {
		slog.Error("Solar analyst failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Solar analyst exited successfully")
}

// initializeLogger sets up structured logging with debug level.
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadConfiguration loads .env then the environment-backed settings, with
// command-line flags taking precedence over both.
func loadConfiguration() config.Settings {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	cfg := config.Load()

	apiAddr := flag.String("api-addr", cfg.APIAddr, "address for the HTTP API to listen on")
	dbDriver := flag.String("db-driver", cfg.DBDriver, "session store driver: memory, sqlite3, or postgres")
	dbDSN := flag.String("db-dsn", cfg.DBDSN, "session store DSN (file path for sqlite3, URL for postgres)")
	openaiKey := flag.String("openai-api-key", cfg.OpenAIKey, "OpenAI API key")
	openaiModel := flag.String("openai-model", cfg.OpenAIModel, "OpenAI chat model")
	toolServiceURL := flag.String("tool-service-url", cfg.ToolServiceURL, "base URL of the analysis tool service")
	flag.Parse()

	cfg.APIAddr = *apiAddr
	cfg.DBDriver = *dbDriver
	cfg.DBDSN = *dbDSN
	cfg.OpenAIKey = *openaiKey
	cfg.OpenAIModel = *openaiModel
	cfg.ToolServiceURL = *toolServiceURL
	return cfg
}
