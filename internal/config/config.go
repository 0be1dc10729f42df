// Package config centralizes environment-backed settings for the solar analyst service.
//
// All settings can be overridden via environment variables with the SOLAR_ prefix,
// e.g. SOLAR_DATABASE_URL or SOLAR_OPENAI_MODEL. Command-line flags in cmd/analyst
// take precedence over the environment.
package config

import (
	"github.com/solarlytics/analyst/internal/util"
)

// Settings holds the runtime configuration for the service.
type Settings struct {
	// HTTP API
	APIAddr string

	// Session store. Driver is one of "memory", "sqlite3", or "postgres".
	DBDriver string
	DBDSN    string

	// Classifier / chat model
	OpenAIKey   string
	OpenAIModel string

	// Tool-execution service (analysis operations RPC)
	ToolServiceURL string

	// Financial defaults
	DefaultElectricityRate float64

	// Orchestration limits
	MaxRecoveryAttempts int
	ChatHistoryWindow   int
	DefaultRangeDays    int

	// Feature flag: when false the orchestrator skips the explicit workflow
	// machinery and answers every turn through the free-form loop.
	WorkflowsEnabled bool
}

// Load reads settings from the environment, applying defaults for anything unset.
func Load() Settings {
	return Settings{
		APIAddr:                util.GetEnv("SOLAR_API_ADDR", ":8090"),
		DBDriver:               util.GetEnv("SOLAR_DB_DRIVER", "memory"),
		DBDSN:                  util.GetEnv("SOLAR_DB_DSN", ""),
		OpenAIKey:              util.GetEnv("OPENAI_API_KEY", ""),
		OpenAIModel:            util.GetEnv("SOLAR_OPENAI_MODEL", "gpt-4o-mini"),
		ToolServiceURL:         util.GetEnv("SOLAR_TOOL_SERVICE_URL", "http://localhost:4000"),
		DefaultElectricityRate: util.ParseFloatEnv("SOLAR_ELECTRICITY_RATE", 0.20),
		MaxRecoveryAttempts:    util.ParseIntEnv("SOLAR_MAX_RECOVERY_ATTEMPTS", 3),
		ChatHistoryWindow:      util.ParseIntEnv("SOLAR_CHAT_HISTORY_WINDOW", 6),
		DefaultRangeDays:       util.ParseIntEnv("SOLAR_DEFAULT_RANGE_DAYS", 7),
		WorkflowsEnabled:       util.ParseBoolEnv("SOLAR_WORKFLOWS_ENABLED", true),
	}
}
