/*
Package core is the reference host of the meta-agent: configuration, logging,
the session store and the HTTP API that drives sessions.

This file handles:
- Loading configuration from environment variables with sensible defaults
- Structured logging setup with configurable levels
- LLM provider, connector and tracing parameters

Environment variables win over the defaults so the same binary runs unchanged
in development and in containers.
*/
package core

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"metaagent/lmbridge"
)

// Config holds all configurable values of the agent host.
type Config struct {
	// Server configuration
	Port string // HTTP server port number (default: "8080")

	// LLM provider configuration
	LLMProvider    lmbridge.BackendKind // openai, claude, gemini or ollama (default: "openai")
	LLMModel       string               // Model name; the provider's default when empty
	LLMAPIKey      string               // Provider API key
	LLMBaseURL     string               // Optional provider base URL override
	OllamaEndpoint string               // Base URL of the Ollama API (default: "http://localhost:11434")
	RequestTimeout time.Duration        // Upper bound for one session launch (default: 0, unbounded)
	CostLog        bool                 // Log token usage and model latency of every completion (default: false)

	// Session store configuration
	SessionMaxAge         time.Duration // How long an ended session is kept (default: 24h)
	CleanupInterval       time.Duration // How often expired sessions are removed (default: 1h)
	MaxConcurrentSessions int           // Running sessions allowed at once (default: 100)

	// Connector configuration
	ConnectorsFile   string        // JSON file with the connector catalog (optional)
	ConnectorBaseURL string        // Base URL connectors without a builtin are sent to (optional)
	ConnectorTimeout time.Duration // Timeout of one connector HTTP call (default: 30s)

	// Logging configuration
	LogLevel          string // Minimum log level: debug, info, warn, error (default: "info")
	LogTruncateLength int    // Maximum length of logged message bodies (default: 500)

	// Tracing configuration
	OTelEnabled     bool   // Export spans over OTLP (default: false)
	OTelEndpoint    string // OTLP gRPC collector endpoint (default: "localhost:4317")
	OTelServiceName string // Service name on exported spans (default: "metaagent")
}

// LoadConfig loads configuration from environment variables with sensible defaults.
// Malformed numbers and unknown providers are ignored and the default is kept.
//
// Environment Variables:
//   - PORT: Server port (string)
//   - LLM_PROVIDER: openai, claude, gemini or ollama (string)
//   - LLM_MODEL: Model name (string)
//   - LLM_API_KEY: Provider API key (string)
//   - LLM_BASE_URL: Provider base URL (string)
//   - OLLAMA_ENDPOINT: Ollama API endpoint URL (string)
//   - REQUEST_TIMEOUT: Launch timeout in seconds (integer)
//   - COST_LOG: Enable usage logging (boolean: "true"/"1")
//   - SESSION_MAX_AGE_HOURS: Session expiry in hours (integer)
//   - CLEANUP_INTERVAL_MINUTES: Cleanup frequency in minutes (integer)
//   - MAX_CONCURRENT_SESSIONS: Running session limit (integer)
//   - CONNECTORS_FILE: Connector catalog path (string)
//   - CONNECTOR_BASE_URL: Connector HTTP base URL (string)
//   - CONNECTOR_TIMEOUT: Connector call timeout in seconds (integer)
//   - LOG_LEVEL: Logging level (string)
//   - LOG_TRUNCATE_LENGTH: Log truncation length (integer)
//   - OTEL_ENABLED: Enable tracing export (boolean: "true"/"1")
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP collector endpoint (string)
//   - OTEL_SERVICE_NAME: Service name (string)
func LoadConfig() *Config {
	config := &Config{
		Port: "8080",

		LLMProvider:    lmbridge.KindOpenAI,
		OllamaEndpoint: "http://localhost:11434",

		SessionMaxAge:         24 * time.Hour,
		CleanupInterval:       1 * time.Hour,
		MaxConcurrentSessions: 100,

		ConnectorTimeout: 30 * time.Second,

		LogLevel:          "info",
		LogTruncateLength: 500,

		OTelEndpoint:    "localhost:4317",
		OTelServiceName: "metaagent",
	}

	if port := os.Getenv("PORT"); port != "" {
		config.Port = port
	}

	// LLM provider configuration
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		if kind, err := lmbridge.ParseBackendKind(provider); err == nil {
			config.LLMProvider = kind
		}
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		config.LLMModel = model
	}
	if apiKey := os.Getenv("LLM_API_KEY"); apiKey != "" {
		config.LLMAPIKey = apiKey
	}
	if baseURL := os.Getenv("LLM_BASE_URL"); baseURL != "" {
		config.LLMBaseURL = baseURL
	}
	if endpoint := os.Getenv("OLLAMA_ENDPOINT"); endpoint != "" {
		config.OllamaEndpoint = endpoint
	}
	if timeout := os.Getenv("REQUEST_TIMEOUT"); timeout != "" {
		if val, err := strconv.Atoi(timeout); err == nil && val > 0 {
			config.RequestTimeout = time.Duration(val) * time.Second
		}
	}
	if costLog := os.Getenv("COST_LOG"); costLog != "" {
		config.CostLog = parseBool(costLog)
	}

	// Session store configuration
	if sessionMaxAge := os.Getenv("SESSION_MAX_AGE_HOURS"); sessionMaxAge != "" {
		if val, err := strconv.Atoi(sessionMaxAge); err == nil && val > 0 {
			config.SessionMaxAge = time.Duration(val) * time.Hour
		}
	}
	if cleanupInterval := os.Getenv("CLEANUP_INTERVAL_MINUTES"); cleanupInterval != "" {
		if val, err := strconv.Atoi(cleanupInterval); err == nil && val > 0 {
			config.CleanupInterval = time.Duration(val) * time.Minute
		}
	}
	if maxSessions := os.Getenv("MAX_CONCURRENT_SESSIONS"); maxSessions != "" {
		if val, err := strconv.Atoi(maxSessions); err == nil && val > 0 {
			config.MaxConcurrentSessions = val
		}
	}

	// Connector configuration
	if file := os.Getenv("CONNECTORS_FILE"); file != "" {
		config.ConnectorsFile = file
	}
	if baseURL := os.Getenv("CONNECTOR_BASE_URL"); baseURL != "" {
		config.ConnectorBaseURL = baseURL
	}
	if timeout := os.Getenv("CONNECTOR_TIMEOUT"); timeout != "" {
		if val, err := strconv.Atoi(timeout); err == nil && val > 0 {
			config.ConnectorTimeout = time.Duration(val) * time.Second
		}
	}

	// Logging configuration
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
	if truncateLen := os.Getenv("LOG_TRUNCATE_LENGTH"); truncateLen != "" {
		if val, err := strconv.Atoi(truncateLen); err == nil && val > 0 {
			config.LogTruncateLength = val
		}
	}

	// Tracing configuration
	if enabled := os.Getenv("OTEL_ENABLED"); enabled != "" {
		config.OTelEnabled = parseBool(enabled)
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		config.OTelEndpoint = endpoint
	}
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		config.OTelServiceName = name
	}

	return config
}

func parseBool(s string) bool {
	return strings.ToLower(s) == "true" || s == "1"
}

// Connection returns the provider connection sessions use unless a request
// overrides the backend or the model.
func (c *Config) Connection() lmbridge.Connection {
	conn := lmbridge.Connection{
		Kind:    c.LLMProvider,
		Model:   c.LLMModel,
		APIKey:  c.LLMAPIKey,
		BaseURL: c.LLMBaseURL,
	}
	if conn.Kind == lmbridge.KindOllama && conn.BaseURL == "" {
		conn.BaseURL = c.OllamaEndpoint
	}
	return conn
}

// InitializeLogger configures and returns a structured logger based on the provided configuration.
// The logger writes JSON with RFC3339 timestamps to stdout.
//
// Parameters:
//   - config: Configuration object containing logging preferences
//
// Returns:
//   - *logrus.Logger: Configured logger instance ready for use
func InitializeLogger(config *Config) *logrus.Logger {
	logger := logrus.New()

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch strings.ToLower(config.LogLevel) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	logger.SetOutput(os.Stdout)

	logger.WithFields(logrus.Fields{
		"llmProvider":           config.LLMProvider,
		"llmModel":              config.Connection().ModelName(),
		"requestTimeout":        config.RequestTimeout,
		"costLog":               config.CostLog,
		"sessionMaxAge":         config.SessionMaxAge,
		"cleanupInterval":       config.CleanupInterval,
		"maxConcurrentSessions": config.MaxConcurrentSessions,
		"connectorsFile":        config.ConnectorsFile,
		"connectorBaseURL":      config.ConnectorBaseURL,
		"connectorTimeout":      config.ConnectorTimeout,
		"logTruncateLength":     config.LogTruncateLength,
		"otelEnabled":           config.OTelEnabled,
	}).Info("Configuration loaded")

	return logger
}
