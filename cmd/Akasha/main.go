package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/Akasha/internal/api"
	"github.com/BTreeMap/Akasha/internal/genai"
	"github.com/BTreeMap/Akasha/internal/gowa"
	"github.com/BTreeMap/Akasha/internal/lockfile"
	"github.com/BTreeMap/Akasha/internal/store"
	"github.com/BTreeMap/Akasha/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Akasha state data
	DefaultStateDir = "/var/lib/akasha"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "akasha.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Guard the state directory against concurrent instances
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	// Build module options
	gowaOpts := buildGowaOptions(config, flags)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(config, flags)
	apiOpts := buildAPIOptions(config, flags)

	// Start the service
	slog.Info("Bootstrapping Akasha with configured modules")
	slog.Debug("Module options counts", "gowa", len(gowaOpts), "store", len(storeOpts), "genai", len(genaiOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := api.Run(gowaOpts, storeOpts, genaiOpts, apiOpts); err != nil {
		slog.Error("Akasha failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("Akasha exited successfully")
}

// Config holds environment configuration
type Config struct {
	GowaBaseURL     string
	GowaUsername    string
	GowaPassword    string
	WebhookSecret   string
	Provider        string
	GeminiKeys      []string
	GeminiModel     string
	OpenAIKey       string
	OpenAIModel     string
	Fallback        bool
	Recipients      []string
	ScheduleHour    int
	ScheduleMinute  int
	Timezone        string
	TopicMode       string
	MaxConcurrent   int
	RateLimitMax    int
	RateLimitWindow time.Duration
	SummarizeMax    int
	SearchAPIKey    string
	SearchEngineID  string
	Backend         string
	DatabaseURL     string
	StateDir        string
	APIAddr         string
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	apiAddr     *string
	gowaBaseURL *string
	openaiKey   *string
	backend     *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		GowaBaseURL:     os.Getenv("GOWA_BASE_URL"),
		GowaUsername:    os.Getenv("GOWA_USERNAME"),
		GowaPassword:    os.Getenv("GOWA_PASSWORD"),
		WebhookSecret:   os.Getenv("GOWA_WEBHOOK_SECRET"),
		Provider:        os.Getenv("LLM_PROVIDER"),
		GeminiKeys:      util.ParseListEnv("GEMINI_API_KEYS"),
		GeminiModel:     os.Getenv("GEMINI_MODEL"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     os.Getenv("OPENAI_MODEL"),
		Fallback:        util.ParseBoolEnv("LLM_FALLBACK_ENABLED", true),
		Recipients:      util.ParseListEnv("WHATSAPP_RECIPIENTS"),
		ScheduleHour:    util.ParseIntEnv("DAILY_PASSAGE_HOUR", api.DefaultScheduleHour),
		ScheduleMinute:  util.ParseIntEnv("DAILY_PASSAGE_MINUTE", api.DefaultScheduleMinute),
		Timezone:        os.Getenv("TIMEZONE"),
		TopicMode:       os.Getenv("TOPIC_SELECTION_MODE"),
		MaxConcurrent:   util.ParseIntEnv("MAX_CONCURRENT_SENDS", 0),
		RateLimitMax:    util.ParseIntEnv("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindow: time.Duration(util.ParseIntEnv("RATE_LIMIT_WINDOW_SECONDS", 0)) * time.Second,
		SummarizeMax:    util.ParseIntEnv("CHAT_SUMMARIZER_MAX_MESSAGES", 0),
		SearchAPIKey:    os.Getenv("GOOGLE_SEARCH_API_KEY"),
		SearchEngineID:  os.Getenv("GOOGLE_SEARCH_ENGINE_ID"),
		Backend:         os.Getenv("MESSAGING_BACKEND"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("AKASHA_STATE_DIR"),
		APIAddr:         os.Getenv("API_ADDR"),
	}

	// GEMINI_API_KEYS takes precedence; fall back to the single-key variable
	if len(config.GeminiKeys) == 0 {
		if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
			config.GeminiKeys = []string{key}
		}
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No AKASHA_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("AKASHA_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"GOWA_BASE_URL", config.GowaBaseURL,
		"GOWA_USERNAME_SET", config.GowaUsername != "",
		"GOWA_WEBHOOK_SECRET_SET", config.WebhookSecret != "",
		"LLM_PROVIDER", config.Provider,
		"GEMINI_KEYS", len(config.GeminiKeys),
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"LLM_FALLBACK_ENABLED", config.Fallback,
		"RECIPIENTS", len(config.Recipients),
		"TIMEZONE", config.Timezone,
		"MESSAGING_BACKEND", config.Backend,
		"AKASHA_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for Akasha data (overrides $AKASHA_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN for the SQLite or Postgres store (overrides $DATABASE_URL)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		gowaBaseURL: flag.String("gowa-base-url", config.GowaBaseURL, "GoWA gateway base URL (overrides $GOWA_BASE_URL)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		backend:     flag.String("messaging-backend", config.Backend, "messaging backend: gowa or twilio (overrides $MESSAGING_BACKEND)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"gowaBaseURL", *flags.gowaBaseURL,
		"openaiKeySet", *flags.openaiKey != "",
		"backend", *flags.backend)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
		slog.Debug("State directory created successfully", "state_dir", stateDir)
	}
	return nil
}

// buildGowaOptions constructs GoWA gateway configuration options
func buildGowaOptions(config Config, flags Flags) []gowa.Option {
	var gowaOpts []gowa.Option
	if *flags.gowaBaseURL != "" {
		gowaOpts = append(gowaOpts, gowa.WithBaseURL(*flags.gowaBaseURL))
	}
	if config.GowaUsername != "" || config.GowaPassword != "" {
		gowaOpts = append(gowaOpts, gowa.WithBasicAuth(config.GowaUsername, config.GowaPassword))
	}
	return gowaOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		// Check if it's a PostgreSQL DSN using the shared detection function
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			// Assume SQLite for file paths
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs the provider chain in the configured priority
// order. Unconfigured providers are filtered out by the orchestrator.
func buildGenAIOptions(config Config, flags Flags) []genai.Option {
	gemini := genai.NewGeminiProvider(config.GeminiKeys, config.GeminiModel)
	var openaiKeys []string
	if *flags.openaiKey != "" {
		openaiKeys = []string{*flags.openaiKey}
	}
	openai := genai.NewOpenAIProvider(openaiKeys, config.OpenAIModel)

	providers := []*genai.Provider{gemini, openai}
	if strings.EqualFold(config.Provider, "openai") {
		providers = []*genai.Provider{openai, gemini}
	}

	return []genai.Option{
		genai.WithProviders(providers...),
		genai.WithFallback(config.Fallback),
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config, flags Flags) []api.Option {
	apiOpts := []api.Option{
		api.WithWebhookSecret(config.WebhookSecret),
		api.WithDailySchedule(config.ScheduleHour, config.ScheduleMinute),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if len(config.Recipients) > 0 {
		apiOpts = append(apiOpts, api.WithRecipients(config.Recipients))
	}
	if config.Timezone != "" {
		apiOpts = append(apiOpts, api.WithTimezone(config.Timezone))
	}
	if config.TopicMode != "" {
		apiOpts = append(apiOpts, api.WithTopicMode(config.TopicMode))
	}
	if config.MaxConcurrent > 0 {
		apiOpts = append(apiOpts, api.WithMaxConcurrentSends(config.MaxConcurrent))
	}
	if config.RateLimitMax > 0 || config.RateLimitWindow > 0 {
		apiOpts = append(apiOpts, api.WithRateLimit(config.RateLimitMax, config.RateLimitWindow))
	}
	if config.SummarizeMax > 0 {
		apiOpts = append(apiOpts, api.WithSummarizeLimit(config.SummarizeMax))
	}
	if config.SearchAPIKey != "" && config.SearchEngineID != "" {
		apiOpts = append(apiOpts, api.WithSearchCredentials(config.SearchAPIKey, config.SearchEngineID))
	}
	if *flags.backend != "" {
		apiOpts = append(apiOpts, api.WithMessagingBackend(*flags.backend))
	}
	return apiOpts
}
