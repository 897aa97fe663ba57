package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/DistressWatch/DistressWatch/internal/api"
	"github.com/DistressWatch/DistressWatch/internal/assistant"
	"github.com/DistressWatch/DistressWatch/internal/bot"
	"github.com/DistressWatch/DistressWatch/internal/cache"
	"github.com/DistressWatch/DistressWatch/internal/flow"
	"github.com/DistressWatch/DistressWatch/internal/messaging"
	"github.com/DistressWatch/DistressWatch/internal/scheduler"
	"github.com/DistressWatch/DistressWatch/internal/store"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for DistressWatch state data
	DefaultStateDir = "/var/lib/distresswatch"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "distresswatch.db"
	// DefaultAPIAddr is the default admin API listen address
	DefaultAPIAddr = ":8080"
	// DefaultPromptTimeout is the window after which an unanswered prompt is abandoned
	DefaultPromptTimeout = 30 * time.Minute
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel)
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	if err := run(flags); err != nil {
		slog.Error("DistressWatch failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("DistressWatch exited successfully")
}

// Config holds environment configuration
type Config struct {
	BotToken       string
	DatabaseURL    string
	StateDir       string
	OpenAIKey      string
	APIAddr        string
	RedisAddr      string
	CadenceMode    string
	DevInterval    string
	ProdAlertTimes string
	Timezone       string
	PromptTimeout  string
	LogLevel       string
}

// Flags holds command line flag values
type Flags struct {
	botToken       *string
	stateDir       *string
	dbDSN          *string
	openaiKey      *string
	apiAddr        *string
	redisAddr      *string
	cadenceMode    *string
	devInterval    *string
	prodAlertTimes *string
	timezone       *string
	promptTimeout  *string
}

// initializeLogger sets up structured logging at the configured level.
func initializeLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug", "":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
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
		BotToken:       os.Getenv("BOT_TOKEN"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StateDir:       os.Getenv("DISTRESSWATCH_STATE_DIR"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		APIAddr:        os.Getenv("API_ADDR"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		CadenceMode:    os.Getenv("CADENCE_MODE"),
		DevInterval:    os.Getenv("DEV_INTERVAL_MINUTES"),
		ProdAlertTimes: os.Getenv("PROD_ALERT_TIMES"),
		Timezone:       os.Getenv("TIMEZONE"),
		PromptTimeout:  os.Getenv("PROMPT_TIMEOUT_MINUTES"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}
	if config.CadenceMode == "" {
		config.CadenceMode = string(scheduler.ModeDev)
	}

	slog.Debug("environment variables loaded",
		"BOT_TOKEN_SET", config.BotToken != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"DISTRESSWATCH_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"REDIS_ADDR", config.RedisAddr,
		"CADENCE_MODE", config.CadenceMode,
		"DEV_INTERVAL_MINUTES", config.DevInterval,
		"PROD_ALERT_TIMES", config.ProdAlertTimes,
		"TIMEZONE", config.Timezone,
		"PROMPT_TIMEOUT_MINUTES", config.PromptTimeout)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		botToken:       flag.String("bot-token", config.BotToken, "Telegram bot token (overrides $BOT_TOKEN)"),
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for DistressWatch data (overrides $DISTRESSWATCH_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN: SQLite path or postgres:// URL (overrides $DATABASE_URL)"),
		openaiKey:      flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for the support assistant (overrides $OPENAI_API_KEY)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "admin API listen address (overrides $API_ADDR)"),
		redisAddr:      flag.String("redis-addr", config.RedisAddr, "Redis address for the prompt cache, empty disables it (overrides $REDIS_ADDR)"),
		cadenceMode:    flag.String("cadence-mode", config.CadenceMode, "cadence mode: dev or prod (overrides $CADENCE_MODE)"),
		devInterval:    flag.String("dev-interval", config.DevInterval, "dev cadence interval in minutes (overrides $DEV_INTERVAL_MINUTES)"),
		prodAlertTimes: flag.String("prod-times", config.ProdAlertTimes, "comma-separated HH:MM prod alert times (overrides $PROD_ALERT_TIMES)"),
		timezone:       flag.String("timezone", config.Timezone, "IANA timezone for prod cadence (overrides $TIMEZONE)"),
		promptTimeout:  flag.String("prompt-timeout", config.PromptTimeout, "prompt timeout in minutes (overrides $PROMPT_TIMEOUT_MINUTES)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"botTokenSet", *flags.botToken != "",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"redisAddr", *flags.redisAddr,
		"cadenceMode", *flags.cadenceMode,
		"devInterval", *flags.devInterval,
		"prodTimes", *flags.prodAlertTimes,
		"timezone", *flags.timezone,
		"promptTimeout", *flags.promptTimeout)

	return flags
}

// ensureDirectoriesExist creates the state directory for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
	}
	return storeOpts
}

// buildCadence constructs and validates the cadence configuration.
// Invalid cadence settings are fatal rather than silently defaulted.
func buildCadence(flags Flags) (scheduler.Cadence, error) {
	cadence := scheduler.Cadence{
		Mode:        scheduler.Mode(*flags.cadenceMode),
		DevInterval: scheduler.DefaultDevInterval,
		ProdTimes:   scheduler.DefaultProdTimes,
		Timezone:    *flags.timezone,
	}
	if *flags.devInterval != "" {
		minutes, err := strconv.Atoi(*flags.devInterval)
		if err != nil {
			return scheduler.Cadence{}, err
		}
		cadence.DevInterval = time.Duration(minutes) * time.Minute
	}
	if *flags.prodAlertTimes != "" {
		cadence.ProdTimes = strings.Split(*flags.prodAlertTimes, ",")
		for i := range cadence.ProdTimes {
			cadence.ProdTimes[i] = strings.TrimSpace(cadence.ProdTimes[i])
		}
	}
	if err := cadence.Validate(); err != nil {
		return scheduler.Cadence{}, err
	}
	return cadence, nil
}

// promptTimeout resolves the prompt timeout from flags.
func promptTimeout(flags Flags) (time.Duration, error) {
	if *flags.promptTimeout == "" {
		return DefaultPromptTimeout, nil
	}
	minutes, err := strconv.Atoi(*flags.promptTimeout)
	if err != nil {
		return 0, err
	}
	return time.Duration(minutes) * time.Minute, nil
}

// buildPromptCache constructs the optional Redis prompt cache.
func buildPromptCache(flags Flags, timeout time.Duration) cache.PromptCache {
	if *flags.redisAddr == "" {
		slog.Debug("No Redis address configured, prompt cache disabled")
		return cache.NoopCache{}
	}
	rdb := redis.NewClient(&redis.Options{Addr: *flags.redisAddr})
	slog.Info("Prompt cache enabled", "addr", *flags.redisAddr)
	return cache.NewRedisCache(rdb, cache.TTLForTimeout(timeout))
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	slog.Info("Bootstrapping DistressWatch")

	timeout, err := promptTimeout(flags)
	if err != nil {
		return err
	}
	cadence, err := buildCadence(flags)
	if err != nil {
		return err
	}

	st, err := openStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	msg, err := messaging.NewTelegramService(*flags.botToken)
	if err != nil {
		return err
	}

	promptCache := buildPromptCache(flags, timeout)
	questionnaire := flow.NewQuestionnaire(st, msg, promptCache, timeout)
	lifecycle := flow.NewLifecycle(st, promptCache)

	sched, err := scheduler.New(st, questionnaire, cadence)
	if err != nil {
		return err
	}

	var support bot.Supporter
	if a, err := assistant.New(st, *flags.openaiKey); err != nil {
		slog.Info("Support assistant disabled", "reason", err)
	} else {
		support = a
	}

	b := bot.New(st, msg, lifecycle, questionnaire, support, sched.Status)

	apiServer := &http.Server{
		Addr:    *flags.apiAddr,
		Handler: api.NewRouter(api.NewHandler(st, sched.Status)),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := msg.Start(ctx); err != nil {
		return err
	}
	go b.Run(ctx)
	sched.Start()

	go func() {
		slog.Info("Admin API listening", "addr", *flags.apiAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Admin API server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutdown signal received")

	sched.Stop()
	if err := msg.Stop(); err != nil {
		slog.Error("Failed to stop messaging service", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down admin API", "error", err)
	}
	return nil
}

// openStore opens the configured storage backend.
func openStore(flags Flags) (store.Store, error) {
	opts := buildStoreOptions(flags)
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return store.NewPostgresStore(opts...)
	}
	return store.NewSQLiteStore(opts...)
}
