package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreSQLite   = "sqlite"
)

// Config is read once at process start.
type Config struct {
	Port           string
	ServiceTimeout time.Duration
	Domain         string
	Location       *time.Location
	LogLevel       string

	StoreDriver string
	MongoURI    string
	MongoDBName string
	DatabaseURL string
	SQLitePath  string

	GraphAPIURL   string
	GraphAPIToken string
	PhoneNumberID string
	AppSecret     string
	VerifyToken   string

	SCIAPIURL         string
	SCIUsername       string
	SCIPassword       string
	SCIParamID        string
	SCIClientID       string
	SCIPayerEmail     string
	TokenTTL          time.Duration
	TokenSafetyMargin time.Duration

	// RateLimit applies per client IP on the HTTP surface, UserRateLimit
	// per end user on the chat pipeline.
	RateLimit      float64
	RateLimitBurst int
	UserRateLimit  float64
	UserRateBurst  int
	MaxPipelines   int

	AdminUsername     string
	AdminPasswordHash string
	JWTSecret         string

	TelegramBotToken    string
	TelegramAlertChatID int64
}

// Load reads .env when present and builds the config from the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds the config from getenv applying defaults. It does not
// validate required values.
func FromEnv(getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	var errs []error
	seconds := func(key string, def time.Duration) time.Duration {
		raw := env(key, "")
		if raw == "" {
			return def
		}
		d, err := parseSeconds(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return d
	}
	integer := func(key string, def int) int {
		raw := env(key, "")
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return n
	}
	number := func(key string, def float64) float64 {
		raw := env(key, "")
		if raw == "" {
			return def
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		return f
	}

	cfg := &Config{
		Port:           env("PORTAPI", "8000"),
		ServiceTimeout: seconds("SERVICE_TIMEOUT", 30*time.Second),
		Domain:         env("DOMAIN", ""),
		LogLevel:       strings.ToLower(env("LOG_LEVEL", "info")),

		StoreDriver: strings.ToLower(env("STORE_DRIVER", StoreMongo)),
		MongoURI:    env("MONGO_DB_URI", ""),
		MongoDBName: env("MONGO_DB_NAME", "chatbot"),
		DatabaseURL: env("DATABASE_URL", ""),
		SQLitePath:  env("SQLITE_PATH", "chatbot.db"),

		GraphAPIURL:   env("GRAPH_API_URL", "https://graph.facebook.com/v21.0"),
		GraphAPIToken: env("GRAPH_API_TOKEN", ""),
		PhoneNumberID: env("PHONE_NUMBER_ID", ""),
		AppSecret:     env("APP_SECRET", ""),
		VerifyToken:   env("WEBHOOK_VERIFY_TOKEN", ""),

		SCIAPIURL:         env("SCI_API_URL", ""),
		SCIUsername:       env("UAPI", ""),
		SCIPassword:       env("PAPI", ""),
		SCIParamID:        env("SCI_PARAM_ID", "127"),
		SCIClientID:       env("SCI_CLIENT_ID", "910"),
		SCIPayerEmail:     env("SCI_PAYER_EMAIL", ""),
		TokenTTL:          seconds("TOKEN_TTL", 30*time.Minute),
		TokenSafetyMargin: seconds("TOKEN_SAFETY_MARGIN", 60*time.Second),

		UserRateLimit: number("USER_RATE_LIMIT", 1),
		UserRateBurst: integer("USER_RATE_BURST", 5),
		MaxPipelines:  integer("MAX_CONCURRENT_PIPELINES", 64),

		AdminUsername:     env("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: env("ADMIN_PASSWORD_HASH", ""),
		JWTSecret:         env("JWT_SECRET", ""),

		TelegramBotToken: env("TELEGRAM_BOT_TOKEN", ""),
	}

	perSecond, burst, err := ParseRate(env("RATE_LIMIT_DEFAULT", "60/minute"))
	if err != nil {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_DEFAULT: %w", err))
	}
	cfg.RateLimit, cfg.RateLimitBurst = perSecond, burst

	if raw := env("TELEGRAM_ALERT_CHAT_ID", ""); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("TELEGRAM_ALERT_CHAT_ID: %w", err))
		}
		cfg.TelegramAlertChatID = id
	}

	loc, err := time.LoadLocation(env("TZ_NAME", "America/Bogota"))
	if err != nil {
		errs = append(errs, fmt.Errorf("TZ_NAME: %w", err))
		loc = time.UTC
	}
	cfg.Location = loc

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// Validate checks that every secret the service cannot run without is set.
func (c *Config) Validate() error {
	var missing []string
	require := func(key, value string) {
		if value == "" {
			missing = append(missing, key)
		}
	}

	require("GRAPH_API_TOKEN", c.GraphAPIToken)
	require("PHONE_NUMBER_ID", c.PhoneNumberID)
	require("APP_SECRET", c.AppSecret)
	require("WEBHOOK_VERIFY_TOKEN", c.VerifyToken)
	require("SCI_API_URL", c.SCIAPIURL)
	require("UAPI", c.SCIUsername)
	require("PAPI", c.SCIPassword)
	require("JWT_SECRET", c.JWTSecret)

	switch c.StoreDriver {
	case StoreMongo:
		require("MONGO_DB_URI", c.MongoURI)
	case StorePostgres:
		require("DATABASE_URL", c.DatabaseURL)
	case StoreSQLite:
		require("SQLITE_PATH", c.SQLitePath)
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if len(missing) > 0 {
		return fmt.Errorf("config: missing required variables: %s", strings.Join(missing, ", "))
	}
	if c.ServiceTimeout <= 0 {
		return errors.New("config: SERVICE_TIMEOUT must be positive")
	}
	if c.MaxPipelines <= 0 {
		return errors.New("config: MAX_CONCURRENT_PIPELINES must be positive")
	}
	return nil
}

// ParseRate reads limits such as "60/minute", "10/second" or "1000/hour"
// and returns the refill rate per second and the burst size.
func ParseRate(raw string) (float64, int, error) {
	count, unit, ok := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), "/")
	if !ok {
		return 0, 0, fmt.Errorf("invalid rate %q", raw)
	}
	n, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || n <= 0 {
		return 0, 0, fmt.Errorf("invalid rate count in %q", raw)
	}

	var window time.Duration
	switch strings.TrimSpace(unit) {
	case "s", "sec", "second":
		window = time.Second
	case "m", "min", "minute":
		window = time.Minute
	case "h", "hour":
		window = time.Hour
	case "d", "day":
		window = 24 * time.Hour
	default:
		return 0, 0, fmt.Errorf("invalid rate unit in %q", raw)
	}
	return float64(n) / window.Seconds(), n, nil
}

// parseSeconds accepts a plain number of seconds or a Go duration.
func parseSeconds(raw string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(raw)
}
