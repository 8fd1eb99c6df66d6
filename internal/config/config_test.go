package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func validEnv() map[string]string {
	return map[string]string{
		"GRAPH_API_TOKEN":      "graph-token",
		"PHONE_NUMBER_ID":      "10987",
		"APP_SECRET":           "app-secret",
		"WEBHOOK_VERIFY_TOKEN": "verify",
		"SCI_API_URL":          "https://sci.example/api",
		"UAPI":                 "bot",
		"PAPI":                 "secret",
		"JWT_SECRET":           "jwt",
		"MONGO_DB_URI":         "mongodb://localhost:27017",
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envOf(nil))
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ServiceTimeout)
	assert.Equal(t, StoreMongo, cfg.StoreDriver)
	assert.Equal(t, "127", cfg.SCIParamID)
	assert.Equal(t, "910", cfg.SCIClientID)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, 60*time.Second, cfg.TokenSafetyMargin)
	assert.Equal(t, 64, cfg.MaxPipelines)
	assert.Equal(t, 1.0, cfg.UserRateLimit)
	assert.Equal(t, 5, cfg.UserRateBurst)
	assert.InDelta(t, 1.0, cfg.RateLimit, 1e-9)
	assert.Equal(t, 60, cfg.RateLimitBurst)
	assert.Equal(t, "America/Bogota", cfg.Location.String())
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestFromEnv_Overrides(t *testing.T) {
	vars := validEnv()
	vars["PORTAPI"] = "9090"
	vars["SERVICE_TIMEOUT"] = "2.5"
	vars["TOKEN_TTL"] = "90s"
	vars["STORE_DRIVER"] = "SQLite"
	vars["RATE_LIMIT_DEFAULT"] = "10/second"
	vars["TELEGRAM_ALERT_CHAT_ID"] = "-100123"
	vars["LOG_LEVEL"] = "DEBUG"

	cfg, err := FromEnv(envOf(vars))
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 2500*time.Millisecond, cfg.ServiceTimeout)
	assert.Equal(t, 90*time.Second, cfg.TokenTTL)
	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, 10.0, cfg.RateLimit)
	assert.Equal(t, 10, cfg.RateLimitBurst)
	assert.Equal(t, int64(-100123), cfg.TelegramAlertChatID)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestFromEnv_CollectsErrors(t *testing.T) {
	_, err := FromEnv(envOf(map[string]string{
		"SERVICE_TIMEOUT":          "soon",
		"MAX_CONCURRENT_PIPELINES": "many",
		"RATE_LIMIT_DEFAULT":       "fast",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVICE_TIMEOUT")
	assert.Contains(t, err.Error(), "MAX_CONCURRENT_PIPELINES")
	assert.Contains(t, err.Error(), "RATE_LIMIT_DEFAULT")
}

func TestValidate(t *testing.T) {
	cfg, err := FromEnv(envOf(validEnv()))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	vars := validEnv()
	delete(vars, "APP_SECRET")
	delete(vars, "MONGO_DB_URI")
	cfg, err = FromEnv(envOf(vars))
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_SECRET")
	assert.Contains(t, err.Error(), "MONGO_DB_URI")

	vars = validEnv()
	vars["STORE_DRIVER"] = "postgres"
	cfg, err = FromEnv(envOf(vars))
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	vars["STORE_DRIVER"] = "redis"
	cfg, err = FromEnv(envOf(vars))
	require.NoError(t, err)
	require.ErrorContains(t, cfg.Validate(), "unknown STORE_DRIVER")
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		raw       string
		perSecond float64
		burst     int
		wantErr   bool
	}{
		{raw: "60/minute", perSecond: 1, burst: 60},
		{raw: "10/second", perSecond: 10, burst: 10},
		{raw: "3600/hour", perSecond: 1, burst: 3600},
		{raw: " 120 / MIN ", perSecond: 2, burst: 120},
		{raw: "60", wantErr: true},
		{raw: "0/minute", wantErr: true},
		{raw: "5/week", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			perSecond, burst, err := ParseRate(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.perSecond, perSecond, 1e-9)
			assert.Equal(t, tt.burst, burst)
		})
	}
}
