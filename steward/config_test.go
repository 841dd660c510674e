package steward

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	cfg := DefaultConfig()
	cfg.Discord.Token = "bot-token"
	cfg.Admins = []string{"admin-1"}
	return cfg
}

func TestValidateDefaultConfig(t *testing.T) {
	require.NoError(t, structValidator.Struct(validTestConfig()))
}

func TestValidateConfigFailures(t *testing.T) {
	t.Run(
		"missing discord token", func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Discord.Token = ""
			assert.Error(t, structValidator.Struct(cfg))
		},
	)
	t.Run(
		"no admins", func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Admins = nil
			assert.Error(t, structValidator.Struct(cfg))
		},
	)
	t.Run(
		"unknown database type", func(t *testing.T) {
			cfg := validTestConfig()
			cfg.DatabaseType = "oracle"
			assert.Error(t, structValidator.Struct(cfg))
		},
	)
	t.Run(
		"confirmation window too short", func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Confirmation.Window = time.Millisecond
			assert.Error(t, structValidator.Struct(cfg))
		},
	)
	t.Run(
		"negative confidence threshold", func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Interpreter.ConfidenceThreshold = -1
			assert.Error(t, structValidator.Struct(cfg))
		},
	)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultDatabaseType, cfg.DatabaseType)
	assert.Equal(t, DefaultConfidenceThreshold, cfg.Interpreter.ConfidenceThreshold)
	assert.Equal(t, DefaultTieEpsilon, cfg.Interpreter.TieEpsilon)
	assert.Equal(t, DefaultAntecedentTTL, cfg.Interpreter.AntecedentTTL)
	assert.Equal(t, DefaultConfirmationWindow, cfg.Confirmation.Window)
	assert.Equal(t, DefaultSweepInterval, cfg.Confirmation.SweepInterval)
	assert.Equal(t, DefaultOpenAIModel, cfg.OpenAI.Model)
	assert.Equal(t, DefaultAPIListen, cfg.API.Listen)
	assert.NotNil(t, cfg.LogLevel)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel.Level())
}

// The token never shows up in log output, even at debug level.
func TestConfigLogRedaction(t *testing.T) {
	cfg := validTestConfig()
	v := structToSlogValue(cfg.Discord)

	attrs := map[string]string{}
	for _, attr := range v.Group() {
		attrs[attr.Key] = attr.Value.String()
	}
	assert.Equal(t, "[redacted]", attrs["token"])
	assert.NotContains(t, attrs["token"], "bot-token")
}

func TestLevelVarDefaults(t *testing.T) {
	cfg := DefaultConfig()
	for name, lv := range map[string]*slog.LevelVar{
		"base":      cfg.LogLevel,
		"database":  cfg.DatabaseLogLevel,
		"discord":   cfg.Discord.LogLevel,
		"discordgo": cfg.Discord.DiscordGoLogLevel,
		"openai":    cfg.OpenAI.LogLevel,
		"api":       cfg.API.LogLevel,
	} {
		assert.NotNil(t, lv, name)
	}
}
