package config

import (
	"testing"
	"time"

	"marketplace-chat/pkg/logger"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	v.Set("JWT_SECRET", "s3cret")

	cfg, err := FromViper(v)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Realtime.AuthTimeout)
	assert.Equal(t, 1000, cfg.Realtime.MessageMaxLength)
	assert.Equal(t, 256, cfg.Realtime.SendBuffer)
	assert.Equal(t, 8, cfg.Realtime.NotifyConcurrency)
	assert.Equal(t, []byte("s3cret"), cfg.JWT.Secret)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Internal.APIKey)
	assert.Equal(t, "marketplace-chat", cfg.Telemetry.ServiceName)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel)
}

func TestFromViperEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("AUTH_TIMEOUT", "3s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("MESSAGE_MAX_LENGTH", "500")
	t.Setenv("DATABASE_URL", "postgres://localhost/chat")
	t.Setenv("INTERNAL_API_KEY", "k")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Realtime.AuthTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 500, cfg.Realtime.MessageMaxLength)
	assert.Equal(t, "postgres://localhost/chat", cfg.Database.URL)
	assert.Equal(t, "k", cfg.Internal.APIKey)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)
}

func TestFromViperRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]interface{}{
		"missing secret":   {},
		"bad duration":     {"JWT_SECRET": "x", "AUTH_TIMEOUT": "soon"},
		"zero duration":    {"JWT_SECRET": "x", "EVENT_TIMEOUT": "0s"},
		"bad log level":    {"JWT_SECRET": "x", "LOG_LEVEL": "loud"},
		"zero send buffer": {"JWT_SECRET": "x", "SEND_BUFFER": 0},
		"negative length":  {"JWT_SECRET": "x", "MESSAGE_MAX_LENGTH": -1},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			v := viper.New()
			for k, val := range values {
				v.Set(k, val)
			}
			_, err := FromViper(v)
			assert.Error(t, err)
		})
	}
}
