package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("ENCRYPTION_KEY", testKey)
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 50, cfg.ChatQuota)
	assert.Equal(t, 200, cfg.ChatQuotaAuthed)
	assert.Equal(t, 5, cfg.EvalQuota)
	assert.Equal(t, 20, cfg.EvalQuotaAuthed)
	assert.Equal(t, 24*time.Hour, cfg.RateLimitWindow)
	assert.Equal(t, 60*time.Second, cfg.ChatTimeout)
	assert.Equal(t, 300*time.Second, cfg.EvaluationTimeout)
	assert.Len(t, cfg.EncryptionKey, 32)
	assert.False(t, cfg.Debug())
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("RATE_LIMIT_CHAT", "10")
	t.Setenv("CHAT_TIMEOUT", "90s")
	t.Setenv("EVALUATION_TIMEOUT", "not-a-duration")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.ChatQuota)
	assert.Equal(t, 90*time.Second, cfg.ChatTimeout)
	assert.Equal(t, 300*time.Second, cfg.EvaluationTimeout)
	assert.True(t, cfg.Debug())
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing api key", map[string]string{"GEMINI_API_KEY": ""}, "GEMINI_API_KEY"},
		{"short key", map[string]string{"ENCRYPTION_KEY": "abcd"}, "ENCRYPTION_KEY"},
		{"anonymous quota above authed", map[string]string{"RATE_LIMIT_EVAL": "30"}, "anonymous quotas"},
		{"no workers", map[string]string{"DISPATCH_WORKERS": "0"}, "DISPATCH_WORKERS"},
		{"negative queue", map[string]string{"DISPATCH_QUEUE": "-1"}, "DISPATCH_QUEUE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}

func TestLoad_KeyNotHex(t *testing.T) {
	setRequired(t)
	t.Setenv("ENCRYPTION_KEY", strings.Repeat("zz", 32))
	_, err := Load()
	assert.ErrorContains(t, err, "not hex")
}

func TestEmailConfigured(t *testing.T) {
	cfg := &Config{ResendAPIKey: "re_123"}
	assert.False(t, cfg.EmailConfigured())
	cfg.NotificationEmail = "ops@example.com"
	assert.True(t, cfg.EmailConfigured())
}
