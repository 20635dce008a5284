package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/ajo/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ajo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "./data/ajo.db", cfg.DBPath)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5, cfg.Payout.MaxAttempts)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Empty(t, cfg.Policy.Penalty.Type, "no built-in penalty policy")
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  db_path: /var/lib/ajo/ledger.db
  http_addr: ":9000"
auth:
  webhook_secret: whsec_test
gateway:
  url: https://gateway.example.com
  timeout: 3s
payout:
  max_attempts: 4
  retry_backoff: 30s
scheduler:
  interval: 1m
  enabled: false
policy:
  platform_fee_bps: 150
  deposit_amount: 5000
  penalty:
    type: percentage
    value: 500
    grace_period: 72h
    window: 168h
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/ajo/ledger.db", cfg.DBPath)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, "whsec_test", cfg.WebhookSecret)
	assert.Equal(t, 3*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 4, cfg.Payout.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Payout.RetryBackoff)
	assert.Equal(t, time.Hour, cfg.Payout.MaxBackoff, "unset keys keep defaults")
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, int64(150), cfg.Policy.PlatformFeeBps)
	assert.Equal(t, models.PenaltyPolicy{
		Type:        models.PenaltyPercentage,
		Value:       500,
		GracePeriod: 72 * time.Hour,
		Window:      168 * time.Hour,
	}, cfg.Policy.Penalty)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  db_path: from-file.db\n")
	t.Setenv("AJO_DB_PATH", "from-env.db")
	t.Setenv("AJO_PAYOUT_MAX_ATTEMPTS", "7")
	t.Setenv("AJO_SCHEDULER_INTERVAL", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.DBPath)
	assert.Equal(t, 7, cfg.Payout.MaxAttempts)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.Interval)
}

func TestLoadRejectsMalformedEnv(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"max attempts", "AJO_PAYOUT_MAX_ATTEMPTS", "abc"},
		{"scheduler interval", "AJO_SCHEDULER_INTERVAL", "not-a-duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			require.ErrorIs(t, err, models.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown penalty type", "policy:\n  penalty:\n    type: compound\n    window: 24h\n"},
		{"zero window", "policy:\n  penalty:\n    type: flat\n    value: 10\n"},
		{"fee out of range", "policy:\n  platform_fee_bps: 10000\n"},
		{"malformed yaml", "server: [unclosed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
