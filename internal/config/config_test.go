package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"APP_ENV":                "test",
		"APP_PORT":               "8080",
		"DB_USER":                "egg",
		"DB_HOST":                "localhost",
		"DB_PORT":                "3306",
		"DB_NAME":                "timeegg",
		"JWT_SECRET":             "secret",
		"ACCESS_TOKEN_TTL_MIN":   "15",
		"REFRESH_TOKEN_TTL_DAYS": "14",
		"BCRYPT_COST":            "4",
	} {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 15, cfg.AccessTTLMin)
	assert.Equal(t, 30.0, cfg.DiscoveryRadiusM)
	assert.Equal(t, 3, cfg.EggSlots)
	assert.Equal(t, "@every 1m", cfg.AutoSubmitSpec)
	assert.False(t, cfg.IsProd())
}

func TestLoadReportsEveryMissingKey(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_HOST", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("BCRYPT_COST", "ten")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_HOST")
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), `BCRYPT_COST="ten"`)
}

func TestRateLimitConfigClamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg := LoadRateLimitConfig()
	assert.Equal(t, 1, cfg.Capacity)
	assert.Equal(t, 10*time.Second, cfg.TTL)
	assert.True(t, cfg.SkipPaths["/healthz"])
}

func TestOpenAfter(t *testing.T) {
	d, ok := OpenAfter("1_WEEK")
	assert.True(t, ok)
	assert.Equal(t, 7*24*time.Hour, d)
	_, ok = OpenAfter("FOREVER")
	assert.False(t, ok)
}

func TestCacheConfig(t *testing.T) {
	t.Setenv("CACHE_METHODS", "head, ")
	t.Setenv("CACHE_TTL", "1h")
	t.Setenv("CACHE_ENABLED", "off")

	cfg := LoadCacheConfig()
	assert.False(t, cfg.Enabled)
	assert.True(t, cfg.Methods["GET"])
	assert.True(t, cfg.Methods["HEAD"])
	assert.False(t, cfg.Methods["POST"])
	assert.Equal(t, 10*time.Minute, cfg.TTL)
	assert.Equal(t, 1<<20, cfg.MaxBodyBytes)
}
