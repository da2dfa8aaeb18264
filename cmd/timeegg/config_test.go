package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_base_url: https://api.timeegg.app/\ndev_token: abc\n"), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.timeegg.app", cfg.APIBaseURL)
	assert.Equal(t, "https://api.timeegg.app/media", cfg.MediaBaseURL)
	assert.Equal(t, "abc", cfg.DevToken)
	assert.Equal(t, filepath.Join(dir, "session.json"), cfg.TokenFile)

	t.Setenv("TIMEEGG_API_BASE_URL", "http://localhost:9000")
	t.Setenv("TIMEEGG_MEDIA_BASE_URL", "https://cdn.timeegg.app")
	t.Setenv("TIMEEGG_DEV_TOKEN", "")
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.APIBaseURL)
	assert.Equal(t, "https://cdn.timeegg.app", cfg.MediaBaseURL)
	assert.Equal(t, "abc", cfg.DevToken)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.APIBaseURL)
}

func TestMediaURL(t *testing.T) {
	cfg := Config{MediaBaseURL: "https://cdn.timeegg.app/"}
	assert.Equal(t, "https://cdn.timeegg.app/a.png", cfg.MediaURL("/media/a.png"))
	assert.Equal(t, "https://cdn.timeegg.app/a.png", cfg.MediaURL("a.png"))
	assert.Equal(t, "https://x.y/a.png", cfg.MediaURL("https://x.y/a.png"))
}

func TestRunOrderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/orders/o-1/status", r.URL.Path)
		assert.Equal(t, "Bearer dev", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order_id":"o-1","order_status":"PAID"}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_base_url: "+srv.URL+"\ndev_token: dev\n"), 0o600))
	t.Setenv("TIMEEGG_API_BASE_URL", "")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--config", path, "order-status", "o-1"}, nil, &out))
	assert.Contains(t, out.String(), `"order_status": "PAID"`)
}

func TestRunUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "c.yaml"), "dance"}, nil, &out)
	assert.Error(t, err)
	assert.True(t, strings.HasPrefix(out.String(), "usage: timeegg"))
}
