package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"backend_url":        "https://api.example",
		"presence_url":       "wss://push.example/presence",
		"client_secret":      "s3cret",
		"reconnect_attempts": 3,
		"reconnect_delay":    "10s",
		"auto_confirm":       true,
	})

	t.Run("loads from flags", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "https://api.example", cfg.BackendURL)
		assert.Equal(t, "wss://push.example/presence", cfg.PresenceURL)
		assert.Equal(t, "s3cret", cfg.ClientSecret)
		assert.Equal(t, 3, cfg.ReconnectAttempts)
		assert.Equal(t, 10*time.Second, cfg.ReconnectDelay)
		assert.True(t, cfg.AutoConfirm)
	})

	t.Run("absent keys keep earlier values", func(t *testing.T) {
		partial := writeTempJSON(t, dir, "partial.json", map[string]any{
			"backend_url": "https://other.example",
		})
		os.Args = []string{"testbin", "-config", partial}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "https://other.example", cfg.BackendURL)
		assert.Equal(t, "ws://127.0.0.1:8081/presence", cfg.PresenceURL)
		assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{
			BackendURL:     "defaults:1234",
			ReconnectDelay: 42 * time.Second,
		}
		parseJson(cfg)

		assert.Equal(t, "defaults:1234", cfg.BackendURL)
		assert.Equal(t, 42*time.Second, cfg.ReconnectDelay)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}
