package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.Upload.Concurrency)
	assert.Equal(t, 3, cfg.Upload.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Upload.RetryDelay)
	assert.Equal(t, []string{"orthophoto.tif", "dsm.tif"}, cfg.Download.Assets)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"relative url", func(c *Config) { c.Server.URL = "localhost:8000" }, ErrInvalidServerURL},
		{"ftp url", func(c *Config) { c.Server.URL = "ftp://host" }, ErrInvalidServerURL},
		{"zero timeout", func(c *Config) { c.Server.Timeout = 0 }, ErrInvalidTimeout},
		{"zero concurrency", func(c *Config) { c.Upload.Concurrency = 0 }, ErrInvalidConcurrency},
		{"negative retries", func(c *Config) { c.Upload.MaxRetries = -1 }, ErrInvalidRetries},
		{"negative delay", func(c *Config) { c.Upload.RetryDelay = -time.Second }, ErrInvalidRetryDelay},
		{"no addr", func(c *Config) { c.Serve.Addr = "" }, ErrInvalidServeAddr},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tc.want)
		})
	}
}

func TestStoreMissingFileIsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "odmclient", "state.json"))

	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, State{}, st)
	assert.False(t, st.LoggedIn())
}

func TestStoreSaveLoadAndLogout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odmclient", "state.json")
	store := NewStore(path)

	want := State{ServerURL: "http://odm.local:8000", Token: "jwt", Username: "pilot", Password: "secret"}
	require.NoError(t, store.Save(want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := NewStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, store.ClearToken())
	got, err = NewStore(path).Load()
	require.NoError(t, err)
	assert.Empty(t, got.Token)
	assert.Equal(t, "http://odm.local:8000", got.ServerURL)
	assert.Equal(t, "pilot", got.Username)
}
