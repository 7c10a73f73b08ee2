package config

import (
	"errors"
	"net/url"
	"time"
)

var (
	ErrInvalidServerURL   = errors.New("server URL must be an absolute http(s) URL")
	ErrInvalidTimeout     = errors.New("server timeout must be greater than 0")
	ErrInvalidConcurrency = errors.New("upload concurrency must be greater than 0")
	ErrInvalidRetries     = errors.New("upload max retries must not be negative")
	ErrInvalidRetryDelay  = errors.New("upload retry delay must not be negative")
	ErrInvalidServeAddr   = errors.New("serve address must be set")
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	Upload   UploadConfig   `mapstructure:"upload" json:"upload"`
	Download DownloadConfig `mapstructure:"download" json:"download"`
	Serve    ServeConfig    `mapstructure:"serve" json:"serve"`
}

// ServerConfig holds the remote server connection settings
type ServerConfig struct {
	URL     string        `mapstructure:"url" json:"url"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"` // per request, not applied to streamed bodies
}

// UploadConfig holds the tunables of the upload pipeline
type UploadConfig struct {
	Concurrency int           `mapstructure:"concurrency" json:"concurrency"` // simultaneous transfers per session
	MaxRetries  int           `mapstructure:"max_retries" json:"max_retries"` // retries of a network failure per file
	RetryDelay  time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
	AutoDismiss bool          `mapstructure:"auto_dismiss" json:"auto_dismiss"` // drop committed sessions nobody is watching
}

// DownloadConfig holds asset download defaults
type DownloadConfig struct {
	Assets []string `mapstructure:"assets" json:"assets"`
}

// ServeConfig holds the local bridge settings
type ServeConfig struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:     "http://localhost:8000",
			Timeout: 60 * time.Second,
		},
		Upload: UploadConfig{
			Concurrency: 4,
			MaxRetries:  3,
			RetryDelay:  2 * time.Second,
		},
		Download: DownloadConfig{
			Assets: []string{"orthophoto.tif", "dsm.tif"},
		},
		Serve: ServeConfig{
			Addr: "127.0.0.1:8765",
		},
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if err := ValidateServerURL(c.Server.URL); err != nil {
		return err
	}
	if c.Server.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Upload.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.Upload.MaxRetries < 0 {
		return ErrInvalidRetries
	}
	if c.Upload.RetryDelay < 0 {
		return ErrInvalidRetryDelay
	}
	if c.Serve.Addr == "" {
		return ErrInvalidServeAddr
	}
	return nil
}

// ValidateServerURL checks that raw is usable as the server base URL
func ValidateServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidServerURL
	}
	return nil
}
