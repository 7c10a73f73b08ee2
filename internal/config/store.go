package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

const (
	keyServerURL = "server_url"
	keyToken     = "token"
	keyUsername  = "username"
	keyPassword  = "password"
)

// State is what the client remembers between runs. The cached password is
// stored in plaintext and only when the user asked for it.
type State struct {
	ServerURL string
	Token     string
	Username  string
	Password  string
}

// LoggedIn reports whether a token is available
func (s State) LoggedIn() bool {
	return s.Token != ""
}

// Store persists State as a JSON file
type Store struct {
	v    *viper.Viper
	path string
}

// DefaultStatePath returns the per-user state file location
func DefaultStatePath() (string, error) {
	path, err := xdg.ConfigFile(filepath.Join("odmclient", "state.json"))
	if err != nil {
		return "", fmt.Errorf("failed to resolve state path: %w", err)
	}
	return path, nil
}

// NewStore creates a store backed by the file at path
func NewStore(path string) *Store {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetConfigPermissions(0600)
	return &Store{v: v, path: path}
}

// Path returns the backing file path
func (s *Store) Path() string {
	return s.path
}

// Load reads the state file. A missing file yields an empty state.
func (s *Store) Load() (State, error) {
	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("failed to read state file: %w", err)
	}

	return State{
		ServerURL: s.v.GetString(keyServerURL),
		Token:     s.v.GetString(keyToken),
		Username:  s.v.GetString(keyUsername),
		Password:  s.v.GetString(keyPassword),
	}, nil
}

// Save writes st, replacing the previous contents
func (s *Store) Save(st State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	s.v.Set(keyServerURL, st.ServerURL)
	s.v.Set(keyToken, st.Token)
	s.v.Set(keyUsername, st.Username)
	s.v.Set(keyPassword, st.Password)

	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// ClearToken forgets the token but keeps server URL and cached credentials
func (s *Store) ClearToken() error {
	st, err := s.Load()
	if err != nil {
		return err
	}
	st.Token = ""
	return s.Save(st)
}
