package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mordilloSan/go-logger/logger"

	"odmclient/internal/config"
	"odmclient/internal/fault"
	"odmclient/internal/transfer"
)

var (
	ErrNoFiles         = errors.New("no files selected")
	ErrSessionNotFound = errors.New("session not found")
	ErrRegistryClosed  = errors.New("session registry is closed")
)

// CreateRequest describes a new task to create from local images
type CreateRequest struct {
	ProjectID int      `json:"project_id"`
	PresetID  int      `json:"preset_id"`
	Name      string   `json:"name"`
	Files     []string `json:"files"`
}

// Registry is the table of upload sessions of one process. Create one at
// startup and Close it on exit.
type Registry struct {
	cfg    config.UploadConfig
	deps   Deps
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewRegistry creates an empty registry
func NewRegistry(cfg config.UploadConfig, deps Deps) *Registry {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:      cfg,
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new Collecting session for the request and returns its
// id. Every file must be a readable regular file.
func (r *Registry) Create(req CreateRequest) (string, error) {
	if len(req.Files) == 0 {
		return "", ErrNoFiles
	}

	units := make([]*transfer.Unit, 0, len(req.Files))
	for _, path := range req.Files {
		info, err := r.deps.Files.GetFileInfo(path)
		if err != nil {
			return "", fault.New(fault.KindLocalIO, "select "+path, err)
		}
		units = append(units, transfer.NewUnit(info))
	}

	s := newSession(r.ctx, r.cfg, r.deps, req.ProjectID, req.PresetID, req.Name, units)
	s.released = r.release

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrRegistryClosed
	}
	r.sessions[s.ID] = s
	logger.InfoKV("upload session created", "session", s.ID, "project", req.ProjectID, "preset", req.PresetID, "files", len(units))
	return s.ID, nil
}

// Session returns the control handle of a registered session
func (r *Registry) Session(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// ListActive returns a snapshot of every registered session, oldest first
func (r *Registry) ListActive() []Snapshot {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	snaps := make([]Snapshot, len(sessions))
	for i, s := range sessions {
		snaps[i] = s.Snapshot()
	}
	return snaps
}

// Dismiss removes a terminal session and reports whether it was removed.
// Sessions that are still running are left alone.
func (r *Registry) Dismiss(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || !s.State().Terminal() {
		return false
	}
	delete(r.sessions, id)
	logger.DebugKV("upload session dismissed", "session", id)
	return true
}

// Close cancels every running session and waits for their background work
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	r.cancel()
	for _, s := range sessions {
		s.fence()
		s.Wait()
	}
}

// release is called when a session committed or its surface went away after
// it committed. With auto dismiss on, a committed session nobody is watching
// is removed.
func (r *Registry) release(s *Session) {
	if !r.cfg.AutoDismiss || s.Attached() || s.State() != StateCommitted {
		return
	}
	r.mu.Lock()
	delete(r.sessions, s.ID)
	r.mu.Unlock()
	logger.DebugKV("committed session removed", "session", s.ID)
}
