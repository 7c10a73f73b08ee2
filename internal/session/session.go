// Package session runs background upload sessions: a set of files uploaded
// into a new task under bounded concurrency, followed by an automatic commit.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mordilloSan/go-logger/logger"
	"golang.org/x/sync/errgroup"

	"odmclient/internal/config"
	"odmclient/internal/fault"
	"odmclient/internal/file"
	"odmclient/internal/transfer"
	"odmclient/pkg/types"
)

var (
	ErrNotCollecting      = errors.New("session has already been started")
	ErrTerminal           = errors.New("session has already finished")
	ErrCommitNotRetryable = errors.New("commit can only be retried after a failed commit")
)

// Coordinator prepares the destination of a session and finalizes it
type Coordinator interface {
	ResolvePreset(ctx context.Context, presetID int) ([]types.Option, error)
	Open(ctx context.Context, projectID int, name string) (transfer.Destination, error)
	Commit(ctx context.Context, projectID int, options []types.Option, refs transfer.Refs) (string, error)
}

// Deps are the collaborators shared by all sessions of a registry
type Deps struct {
	Coordinator Coordinator
	Uploader    transfer.Uploader
	Files       file.FileService
}

// Session is one background task creation. Its units are mutated only by its
// own driver goroutine; callers read snapshots and post control requests.
type Session struct {
	ID        string
	ProjectID int
	PresetID  int
	Name      string
	CreatedAt time.Time

	cfg      config.UploadConfig
	deps     Deps
	ctx      context.Context
	stop     chan struct{}
	wg       sync.WaitGroup
	released func(*Session)

	mu        sync.Mutex
	state     State
	units     []*transfer.Unit
	minimized bool
	surface   Surface
	dest      transfer.Destination
	options   []types.Option
	refs      *transfer.Refs
	taskID    string
	failure   *fault.Error
}

func newSession(ctx context.Context, cfg config.UploadConfig, deps Deps, projectID, presetID int, name string, units []*transfer.Unit) *Session {
	return &Session{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		PresetID:  presetID,
		Name:      name,
		CreatedAt: time.Now(),
		cfg:       cfg,
		deps:      deps,
		ctx:       ctx,
		stop:      make(chan struct{}),
		state:     StateCollecting,
		units:     units,
	}
}

// Start moves the session to Uploading and returns immediately. Preset
// resolution, destination creation, uploads and commit run in the
// background.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCollecting {
		return ErrNotCollecting
	}
	if s.ctx.Err() != nil {
		return ErrRegistryClosed
	}
	s.setStateLocked(StateUploading)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(s.ctx)
	}()
	return nil
}

// Cancel stops the session. In-flight transfers are not interrupted, their
// results are discarded once they finish.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return ErrTerminal
	}
	s.setStateLocked(StateCancelled)
	close(s.stop)
	logger.InfoKV("upload session cancelled", "session", s.ID)
	return nil
}

// Minimize detaches the presentation surface. Events emitted while detached
// are dropped.
func (s *Session) Minimize() {
	s.mu.Lock()
	committed := s.minimizeLocked()
	s.mu.Unlock()

	if committed {
		s.release()
	}
}

// Detach minimizes the session only if surface is the one attached. A
// surface that went away must not detach a newer one.
func (s *Session) Detach(surface Surface) bool {
	s.mu.Lock()
	if s.surface != surface {
		s.mu.Unlock()
		return false
	}
	committed := s.minimizeLocked()
	s.mu.Unlock()

	if committed {
		s.release()
	}
	return true
}

func (s *Session) minimizeLocked() (committed bool) {
	s.surface = nil
	s.minimized = true
	return s.state == StateCommitted
}

// Restore attaches surface and returns the state it should render. Events
// emitted after the snapshot was taken go to surface.
func (s *Session) Restore(surface Surface) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.surface = surface
	s.minimized = false
	return s.snapshotLocked()
}

// Attached reports whether a surface is currently attached
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface != nil
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the session's current state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// RetryCommit re-runs the commit of a session whose files are all uploaded
// but whose commit failed. Nothing is uploaded again.
func (s *Session) RetryCommit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateFailed || s.refs == nil {
		return ErrCommitNotRetryable
	}
	for _, u := range s.units {
		if u.State != transfer.Done {
			return ErrCommitNotRetryable
		}
	}

	if s.ctx.Err() != nil {
		return ErrRegistryClosed
	}

	s.failure = nil
	s.setStateLocked(StateCommitting)
	refs := *s.refs

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.commit(s.ctx, refs)
	}()
	return nil
}

// Wait blocks until the session's background work has returned
func (s *Session) Wait() {
	s.wg.Wait()
}

// fence returns once no Start or RetryCommit is between its context check
// and spawning its goroutine. Called after the context is cancelled, it
// orders every wg.Add before a following Wait.
func (s *Session) fence() {
	s.mu.Lock()
	s.mu.Unlock()
}

func (s *Session) run(ctx context.Context) {
	if err := s.prepare(ctx); err != nil {
		s.mu.Lock()
		if !s.interruptedLocked(ctx) {
			s.failLocked(err)
		}
		s.mu.Unlock()
		return
	}

	refs, ok := s.upload(ctx)
	if !ok {
		return
	}
	s.commit(ctx, refs)
}

// prepare resolves the preset options and opens the destination task
func (s *Session) prepare(ctx context.Context) error {
	options, err := s.deps.Coordinator.ResolvePreset(ctx, s.PresetID)
	if err != nil {
		return err
	}
	dest, err := s.deps.Coordinator.Open(ctx, s.ProjectID, s.Name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.options = options
	s.dest = dest
	logger.DebugKV("upload destination ready", "session", s.ID, "project", dest.ProjectID, "task", dest.TaskID)
	return nil
}

// upload runs one pass over every unit, then retry passes over units that
// failed transiently. It returns the refs once every unit is Done.
func (s *Session) upload(ctx context.Context) (transfer.Refs, bool) {
	for pass := 0; pass <= s.cfg.MaxRetries; pass++ {
		pending := s.pending()
		if len(pending) == 0 {
			break
		}
		if pass > 0 {
			logger.InfoKV("retrying uploads", "session", s.ID, "files", len(pending), "pass", pass)
			if !s.sleep(ctx, s.cfg.RetryDelay) {
				return transfer.Refs{}, false
			}
		}

		g := new(errgroup.Group)
		g.SetLimit(s.cfg.Concurrency)
		for _, u := range pending {
			g.Go(func() error {
				s.attempt(ctx, u)
				return nil
			})
		}
		_ = g.Wait()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUploading {
		return transfer.Refs{}, false
	}

	refs := transfer.Refs{Destination: s.dest, Images: make([]string, 0, len(s.units))}
	for _, u := range s.units {
		if u.State != transfer.Done {
			logger.WarnKV("upload retries exhausted", "session", s.ID, "file", u.Name, "attempts", u.Attempts)
			if u.Err != nil {
				s.failLocked(u.Err)
			} else {
				s.failLocked(fault.New(fault.KindNetwork, "upload "+u.Name, fmt.Errorf("not uploaded after %d attempts", u.Attempts)))
			}
			return transfer.Refs{}, false
		}
		refs.Images = append(refs.Images, u.Ref)
	}

	s.refs = &refs
	s.setStateLocked(StateCommitting)
	return refs, true
}

// pending returns the units that still need an attempt, or nil when the
// session stopped uploading.
func (s *Session) pending() []*transfer.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUploading {
		return nil
	}
	var units []*transfer.Unit
	for _, u := range s.units {
		if u.State == transfer.Pending {
			units = append(units, u)
		}
	}
	return units
}

func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-s.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// attempt uploads one unit. The outcome is discarded when the session left
// Uploading while the transfer was in flight.
func (s *Session) attempt(ctx context.Context, u *transfer.Unit) {
	s.mu.Lock()
	if s.state != StateUploading {
		s.mu.Unlock()
		return
	}
	u.MarkUploading()
	dest := s.dest
	s.emitProgressLocked(u)
	s.mu.Unlock()

	out := u.Upload(ctx, s.deps.Files, s.deps.Uploader, dest, func(read int64) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == StateUploading && u.Advance(read) > 0 {
			s.emitProgressLocked(u)
		}
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUploading || s.interruptedLocked(ctx) {
		return
	}
	u.Finish(out)
	s.emitProgressLocked(u)

	switch {
	case out.OK():
		logger.DebugKV("file uploaded", "session", s.ID, "file", u.Name, "attempts", u.Attempts)
	case u.State == transfer.Failed:
		s.failLocked(out.Err)
	default:
		logger.WarnKV("upload attempt failed", "session", s.ID, "file", u.Name, "attempt", u.Attempts, "error", out.Err)
	}
}

func (s *Session) commit(ctx context.Context, refs transfer.Refs) {
	s.mu.Lock()
	options := s.options
	s.mu.Unlock()

	taskID, err := s.deps.Coordinator.Commit(ctx, s.ProjectID, options, refs)

	s.mu.Lock()
	if s.state != StateCommitting || s.interruptedLocked(ctx) {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.failLocked(err)
		s.mu.Unlock()
		return
	}
	s.taskID = taskID
	s.setStateLocked(StateCommitted)
	s.mu.Unlock()

	logger.InfoKV("upload session committed", "session", s.ID, "project", s.ProjectID, "task", taskID, "images", len(refs.Images))
	s.release()
}

func (s *Session) release() {
	if s.released != nil {
		s.released(s)
	}
}

// interruptedLocked cancels the session when ctx was cancelled underneath
// it, which happens when the registry shuts down.
func (s *Session) interruptedLocked(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	if !s.state.Terminal() {
		s.setStateLocked(StateCancelled)
		close(s.stop)
	}
	return true
}

// failLocked enters Failed. It is a no-op once the session is terminal, so
// concurrent failures produce a single transition.
func (s *Session) failLocked(err error) {
	if s.state.Terminal() {
		return
	}
	var fe *fault.Error
	if !errors.As(err, &fe) {
		fe = fault.Wrap("session", err)
	}
	s.failure = fe
	s.setStateLocked(StateFailed)
	logger.WarnKV("upload session failed", "session", s.ID, "kind", s.failure.Kind, "error", s.failure)
}

func (s *Session) setStateLocked(state State) {
	s.state = state
	if s.surface == nil {
		return
	}
	change := StateChange{SessionID: s.ID, State: state, TaskID: s.taskID}
	if state == StateFailed && s.failure != nil {
		change.Error = s.failure.Error()
		change.ErrorKind = s.failure.Kind
	}
	s.surface.OnStateChange(change)
}

func (s *Session) emitProgressLocked(u *transfer.Unit) {
	if s.surface == nil {
		return
	}
	done, total := s.bytesLocked()
	s.surface.OnProgress(Progress{
		SessionID:        s.ID,
		Percent:          s.percentLocked(done, total),
		BytesTransferred: done,
		BytesTotal:       total,
		File:             fileStatus(u),
	})
}

func (s *Session) bytesLocked() (done, total int64) {
	for _, u := range s.units {
		done += u.Transferred
		total += u.Size
	}
	return done, total
}

// percentLocked is the byte-weighted progress. Sessions made only of empty
// files progress by completed files instead.
func (s *Session) percentLocked(done, total int64) float64 {
	if s.state == StateCommitting || s.state == StateCommitted {
		return 100
	}
	if total > 0 {
		return 100 * float64(done) / float64(total)
	}
	if len(s.units) == 0 {
		return 0
	}
	var finished int
	for _, u := range s.units {
		if u.State == transfer.Done {
			finished++
		}
	}
	return 100 * float64(finished) / float64(len(s.units))
}

func (s *Session) snapshotLocked() Snapshot {
	done, total := s.bytesLocked()
	snap := Snapshot{
		ID:               s.ID,
		ProjectID:        s.ProjectID,
		PresetID:         s.PresetID,
		Name:             s.Name,
		State:            s.state,
		Minimized:        s.minimized,
		Percent:          s.percentLocked(done, total),
		BytesTransferred: done,
		BytesTotal:       total,
		Files:            make([]FileStatus, len(s.units)),
		TaskID:           s.taskID,
		CreatedAt:        s.CreatedAt,
	}
	for i, u := range s.units {
		snap.Files[i] = fileStatus(u)
	}
	if s.refs != nil {
		snap.UploadedRefs = append([]string(nil), s.refs.Images...)
	}
	if s.failure != nil {
		snap.Error = s.failure.Error()
		snap.ErrorKind = s.failure.Kind
	}
	return snap
}

func fileStatus(u *transfer.Unit) FileStatus {
	fs := FileStatus{
		Name:        u.Name,
		Path:        u.Path,
		Size:        u.Size,
		Transferred: u.Transferred,
		State:       u.State,
		Attempts:    u.Attempts,
		Ref:         u.Ref,
	}
	if u.Err != nil {
		fs.Error = u.Err.Error()
	}
	return fs
}
