package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odmclient/internal/config"
	"odmclient/internal/fault"
	"odmclient/internal/file"
	"odmclient/internal/transfer"
	"odmclient/pkg/types"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeUploader struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	fail  map[string][]error
	calls map[string]int
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{
		gates: make(map[string]chan struct{}),
		fail:  make(map[string][]error),
		calls: make(map[string]int),
	}
}

// gate makes uploads of name block until the returned func is called
func (f *fakeUploader) gate(name string) func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[name] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeUploader) failWith(name string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[name] = append(f.fail[name], errs...)
}

func (f *fakeUploader) callsFor(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeUploader) UploadImage(ctx context.Context, _ int, _ string, name string, body io.Reader, _ int64) (string, error) {
	f.mu.Lock()
	f.calls[name]++
	gate := f.gates[name]
	var err error
	if q := f.fail[name]; len(q) > 0 {
		err, f.fail[name] = q[0], q[1:]
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if _, rerr := io.Copy(io.Discard, body); rerr != nil {
		return "", rerr
	}
	if err != nil {
		return "", err
	}
	return name, nil
}

type commitCall struct {
	projectID int
	options   []types.Option
	refs      transfer.Refs
}

type fakeCoordinator struct {
	mu         sync.Mutex
	options    []types.Option
	presetErr  error
	commitGate chan struct{}
	commitErrs []error
	commits    []commitCall
	opened     int
}

func (f *fakeCoordinator) ResolvePreset(context.Context, int) ([]types.Option, error) {
	return f.options, f.presetErr
}

func (f *fakeCoordinator) Open(_ context.Context, projectID int, _ string) (transfer.Destination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return transfer.Destination{ProjectID: projectID, TaskID: fmt.Sprintf("task-%d-%d", projectID, f.opened)}, nil
}

func (f *fakeCoordinator) Commit(ctx context.Context, projectID int, options []types.Option, refs transfer.Refs) (string, error) {
	f.mu.Lock()
	gate := f.commitGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, commitCall{projectID: projectID, options: options, refs: refs})
	if len(f.commitErrs) > 0 {
		err := f.commitErrs[0]
		f.commitErrs = f.commitErrs[1:]
		return "", err
	}
	return refs.Destination.TaskID, nil
}

func (f *fakeCoordinator) commitsFor(projectID int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.commits {
		if c.projectID == projectID {
			n++
		}
	}
	return n
}

type recordingSurface struct {
	mu       sync.Mutex
	progress []Progress
	states   []StateChange
}

func (r *recordingSurface) OnProgress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recordingSurface) OnStateChange(s StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recordingSurface) percents() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(r.progress))
	for i, p := range r.progress {
		out[i] = p.Percent
	}
	return out
}

func (r *recordingSurface) count(state State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s.State == state {
			n++
		}
	}
	return n
}

func testUploadConfig() config.UploadConfig {
	return config.UploadConfig{
		Concurrency: 4,
		MaxRetries:  2,
		RetryDelay:  time.Millisecond,
	}
}

func newTestRegistry(t *testing.T, cfg config.UploadConfig, up *fakeUploader, coord *fakeCoordinator) *Registry {
	t.Helper()
	r := NewRegistry(cfg, Deps{Coordinator: coord, Uploader: up, Files: file.NewFileService()})
	t.Cleanup(r.Close)
	return r
}

// writeImages creates one file per size named img<i>.jpg
func writeImages(t *testing.T, sizes ...int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(sizes))
	for i, size := range sizes {
		paths[i] = filepath.Join(dir, fmt.Sprintf("img%d.jpg", i+1))
		require.NoError(t, os.WriteFile(paths[i], make([]byte, size), 0644))
	}
	return paths
}

func startSession(t *testing.T, r *Registry, req CreateRequest, surface Surface) *Session {
	t.Helper()
	id, err := r.Create(req)
	require.NoError(t, err)
	s, err := r.Session(id)
	require.NoError(t, err)
	if surface != nil {
		s.Restore(surface)
	}
	require.NoError(t, s.Start())
	return s
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, waitFor, tick,
		"session never reached %s", want)
}

func waitFileDone(t *testing.T, s *Session, index int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Snapshot().Files[index].State == transfer.Done
	}, waitFor, tick)
}

func TestSessionProgressAndAutoCommit(t *testing.T) {
	up := newFakeUploader()
	release1, release2, release3 := up.gate("img1.jpg"), up.gate("img2.jpg"), up.gate("img3.jpg")
	preset := []types.Option{{Name: "dsm", Value: true}}
	coord := &fakeCoordinator{options: preset, commitGate: make(chan struct{})}
	r := newTestRegistry(t, testUploadConfig(), up, coord)
	surface := &recordingSurface{}

	s := startSession(t, r, CreateRequest{ProjectID: 7, PresetID: 2, Name: "field", Files: writeImages(t, 10, 20, 30)}, surface)

	release1()
	waitFileDone(t, s, 0)
	release2()
	waitFileDone(t, s, 1)

	snap := s.Snapshot()
	assert.Equal(t, StateUploading, snap.State)
	assert.Equal(t, int64(30), snap.BytesTransferred)
	assert.Equal(t, int64(60), snap.BytesTotal)
	assert.InDelta(t, 50.0, snap.Percent, 0.001)

	release3()
	waitState(t, s, StateCommitting)
	snap = s.Snapshot()
	assert.InDelta(t, 100.0, snap.Percent, 0.001)
	for _, f := range snap.Files {
		assert.Equal(t, transfer.Done, f.State)
		assert.Equal(t, f.Size, f.Transferred)
	}

	close(coord.commitGate)
	waitState(t, s, StateCommitted)
	s.Wait()

	snap = s.Snapshot()
	assert.Equal(t, "task-7-1", snap.TaskID)
	assert.Equal(t, []string{"img1.jpg", "img2.jpg", "img3.jpg"}, snap.UploadedRefs)

	require.Len(t, coord.commits, 1)
	assert.Equal(t, 7, coord.commits[0].projectID)
	assert.Equal(t, preset, coord.commits[0].options)

	percents := surface.percents()
	require.NotEmpty(t, percents)
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1], "progress went back at event %d", i)
	}
	assert.Equal(t, 1, surface.count(StateCommitting))
	assert.Equal(t, 1, surface.count(StateCommitted))
}

func TestCommittingOnlyWhenAllFilesDone(t *testing.T) {
	up := newFakeUploader()
	release := up.gate("img2.jpg")
	coord := &fakeCoordinator{}
	r := newTestRegistry(t, testUploadConfig(), up, coord)

	s := startSession(t, r, CreateRequest{ProjectID: 1, Files: writeImages(t, 5, 5)}, nil)
	waitFileDone(t, s, 0)
	assert.Equal(t, StateUploading, s.State())

	release()
	waitState(t, s, StateCommitted)
}

func TestTransientFailureRetriedUpToBound(t *testing.T) {
	up := newFakeUploader()
	netErr := fault.New(fault.KindNetwork, "upload", errors.New("connection reset"))
	up.failWith("img1.jpg", netErr, netErr, netErr, netErr, netErr)
	coord := &fakeCoordinator{}
	cfg := testUploadConfig()
	cfg.MaxRetries = 2
	r := newTestRegistry(t, cfg, up, coord)
	surface := &recordingSurface{}

	s := startSession(t, r, CreateRequest{ProjectID: 1, Files: writeImages(t, 4, 4)}, surface)
	waitState(t, s, StateFailed)
	s.Wait()

	assert.Equal(t, 3, up.callsFor("img1.jpg"), "one attempt plus two retries")
	assert.Equal(t, 1, up.callsFor("img2.jpg"))
	assert.Equal(t, 1, surface.count(StateFailed))
	assert.Zero(t, coord.commitsFor(1))

	snap := s.Snapshot()
	assert.Equal(t, fault.KindNetwork, snap.ErrorKind)
	assert.Equal(t, transfer.Pending, snap.Files[0].State)
	assert.Equal(t, 3, snap.Files[0].Attempts)
}

func TestTransientFailureRecovers(t *testing.T) {
	up := newFakeUploader()
	netErr := fault.New(fault.KindNetwork, "upload", errors.New("timeout"))
	up.failWith("img1.jpg", netErr, netErr)
	coord := &fakeCoordinator{}
	r := newTestRegistry(t, testUploadConfig(), up, coord)

	s := startSession(t, r, CreateRequest{ProjectID: 1, Files: writeImages(t, 8)}, nil)
	waitState(t, s, StateCommitted)

	snap := s.Snapshot()
	assert.Equal(t, 3, snap.Files[0].Attempts)
	assert.Empty(t, snap.Files[0].Error)
	assert.InDelta(t, 100.0, snap.Percent, 0.001)
}

func TestNonTransientFailureIsNotRetried(t *testing.T) {
	for _, kind := range []fault.Kind{fault.KindAuthorization, fault.KindRejected} {
		t.Run(string(kind), func(t *testing.T) {
			up := newFakeUploader()
			up.failWith("img1.jpg", &fault.Error{Kind: kind, Op: "upload img1.jpg", Detail: "no"})
			coord := &fakeCoordinator{}
			r := newTestRegistry(t, testUploadConfig(), up, coord)
			surface := &recordingSurface{}

			s := startSession(t, r, CreateRequest{ProjectID: 1, Files: writeImages(t, 3)}, surface)
			waitState(t, s, StateFailed)
			s.Wait()

			assert.Equal(t, 1, up.callsFor("img1.jpg"))
			assert.Equal(t, 1, surface.count(StateFailed))
			snap := s.Snapshot()
			assert.Equal(t, kind, snap.ErrorKind)
			assert.Equal(t, transfer.Failed, snap.Files[0].State)
		})
	}
}

func TestLocalFileRemovedFailsSession(t *testing.T) {
	up := newFakeUploader()
	coord := &fakeCoordinator{}
	r := newTestRegistry(t, testUploadConfig(), up, coord)

	paths := writeImages(t, 3)
	id, err := r.Create(CreateRequest{ProjectID: 1, Files: paths})
	require.NoError(t, err)
	require.NoError(t, os.Remove(paths[0]))

	s, err := r.Session(id)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	waitState(t, s, StateFailed)

	assert.Equal(t, fault.KindLocalIO, s.Snapshot().ErrorKind)
	assert.Zero(t, up.callsFor("img1.jpg"))
}

func TestPresetFailureFailsSession(t *testing.T) {
	up := newFakeUploader()
	coord := &fakeCoordinator{presetErr: &fault.Error{Kind: fault.KindAuthorization, Op: "get preset 3", Status: 401}}
	r := newTestRegistry(t, testUploadConfig(), up, coord)

	s := startSession(t, r, CreateRequest{ProjectID: 1, PresetID: 3, Files: writeImages(t, 3)}, nil)
	waitState(t, s, StateFailed)

	assert.Equal(t, fault.KindAuthorization, s.Snapshot().ErrorKind)
	assert.Zero(t, up.callsFor("img1.jpg"))
}

func TestCancelDoesNotAffectOtherSession(t *testing.T) {
	up := newFakeUploader()
	coord := &fakeCoordinator{}
	r := newTestRegistry(t, testUploadConfig(), up, coord)

	pathsA := writeImages(t, 10, 10)
	pathsB := writeImages(t, 10, 10)
	releaseA := up.gate("img1.jpg")
	defer releaseA()

	a := startSession(t, r, CreateRequest{ProjectID: 1, Files: pathsA}, nil)
	b := startSession(t, r, CreateRequest{ProjectID: 2, Files: pathsB}, nil)

	require.NoError(t, a.Cancel())
	assert.Equal(t, StateCancelled, a.State())
	before := a.Snapshot()

	releaseA()
	waitState(t, b, StateCommitted)
	a.Wait()
	b.Wait()

	after := a.Snapshot()
	assert.Equal(t, StateCancelled, after.State)
	assert.Equal(t, before.BytesTransferred, after.BytesTransferred)
	assert.Zero(t, coord.commitsFor(1))
	assert.Equal(t, 1, coord.commitsFor(2))
	assert.InDelta(t, 100.0, b.Snapshot().Percent, 0.001)

	assert.ErrorIs(t, a.Cancel(), ErrTerminal)
	assert.ErrorIs(t, a.Start(), ErrNotCollecting)
}

func TestCommitRejectedKeepsRefsForRetry(t *testing.T) {
	up := newFakeUploader()
	coord := &fakeCoordinator{commitErrs: []error{
		&fault.Error{Kind: fault.KindRejected, Op: "commit task", Status: 400, Detail: "not enough images"},
	}}
	r := newTestRegistry(t, testUploadConfig(), up, coord)

	s := startSession(t, r, CreateRequest{ProjectID: 4, Files: writeImages(t, 6, 6)}, nil)
	waitState(t, s, StateFailed)
	s.Wait()

	snap := s.Snapshot()
	assert.Equal(t, fault.KindRejected, snap.ErrorKind)
	assert.Contains(t, snap.Error, "not enough images")
	assert.Equal(t, []string{"img1.jpg", "img2.jpg"}, snap.UploadedRefs)

	require.NoError(t, s.RetryCommit())
	waitState(t, s, StateCommitted)
	s.Wait()

	assert.Equal(t, 1, up.callsFor("img1.jpg"))
	assert.Equal(t, 1, up.callsFor("img2.jpg"))
	require.Equal(t, 2, coord.commitsFor(4))
	assert.Equal(t, coord.commits[0].refs, coord.commits[1].refs)
	assert.Empty(t, s.Snapshot().Error)

	assert.ErrorIs(t, s.RetryCommit(), ErrCommitNotRetryable)
}

func TestRetryCommitRequiresUploadedFiles(t *testing.T) {
	up := newFakeUploader()
	up.failWith("img1.jpg", fault.New(fault.KindRejected, "upload", nil))
	r := newTestRegistry(t, testUploadConfig(), up, &fakeCoordinator{})

	s := startSession(t, r, CreateRequest{ProjectID: 1, Files: writeImages(t, 2)}, nil)
	waitState(t, s, StateFailed)

	assert.ErrorIs(t, s.RetryCommit(), ErrCommitNotRetryable)
}

func TestMinimizeRestoreLeavesPipelineAlone(t *testing.T) {
	up := newFakeUploader()
	release := up.gate("img2.jpg")
	coord := &fakeCoordinator{}
	r := newTestRegistry(t, testUploadConfig(), up, coord)
	surface := NewChannelSurface(16)

	s := startSession(t, r, CreateRequest{ProjectID: 1, Files: writeImages(t, 10, 10)}, surface)
	waitFileDone(t, s, 0)

	before := s.Snapshot()
	for i := 0; i < 5; i++ {
		s.Minimize()
		assert.True(t, s.Snapshot().Minimized)
		assert.False(t, s.Attached())
		restored := s.Restore(surface)
		assert.False(t, restored.Minimized)
		assert.Equal(t, before.Files, restored.Files)
		assert.Equal(t, before.Percent, restored.Percent)
	}

	s.Minimize()
	release()
	waitState(t, s, StateCommitted)
	assert.InDelta(t, 100.0, s.Snapshot().Percent, 0.001)
}

func TestDetachedSessionDropsEvents(t *testing.T) {
	up := newFakeUploader()
	r := newTestRegistry(t, testUploadConfig(), up, &fakeCoordinator{})
	surface := &recordingSurface{}

	s := startSession(t, r, CreateRequest{ProjectID: 1, Files: writeImages(t, 10)}, surface)
	s.Minimize()
	waitState(t, s, StateCommitted)
	seen := len(surface.percents())

	snap := s.Restore(surface)
	assert.Equal(t, StateCommitted, snap.State)
	assert.Equal(t, seen, len(surface.percents()), "restore pulls a snapshot instead of replaying")
}

func TestChannelSurfaceDropsWhenFull(t *testing.T) {
	c := NewChannelSurface(1)
	c.OnProgress(Progress{Percent: 10})
	c.OnProgress(Progress{Percent: 20})
	c.OnStateChange(StateChange{State: StateUploading})

	assert.Len(t, c.Progress(), 1)
	assert.Equal(t, 10.0, (<-c.Progress()).Percent)
	assert.Equal(t, StateUploading, (<-c.States()).State)
}

func TestSnapshotIsACopy(t *testing.T) {
	up := newFakeUploader()
	release := up.gate("img1.jpg")
	defer release()
	r := newTestRegistry(t, testUploadConfig(), up, &fakeCoordinator{})

	s := startSession(t, r, CreateRequest{ProjectID: 1, Name: "copy", Files: writeImages(t, 3)}, nil)
	snap := s.Snapshot()
	snap.Files[0].Name = "changed"
	snap.Files[0].State = transfer.Done

	again := s.Snapshot()
	assert.Equal(t, "img1.jpg", again.Files[0].Name)
	assert.NotEqual(t, transfer.Done, again.Files[0].State)
}

func TestEmptyFilesProgressByCount(t *testing.T) {
	up := newFakeUploader()
	release := up.gate("img2.jpg")
	r := newTestRegistry(t, testUploadConfig(), up, &fakeCoordinator{})

	s := startSession(t, r, CreateRequest{ProjectID: 1, Files: writeImages(t, 0, 0)}, nil)
	waitFileDone(t, s, 0)
	assert.InDelta(t, 50.0, s.Snapshot().Percent, 0.001)

	release()
	waitState(t, s, StateCommitted)
}

func TestDetachIgnoresStaleSurface(t *testing.T) {
	up := newFakeUploader()
	release := up.gate("img1.jpg")
	defer release()
	r := newTestRegistry(t, testUploadConfig(), up, &fakeCoordinator{})
	old, current := NewChannelSurface(4), NewChannelSurface(4)

	s := startSession(t, r, CreateRequest{ProjectID: 1, Files: writeImages(t, 10)}, old)
	s.Restore(current)

	assert.False(t, s.Detach(old))
	assert.True(t, s.Attached())
	assert.False(t, s.Snapshot().Minimized)

	assert.True(t, s.Detach(current))
	assert.False(t, s.Attached())
	assert.True(t, s.Snapshot().Minimized)
	assert.Equal(t, StateUploading, s.State())
}

func TestCancelDuringCommitDiscardsResult(t *testing.T) {
	up := newFakeUploader()
	gate := make(chan struct{})
	coord := &fakeCoordinator{commitGate: gate}
	r := newTestRegistry(t, testUploadConfig(), up, coord)
	surface := &recordingSurface{}

	s := startSession(t, r, CreateRequest{ProjectID: 6, Files: writeImages(t, 10, 10)}, surface)
	waitState(t, s, StateCommitting)

	require.NoError(t, s.Cancel())
	close(gate)
	s.Wait()

	snap := s.Snapshot()
	assert.Equal(t, StateCancelled, snap.State)
	assert.Empty(t, snap.TaskID)
	assert.Zero(t, surface.count(StateCommitted))
	assert.Equal(t, 1, surface.count(StateCancelled))
	assert.ErrorIs(t, s.RetryCommit(), ErrCommitNotRetryable)
}

func TestCancelWhileCollecting(t *testing.T) {
	up := newFakeUploader()
	coord := &fakeCoordinator{}
	r := newTestRegistry(t, testUploadConfig(), up, coord)

	id, err := r.Create(CreateRequest{ProjectID: 1, Files: writeImages(t, 10)})
	require.NoError(t, err)
	s, err := r.Session(id)
	require.NoError(t, err)

	require.NoError(t, s.Cancel())
	assert.Equal(t, StateCancelled, s.State())
	assert.ErrorIs(t, s.Start(), ErrNotCollecting)
	s.Wait()

	assert.Zero(t, up.callsFor("img1.jpg"))
	assert.Zero(t, coord.commitsFor(1))
}
