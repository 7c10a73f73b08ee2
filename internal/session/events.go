package session

import (
	"time"

	"odmclient/internal/fault"
	"odmclient/internal/transfer"
)

// State is the lifecycle state of an upload session
type State string

const (
	StateCollecting State = "collecting"
	StateUploading  State = "uploading"
	StateCommitting State = "committing"
	StateCommitted  State = "committed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transition can happen without a user
// action (a failed session may still retry its commit).
func (s State) Terminal() bool {
	switch s {
	case StateCommitted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// FileStatus is the read-only view of one file of a session
type FileStatus struct {
	Name        string         `json:"name"`
	Path        string         `json:"path"`
	Size        int64          `json:"size"`
	Transferred int64          `json:"transferred"`
	State       transfer.State `json:"state"`
	Attempts    int            `json:"attempts"`
	Error       string         `json:"error,omitempty"`
	Ref         string         `json:"ref,omitempty"`
}

// Progress is emitted every time a file of the session advances
type Progress struct {
	SessionID        string     `json:"session_id"`
	Percent          float64    `json:"percent"`
	BytesTransferred int64      `json:"bytes_transferred"`
	BytesTotal       int64      `json:"bytes_total"`
	File             FileStatus `json:"file"`
}

// StateChange is emitted on every session state transition
type StateChange struct {
	SessionID string     `json:"session_id"`
	State     State      `json:"state"`
	TaskID    string     `json:"task_id,omitempty"`
	Error     string     `json:"error,omitempty"`
	ErrorKind fault.Kind `json:"error_kind,omitempty"`
}

// Snapshot is a point-in-time copy of a session. It shares no memory with
// the live session.
type Snapshot struct {
	ID               string       `json:"id"`
	ProjectID        int          `json:"project_id"`
	PresetID         int          `json:"preset_id"`
	Name             string       `json:"name"`
	State            State        `json:"state"`
	Minimized        bool         `json:"minimized"`
	Percent          float64      `json:"percent"`
	BytesTransferred int64        `json:"bytes_transferred"`
	BytesTotal       int64        `json:"bytes_total"`
	Files            []FileStatus `json:"files"`
	TaskID           string       `json:"task_id,omitempty"`
	UploadedRefs     []string     `json:"uploaded_refs,omitempty"`
	Error            string       `json:"error,omitempty"`
	ErrorKind        fault.Kind   `json:"error_kind,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// Surface is a presentation surface attached to a session. Both methods are
// called while the session is locked and must not block or call back into
// the session.
type Surface interface {
	OnProgress(Progress)
	OnStateChange(StateChange)
}

// ChannelSurface forwards events to buffered channels. Events that do not fit
// are dropped; a consumer that fell behind pulls a fresh Snapshot.
type ChannelSurface struct {
	progress chan Progress
	states   chan StateChange
}

// NewChannelSurface creates a surface with the given progress buffer. State
// changes get a buffer of their own so they are not crowded out by progress.
func NewChannelSurface(buffer int) *ChannelSurface {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSurface{
		progress: make(chan Progress, buffer),
		states:   make(chan StateChange, 8),
	}
}

// Progress returns the progress event stream
func (c *ChannelSurface) Progress() <-chan Progress {
	return c.progress
}

// States returns the state change stream
func (c *ChannelSurface) States() <-chan StateChange {
	return c.states
}

func (c *ChannelSurface) OnProgress(p Progress) {
	select {
	case c.progress <- p:
	default:
	}
}

func (c *ChannelSurface) OnStateChange(s StateChange) {
	select {
	case c.states <- s:
	default:
	}
}
