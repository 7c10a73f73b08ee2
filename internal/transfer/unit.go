// Package transfer models the upload of a single file into a task.
package transfer

import (
	"context"
	"fmt"
	"io"

	"odmclient/internal/fault"
	"odmclient/internal/file"
)

// State is the lifecycle state of a Unit
type State string

const (
	Pending   State = "pending"
	Uploading State = "uploading"
	Done      State = "done"
	Failed    State = "failed"
)

// Destination identifies the partial task that receives uploads
type Destination struct {
	ProjectID int    `json:"project_id"`
	TaskID    string `json:"task_id"`
}

// Refs are the server side references of a fully uploaded file set
type Refs struct {
	Destination Destination `json:"destination"`
	Images      []string    `json:"images"`
}

// Uploader performs the network transfer of one file. Implementations carry
// their own credentials.
type Uploader interface {
	UploadImage(ctx context.Context, projectID int, taskID, name string, body io.Reader, size int64) (string, error)
}

// Outcome is the result of one upload attempt
type Outcome struct {
	Ref string
	Err *fault.Error
}

// OK reports whether the attempt succeeded
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Unit is one file of an upload session. Path, Name and Size never change
// after creation; the other fields are mutated by the owning session only.
type Unit struct {
	Path string
	Name string
	Size int64

	Transferred int64
	State       State
	Attempts    int
	Err         *fault.Error
	Ref         string
}

// NewUnit creates a pending unit for a selected file
func NewUnit(info file.FileInfo) *Unit {
	return &Unit{
		Path:  info.Path(),
		Name:  info.Name(),
		Size:  info.Size(),
		State: Pending,
	}
}

// MarkUploading starts a new attempt
func (u *Unit) MarkUploading() {
	u.State = Uploading
	u.Attempts++
}

// Advance records that read bytes of the current attempt have been sent and
// returns by how much the unit's progress grew. Progress never goes back when
// a retried attempt starts from zero, and never reaches Size before the
// server acknowledged the file.
func (u *Unit) Advance(read int64) int64 {
	if u.State != Uploading {
		return 0
	}
	limit := u.Size - 1
	if read > limit {
		read = limit
	}
	if read <= u.Transferred {
		return 0
	}
	delta := read - u.Transferred
	u.Transferred = read
	return delta
}

// Finish applies the outcome of an attempt and returns the progress delta.
// A transient failure leaves the unit Pending for the next retry pass.
func (u *Unit) Finish(out Outcome) int64 {
	if out.OK() {
		delta := u.Size - u.Transferred
		u.Transferred = u.Size
		u.State = Done
		u.Ref = out.Ref
		u.Err = nil
		return delta
	}

	u.Err = out.Err
	if out.Err.Kind.Transient() {
		u.State = Pending
	} else {
		u.State = Failed
	}
	return 0
}

// Upload performs one attempt. It only reads the unit's immutable fields, so
// it can run without the session lock; the caller applies the outcome.
// onProgress receives the bytes read from the file so far in this attempt.
func (u *Unit) Upload(ctx context.Context, files file.FileService, up Uploader, dest Destination, onProgress func(read int64)) Outcome {
	op := "upload " + u.Name

	reader, err := files.OpenReader(u.Path)
	if err != nil {
		return Outcome{Err: fault.New(fault.KindLocalIO, op, err)}
	}
	defer reader.Close()

	if reader.Size() != u.Size {
		return Outcome{Err: fault.New(fault.KindLocalIO, op,
			fmt.Errorf("file changed size since it was selected (%d -> %d bytes)", u.Size, reader.Size()))}
	}

	body := file.NewCountingReader(reader, onProgress)
	ref, err := up.UploadImage(ctx, dest.ProjectID, dest.TaskID, u.Name, body, u.Size)
	if readErr := body.Err(); readErr != nil {
		return Outcome{Err: fault.New(fault.KindLocalIO, op, readErr)}
	}
	if err != nil {
		return Outcome{Err: fault.Wrap(op, err)}
	}
	if ref == "" {
		ref = u.Name
	}
	return Outcome{Ref: ref}
}
