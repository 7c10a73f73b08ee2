package transfer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odmclient/internal/fault"
	"odmclient/internal/file"
)

type uploaderFunc func(ctx context.Context, projectID int, taskID, name string, body io.Reader, size int64) (string, error)

func (f uploaderFunc) UploadImage(ctx context.Context, projectID int, taskID, name string, body io.Reader, size int64) (string, error) {
	return f(ctx, projectID, taskID, name, body, size)
}

func newUnit(t *testing.T, content string) *Unit {
	t.Helper()
	path := filepath.Join(t.TempDir(), "IMG_0042.JPG")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	info, err := file.NewFileService().GetFileInfo(path)
	require.NoError(t, err)
	return NewUnit(info)
}

func TestUploadStreamsFileAndReportsProgress(t *testing.T) {
	u := newUnit(t, "0123456789")
	dest := Destination{ProjectID: 3, TaskID: "t1"}

	var progress []int64
	out := u.Upload(context.Background(), file.NewFileService(), uploaderFunc(
		func(_ context.Context, projectID int, taskID, name string, body io.Reader, size int64) (string, error) {
			assert.Equal(t, 3, projectID)
			assert.Equal(t, "t1", taskID)
			assert.Equal(t, "IMG_0042.JPG", name)
			assert.Equal(t, int64(10), size)
			data, err := io.ReadAll(body)
			require.NoError(t, err)
			assert.Equal(t, "0123456789", string(data))
			return "IMG_0042.JPG", nil
		}), dest, func(read int64) { progress = append(progress, read) })

	require.True(t, out.OK())
	assert.Equal(t, "IMG_0042.JPG", out.Ref)
	require.NotEmpty(t, progress)
	assert.Equal(t, int64(10), progress[len(progress)-1])
}

func TestUploadClassifiesFailures(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		u := newUnit(t, "abc")
		require.NoError(t, os.Remove(u.Path))
		out := u.Upload(context.Background(), file.NewFileService(), uploaderFunc(
			func(context.Context, int, string, string, io.Reader, int64) (string, error) {
				t.Fatal("uploader must not be called")
				return "", nil
			}), Destination{}, nil)
		require.False(t, out.OK())
		assert.Equal(t, fault.KindLocalIO, out.Err.Kind)
	})

	t.Run("file changed size", func(t *testing.T) {
		u := newUnit(t, "abc")
		require.NoError(t, os.WriteFile(u.Path, []byte("abcdef"), 0644))
		out := u.Upload(context.Background(), file.NewFileService(), nil, Destination{}, nil)
		require.False(t, out.OK())
		assert.Equal(t, fault.KindLocalIO, out.Err.Kind)
	})

	t.Run("server error keeps kind", func(t *testing.T) {
		u := newUnit(t, "abc")
		out := u.Upload(context.Background(), file.NewFileService(), uploaderFunc(
			func(context.Context, int, string, string, io.Reader, int64) (string, error) {
				return "", &fault.Error{Kind: fault.KindAuthorization, Status: 401}
			}), Destination{}, nil)
		require.False(t, out.OK())
		assert.Equal(t, fault.KindAuthorization, out.Err.Kind)
		assert.Equal(t, "upload IMG_0042.JPG", out.Err.Op)
	})

	t.Run("unclassified transport error", func(t *testing.T) {
		u := newUnit(t, "abc")
		out := u.Upload(context.Background(), file.NewFileService(), uploaderFunc(
			func(context.Context, int, string, string, io.Reader, int64) (string, error) {
				return "", io.ErrUnexpectedEOF
			}), Destination{}, nil)
		require.False(t, out.OK())
		assert.True(t, out.Err.Kind.Transient())
	})
}

func TestAdvanceIsHighWaterMarkBelowSize(t *testing.T) {
	u := &Unit{Name: "a", Size: 10, State: Pending}

	assert.Zero(t, u.Advance(4), "pending units do not advance")

	u.MarkUploading()
	assert.Equal(t, 1, u.Attempts)
	assert.Equal(t, int64(4), u.Advance(4))
	assert.Equal(t, int64(5), u.Advance(10), "not acknowledged yet, capped at size-1")
	assert.Equal(t, int64(9), u.Transferred)

	u.Finish(Outcome{Err: fault.New(fault.KindNetwork, "upload a", errors.New("reset"))})
	assert.Equal(t, Pending, u.State)
	assert.Equal(t, int64(9), u.Transferred, "a failed attempt keeps progress")

	u.MarkUploading()
	assert.Zero(t, u.Advance(3), "retry restarts from zero without going back")
	assert.Equal(t, int64(1), u.Finish(Outcome{Ref: "a"}))
	assert.Equal(t, Done, u.State)
	assert.Equal(t, u.Size, u.Transferred)
	assert.Nil(t, u.Err)
}

func TestFinishNonTransientFails(t *testing.T) {
	u := &Unit{Name: "a", Size: 10}
	u.MarkUploading()
	u.Finish(Outcome{Err: fault.New(fault.KindRejected, "upload a", nil)})
	assert.Equal(t, Failed, u.State)
	assert.Equal(t, fault.KindRejected, u.Err.Kind)
}
