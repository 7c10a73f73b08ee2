package app

import (
	"context"
	"io"

	"odmclient/pkg/types"
)

// TaskAPI defines the remote task operations used by batch commands
type TaskAPI interface {
	GetTask(ctx context.Context, projectID int, taskID string) (types.Task, error)
	GetPreset(ctx context.Context, presetID int) (types.Preset, error)
	RestartTask(ctx context.Context, projectID int, taskID string, opts []types.Option) error
	CancelTask(ctx context.Context, projectID int, taskID string) error
	RemoveTask(ctx context.Context, projectID int, taskID string) error
	DownloadAsset(ctx context.Context, projectID int, taskID, asset string) (io.ReadCloser, int64, error)
}
