package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/mordilloSan/go-logger/logger"

	"odmclient/internal/fault"
	"odmclient/internal/transfer"
	"odmclient/pkg/types"
)

// ErrNoImages is returned when a commit is requested for an empty upload
var ErrNoImages = errors.New("no uploaded images to commit")

// TaskAPI defines the remote operations needed to create a task from uploads
type TaskAPI interface {
	GetPreset(ctx context.Context, id int) (types.Preset, error)
	CreatePartialTask(ctx context.Context, projectID int, name string) (types.Task, error)
	UpdateTaskOptions(ctx context.Context, projectID int, taskID string, options []types.Option) error
	CommitTask(ctx context.Context, projectID int, taskID string) (types.Task, error)
}

// CommitCoordinator turns a fully uploaded session into a processing task.
// Every failure it returns is a *fault.Error.
type CommitCoordinator struct {
	api TaskAPI
}

// NewCommitCoordinator creates a new coordinator
func NewCommitCoordinator(api TaskAPI) *CommitCoordinator {
	return &CommitCoordinator{api: api}
}

// ResolvePreset returns the option payload of a preset. Preset 0 means the
// server defaults and resolves to no options.
func (c *CommitCoordinator) ResolvePreset(ctx context.Context, presetID int) ([]types.Option, error) {
	if presetID == 0 {
		return nil, nil
	}
	preset, err := c.api.GetPreset(ctx, presetID)
	if err != nil {
		return nil, fault.Wrap(fmt.Sprintf("resolve preset %d", presetID), err)
	}
	logger.DebugKV("preset resolved", "preset", preset.Name, "options", len(preset.Options))
	return preset.Options, nil
}

// Open creates the partial task that receives the session's uploads
func (c *CommitCoordinator) Open(ctx context.Context, projectID int, name string) (transfer.Destination, error) {
	task, err := c.api.CreatePartialTask(ctx, projectID, name)
	if err != nil {
		return transfer.Destination{}, fault.Wrap("create task", err)
	}
	if task.ID == "" {
		return transfer.Destination{}, &fault.Error{Kind: fault.KindRejected, Op: "create task", Detail: "server returned no task id"}
	}
	return transfer.Destination{ProjectID: projectID, TaskID: task.ID}, nil
}

// Commit stores the preset options on the destination task and starts its
// processing. It is never retried here: a repeated commit can start a second
// processing run on the server.
func (c *CommitCoordinator) Commit(ctx context.Context, projectID int, options []types.Option, refs transfer.Refs) (string, error) {
	if len(refs.Images) == 0 {
		return "", fault.New(fault.KindRejected, "commit task", ErrNoImages)
	}
	taskID := refs.Destination.TaskID

	if len(options) > 0 {
		if err := c.api.UpdateTaskOptions(ctx, projectID, taskID, options); err != nil {
			return "", fault.Wrap("set task options", err)
		}
	}

	task, err := c.api.CommitTask(ctx, projectID, taskID)
	if err != nil {
		return "", fault.Wrap("commit task", err)
	}
	if task.ID != "" {
		taskID = task.ID
	}
	logger.InfoKV("task committed", "project", projectID, "task", taskID, "images", len(refs.Images))
	return taskID, nil
}
