package webodm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"odmclient/internal/fault"
	"odmclient/pkg/types"
)

func taskPath(projectID int, taskID string) string {
	return fmt.Sprintf("/api/projects/%d/tasks/%s/", projectID, url.PathEscape(taskID))
}

// encodeOptions renders options the way the server expects them in forms
func encodeOptions(opts []types.Option) (string, error) {
	if opts == nil {
		opts = []types.Option{}
	}
	data, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("failed to encode options: %w", err)
	}
	return string(data), nil
}

// ListTasks returns the tasks of a project
func (c *Client) ListTasks(ctx context.Context, projectID int) ([]types.Task, error) {
	return listJSON[types.Task](ctx, c, "list tasks", fmt.Sprintf("/api/projects/%d/tasks/", projectID))
}

// GetTask returns one task
func (c *Client) GetTask(ctx context.Context, projectID int, taskID string) (types.Task, error) {
	var t types.Task
	err := c.doJSON(ctx, "get task", http.MethodGet, taskPath(projectID, taskID), nil, true, &t)
	return t, err
}

// CreatePartialTask creates a task that accepts image uploads until committed
func (c *Client) CreatePartialTask(ctx context.Context, projectID int, name string) (types.Task, error) {
	form := url.Values{}
	form.Set("partial", "true")
	if name != "" {
		form.Set("name", name)
	}

	var t types.Task
	err := c.doJSON(ctx, "create task", http.MethodPost, fmt.Sprintf("/api/projects/%d/tasks/", projectID), form, true, &t)
	if err != nil {
		return t, err
	}
	if t.ID == "" {
		return t, &fault.Error{Kind: fault.KindRejected, Op: "create task", Detail: "server returned no task id"}
	}
	return t, nil
}

// UpdateTaskOptions replaces the processing options of a task
func (c *Client) UpdateTaskOptions(ctx context.Context, projectID int, taskID string, opts []types.Option) error {
	encoded, err := encodeOptions(opts)
	if err != nil {
		return fault.New(fault.KindRejected, "set task options", err)
	}
	form := url.Values{}
	form.Set("options", encoded)
	return c.doJSON(ctx, "set task options", http.MethodPatch, taskPath(projectID, taskID), form, true, nil)
}

// CommitTask closes a partial task and queues it for processing
func (c *Client) CommitTask(ctx context.Context, projectID int, taskID string) (types.Task, error) {
	var t types.Task
	err := c.doJSON(ctx, "commit task", http.MethodPost, taskPath(projectID, taskID)+"commit/", nil, true, &t)
	if err == nil && t.ID == "" {
		t.ID = taskID
	}
	return t, err
}

// RestartTask restarts a task with the given options
func (c *Client) RestartTask(ctx context.Context, projectID int, taskID string, opts []types.Option) error {
	form := url.Values{}
	if len(opts) > 0 {
		encoded, err := encodeOptions(opts)
		if err != nil {
			return fault.New(fault.KindRejected, "restart task", err)
		}
		form.Set("options", encoded)
	}
	return c.doJSON(ctx, "restart task", http.MethodPost, taskPath(projectID, taskID)+"restart/", form, true, nil)
}

// CancelTask stops a queued or running task
func (c *Client) CancelTask(ctx context.Context, projectID int, taskID string) error {
	return c.doJSON(ctx, "cancel task", http.MethodPost, taskPath(projectID, taskID)+"cancel/", nil, true, nil)
}

// RemoveTask deletes a task and its assets
func (c *Client) RemoveTask(ctx context.Context, projectID int, taskID string) error {
	return c.doJSON(ctx, "remove task", http.MethodDelete, taskPath(projectID, taskID), nil, true, nil)
}

// DownloadAsset opens the byte stream of a task asset. The stream is not
// bounded by the request timeout; cancel ctx to abort it.
func (c *Client) DownloadAsset(ctx context.Context, projectID int, taskID, asset string) (io.ReadCloser, int64, error) {
	op := "download " + asset
	req, err := c.newRequest(ctx, http.MethodGet, taskPath(projectID, taskID)+"download/"+url.PathEscape(asset), nil, true)
	if err != nil {
		return nil, 0, wrapRequestError(op, err)
	}
	req.Header.Set("Accept", "*/*")

	resp, err := c.send(op, req)
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}
