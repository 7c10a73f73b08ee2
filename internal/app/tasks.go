package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/mordilloSan/go-logger/logger"

	"odmclient/internal/fault"
	"odmclient/internal/file"
	"odmclient/internal/reporter"
	"odmclient/pkg/types"
	"odmclient/pkg/utils"
)

var (
	ErrNoTasks          = errors.New("no task ids given")
	ErrAssetUnavailable = errors.New("asset not available")
)

// TaskService runs batch operations over task ids of one project. A failing
// item does not stop the batch; every item is reported.
type TaskService struct {
	api   TaskAPI
	files file.FileService
	out   io.Writer
}

// NewTaskService creates a task service printing its reports to out
func NewTaskService(api TaskAPI, files file.FileService, out io.Writer) *TaskService {
	return &TaskService{api: api, files: files, out: out}
}

// Restart restarts every task with the options of presetID. No other
// options are ever sent; preset 0 restarts with the task's current options.
func (s *TaskService) Restart(ctx context.Context, projectID int, ids []string, presetID int) (reporter.Summary, error) {
	if len(ids) == 0 {
		return reporter.Summary{}, ErrNoTasks
	}

	var options []types.Option
	if presetID != 0 {
		preset, err := s.api.GetPreset(ctx, presetID)
		if err != nil {
			return reporter.Summary{}, fmt.Errorf("failed to resolve preset %d: %w", presetID, err)
		}
		options = preset.Options
	}

	return s.each(ctx, "restart", ids, func(id string) error {
		return s.api.RestartTask(ctx, projectID, id, options)
	}), nil
}

// Cancel stops every task
func (s *TaskService) Cancel(ctx context.Context, projectID int, ids []string) (reporter.Summary, error) {
	if len(ids) == 0 {
		return reporter.Summary{}, ErrNoTasks
	}
	return s.each(ctx, "cancel", ids, func(id string) error {
		return s.api.CancelTask(ctx, projectID, id)
	}), nil
}

// Remove deletes every task
func (s *TaskService) Remove(ctx context.Context, projectID int, ids []string) (reporter.Summary, error) {
	if len(ids) == 0 {
		return reporter.Summary{}, ErrNoTasks
	}
	return s.each(ctx, "remove", ids, func(id string) error {
		return s.api.RemoveTask(ctx, projectID, id)
	}), nil
}

func (s *TaskService) each(ctx context.Context, operation string, ids []string, fn func(id string) error) reporter.Summary {
	r := reporter.NewBatchReporter(s.out, operation, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			r.Report("task "+id, err)
			continue
		}
		err := fn(id)
		if err != nil {
			logger.WarnKV("task operation failed", "operation", operation, "task", id, "error", err)
		}
		r.Report("task "+id, err)
	}
	return r.Summary()
}

// Download saves assets of every task under dir/<task name>_<task id>/.
// Assets a task does not offer count as failed items.
func (s *TaskService) Download(ctx context.Context, projectID int, ids []string, assets []string, dir string) (reporter.Summary, error) {
	if len(ids) == 0 {
		return reporter.Summary{}, ErrNoTasks
	}
	if len(assets) == 0 {
		return reporter.Summary{}, errors.New("no assets selected")
	}
	root, err := utils.ResolveDownloadDir(dir)
	if err != nil {
		return reporter.Summary{}, err
	}

	r := reporter.NewBatchReporter(s.out, "download", len(ids)*len(assets))
	for _, id := range ids {
		task, err := s.api.GetTask(ctx, projectID, id)
		if err != nil {
			for _, asset := range assets {
				r.Report(id+"/"+asset, err)
			}
			continue
		}

		taskDir := filepath.Join(root, fmt.Sprintf("%s_%s", utils.SafeName(task.DisplayName()), task.ID))
		for _, asset := range assets {
			item := task.DisplayName() + "/" + asset
			if !task.HasAsset(asset) {
				r.Report(item, ErrAssetUnavailable)
				continue
			}
			r.Report(item, s.downloadAsset(ctx, r, projectID, task.ID, asset, filepath.Join(taskDir, asset)))
		}
	}
	return r.Summary(), nil
}

func (s *TaskService) downloadAsset(ctx context.Context, r *reporter.BatchReporter, projectID int, taskID, asset, dst string) error {
	body, size, err := s.api.DownloadAsset(ctx, projectID, taskID, asset)
	if err != nil {
		return err
	}
	defer body.Close()

	w, err := s.files.CreateWriter(dst)
	if err != nil {
		return fault.New(fault.KindLocalIO, "save "+asset, err)
	}

	bar := r.Transfer(asset, size)
	_, copyErr := io.Copy(io.MultiWriter(w, bar), body)
	_ = bar.Finish()
	if copyErr != nil {
		_ = w.Discard()
		return fault.Wrap("download "+asset, copyErr)
	}
	if err := w.Close(); err != nil {
		return fault.New(fault.KindLocalIO, "save "+asset, err)
	}
	logger.DebugKV("asset saved", "task", taskID, "asset", asset, "path", dst)
	return nil
}

// Wait polls a task every interval until it completes, fails or is
// canceled. Transient errors are logged and polling continues.
func (s *TaskService) Wait(ctx context.Context, projectID int, id string, interval time.Duration, onUpdate func(types.Task)) (types.Task, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.api.GetTask(ctx, projectID, id)
		switch {
		case err == nil:
			if onUpdate != nil {
				onUpdate(task)
			}
			if task.Status.Finished() {
				return task, nil
			}
		case fault.IsTransient(err):
			logger.WarnKV("task poll failed", "task", id, "error", err)
		default:
			return types.Task{}, fmt.Errorf("failed to poll task %s: %w", id, err)
		}

		select {
		case <-ctx.Done():
			return types.Task{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
