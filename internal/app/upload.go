package app

import (
	"context"
	"errors"
	"fmt"

	"odmclient/internal/session"
	"odmclient/internal/ui"
	"odmclient/pkg/utils"
)

// UploadOptions configures one task creation from local images
type UploadOptions struct {
	ProjectID int      // Required: destination project
	PresetID  int      // 0 uses the server's default options
	Name      string   // Task name, empty lets the server pick one
	Paths     []string // Image files or directories of images
}

// UploadApp creates a task from local images in the foreground, rendering
// the background session on the console
type UploadApp struct {
	registry *session.Registry
	console  *ui.ConsoleUI
	progress *ui.UploadProgressUI
}

// NewUploadApp creates a new upload application
func NewUploadApp(registry *session.Registry, console *ui.ConsoleUI) *UploadApp {
	return &UploadApp{
		registry: registry,
		console:  console,
		progress: ui.NewUploadProgressUI(console.Writer()),
	}
}

// Run uploads the images and waits for the task to be committed. Cancelling
// ctx cancels the session.
func (a *UploadApp) Run(ctx context.Context, opts *UploadOptions) (session.Snapshot, error) {
	if opts.ProjectID <= 0 {
		return session.Snapshot{}, fmt.Errorf("project id is required")
	}
	files, err := utils.CollectImages(opts.Paths)
	if err != nil {
		return session.Snapshot{}, err
	}
	if len(files) == 0 {
		return session.Snapshot{}, session.ErrNoFiles
	}

	id, err := a.registry.Create(session.CreateRequest{
		ProjectID: opts.ProjectID,
		PresetID:  opts.PresetID,
		Name:      opts.Name,
		Files:     files,
	})
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("failed to create upload session: %w", err)
	}
	s, err := a.registry.Session(id)
	if err != nil {
		return session.Snapshot{}, err
	}

	surface := session.NewChannelSurface(64)
	snap := s.Restore(surface)
	a.console.ShowMessage(fmt.Sprintf("Uploading %d images (%s) to project %d",
		len(snap.Files), utils.FormatFileSize(snap.BytesTotal), opts.ProjectID))

	if err := s.Start(); err != nil {
		return snap, fmt.Errorf("failed to start upload: %w", err)
	}

	final, err := a.progress.Follow(ctx, s, s.Snapshot(), surface)
	if err != nil {
		if cerr := s.Cancel(); cerr == nil {
			a.console.ShowMessage("Upload cancelled")
		}
		return s.Snapshot(), err
	}

	a.registry.Dismiss(id)
	if final.State != session.StateCommitted {
		return final, sessionError(final)
	}
	return final, nil
}

func sessionError(snap session.Snapshot) error {
	if snap.Error == "" {
		return fmt.Errorf("upload %s", snap.State)
	}
	return errors.New(snap.Error)
}
