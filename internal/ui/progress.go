package ui

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"odmclient/internal/session"
	"odmclient/pkg/utils"
)

// pollInterval bounds how long a dropped state change can go unnoticed
const pollInterval = time.Second

// Snapshotter is the read side of an upload session
type Snapshotter interface {
	Snapshot() session.Snapshot
}

// UploadProgressUI renders one upload session as a terminal progress bar
type UploadProgressUI struct {
	out       io.Writer
	bar       *progressbar.ProgressBar
	startTime time.Time
}

// NewUploadProgressUI creates a progress UI writing to out
func NewUploadProgressUI(out io.Writer) *UploadProgressUI {
	return &UploadProgressUI{out: out}
}

// initProgressBar sizes the bar to the session's total bytes
func (p *UploadProgressUI) initProgressBar(snap session.Snapshot) {
	p.startTime = time.Now()
	p.bar = progressbar.NewOptions64(snap.BytesTotal,
		progressbar.OptionSetDescription(fmt.Sprintf("Uploading %d images", len(snap.Files))),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)
	_ = p.bar.Set64(snap.BytesTransferred)
}

// Follow renders the session from snap on until it reaches a terminal state
// or ctx is done, and returns the last snapshot. Events come from surface;
// the session is polled in case one was dropped.
func (p *UploadProgressUI) Follow(ctx context.Context, s Snapshotter, snap session.Snapshot, surface *session.ChannelSurface) (session.Snapshot, error) {
	p.initProgressBar(snap)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for !snap.State.Terminal() {
		select {
		case <-ctx.Done():
			_ = p.bar.Exit()
			return snap, ctx.Err()
		case update := <-surface.Progress():
			p.updateProgress(update)
		case change := <-surface.States():
			if change.State == session.StateCommitting {
				p.bar.Describe("Committing task")
			}
			if change.State.Terminal() {
				snap = s.Snapshot()
			}
		case <-ticker.C:
			snap = s.Snapshot()
			_ = p.bar.Set64(snap.BytesTransferred)
		}
	}

	if snap.State == session.StateCommitted {
		_ = p.bar.Finish()
	} else {
		_ = p.bar.Exit()
	}
	p.showSummary(snap)
	return snap, nil
}

func (p *UploadProgressUI) updateProgress(update session.Progress) {
	_ = p.bar.Set64(update.BytesTransferred)
	p.bar.Describe(fmt.Sprintf("%s %s (%.1f%%)", update.File.State, update.File.Name, update.Percent))
}

func (p *UploadProgressUI) showSummary(snap session.Snapshot) {
	fmt.Fprintf(p.out, "\n=============================================\n")
	switch snap.State {
	case session.StateCommitted:
		fmt.Fprintf(p.out, "Task created and queued for processing!\n")
		fmt.Fprintf(p.out, "+ Task: %s\n", snap.TaskID)
	case session.StateFailed:
		fmt.Fprintf(p.out, "Upload failed: %s\n", snap.Error)
	default:
		fmt.Fprintf(p.out, "Upload %s\n", snap.State)
	}
	fmt.Fprintf(p.out, "+ Images: %d\n", len(snap.Files))
	fmt.Fprintf(p.out, "+ Uploaded: %s / %s\n", utils.FormatFileSize(snap.BytesTransferred), utils.FormatFileSize(snap.BytesTotal))
	fmt.Fprintf(p.out, "+ Time: %s\n", time.Since(p.startTime).Round(time.Millisecond))
	fmt.Fprintf(p.out, "=============================================\n")
}
