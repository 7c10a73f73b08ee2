// Package reporter prints the results of batch operations over tasks.
package reporter

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// ErrBatchFailed is returned by Summary.Err when at least one item failed
var ErrBatchFailed = errors.New("batch operation had failures")

// Summary counts the outcome of a batch
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
}

// Err returns ErrBatchFailed when any item failed
func (s Summary) Err() error {
	if s.Failed > 0 {
		return fmt.Errorf("%w: %d of %d failed", ErrBatchFailed, s.Failed, s.Total)
	}
	return nil
}

// BatchReporter prints one line per item and a final summary. It is safe for
// concurrent use.
type BatchReporter struct {
	out       io.Writer
	operation string

	mu      sync.Mutex
	summary Summary
}

// NewBatchReporter creates a reporter for operation over total items
func NewBatchReporter(out io.Writer, operation string, total int) *BatchReporter {
	return &BatchReporter{
		out:       out,
		operation: operation,
		summary:   Summary{Total: total},
	}
}

// Report records the outcome of one item
func (r *BatchReporter) Report(item string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.summary.Failed++
		fmt.Fprintf(r.out, "[%d/%d] %s %s: failed: %v\n", r.doneLocked(), r.summary.Total, r.operation, item, err)
		return
	}
	r.summary.Succeeded++
	fmt.Fprintf(r.out, "[%d/%d] %s %s: ok\n", r.doneLocked(), r.summary.Total, r.operation, item)
}

func (r *BatchReporter) doneLocked() int {
	return r.summary.Succeeded + r.summary.Failed
}

// Transfer returns a byte progress bar for one streamed item. Write the
// streamed bytes to it and call Finish when done.
func (r *BatchReporter) Transfer(description string, size int64) *progressbar.ProgressBar {
	if size <= 0 {
		size = -1
	}
	return progressbar.NewOptions64(size,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(r.out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)
}

// Summary prints and returns the totals
func (r *BatchReporter) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.summary
	fmt.Fprintln(r.out, "=========================================================")
	fmt.Fprintf(r.out, "%s: %d total, %d succeeded, %d failed\n", r.operation, s.Total, s.Succeeded, s.Failed)
	fmt.Fprintln(r.out, "=========================================================")
	return s
}
