package convert

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hbomb79/hevcify/internal/ffmpeg"
	"github.com/hbomb79/hevcify/pkg/logger"
)

// ProgressReporter renders ffmpeg progress updates. On a terminal each update
// overwrites the last using a carriage return; otherwise a line is written
// each time the encode passes another milestone percentage.
type ProgressReporter struct {
	mutex       sync.Mutex
	out         io.Writer
	interactive bool
	milestone   float64
	lastPrinted float64
	pending     bool
}

// NewProgressReporter creates a reporter writing to out. Non-interactive output
// is written every 'milestone' percent.
func NewProgressReporter(out io.Writer, milestone float64) *ProgressReporter {
	return &ProgressReporter{
		out:         out,
		interactive: logger.IsTerminal(out),
		milestone:   milestone,
		lastPrinted: -1,
	}
}

// Update renders the progress provided. A nil reporter discards the update.
func (r *ProgressReporter) Update(prog ffmpeg.Progress) {
	if r == nil {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.interactive {
		fmt.Fprintf(r.out, "\r%s", formatProgress(prog))
		r.pending = true
		return
	}

	if prog.Progress < 0 {
		return
	}
	if r.lastPrinted >= 100 {
		return
	}
	if r.lastPrinted >= 0 && prog.Progress-r.lastPrinted < r.milestone && prog.Progress < 100 {
		return
	}

	r.lastPrinted = prog.Progress
	fmt.Fprintln(r.out, formatProgress(prog))
}

// Finish terminates any partially written progress line.
func (r *ProgressReporter) Finish() {
	if r == nil {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.pending {
		fmt.Fprintln(r.out)
		r.pending = false
	}
	r.lastPrinted = -1
}

func formatProgress(prog ffmpeg.Progress) string {
	if prog.Progress < 0 {
		return strings.TrimSpace(prog.Line)
	}

	return fmt.Sprintf("%5.1f%% | frame=%d fps=%.1f time=%s bitrate=%s speed=%s",
		prog.Progress, prog.FramesProcessed, prog.FPS, prog.CurrentTime.Round(10*time.Millisecond), prog.CurrentBitrate, prog.Speed)
}
