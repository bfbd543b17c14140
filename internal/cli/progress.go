package cli

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type extractProgressReporter struct {
	enabled bool
	label   string
	start   time.Time
	spinner int
	lastLen int
}

func newExtractProgressReporter(label string, asJSON bool) *extractProgressReporter {
	stat, err := os.Stderr.Stat()
	enabled := err == nil && (stat.Mode()&os.ModeCharDevice) != 0 && !asJSON
	return &extractProgressReporter{
		enabled: enabled,
		label:   label,
		start:   time.Now(),
	}
}

// Update matches builder.Options.Progress.
func (r *extractProgressReporter) Update(file string, done, total int) {
	if !r.enabled {
		return
	}
	frames := [4]string{"-", "\\", "|", "/"}
	frame := frames[r.spinner%len(frames)]
	r.spinner++
	file = strings.TrimSpace(file)
	if len(file) > 88 {
		file = "..." + file[len(file)-85:]
	}

	status := fmt.Sprintf("%s %s %d extracting %s", frame, r.label, done, file)
	if total > 0 {
		status = fmt.Sprintf("%s %s %d/%d extracting %s", frame, r.label, done, total, file)
	}
	r.printStatus(status)
}

func (r *extractProgressReporter) Done(count int) {
	if !r.enabled || r.spinner == 0 {
		return
	}
	elapsed := time.Since(r.start).Round(time.Millisecond)
	status := fmt.Sprintf("%s complete (%d files in %s)", r.label, count, elapsed)
	r.printStatus(status)
	fmt.Fprintln(os.Stderr)
}

func (r *extractProgressReporter) printStatus(status string) {
	if r.lastLen > len(status) {
		status = status + strings.Repeat(" ", r.lastLen-len(status))
	}
	r.lastLen = len(status)
	fmt.Fprintf(os.Stderr, "\r%s", status)
}
