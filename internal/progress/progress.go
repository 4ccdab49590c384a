// Package progress renders a terminal progress bar for batch runs.
package progress

import (
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Bar is a progress display. On a non-terminal stderr it stays silent, so
// logs piped to a file are not littered with control characters.
type Bar struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// New creates a Bar for total steps. Returns a silent Bar when stderr is
// not a terminal or total is zero.
func New(total int, description string) *Bar {
	if total <= 0 || !term.IsTerminal(int(os.Stderr.Fd())) {
		return &Bar{}
	}
	return &Bar{
		bar: progressbar.NewOptions(total,
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		),
	}
}

// Tick advances the bar by one step. Safe from concurrent goroutines.
func (b *Bar) Tick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		_ = b.bar.Add(1)
	}
}

// Finish completes the bar.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		_ = b.bar.Finish()
	}
}
