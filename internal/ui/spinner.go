// Package ui holds the terminal output helpers: a line spinner for
// long-running waits (polling, uploads) and one-line status prints.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a single status line while something waits. Safe
// for concurrent updates.
type Spinner struct {
	mu      sync.Mutex
	message string
	running bool
	done    chan struct{}
	writer  io.Writer
	started time.Time
}

// NewSpinner creates a stopped spinner writing to stdout.
func NewSpinner() *Spinner {
	return &Spinner{writer: os.Stdout}
}

// SetWriter redirects output, used by tests.
func (s *Spinner) SetWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = w
}

// Start begins animating with the given message. Starting a running
// spinner just updates the message.
func (s *Spinner) Start(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})
	s.started = time.Now()
	go s.animate(s.done)
}

// Update changes the message while running.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// Stop halts the animation and replaces the line with final, if any.
func (s *Spinner) Stop(final string) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	w := s.writer
	s.mu.Unlock()

	fmt.Fprint(w, "\r\033[K")
	if final != "" {
		fmt.Fprintln(w, final)
	}
}

// Success stops with a green check.
func (s *Spinner) Success(message string) {
	s.Stop(color.GreenString("✓") + " " + message)
}

// Fail stops with a red cross.
func (s *Spinner) Fail(message string) {
	s.Stop(color.RedString("✗") + " " + message)
}

func (s *Spinner) animate(done chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	frame := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.mu.Lock()
			msg := s.message
			elapsed := time.Since(s.started)
			w := s.writer
			s.mu.Unlock()

			line := fmt.Sprintf("%s %s", color.CyanString(spinnerFrames[frame%len(spinnerFrames)]), msg)
			if elapsed > time.Second {
				line += color.HiBlackString(" (%s)", formatElapsed(elapsed))
			}
			fmt.Fprint(w, "\r\033[K"+line)
			frame++
		}
	}
}

func formatElapsed(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
