// Package transcript folds segment-based recognizer output into the
// cumulative text shown to the user.
package transcript

import (
	"strings"
	"sync"
)

// Aggregator joins committed segments with the pending interim segment.
type Aggregator struct {
	mu        sync.Mutex
	committed []string
	pending   string
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add records one segment result and returns the cumulative transcript.
// A committed segment replaces the pending one.
func (a *Aggregator) Add(segment string, committed bool) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSpace(segment)
	if committed {
		if text != "" {
			a.committed = append(a.committed, text)
		}
		a.pending = ""
	} else {
		a.pending = text
	}
	return a.textLocked()
}

// Text returns the cumulative transcript, including any pending segment.
func (a *Aggregator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.textLocked()
}

// Empty reports whether nothing has been heard yet.
func (a *Aggregator) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.committed) == 0 && a.pending == ""
}

func (a *Aggregator) textLocked() string {
	joined := strings.Join(a.committed, " ")
	if a.pending == "" {
		return joined
	}
	if joined == "" {
		return a.pending
	}
	return joined + " " + a.pending
}
