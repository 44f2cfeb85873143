package parser

import (
	"strings"
	"sync"

	"github.com/brianly1003/cbridge/internal/domain/events"
)

// DefaultEchoQueueSize is the number of locally submitted inputs remembered
// for echo suppression.
const DefaultEchoQueueSize = 32

// EchoFilter suppresses the pane's echo of input that was already shown to
// clients when it was submitted. Each submitted string cancels at most one
// matching userInput event. The queue is FIFO and bounded; when full, the
// oldest entry is dropped.
type EchoFilter struct {
	mu    sync.Mutex
	queue []string
	size  int
}

// NewEchoFilter creates a filter remembering at most size pending inputs.
func NewEchoFilter(size int) *EchoFilter {
	if size <= 0 {
		size = DefaultEchoQueueSize
	}
	return &EchoFilter{size: size}
}

// Expect records a locally submitted input.
func (f *EchoFilter) Expect(text string) {
	text = normalizeEcho(text)
	if text == "" {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.queue) >= f.size {
		f.queue = f.queue[len(f.queue)-f.size+1:]
	}
	f.queue = append(f.queue, text)
}

// Filter returns evs without the userInput events that echo expected input.
// The input slice is not modified.
func (f *EchoFilter) Filter(evs []events.OutputEvent) []events.OutputEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.queue) == 0 {
		return evs
	}

	out := make([]events.OutputEvent, 0, len(evs))
	for _, ev := range evs {
		if ev.Kind == events.OutputUserInput && f.consume(ev.Content) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Pending returns the number of inputs still awaiting their echo.
func (f *EchoFilter) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// consume removes the oldest queued entry equal to content.
func (f *EchoFilter) consume(content string) bool {
	content = normalizeEcho(content)
	for i, q := range f.queue {
		if q == content {
			f.queue = append(f.queue[:i], f.queue[i+1:]...)
			return true
		}
	}
	return false
}

// normalizeEcho reduces input to the form the parser reports for its echo:
// the first line, without surrounding whitespace.
func normalizeEcho(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
