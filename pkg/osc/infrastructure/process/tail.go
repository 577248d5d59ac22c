package process

import "sync"

// TailBuffer keeps the last N lines of output.
type TailBuffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewTailBuffer creates a buffer holding at most size lines (at least one).
func NewTailBuffer(size int) *TailBuffer {
	if size < 1 {
		size = 1
	}
	return &TailBuffer{lines: make([]string, size)}
}

// Add appends a line, evicting the oldest when full.
func (t *TailBuffer) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.next == 0 {
		t.full = true
	}
}

// Lines returns the buffered lines oldest first.
func (t *TailBuffer) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]string(nil), t.lines[:t.next]...)
	}
	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.next:]...)
	return append(out, t.lines[:t.next]...)
}
