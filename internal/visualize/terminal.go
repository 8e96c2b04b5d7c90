package visualize

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

var levels = []rune(" ▁▂▃▄▅▆▇█")

// Terminal draws bars as a single line of block characters, overwriting the
// previous frame with a carriage return.
type Terminal struct {
	mu     sync.Mutex
	w      io.Writer
	prefix func() string
	width  int
}

var _ Renderer = (*Terminal)(nil)

// NewTerminal returns a renderer writing to w. prefix, when non-nil, is
// evaluated on every frame and printed before the bars (e.g. the elapsed
// timer).
func NewTerminal(w io.Writer, prefix func() string) *Terminal {
	return &Terminal{w: w, prefix: prefix}
}

// Render implements [Renderer].
func (t *Terminal) Render(bars []float64) error {
	var b strings.Builder
	b.WriteByte('\r')
	if t.prefix != nil {
		b.WriteString(t.prefix())
		b.WriteByte(' ')
	}
	for _, h := range bars {
		idx := int(h * float64(len(levels)-1))
		idx = max(0, min(idx, len(levels)-1))
		b.WriteRune(levels[idx])
	}
	line := b.String()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.width = max(t.width, len([]rune(line)))
	_, err := io.WriteString(t.w, line)
	return err
}

// Clear implements [Renderer].
func (t *Terminal) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.width == 0 {
		return nil
	}
	_, err := fmt.Fprintf(t.w, "\r%s\r", strings.Repeat(" ", t.width))
	t.width = 0
	return err
}
