package app

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/speakwell/internal/recorder"
	"github.com/MrWong99/speakwell/pkg/audio"
)

// clearLine returns the cursor to column 0 and erases the line, so that
// messages replace the live status line instead of trailing it.
const clearLine = "\r\x1b[K"

// syncWriter serialises writes from the console and the visualiser, which
// run on different goroutines.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// console renders recorder progress on a terminal.
type console struct {
	w     io.Writer
	limit time.Duration

	// bars is set when the visualiser owns the status line; the console then
	// only supplies its prefix.
	bars bool

	mu      sync.Mutex
	elapsed int
	silent  bool
	printed int
}

var _ recorder.Observer = (*console)(nil)

func newConsole(w io.Writer, limit time.Duration, bars bool) *console {
	return &console{w: w, limit: limit, bars: bars}
}

func (c *console) intro(req PracticeRequest, language string) {
	var b strings.Builder
	switch {
	case req.Topic != "":
		fmt.Fprintf(&b, "Topic: %s\n", req.Topic)
	case len(req.Candidates) > 0:
		fmt.Fprintf(&b, "Pick one topic: %s\n", strings.Join(req.Candidates, " | "))
	}
	if language != "" {
		fmt.Fprintf(&b, "Language: %s\n", language)
	}
	fmt.Fprintf(&b, "Speak for up to %s. Press Enter to stop, Ctrl+C to cancel.\n\n", clockTime(int(c.limit/time.Second)))
	io.WriteString(c.w, b.String())
}

func (c *console) evaluating() {
	io.WriteString(c.w, "Evaluating your answer...\n")
}

// status is the timer shown in front of the level bars.
func (c *console) status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *console) statusLocked() string {
	s := clockTime(c.elapsed) + "/" + clockTime(int(c.limit/time.Second))
	if c.silent {
		s += " (quiet)"
	}
	return s
}

// OnTranscriptUpdate prints the text added since the last update on its own
// line above the status line.
func (c *console) OnTranscriptUpdate(text string) {
	c.mu.Lock()
	if len(text) < c.printed {
		c.printed = 0
	}
	fresh := strings.TrimSpace(text[c.printed:])
	c.printed = len(text)
	c.mu.Unlock()
	if fresh == "" {
		return
	}
	fmt.Fprintf(c.w, "%s  %s\n", clearLine, fresh)
}

func (c *console) OnSilenceChanged(silent bool) {
	c.mu.Lock()
	c.silent = silent
	c.mu.Unlock()
	if silent {
		fmt.Fprintf(c.w, "%sStill there? Keep talking about your topic.\n", clearLine)
	}
}

func (c *console) OnElapsedTick(seconds int) {
	c.mu.Lock()
	c.elapsed = seconds
	line := c.statusLocked()
	c.mu.Unlock()
	if !c.bars {
		fmt.Fprintf(c.w, "%s%s", clearLine, line)
	}
}

func (c *console) OnComplete(art audio.Artifact) {
	fmt.Fprintf(c.w, "%sRecording finished (%s, %s).\n", clearLine, art.Duration.Round(time.Second), art.MIMEType)
}

func (c *console) OnError(reason recorder.FailureReason) {
	fmt.Fprintf(c.w, "%sRecording failed: %s.\n", clearLine, describeFailure(reason))
}

func (c *console) OnCancelled() {
	fmt.Fprintf(c.w, "%sRecording cancelled.\n", clearLine)
}

func describeFailure(r recorder.FailureReason) string {
	switch r {
	case recorder.MicrophoneDenied:
		return "the microphone could not be opened"
	case recorder.StreamError:
		return "live transcription is unavailable"
	default:
		return "an unexpected error occurred"
	}
}

// clockTime formats whole seconds as m:ss.
func clockTime(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
