// Package visualize renders a live frequency-bar view of the microphone
// signal.
//
// Frames are pushed from the capture goroutine with [Visualizer.Push], which
// only copies the most recent analysis window. A separate render loop, paced
// by its own animation ticker, computes a magnitude spectrum of that window
// and hands mirrored bar heights to a [Renderer]. The render cadence is
// independent of both the audio callback rate and the recorder's timer.
package visualize

import (
	"context"
	"math"
	"math/cmplx"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/MrWong99/speakwell/internal/clock"
	"github.com/MrWong99/speakwell/pkg/audio"
)

// Defaults for [Config].
const (
	DefaultFPS  = 30
	DefaultBars = 16

	// WindowSize is the FFT length.
	WindowSize = 256
)

// Renderer draws one frame of bar heights. Heights are in [0, 1] and already
// mirrored (left half is the reverse of the right half).
type Renderer interface {
	Render(bars []float64) error

	// Clear erases whatever the renderer has drawn.
	Clear() error
}

// Config holds visualiser parameters.
type Config struct {
	// FPS is the render cadence. Zero means [DefaultFPS].
	FPS int

	// Bars is the number of bars per side. Zero means [DefaultBars].
	Bars int

	// Renderer receives every rendered frame. Required.
	Renderer Renderer

	// Clock drives the animation ticker. Nil means the wall clock.
	Clock clock.Clock
}

// Visualizer owns one render loop.
type Visualizer struct {
	fps      int
	bars     int
	renderer Renderer
	clk      clock.Clock
	fft      *fourier.FFT
	hann     []float64

	mu     sync.Mutex
	window []float64
	filled bool
	pushed int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Visualizer. It does not start rendering until [Visualizer.Start].
func New(cfg Config) *Visualizer {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.Bars <= 0 {
		cfg.Bars = DefaultBars
	}
	if cfg.Bars > WindowSize/2 {
		cfg.Bars = WindowSize / 2
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	hann := make([]float64, WindowSize)
	for i := range hann {
		hann[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(WindowSize-1))
	}
	return &Visualizer{
		fps:      cfg.FPS,
		bars:     cfg.Bars,
		renderer: cfg.Renderer,
		clk:      cfg.Clock,
		fft:      fourier.NewFFT(WindowSize),
		hann:     hann,
		window:   make([]float64, WindowSize),
	}
}

// Push stores the most recent [WindowSize] samples of frame. It never blocks on
// rendering.
func (v *Visualizer) Push(frame audio.Frame) {
	s := frame.Samples
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pushed++
	if len(s) == 0 {
		return
	}
	if len(s) >= WindowSize {
		s = s[len(s)-WindowSize:]
		for i, x := range s {
			v.window[i] = float64(x)
		}
	} else {
		copy(v.window, v.window[len(s):])
		off := WindowSize - len(s)
		for i, x := range s {
			v.window[off+i] = float64(x)
		}
	}
	v.filled = true
}

// Frames returns the number of frames pushed so far.
func (v *Visualizer) Frames() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pushed
}

// Bars computes the mirrored bar heights for the current window. The result
// has 2*Bars entries.
func (v *Visualizer) Bars() []float64 {
	seq := make([]float64, WindowSize)
	v.mu.Lock()
	for i, x := range v.window {
		seq[i] = x * v.hann[i]
	}
	v.mu.Unlock()

	coeff := v.fft.Coefficients(nil, seq)
	// Skip DC; bins 1..N/2 are grouped into equal-width bands.
	bins := coeff[1:]
	per := len(bins) / v.bars
	right := make([]float64, v.bars)
	for b := range v.bars {
		var peak float64
		for _, c := range bins[b*per : (b+1)*per] {
			if m := cmplx.Abs(c); m > peak {
				peak = m
			}
		}
		// A full-scale sine under a Hann window peaks near N/4.
		h := peak / (WindowSize / 4)
		right[b] = math.Min(1, math.Sqrt(h))
	}

	out := make([]float64, 2*v.bars)
	for i, h := range right {
		out[v.bars+i] = h
		out[v.bars-1-i] = h
	}
	return out
}

// Start launches the render loop in its own goroutine. Calling Start on a
// running visualiser is a no-op.
func (v *Visualizer) Start(ctx context.Context) {
	v.runMu.Lock()
	defer v.runMu.Unlock()
	if v.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.done = make(chan struct{})
	go func() {
		defer close(v.done)
		v.Run(ctx)
	}()
}

// Run renders frames at the configured cadence until ctx is cancelled. Render
// errors are ignored; the next frame simply tries again.
func (v *Visualizer) Run(ctx context.Context) {
	if v.renderer == nil {
		<-ctx.Done()
		return
	}
	ticker := v.clk.NewTicker(time.Second / time.Duration(v.fps))
	defer ticker.Stop()
	defer func() { _ = v.renderer.Clear() }()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			v.mu.Lock()
			filled := v.filled
			v.mu.Unlock()
			if !filled {
				continue
			}
			_ = v.renderer.Render(v.Bars())
		}
	}
}

// Stop cancels the render loop and waits for it to exit. It is idempotent and
// safe to call when Start was never called.
func (v *Visualizer) Stop() {
	v.runMu.Lock()
	cancel, done := v.cancel, v.done
	v.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
