package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/speakwell/pkg/audio"
)

// DefaultFramesPerBuffer is the capture buffer size used when none is
// configured.
const DefaultFramesPerBuffer = 4096

// PortAudio captures mono audio from a local input device through the
// PortAudio C library. The zero value is not usable; construct with
// [NewPortAudio].
type PortAudio struct {
	sampleRate      int
	framesPerBuffer int
	deviceName      string
}

var _ Device = (*PortAudio)(nil)

// Option is a functional option for configuring a [PortAudio] device.
type Option func(*PortAudio)

// WithSampleRate forces the capture sample rate. The default is the selected
// device's default rate.
func WithSampleRate(hz int) Option {
	return func(p *PortAudio) { p.sampleRate = hz }
}

// WithFramesPerBuffer sets the number of samples per callback.
func WithFramesPerBuffer(n int) Option {
	return func(p *PortAudio) { p.framesPerBuffer = n }
}

// WithDeviceName selects an input device by exact name instead of the system
// default.
func WithDeviceName(name string) Option {
	return func(p *PortAudio) { p.deviceName = name }
}

// NewPortAudio creates a PortAudio capture device.
func NewPortAudio(opts ...Option) *PortAudio {
	p := &PortAudio{framesPerBuffer: DefaultFramesPerBuffer}
	for _, o := range opts {
		o(p)
	}
	if p.framesPerBuffer <= 0 {
		p.framesPerBuffer = DefaultFramesPerBuffer
	}
	return p
}

// Acquire implements [Device]. It initialises PortAudio, selects the input
// device and opens (but does not start) a mono input stream.
func (p *PortAudio) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("capture: initialize portaudio: %w: %v", ErrDeviceUnavailable, err)
	}

	dev, err := p.selectDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	rate := p.sampleRate
	if rate <= 0 {
		rate = int(dev.DefaultSampleRate)
	}

	s := &paStream{rate: rate}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: p.framesPerBuffer,
	}
	stream, err := portaudio.OpenStream(params, s.callback)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("capture: open stream on %q: %w: %v", dev.Name, classifyHostError(err), err)
	}
	s.stream = stream

	if err := ctx.Err(); err != nil {
		_ = s.Release()
		return nil, err
	}
	return s, nil
}

func (p *PortAudio) selectDevice() (*portaudio.DeviceInfo, error) {
	if p.deviceName == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil || dev == nil || dev.MaxInputChannels < 1 {
			return nil, fmt.Errorf("capture: default input device: %w", ErrDeviceUnavailable)
		}
		return dev, nil
	}
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("capture: list devices: %w: %v", ErrDeviceUnavailable, err)
	}
	for _, d := range devs {
		if d.Name == p.deviceName && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("capture: input device %q: %w", p.deviceName, ErrDeviceUnavailable)
}

// paStream is an opened PortAudio input stream.
type paStream struct {
	rate   int
	stream *portaudio.Stream

	tap     atomic.Pointer[func(audio.Frame)]
	samples atomic.Int64

	mu       sync.Mutex
	started  bool
	released bool
}

// SampleRate implements [Stream].
func (s *paStream) SampleRate() int { return s.rate }

// Start implements [Stream].
func (s *paStream) Start(tap func(audio.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return fmt.Errorf("capture: start released stream: %w", ErrDeviceUnavailable)
	}
	if s.started {
		return nil
	}
	s.tap.Store(&tap)
	if err := s.stream.Start(); err != nil {
		s.tap.Store(nil)
		return fmt.Errorf("capture: start stream: %w: %v", classifyHostError(err), err)
	}
	s.started = true
	return nil
}

// Release implements [Stream].
func (s *paStream) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	s.tap.Store(nil)

	var firstErr error
	if s.started {
		if err := s.stream.Stop(); err != nil {
			firstErr = fmt.Errorf("capture: stop stream: %w", err)
		}
	}
	if err := s.stream.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("capture: close stream: %w", err)
	}
	if err := portaudio.Terminate(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("capture: terminate portaudio: %w", err)
	}
	return firstErr
}

// callback runs on the PortAudio thread. The input buffer is reused by
// PortAudio, so it is copied before being handed to the tap.
func (s *paStream) callback(in []float32) {
	tap := s.tap.Load()
	if tap == nil {
		return
	}
	samples := make([]float32, len(in))
	copy(samples, in)
	offset := s.samples.Add(int64(len(in))) - int64(len(in))
	(*tap)(audio.Frame{
		Samples:    samples,
		SampleRate: s.rate,
		Timestamp:  time.Duration(offset) * time.Second / time.Duration(s.rate),
	})
}

// ── Device listing ───────────────────────────────────────────────────────────

// DeviceInfo describes one input device.
type DeviceInfo struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// ListDevices enumerates the available input devices.
func ListDevices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("capture: initialize portaudio: %w", err)
	}
	defer func() { _ = portaudio.Terminate() }()

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("capture: list devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var out []DeviceInfo
	for _, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		info := DeviceInfo{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           def != nil && def.Name == d.Name,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}
