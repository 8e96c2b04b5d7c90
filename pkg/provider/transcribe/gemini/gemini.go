// Package gemini implements the transcribe.Provider interface on top of
// Google's Gemini Live API.
//
// Each session opens a bidirectional WebSocket to the BidiGenerateContent
// endpoint and declares an audio-in/audio-out setup with input audio
// transcription enabled. Only the input transcription is consumed: it yields
// live captions of the learner's speech. The model's own spoken replies are
// ignored, and the system instruction keeps the model from producing anything
// but verbatim transcription.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/speakwell/pkg/audio"
	"github.com/MrWong99/speakwell/pkg/provider/transcribe"
)

// Compile-time assertions that Provider and session satisfy the transcribe
// interfaces.
var _ transcribe.Provider = (*Provider)(nil)
var _ transcribe.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	// sampleRate is the only input rate accepted by the Live API.
	sampleRate   = 16000
	pcmMIMEType  = "audio/pcm;rate=16000"
	sendQueueLen = 64
	fragmentsLen = 64

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	setupTimeout      = 10 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithLogger sets the logger used for non-fatal session diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements transcribe.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	log     *slog.Logger
}

// New creates a new Gemini Live transcription Provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Open dials the Live endpoint, sends the setup message and waits for the
// server's setupComplete acknowledgement.
func (p *Provider) Open(ctx context.Context, cfg transcribe.Config) (transcribe.SessionHandle, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, streamErr(ctx, "dial", err)
	}
	conn.SetReadLimit(1 << 22)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:      conn,
		log:       p.log,
		sendCh:    make(chan []byte, sendQueueLen),
		fragments: make(chan string, fragmentsLen),
		ctx:       sessCtx,
		cancel:    sessCancel,
		state:     transcribe.Connecting,
	}

	if err := sess.handshake(ctx, p.model, cfg); err != nil {
		sess.setState(transcribe.Failed)
		sessCancel()
		conn.CloseNow()
		close(sess.fragments)
		return nil, streamErr(ctx, "setup", err)
	}

	sess.setState(transcribe.Open)
	sess.wg.Add(3)
	go sess.receiveLoop()
	go sess.writeLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// streamErr wraps err with ErrStream unless the caller's context caused it.
func streamErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("gemini: %s: %w", op, ctxErr)
	}
	return fmt.Errorf("gemini: %s: %w: %v", op, transcribe.ErrStream, err)
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                   string             `json:"model"`
	GenerationConfig        generationConfig   `json:"generationConfig"`
	SystemInstruction       *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription *struct{}          `json:"inputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *json.RawMessage `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *geminiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gemini: server error %d", e.Code)
	}
	return fmt.Sprintf("gemini: server error %d: %s", e.Code, e.Message)
}

type serverContent struct {
	InputTranscription *transcription `json:"inputTranscription,omitempty"`
	TurnComplete       bool           `json:"turnComplete,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn      *websocket.Conn
	log       *slog.Logger
	sendCh    chan []byte
	fragments chan string

	mu      sync.Mutex
	state   transcribe.State
	errVal  error
	dropped int

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// handshake sends the setup message and blocks until setupComplete arrives.
func (s *session) handshake(ctx context.Context, model string, cfg transcribe.Config) error {
	instruction := cfg.Instruction
	if instruction == "" {
		instruction = transcribe.SystemInstruction(cfg.Languages)
	}
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
			SystemInstruction:       &systemInstruction{Parts: []part{{Text: instruction}}},
			InputAudioTranscription: &struct{}{},
		},
	}
	if err := s.writeJSON(ctx, msg); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("await setupComplete: %w", err)
		}
		var resp serverMessage
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Error != nil {
			return resp.Error
		}
		if resp.SetupComplete != nil {
			return nil
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads server messages and forwards input transcription
// fragments. It owns fragments and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.wg.Done()
	defer close(s.fragments)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// Session context cancelled: this is a local Close.
			if s.ctx.Err() != nil {
				return
			}
			s.fail(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}
		if msg.Error != nil {
			s.fail(msg.Error)
			return
		}
		if msg.GoAway != nil {
			s.log.Debug("gemini: server sent goAway")
		}
		if sc := msg.ServerContent; sc != nil && sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			select {
			case s.fragments <- sc.InputTranscription.Text:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// writeLoop drains the send queue in arrival order.
func (s *session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case pcm := <-s.sendCh:
			msg := realtimeInputMessage{
				RealtimeInput: realtimeInput{
					MediaChunks: []mediaChunk{{
						MIMEType: pcmMIMEType,
						Data:     base64.StdEncoding.EncodeToString(pcm),
					}},
				},
			}
			if err := s.writeJSON(s.ctx, msg); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.fail(err)
				return
			}
		}
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// fail records err and moves the session to Failed. The transport is torn
// down so that every loop exits.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.state.Terminal() || s.state == transcribe.Closing {
		s.mu.Unlock()
		return
	}
	s.errVal = fmt.Errorf("gemini: %w: %v", transcribe.ErrStream, err)
	s.state = transcribe.Failed
	s.mu.Unlock()

	s.log.Warn("gemini: transcription stream failed", "err", err)
	s.cancel()
	s.conn.CloseNow()
}

func (s *session) setState(next transcribe.State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CanTransition(next) {
		return false
	}
	s.state = next
	return true
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// State returns the current lifecycle state.
func (s *session) State() transcribe.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send resamples frame to 16 kHz PCM16 and queues it without blocking.
func (s *session) Send(frame audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != transcribe.Open {
		s.dropped++
		return false
	}
	pcm := audio.PCM16(audio.ResampleFloat32(frame.Samples, frame.SampleRate, sampleRate))
	select {
	case s.sendCh <- pcm:
		return true
	default:
		s.dropped++
		return false
	}
}

// Fragments returns the channel on which input transcription text arrives.
func (s *session) Fragments() <-chan string { return s.fragments }

// Err returns the error that failed the session, if any.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Dropped returns the number of frames discarded by Send.
func (s *session) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close terminates the session and waits for its goroutines. Idempotent.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		closing := s.setState(transcribe.Closing)

		s.cancel() // unblocks receiveLoop, writeLoop and keepaliveLoop
		if err := s.conn.Close(websocket.StatusNormalClosure, "session closed"); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Debug("gemini: close websocket", "err", err)
		}
		s.wg.Wait()

		if closing {
			s.setState(transcribe.Closed)
		}
	})
}
