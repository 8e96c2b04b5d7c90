// Package gemini provides an [evaluate.Evaluator] backed by the Gemini API
// through the google.golang.org/genai SDK.
//
// The recording is sent inline next to the examiner instruction and the model
// is constrained to a JSON response schema, so the answer decodes directly
// into an [evaluate.Result].
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/MrWong99/speakwell/pkg/provider/evaluate"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

// Evaluator implements [evaluate.Evaluator] using the Gemini API.
type Evaluator struct {
	client      *genai.Client
	model       string
	temperature float32
}

var _ evaluate.Evaluator = (*Evaluator)(nil)

type config struct {
	model       string
	baseURL     string
	timeout     time.Duration
	temperature float32
}

// Option is a functional option for [New].
type Option func(*config)

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the Gemini API endpoint (tests, proxies).
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithTemperature sets the sampling temperature. Default 0.2.
func WithTemperature(t float32) Option {
	return func(c *config) { c.temperature = t }
}

// New creates a Gemini evaluator.
func New(ctx context.Context, apiKey string, opts ...Option) (*Evaluator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	cfg := &config{model: DefaultModel, temperature: 0.2}
	for _, o := range opts {
		o(cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	if cfg.timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.timeout}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Evaluator{client: client, model: cfg.model, temperature: cfg.temperature}, nil
}

// Evaluate implements [evaluate.Evaluator].
func (e *Evaluator) Evaluate(ctx context.Context, req evaluate.Request) (*evaluate.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(req.Audio, blobMIMEType(req.MIMEType)),
			genai.NewPartFromText(evaluate.Instruction(req)),
		}, genai.RoleUser),
	}
	gcfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(evaluate.SystemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    resultSchema(),
		Temperature:       genai.Ptr(e.temperature),
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, gcfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("gemini: empty response: %w", evaluate.ErrInvalidResult)
	}
	res, err := evaluate.ParseResult(text)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return res, nil
}

// blobMIMEType strips codec parameters, which the inline-data endpoint
// rejects ("audio/ogg;codecs=opus" -> "audio/ogg").
func blobMIMEType(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.TrimSpace(mime)
}

// resultSchema mirrors [evaluate.Result].
func resultSchema() *genai.Schema {
	score := func(desc string) *genai.Schema {
		return &genai.Schema{
			Type:        genai.TypeInteger,
			Description: desc,
			Minimum:     genai.Ptr(0.0),
			Maximum:     genai.Ptr(float64(evaluate.MaxScore)),
		}
	}
	text := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	criteria := []string{"fluency", "vocabulary", "grammar", "coherence", "relevance"}

	scores := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}, Required: criteria}
	for _, c := range criteria {
		scores.Properties[c] = score(c + " score")
	}

	feedbackKeys := append(append([]string{}, criteria...), "pronunciation", "summary", "transcription")
	feedback := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}, Required: feedbackKeys}
	for _, k := range feedbackKeys {
		feedback.Properties[k] = text(k + " feedback")
	}
	feedback.Properties["transcription"] = text("verbatim transcript of the recording")

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"topic":    text("topic the learner spoke about"),
			"scores":   scores,
			"overall":  score("overall score"),
			"feedback": feedback,
		},
		Required:         []string{"topic", "scores", "overall", "feedback"},
		PropertyOrdering: []string{"topic", "scores", "overall", "feedback"},
	}
}
