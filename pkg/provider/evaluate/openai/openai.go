// Package openai provides an [evaluate.Evaluator] backed by an OpenAI
// audio-capable chat model.
//
// The chat completions API accepts input audio only as WAV or MP3, so
// recordings in other containers are rejected with
// [evaluate.ErrUnsupportedAudio]. Configure the recorder to prefer WAV when
// this evaluator is the primary one.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/speakwell/pkg/provider/evaluate"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "gpt-4o-audio-preview"

// Evaluator implements [evaluate.Evaluator] using the OpenAI API.
type Evaluator struct {
	client oai.Client
	model  string
}

var _ evaluate.Evaluator = (*Evaluator)(nil)

// config holds optional configuration for the evaluator.
type config struct {
	model        string
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
}

// Option is a functional option for [New].
type Option func(*config)

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the SDK retries a failed request. Default 2.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs an OpenAI evaluator.
func New(apiKey string, opts ...Option) (*Evaluator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: DefaultModel, maxRetries: 2}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Evaluator{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Evaluate implements [evaluate.Evaluator].
func (e *Evaluator) Evaluate(ctx context.Context, req evaluate.Request) (*evaluate.Result, error) {
	params, err := e.buildParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response: %w", evaluate.ErrInvalidResult)
	}
	res, err := evaluate.ParseResult(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	return res, nil
}

// buildParams converts a request into chat completion params.
func (e *Evaluator) buildParams(req evaluate.Request) (oai.ChatCompletionNewParams, error) {
	if err := req.Validate(); err != nil {
		return oai.ChatCompletionNewParams{}, err
	}
	format, err := audioFormat(req.MIMEType)
	if err != nil {
		return oai.ChatCompletionNewParams{}, err
	}

	user := oai.UserMessage([]oai.ChatCompletionContentPartUnionParam{
		oai.InputAudioContentPart(oai.ChatCompletionContentPartInputAudioInputAudioParam{
			Data:   base64.StdEncoding.EncodeToString(req.Audio),
			Format: format,
		}),
		oai.TextContentPart(evaluate.Instruction(req)),
	})

	return oai.ChatCompletionNewParams{
		Model:       shared.ChatModel(e.model),
		Modalities:  []string{"text"},
		Temperature: param.NewOpt(0.2),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(evaluate.SystemInstruction),
			user,
		},
	}, nil
}

// audioFormat maps a recording MIME type to an input_audio format.
func audioFormat(mime string) (string, error) {
	base := strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = base[:i]
	}
	switch base {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav", nil
	case "audio/mpeg", "audio/mp3":
		return "mp3", nil
	default:
		return "", fmt.Errorf("openai: %q: %w", mime, evaluate.ErrUnsupportedAudio)
	}
}
