// Package evaluate defines the Evaluator interface for scoring a finished
// practice recording.
//
// An evaluator wraps a remote multimodal model that listens to the recorded
// answer and returns per-criterion scores and written feedback. The recorder
// never calls an evaluator directly: the practice flow hands the final audio
// artifact over once the recording has completed.
//
// Implementations must be safe for concurrent use.
package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// ErrInvalidResult is returned when the model's answer cannot be parsed
	// or violates the score bounds.
	ErrInvalidResult = errors.New("evaluate: invalid result")

	// ErrUnsupportedAudio is returned when a provider cannot accept the
	// recording's MIME type.
	ErrUnsupportedAudio = errors.New("evaluate: unsupported audio format")

	// ErrEmptyAudio is returned for a request without audio.
	ErrEmptyAudio = errors.New("evaluate: empty audio")
)

// MaxScore is the upper bound of every score.
const MaxScore = 100

// Request carries one recording to be scored.
type Request struct {
	// Audio is the complete encoded recording.
	Audio []byte

	// MIMEType is the container/codec of Audio, e.g. "audio/ogg;codecs=opus".
	MIMEType string

	// Topic is the prompt the learner was asked to speak about. May be empty
	// when Candidates is set and the learner picked a topic freely.
	Topic string

	// Candidates lists the topics the learner could choose from. The model
	// reports which one it heard; [MatchTopic] reconciles the answer.
	Candidates []string

	// Language is the language the learner practised (BCP 47, e.g. "en-US").
	Language string

	// Transcript is the live caption text captured during recording. It is a
	// hint only; evaluators score the audio.
	Transcript string
}

// Validate reports whether the request can be sent.
func (r Request) Validate() error {
	if len(r.Audio) == 0 {
		return ErrEmptyAudio
	}
	if r.MIMEType == "" {
		return fmt.Errorf("evaluate: missing MIME type: %w", ErrUnsupportedAudio)
	}
	return nil
}

// Scores holds the per-criterion scores, each in 0..[MaxScore].
type Scores struct {
	Fluency    int `json:"fluency"`
	Vocabulary int `json:"vocabulary"`
	Grammar    int `json:"grammar"`
	Coherence  int `json:"coherence"`
	Relevance  int `json:"relevance"`
}

// Average returns the rounded mean of the five scores.
func (s Scores) Average() int {
	sum := s.Fluency + s.Vocabulary + s.Grammar + s.Coherence + s.Relevance
	return (sum + 2) / 5
}

// Feedback holds the written assessment per criterion.
type Feedback struct {
	Fluency       string `json:"fluency"`
	Vocabulary    string `json:"vocabulary"`
	Grammar       string `json:"grammar"`
	Coherence     string `json:"coherence"`
	Relevance     string `json:"relevance"`
	Pronunciation string `json:"pronunciation"`
	Summary       string `json:"summary"`

	// Transcription is the model's own transcript of the recording.
	Transcription string `json:"transcription"`
}

// Result is a scored evaluation.
type Result struct {
	// Topic is the topic the model believes the learner spoke about.
	Topic string `json:"topic"`

	Scores   Scores   `json:"scores"`
	Overall  int      `json:"overall"`
	Feedback Feedback `json:"feedback"`

	// Provider names the evaluator that produced the result. Set by the
	// caller, not the model.
	Provider string `json:"provider,omitempty"`
}

// Validate checks that every score lies within 0..[MaxScore]. All violations
// are reported together.
func (r *Result) Validate() error {
	var errs []error
	check := func(name string, v int) {
		if v < 0 || v > MaxScore {
			errs = append(errs, fmt.Errorf("%s score %d out of range 0..%d", name, v, MaxScore))
		}
	}
	check("fluency", r.Scores.Fluency)
	check("vocabulary", r.Scores.Vocabulary)
	check("grammar", r.Scores.Grammar)
	check("coherence", r.Scores.Coherence)
	check("relevance", r.Scores.Relevance)
	check("overall", r.Overall)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}
	return nil
}

// Evaluator scores a finished recording.
type Evaluator interface {
	// Evaluate sends the recording to the model and returns the validated
	// result. It blocks until the model answers or ctx is done.
	Evaluate(ctx context.Context, req Request) (*Result, error)
}

// ParseResult decodes a model answer into a validated [Result]. Markdown code
// fences around the JSON are tolerated. A missing overall score is derived
// from the criterion scores.
func ParseResult(text string) (*Result, error) {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var res Result
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidResult, err)
	}
	// A zero overall is a real score; only an absent field is derived.
	var overall struct {
		Overall *int `json:"overall"`
	}
	if err := json.Unmarshal([]byte(body), &overall); err == nil && overall.Overall == nil {
		res.Overall = res.Scores.Average()
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return &res, nil
}
