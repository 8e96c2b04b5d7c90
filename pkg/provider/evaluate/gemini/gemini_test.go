package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/speakwell/pkg/provider/evaluate"
	"github.com/MrWong99/speakwell/pkg/provider/evaluate/gemini"
)

const answer = `{"topic":"My favourite holiday",
 "scores":{"fluency":72,"vocabulary":65,"grammar":70,"coherence":80,"relevance":90},
 "overall":75,
 "feedback":{"fluency":"Good pace.","vocabulary":"Try more varied verbs.","grammar":"Watch past tenses.",
  "coherence":"Clear structure.","relevance":"On topic.","pronunciation":"Mostly clear.",
  "summary":"A solid answer.","transcription":"Last summer I went to Italy."}}`

type capture struct {
	mu   sync.Mutex
	path string
	body map[string]any
}

func newServer(t *testing.T, status int, text string) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.path = r.URL.Path
		_ = json.Unmarshal(raw, &c.body)
		c.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`))
			return
		}
		resp := map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": text}},
				},
				"finishReason": "STOP",
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func newEvaluator(t *testing.T, url string) *gemini.Evaluator {
	t.Helper()
	e, err := gemini.New(context.Background(), "test-key",
		gemini.WithBaseURL(url+"/"),
		gemini.WithModel("gemini-test"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

var request = evaluate.Request{
	Audio:    []byte("OggS fake audio"),
	MIMEType: "audio/ogg;codecs=opus",
	Topic:    "My favourite holiday",
	Language: "en-US",
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := gemini.New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestEvaluate_DecodesResult(t *testing.T) {
	t.Parallel()
	srv, c := newServer(t, http.StatusOK, answer)
	e := newEvaluator(t, srv.URL)

	res, err := e.Evaluate(context.Background(), request)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Topic != "My favourite holiday" || res.Overall != 75 || res.Scores.Relevance != 90 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Feedback.Transcription != "Last summer I went to Italy." {
		t.Errorf("transcription = %q", res.Feedback.Transcription)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !strings.HasSuffix(c.path, "models/gemini-test:generateContent") {
		t.Errorf("path = %q", c.path)
	}
	raw, _ := json.Marshal(c.body)
	body := string(raw)
	for _, want := range []string{`"mimeType":"audio/ogg"`, `"responseMimeType":"application/json"`, "My favourite holiday"} {
		if !strings.Contains(body, want) {
			t.Errorf("request body missing %s", want)
		}
	}
	if strings.Contains(body, "codecs=opus") {
		t.Error("codec parameter not stripped from inline MIME type")
	}
}

func TestEvaluate_InvalidAnswer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{name: "not json", text: "I cannot evaluate this."},
		{name: "score out of range", text: `{"topic":"x","scores":{"fluency":120,"vocabulary":1,"grammar":1,"coherence":1,"relevance":1},"overall":50,"feedback":{}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv, _ := newServer(t, http.StatusOK, tc.text)
			e := newEvaluator(t, srv.URL)
			_, err := e.Evaluate(context.Background(), request)
			if !errors.Is(err, evaluate.ErrInvalidResult) {
				t.Fatalf("err = %v, want ErrInvalidResult", err)
			}
		})
	}
}

func TestEvaluate_ServerError(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, http.StatusInternalServerError, "")
	e := newEvaluator(t, srv.URL)

	if _, err := e.Evaluate(context.Background(), request); err == nil {
		t.Fatal("expected error from failing server")
	}
}

func TestEvaluate_EmptyAudio(t *testing.T) {
	t.Parallel()
	srv, c := newServer(t, http.StatusOK, answer)
	e := newEvaluator(t, srv.URL)

	req := request
	req.Audio = nil
	if _, err := e.Evaluate(context.Background(), req); !errors.Is(err, evaluate.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path != "" {
		t.Error("request sent for empty audio")
	}
}
