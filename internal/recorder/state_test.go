package recorder_test

import (
	"testing"

	"github.com/MrWong99/speakwell/internal/recorder"
	"github.com/MrWong99/speakwell/pkg/audio"
)

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state    recorder.State
		want     string
		terminal bool
	}{
		{recorder.Idle, "idle", false},
		{recorder.Requesting, "requesting", false},
		{recorder.Active, "active", false},
		{recorder.Stopping, "stopping", false},
		{recorder.Stopped, "stopped", true},
		{recorder.Failed, "failed", true},
		{recorder.State(99), "State(99)", false},
	}
	for _, tc := range tests {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
		if got := tc.state.Terminal(); got != tc.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tc.want, got, tc.terminal)
		}
	}
}

func TestFailureReason_String(t *testing.T) {
	t.Parallel()

	for r, want := range map[recorder.FailureReason]string{
		recorder.NoFailure:        "none",
		recorder.MicrophoneDenied: "microphone_denied",
		recorder.StreamError:      "stream_error",
		recorder.Unknown:          "unknown",
	} {
		if got := r.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestObserverFuncs_NilFieldsAreSkipped(t *testing.T) {
	t.Parallel()

	var completed bool
	o := recorder.ObserverFuncs{Complete: func(_ audio.Artifact) { completed = true }}
	o.OnTranscriptUpdate("x")
	o.OnSilenceChanged(true)
	o.OnElapsedTick(1)
	o.OnError(recorder.Unknown)
	o.OnCancelled()
	o.OnComplete(audio.Artifact{})
	if !completed {
		t.Error("Complete not called")
	}
}
