package recorder

import "github.com/MrWong99/speakwell/pkg/audio"

// Observer receives recording progress. Callbacks run on controller-owned
// goroutines, one at a time, and must not call Start, Stop, Cancel or Wait
// synchronously. Exactly one of OnComplete, OnError or OnCancelled is the
// terminal callback; nothing is delivered after it.
type Observer interface {
	// OnTranscriptUpdate receives the full live transcript after a fragment
	// has been appended.
	OnTranscriptUpdate(text string)

	// OnSilenceChanged reports silence transitions.
	OnSilenceChanged(silent bool)

	// OnElapsedTick reports the elapsed recording time in whole seconds.
	OnElapsedTick(seconds int)

	// OnComplete delivers the final artifact.
	OnComplete(artifact audio.Artifact)

	// OnError reports a terminal failure.
	OnError(reason FailureReason)

	// OnCancelled reports that the session was cancelled.
	OnCancelled()
}

// ObserverFuncs adapts optional functions to [Observer]. Nil fields are
// skipped.
type ObserverFuncs struct {
	TranscriptUpdate func(text string)
	SilenceChanged   func(silent bool)
	ElapsedTick      func(seconds int)
	Complete         func(artifact audio.Artifact)
	Error            func(reason FailureReason)
	Cancelled        func()
}

var _ Observer = ObserverFuncs{}

func (f ObserverFuncs) OnTranscriptUpdate(text string) {
	if f.TranscriptUpdate != nil {
		f.TranscriptUpdate(text)
	}
}

func (f ObserverFuncs) OnSilenceChanged(silent bool) {
	if f.SilenceChanged != nil {
		f.SilenceChanged(silent)
	}
}

func (f ObserverFuncs) OnElapsedTick(seconds int) {
	if f.ElapsedTick != nil {
		f.ElapsedTick(seconds)
	}
}

func (f ObserverFuncs) OnComplete(artifact audio.Artifact) {
	if f.Complete != nil {
		f.Complete(artifact)
	}
}

func (f ObserverFuncs) OnError(reason FailureReason) {
	if f.Error != nil {
		f.Error(reason)
	}
}

func (f ObserverFuncs) OnCancelled() {
	if f.Cancelled != nil {
		f.Cancelled()
	}
}
