package encode

import (
	"errors"
	"testing"
)

func TestNegotiate_SkipsFormatWhoseEncoderFails(t *testing.T) {
	// Not parallel: swaps the package-level opus constructor.
	orig := openOpus
	t.Cleanup(func() { openOpus = orig })
	openOpus = func(Options) (Encoder, error) { return nil, errors.New("libopus missing") }

	enc, err := Negotiate([]string{MIMEOggOpus, MIMEWAV}, Options{})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if got := enc.MIMEType(); got != MIMEWAV {
		t.Errorf("MIMEType = %q, want %q", got, MIMEWAV)
	}

	if _, err := Negotiate([]string{MIMEOggOpus, MIMEOgg}, Options{}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported when every encoder fails", err)
	}
}
