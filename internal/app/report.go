package app

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MrWong99/speakwell/internal/history"
)

// WriteReport prints one history entry: metadata, live transcript, and the
// scores with feedback when the entry was evaluated.
func WriteReport(w io.Writer, e history.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "\nEntry:\t%s\n", e.ID)
	fmt.Fprintf(tw, "Recorded:\t%s\n", e.CreatedAt.Local().Format(time.DateTime))
	if e.Topic != "" {
		fmt.Fprintf(tw, "Topic:\t%s\n", e.Topic)
	}
	if e.Language != "" {
		fmt.Fprintf(tw, "Language:\t%s\n", e.Language)
	}
	if e.StudentID != "" || e.ClassID != "" {
		fmt.Fprintf(tw, "Student:\t%s\tClass: %s\n", orDash(e.StudentID), orDash(e.ClassID))
	}
	fmt.Fprintf(tw, "Audio:\t%s, %s\n", e.AudioDuration.Round(time.Second), e.AudioMIME)
	if e.AudioPath != "" {
		fmt.Fprintf(tw, "Saved to:\t%s\n", e.AudioPath)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if e.Transcript != "" {
		fmt.Fprintf(w, "\nLive transcript:\n  %s\n", strings.TrimSpace(e.Transcript))
	}

	switch {
	case e.Result != nil:
		return writeResult(w, e)
	case e.EvalError != "":
		_, err := fmt.Fprintf(w, "\nEvaluation failed: %s\n", e.EvalError)
		return err
	default:
		_, err := fmt.Fprintln(w, "\nNot evaluated.")
		return err
	}
}

func writeResult(w io.Writer, e history.Entry) error {
	r := e.Result
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "\nScore\t%d/100\n", r.Overall)
	rows := []struct {
		name     string
		score    int
		feedback string
	}{
		{"Fluency", r.Scores.Fluency, r.Feedback.Fluency},
		{"Vocabulary", r.Scores.Vocabulary, r.Feedback.Vocabulary},
		{"Grammar", r.Scores.Grammar, r.Feedback.Grammar},
		{"Coherence", r.Scores.Coherence, r.Feedback.Coherence},
		{"Relevance", r.Scores.Relevance, r.Feedback.Relevance},
	}
	for _, row := range rows {
		fmt.Fprintf(tw, "  %s\t%d\t%s\n", row.name, row.score, row.feedback)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if r.Feedback.Pronunciation != "" {
		fmt.Fprintf(w, "\nPronunciation: %s\n", r.Feedback.Pronunciation)
	}
	if r.Feedback.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", r.Feedback.Summary)
	}
	if r.Provider != "" {
		fmt.Fprintf(w, "\n(evaluated by %s)\n", r.Provider)
	}
	return nil
}

// WriteList prints entries as a table, one line each.
func WriteList(w io.Writer, entries []history.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tTOPIC\tLANG\tSTUDENT\tSCORE")
	for _, e := range entries {
		score := "-"
		if e.Result != nil {
			score = fmt.Sprint(e.Result.Overall)
		} else if e.EvalError != "" {
			score = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID.String()[:8],
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			truncate(orDash(e.Topic), 40),
			orDash(e.Language),
			orDash(e.StudentID),
			score,
		)
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
