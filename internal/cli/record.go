package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speakwell/internal/app"
	"github.com/MrWong99/speakwell/internal/recorder"
)

// NewRecordCmd returns the command that runs one practice session.
func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var (
		req    app.PracticeRequest
		noEval bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record an answer and have it evaluated",
		Long: "Record your answer to a topic from the microphone. Live captions appear while you speak.\n" +
			"Press Enter to finish early or Ctrl+C to discard the recording. The recording stops\n" +
			"on its own at recorder.max_duration.",
		Example: "  speakwell record --topic \"My favourite holiday\" --language en-GB\n" +
			"  speakwell record --candidates \"Sport,Travel,Technology at school\" --student s-17 --class 9b",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			req.SkipEvaluation = noEval

			providers, fb, closeFn, err := buildProviders(deps, !noEval)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := serveHealth(ctx, deps, providers.History, fb); err != nil {
				return err
			}

			application, err := app.New(deps.Config, providers,
				app.WithInput(cmd.InOrStdin()),
				app.WithOutput(cmd.OutOrStdout()),
				app.WithLogger(deps.Logger),
				app.WithMetrics(deps.Metrics),
			)
			if err != nil {
				return err
			}

			if _, err := application.Practice(ctx, req); err != nil {
				if errors.Is(err, recorder.ErrCancelled) {
					fmt.Fprintln(cmd.ErrOrStderr(), "Nothing was saved.")
					return nil
				}
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&req.Topic, "topic", "t", "", "topic to talk about")
	f.StringSliceVar(&req.Candidates, "candidates", nil, "comma-separated topics to choose from")
	f.StringVarP(&req.Language, "language", "l", "", "language you are practising, e.g. en-GB (default: first of transcription.languages)")
	f.StringVar(&req.StudentID, "student", "", "student tag stored with the session")
	f.StringVar(&req.ClassID, "class", "", "class tag stored with the session")
	f.BoolVar(&noEval, "no-eval", false, "record and store without evaluating")
	return cmd
}
