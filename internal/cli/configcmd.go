package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/speakwell/internal/config"
)

const redacted = "<redacted>"

// NewConfigCmd returns the command that prints the effective configuration.
func NewConfigCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(redact(*deps.Config)); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

// redact returns a copy of cfg without API keys or the database DSN.
func redact(cfg config.Config) config.Config {
	hide := func(e *config.ProviderEntry) {
		if e.APIKey != "" {
			e.APIKey = redacted
		}
	}
	hide(&cfg.Transcription.ProviderEntry)
	hide(&cfg.Evaluation.Primary)
	fallbacks := make([]config.ProviderEntry, len(cfg.Evaluation.Fallbacks))
	copy(fallbacks, cfg.Evaluation.Fallbacks)
	for i := range fallbacks {
		hide(&fallbacks[i])
	}
	cfg.Evaluation.Fallbacks = fallbacks
	if cfg.History.PostgresDSN != "" {
		cfg.History.PostgresDSN = redacted
	}
	return cfg
}
