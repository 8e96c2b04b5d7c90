// Package cli implements the speakwell command line.
//
// Commands receive their collaborators through [Dependencies]. The root
// command loads the configuration and installs the logger before any
// subcommand runs, so subcommands can rely on Dependencies.Config.
package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/pkg/audio/capture"
)

// Dependencies are shared by all commands.
type Dependencies struct {
	// Registry holds the provider factories. Required.
	Registry *config.Registry

	// Metrics is handed to the recorder and the evaluator chain. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// ListDevices enumerates microphones. Defaults to [capture.ListDevices].
	ListDevices func() ([]capture.DeviceInfo, error)

	In  io.Reader
	Out io.Writer
	Err io.Writer

	// Config and Logger are set by the root command.
	Config *config.Config
	Logger *slog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd(deps *Dependencies) *cobra.Command {
	if deps.In == nil {
		deps.In = os.Stdin
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Err == nil {
		deps.Err = os.Stderr
	}
	if deps.ListDevices == nil {
		deps.ListDevices = capture.ListDevices
	}

	var (
		configPath string
		logLevel   string
	)
	root := &cobra.Command{
		Use:   "speakwell",
		Short: "Practise speaking a language and get scored feedback",
		Long: "speakwell records your spoken answer to a topic, shows live captions while you talk,\n" +
			"scores fluency, vocabulary, grammar, coherence and relevance, and keeps a history\n" +
			"of your sessions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if logLevel != "" {
				lvl := config.LogLevel(logLevel)
				if !lvl.IsValid() {
					return fmt.Errorf("invalid --log-level %q; valid values: debug, info, warn, error", logLevel)
				}
				cfg.Server.LogLevel = lvl
			}
			deps.Config = cfg
			deps.Logger = NewLogger(cfg.Server, deps.Err)
			slog.SetDefault(deps.Logger)
			if deps.Metrics == nil {
				deps.Metrics = observe.DefaultMetrics()
			}
			deps.Logger.Debug("configuration loaded", "config", configPath, "providers", deps.Registry.Names())
			return nil
		},
	}
	root.SetIn(deps.In)
	root.SetOut(deps.Out)
	root.SetErr(deps.Err)

	root.PersistentFlags().StringVarP(&configPath, "config", "c", DefaultConfigPath(), "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	root.AddCommand(NewRecordCmd(deps))
	root.AddCommand(NewHistoryCmd(deps))
	root.AddCommand(NewDevicesCmd(deps))
	root.AddCommand(NewConfigCmd(deps))
	return root
}

// DefaultConfigPath is $XDG_CONFIG_HOME/speakwell/config.yaml or the
// platform equivalent.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "speakwell.yaml"
	}
	return filepath.Join(dir, "speakwell", "config.yaml")
}

// loadConfig reads path. A missing file at the default location yields the
// built-in defaults; a missing file the user named explicitly is an error.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}
