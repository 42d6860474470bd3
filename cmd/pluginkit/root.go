package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/macforge/pluginkit"
	"github.com/macforge/pluginkit/manager"
)

var (
	// Global flags.
	verbose    bool
	configPath string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pluginkit",
	Short: "Manage macOS automation plugins",
	Long: `Pluginkit validates, bundles, and installs automation plugins.

Submissions pass a default-deny security boundary before anything
touches the filesystem; installs are atomic and roll back on failure.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// slogLogger adapts log/slog to the pipeline's Logger interface.
type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Debug(_ context.Context, msg string, kv ...any) { s.l.Debug(msg, kv...) }
func (s slogLogger) Info(_ context.Context, msg string, kv ...any)  { s.l.Info(msg, kv...) }
func (s slogLogger) Error(_ context.Context, msg string, kv ...any) { s.l.Error(msg, kv...) }

// newLogger builds the CLI logger; debug level when --verbose is set.
func newLogger() pluginkit.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slogLogger{l: slog.New(handler)}
}

// newManager assembles a manager from the config file or defaults.
func newManager() (*manager.Manager, error) {
	cfg := manager.DefaultConfig()
	if configPath != "" {
		loaded, err := manager.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	opts, err := cfg.Build(newLogger())
	if err != nil {
		return nil, err
	}
	return manager.New(opts)
}
