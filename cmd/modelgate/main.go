// Package main is the entry point for the modelgate gateway and its CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"modelgate/config"
	"modelgate/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "modelgate",
	Short:         "modelgate - provider-agnostic LLM gateway",
	Long:          `Translate canonical conversations into Anthropic, OpenRouter, Bedrock and OpenAI requests and normalize their replies.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringP("provider", "p", "", "backend to use (anthropic, openrouter, bedrock, openai)")
	rootCmd.PersistentFlags().StringP("model", "m", "", "model id; empty selects the backend default")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(modelsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration named by --config and applies the
// command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if provider, _ := cmd.Flags().GetString("provider"); provider != "" {
		cfg.API.Provider = provider
	}
	if model, _ := cmd.Flags().GetString("model"); model != "" {
		cfg.API.ModelID = model
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the process logger on stderr so command output on stdout
// stays clean.
func newLogger(cfg *config.Config) *slog.Logger {
	logger := logging.New(os.Stderr, logging.Options{
		Format: cfg.Logging.Format,
		Level:  cfg.Logging.Level,
	})
	slog.SetDefault(logger)
	return logger
}
