// Package main is the ccagent binary: a coding agent speaking line-delimited
// JSON-RPC over stdio or, behind the HTTP bridge, over POST plus server-sent
// events.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DefikitTeam/claude-code-container-sub003/config"
)

// version is set at build time via -ldflags.
var version = "0.1.0"

// Global flags.
var (
	configFile string
	logLevel   string
	logFormat  string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ccagent",
		Short: "Coding agent speaking the agent client protocol",
		Long: `ccagent runs prompt turns against Anthropic or OpenAI models and talks
to its client over JSON-RPC: initialize, session/new, session/load,
session/prompt and cancel, with session/update notifications streaming
progress back. Configuration is environment-first; --config overlays a
YAML file on top.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file overlaying the environment")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")

	root.AddCommand(newServeCmd())
	root.AddCommand(newServeHTTPCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// loadConfig resolves configuration from the environment, then the optional
// config file, then command line flags, in increasing precedence.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
