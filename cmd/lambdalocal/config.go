package main

import (
	"github.com/spf13/cobra"

	"github.com/oriys/lambdalocal/internal/config"
)

// loadConfig reads the daemon's layered configuration — defaults, then
// an optional config file, then environment variables — and applies
// whichever command-line flags the caller actually set, in that
// override order. Only flags the cobra parser marks Changed win over
// what the file/env layers already decided, mirroring nova's
// daemon.go wiring between its own flag set and loaded config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if cfgFile != "" {
		loaded, err := config.LoadFromFile(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	config.LoadFromEnv(cfg)

	if cmd.Flags().Changed("addr") {
		cfg.Daemon.Addr, _ = cmd.Flags().GetString("addr")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("max-concurrency") {
		cfg.Pool.MaxConcurrency, _ = cmd.Flags().GetInt("max-concurrency")
	}
	if cmd.Flags().Changed("ignore-changes") {
		cfg.Watcher.IgnoreChanges, _ = cmd.Flags().GetBool("ignore-changes")
	}

	return cfg, nil
}
