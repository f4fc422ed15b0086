package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/common"
)

var (
	// Persistent flags
	configFiles []string // Multiple --config flags supported, later files override earlier ones

	rootCmd = &cobra.Command{
		Use:           "atozbot",
		Short:         "Interpreter job portal bot",
		Long:          `Runs the AtoZ bot controller (serve) or a single supervised worker (worker).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (can be specified multiple times)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves defaults -> files -> env. With no --config it picks up
// atozbot.toml from the working directory or deployments/local.
func loadConfig() (*common.Config, []string, error) {
	paths := configFiles
	if len(paths) == 0 {
		for _, candidate := range []string{"atozbot.toml", "deployments/local/atozbot.toml"} {
			if _, err := os.Stat(candidate); err == nil {
				paths = []string{candidate}
				break
			}
		}
	}

	config, err := common.LoadFromFiles(paths...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Error().Strs("paths", paths).Err(err).Msg("Failed to load configuration")
		return nil, nil, err
	}
	return config, paths, nil
}
