package cmd

import (
	"fmt"

	"github.com/bnema/wlactivate/internal/config"
	"github.com/bnema/wlactivate/internal/logger"
	"github.com/spf13/cobra"
)

var (
	configFile string

	rootCmd = &cobra.Command{
		Use:   "wlactivate",
		Short: "wlactivate - xdg-activation handshake demo",
		Long: `wlactivate opens two windows on a Wayland compositor and uses the
xdg-activation-v1 protocol to hand focus from the first one to the second:
a token is requested on behalf of the first window, optionally tied to a
pointer click, and redeemed to activate the second window.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
		RunE:              runActivate,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default $HOME/.config/wlactivate/wlactivate.toml)")

	// The root command behaves like "run".
	addRunFlags(rootCmd)

	// Add commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(globalsCmd)
	rootCmd.AddCommand(configCmd)
}

func initConfig(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Lookup("mode") != nil {
		bindRunFlags(cmd.Flags())
	}
	if configFile != "" {
		config.SetConfigPath(configFile)
	}
	if err := config.Init(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if level := config.Get().Logging.LogLevel; level != "" {
		logger.SetLevel(level)
	}
	return nil
}
