package cmd

import (
	"fmt"
	"os"

	"github.com/bnema/wlactivate/internal/config"
	"github.com/bnema/wlactivate/internal/logger"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage wlactivate configuration",
	Long:  `Show, locate or create the wlactivate configuration file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		logger.Info("Current Configuration:")
		logger.Infof("Config file: %s\n", config.GetConfigPath())

		logger.Info("[Display]")
		socket := cfg.Display.SocketPath()
		if socket == "" {
			socket = "$WAYLAND_DISPLAY"
		}
		logger.Infof("  Socket: %s", socket)

		showWindow("first_window", cfg.FirstWindow)
		showWindow("second_window", cfg.SecondWindow)

		logger.Info("\n[Activation]")
		logger.Infof("  Mode: %s", cfg.Activation.Mode)
		logger.Infof("  Delay: %s", cfg.Activation.Delay)
		if cfg.Activation.TokenAppID != "" {
			logger.Infof("  Token App ID: %s", cfg.Activation.TokenAppID)
		}

		if cfg.Logging.LogLevel != "" {
			logger.Info("\n[Logging]")
			logger.Infof("  Log Level: %s", cfg.Logging.LogLevel)
		}

		return nil
	},
}

func showWindow(section string, w config.WindowConfig) {
	logger.Infof("\n[%s]", section)
	logger.Infof("  Title: %s", w.Title)
	logger.Infof("  App ID: %s", w.AppID)
	logger.Infof("  Size: %dx%d", w.Width, w.Height)
	logger.Infof("  Color: %s", w.Color)
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.GetConfigPath())
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file with defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Check if config already exists
		configPath := config.GetConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				logger.Infof("Configuration file already exists at: %s", configPath)
				logger.Info("Use --force to overwrite")
				return nil
			}
		}

		if err := config.Save(); err != nil {
			return err
		}

		logger.Infof("Configuration initialized at: %s", configPath)
		logger.Info("\nYou can now:")
		logger.Info("  - Edit the configuration file directly")
		logger.Info("  - Use 'wlactivate config show' to view current settings")

		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().Bool("force", false, "Force overwrite existing configuration")
}
