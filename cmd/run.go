package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bnema/wlactivate/internal/activation"
	"github.com/bnema/wlactivate/internal/config"
	"github.com/bnema/wlactivate/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open both windows and perform the activation handshake",
	Long: `Open the first window, request an activation token for it, then open
the second window and activate it with the token.

In "direct" mode the token is requested right away. In "input-serial" mode
wlactivate waits for a click inside the first window and ties the token to
that click, which is what most compositors require before honoring the
activation.`,
	RunE: runActivate,
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("mode", "m", config.DefaultConfig.Activation.Mode, `Activation mode: "direct" or "input-serial"`)
	flags.DurationP("delay", "d", config.DefaultConfig.Activation.Delay, "Wait between receiving the token and activating")
	flags.StringP("socket", "s", "", "Wayland socket name or path (default $WAYLAND_DISPLAY)")
	flags.String("token-app-id", "", "App id attached to the activation token")
}

// bindRunFlags points viper at the flags of the command actually running, so
// that "wlactivate" and "wlactivate run" share the same keys.
func bindRunFlags(flags *pflag.FlagSet) {
	viper.BindPFlag("activation.mode", flags.Lookup("mode"))
	viper.BindPFlag("activation.delay", flags.Lookup("delay"))
	viper.BindPFlag("display.socket", flags.Lookup("socket"))
	viper.BindPFlag("activation.token_app_id", flags.Lookup("token-app-id"))
}

func runActivate(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Debug("Starting activation session",
		"mode", cfg.Activation.Mode,
		"delay", cfg.Activation.Delay,
		"socket", cfg.Display.SocketPath())

	return activation.NewSession(cfg).Run(ctx)
}
