package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/bnema/wlactivate/internal/activation"
	"github.com/bnema/wlactivate/internal/config"
	"github.com/bnema/wlactivate/internal/wayland"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// GlobalsInfo is the --json output of the globals command
type GlobalsInfo struct {
	Globals []wayland.Global `json:"globals"`
	Missing []string         `json:"missing,omitempty"`
	Error   string           `json:"error,omitempty"`
}

var (
	jsonOutput bool

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).MarginBottom(1)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

var globalsCmd = &cobra.Command{
	Use:   "globals",
	Short: "List the globals advertised by the compositor",
	Long: `Connect to the compositor, list every global in its registry and check
that the interfaces needed for the activation handshake are present.`,
	RunE: runGlobals,
}

func init() {
	globalsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
}

func runGlobals(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	c, err := wayland.Connect(cfg.Display.SocketPath(), wayland.Options{})
	if err != nil {
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(GlobalsInfo{Error: err.Error()})
		}
		return err
	}
	defer c.Close()

	required := activation.RequiredGlobals(cfg.Activation.Mode)
	info := GlobalsInfo{
		Globals: c.Globals(),
		Missing: missingGlobals(c.Globals(), required),
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(info)
	}
	printGlobals(os.Stdout, info, required)
	return nil
}

func missingGlobals(globals []wayland.Global, required []string) []string {
	have := make(map[string]bool, len(globals))
	for _, g := range globals {
		have[g.Interface] = true
	}
	var missing []string
	for _, iface := range required {
		if !have[iface] {
			missing = append(missing, iface)
		}
	}
	return missing
}

func printGlobals(w io.Writer, info GlobalsInfo, required []string) {
	needed := make(map[string]bool, len(required))
	for _, iface := range required {
		needed[iface] = true
	}

	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%d global(s) advertised", len(info.Globals))))
	for _, g := range info.Globals {
		line := fmt.Sprintf("%4d  %-40s v%d", g.Name, g.Interface, g.Version)
		if needed[g.Interface] {
			fmt.Fprintln(w, successStyle.Render(line+"  (required)"))
		} else {
			fmt.Fprintln(w, dimStyle.Render(line))
		}
	}

	fmt.Fprintln(w)
	if len(info.Missing) == 0 {
		fmt.Fprintln(w, successStyle.Render("All required globals are available"))
		return
	}
	for _, iface := range info.Missing {
		fmt.Fprintln(w, errorStyle.Render("missing: "+iface))
	}
}
