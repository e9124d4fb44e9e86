package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bnema/wlactivate/internal/config"
	"github.com/bnema/wlactivate/internal/wayland"
	"github.com/bnema/wlactivate/internal/wltest"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to execute cobra commands in tests
func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// isolate points HOME and the working directory at scratch dirs and resets
// the global config state between commands.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	chdir(t, t.TempDir())

	reset := func() {
		viper.Reset()
		configFile = ""
		config.SetConfigPath("")
		config.Set(nil)
	}
	reset()
	t.Cleanup(reset)
	return home
}

func TestConfigInit(t *testing.T) {
	home := isolate(t)
	configPath := filepath.Join(home, ".config", "wlactivate", "wlactivate.toml")

	_, err := executeCommand(rootCmd, "config", "init")
	require.NoError(t, err)
	require.FileExists(t, configPath)

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "first_window")
	assert.Contains(t, string(data), config.ModeDirect)
}

func TestConfigInitKeepsExistingFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.toml")
	content := "[activation]\nmode = \"input-serial\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	_, err := executeCommand(rootCmd, "--config", path, "config", "init")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
	assert.Equal(t, config.ModeInputSerial, config.Get().Activation.Mode)
}

func TestConfigPath(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "elsewhere.toml")

	out, err := executeCommand(rootCmd, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path, strings.TrimSpace(out))
}

func TestInvalidConfigIsRejected(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[activation]\nmode = \"sideways\"\n"), 0600))

	_, err := executeCommand(rootCmd, "--config", path, "config", "show")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRunCommand(t *testing.T) {
	isolate(t)
	srv, err := wltest.NewServer(t.TempDir(), wltest.Options{CloseAfterActivate: true})
	require.NoError(t, err)
	defer srv.Close()

	_, err = executeCommand(rootCmd, "run", "--socket", srv.Path, "--delay", "0s", "--token-app-id", "com.example.secondwindow")
	require.NoError(t, err)

	rec := srv.Record()
	assert.Empty(t, rec.Violations)
	require.Len(t, rec.Surfaces, 2)
	require.Len(t, rec.Tokens, 1)
	assert.Equal(t, "com.example.secondwindow", rec.Tokens[0].AppID)
	require.Len(t, rec.Activations, 1)
	assert.Equal(t, rec.Surfaces[1].ID, rec.Activations[0].Surface)

	cfg := config.Get()
	assert.Equal(t, srv.Path, cfg.Display.Socket)
	assert.Zero(t, cfg.Activation.Delay)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	isolate(t)

	_, err := executeCommand(rootCmd, "run", "--mode", "sideways")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestMissingGlobals(t *testing.T) {
	globals := []wayland.Global{
		{Name: 1, Interface: "wl_compositor", Version: 4},
		{Name: 2, Interface: "wl_shm", Version: 1},
	}
	missing := missingGlobals(globals, []string{"wl_compositor", "xdg_wm_base", "wl_shm", "xdg_activation_v1"})
	assert.Equal(t, []string{"xdg_wm_base", "xdg_activation_v1"}, missing)
	assert.Empty(t, missingGlobals(globals, []string{"wl_shm"}))
}

func TestPrintGlobals(t *testing.T) {
	info := GlobalsInfo{
		Globals: []wayland.Global{
			{Name: 1, Interface: "wl_compositor", Version: 4},
			{Name: 7, Interface: "wl_output", Version: 3},
		},
		Missing: []string{"xdg_activation_v1"},
	}

	var buf bytes.Buffer
	printGlobals(&buf, info, []string{"wl_compositor", "xdg_activation_v1"})
	out := buf.String()

	assert.Contains(t, out, "2 global(s) advertised")
	assert.Contains(t, out, "wl_compositor")
	assert.Contains(t, out, "(required)")
	assert.Contains(t, out, "wl_output")
	assert.Contains(t, out, "missing: xdg_activation_v1")
}
