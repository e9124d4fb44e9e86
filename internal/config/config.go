// Package config handles configuration management using Viper
package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/spf13/viper"
)

// Activation modes
const (
	// ModeDirect requests a token for the first surface without an input serial.
	ModeDirect = "direct"
	// ModeInputSerial waits for a pointer button press on the first window and
	// binds the token to its serial.
	ModeInputSerial = "input-serial"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	// Display connection settings
	Display DisplayConfig `mapstructure:"display"`

	// Window that requests the activation token
	FirstWindow WindowConfig `mapstructure:"first_window"`

	// Window that gets activated with the token
	SecondWindow WindowConfig `mapstructure:"second_window"`

	Activation ActivationConfig `mapstructure:"activation"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// DisplayConfig selects the compositor socket
type DisplayConfig struct {
	// Socket is a path or a name relative to $XDG_RUNTIME_DIR. Empty means
	// $WAYLAND_DISPLAY, then wayland-0.
	Socket string `mapstructure:"socket"`
}

// WindowConfig describes one top-level window
type WindowConfig struct {
	Title  string `mapstructure:"title"`
	AppID  string `mapstructure:"app_id"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
	Color  string `mapstructure:"color"` // Hex color, e.g. "#ff0000"
}

// ActivationConfig controls the token handshake
type ActivationConfig struct {
	Mode       string        `mapstructure:"mode"`         // "direct" or "input-serial"
	Delay      time.Duration `mapstructure:"delay"`        // Wait between receiving the token and activating
	TokenAppID string        `mapstructure:"token_app_id"` // Optional app id attached to the token
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Display: DisplayConfig{
			Socket: "",
		},
		FirstWindow: WindowConfig{
			Title:  "First Window",
			AppID:  "com.example.firstwindow",
			Width:  200,
			Height: 200,
			Color:  "#ff0000",
		},
		SecondWindow: WindowConfig{
			Title:  "Second Window",
			AppID:  "com.example.secondwindow",
			Width:  200,
			Height: 200,
			Color:  "#ff0000",
		},
		Activation: ActivationConfig{
			Mode:       ModeDirect,
			Delay:      3 * time.Second,
			TokenAppID: "",
		},
		Logging: LoggingConfig{
			LogLevel: "", // Empty means use LOG_LEVEL env var
		},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("wlactivate")
	viper.SetConfigType("toml")

	readFile := true
	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
		// A missing explicit file is fine, "config init" creates it.
		if _, err := os.Stat(configPathOverride); errors.Is(err, os.ErrNotExist) {
			readFile = false
		}
	} else {
		if home := os.Getenv("HOME"); home != "" {
			viper.AddConfigPath(filepath.Join(home, ".config", "wlactivate"))
		}
		viper.AddConfigPath(".") // Current directory (lowest priority)
	}

	// Set defaults - need to set individual fields for proper merging
	viper.SetDefault("display.socket", DefaultConfig.Display.Socket)

	setWindowDefaults("first_window", DefaultConfig.FirstWindow)
	setWindowDefaults("second_window", DefaultConfig.SecondWindow)

	viper.SetDefault("activation.mode", DefaultConfig.Activation.Mode)
	viper.SetDefault("activation.delay", DefaultConfig.Activation.Delay)
	viper.SetDefault("activation.token_app_id", DefaultConfig.Activation.TokenAppID)

	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)

	// Read config file if it exists
	if readFile {
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	c := &Config{}
	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return err
	}

	cfg = c
	return nil
}

func setWindowDefaults(key string, w WindowConfig) {
	viper.SetDefault(key+".title", w.Title)
	viper.SetDefault(key+".app_id", w.AppID)
	viper.SetDefault(key+".width", w.Width)
	viper.SetDefault(key+".height", w.Height)
	viper.SetDefault(key+".color", w.Color)
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		c := DefaultConfig
		return &c
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Validate checks values that viper cannot check for us.
func (c *Config) Validate() error {
	switch c.Activation.Mode {
	case ModeDirect, ModeInputSerial:
	default:
		return fmt.Errorf("%w: activation.mode must be %q or %q, got %q", ErrInvalid, ModeDirect, ModeInputSerial, c.Activation.Mode)
	}
	if c.Activation.Delay < 0 {
		return fmt.Errorf("%w: activation.delay must not be negative", ErrInvalid)
	}
	if err := c.FirstWindow.validate("first_window"); err != nil {
		return err
	}
	return c.SecondWindow.validate("second_window")
}

func (w WindowConfig) validate(key string) error {
	if w.Width <= 0 || w.Height <= 0 {
		return fmt.Errorf("%w: %s size must be positive, got %dx%d", ErrInvalid, key, w.Width, w.Height)
	}
	if _, err := w.ParseColor(); err != nil {
		return fmt.Errorf("%w: %s.color: %v", ErrInvalid, key, err)
	}
	return nil
}

// ParseColor parses the hex color of the window.
func (w WindowConfig) ParseColor() (color.Color, error) {
	c, err := colorful.Hex(w.Color)
	if err != nil {
		return nil, err
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
}

// Save writes the current configuration to file
func Save() error {
	configPath := GetConfigPath()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}

	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "wlactivate.toml"
	}

	return filepath.Join(home, ".config", "wlactivate", "wlactivate.toml")
}

// SocketPath resolves the display socket the same way libwayland does: an
// absolute path is used as is, anything else is relative to
// $XDG_RUNTIME_DIR. An empty result lets the client library pick
// $WAYLAND_DISPLAY.
func (d DisplayConfig) SocketPath() string {
	if d.Socket == "" || filepath.IsAbs(d.Socket) {
		return d.Socket
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return d.Socket
	}
	return filepath.Join(runtimeDir, d.Socket)
}
