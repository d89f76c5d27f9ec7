package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/ledlink/internal/ble"
	"github.com/chaz8081/ledlink/internal/hotkey"
	"github.com/chaz8081/ledlink/internal/uisink"
)

// Config holds all application configuration.
type Config struct {
	Peripheral PeripheralConfig `yaml:"peripheral"`
	Retry      RetryConfig      `yaml:"retry"`
	Setup      SetupConfig      `yaml:"setup"`
	Radio      RadioConfig      `yaml:"radio"`
	UI         UIConfig         `yaml:"ui"`
	Hotkeys    HotkeysConfig    `yaml:"hotkeys"`
	LogLevel   string           `yaml:"log_level"`
}

// PeripheralConfig identifies the controller and its GATT layout.
type PeripheralConfig struct {
	Match       string `yaml:"match"` // "address", "name" or "service"
	Address     string `yaml:"address"`
	Name        string `yaml:"name"`
	Service     string `yaml:"service"`
	Auth        string `yaml:"auth"`
	Write       string `yaml:"write"`
	Notify      string `yaml:"notify"`
	CCCD        string `yaml:"cccd"`
	AuthKey     string `yaml:"auth_key"`
	AuthKeyFile string `yaml:"auth_key_file"` // overrides auth_key when set
}

// RetryConfig holds the reconnect policy.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	Delay          time.Duration `yaml:"delay"`
	AdapterOff     time.Duration `yaml:"adapter_off"`
	AdapterSettle  time.Duration `yaml:"adapter_settle"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RescanDelay    time.Duration `yaml:"rescan_delay"`
}

// SetupConfig holds the post-connect settle delays.
type SetupConfig struct {
	AuthSettle   time.Duration `yaml:"auth_settle"`
	NotifySettle time.Duration `yaml:"notify_settle"`
	DismissDelay time.Duration `yaml:"dismiss_delay"`
}

// RadioConfig selects the host adapter housekeeping backend.
type RadioConfig struct {
	Backend        string        `yaml:"backend"` // "bluez" or "none"
	Adapter        string        `yaml:"adapter"`
	PermissionPoll time.Duration `yaml:"permission_poll"`
}

// UIConfig holds the status indicator and websocket hub settings.
type UIConfig struct {
	Listen       string        `yaml:"listen"` // empty disables the websocket hub
	Status       bool          `yaml:"status"`
	DotsInterval time.Duration `yaml:"dots_interval"`
	Debounce     time.Duration `yaml:"debounce"`
}

// HotkeysConfig holds the global hotkey bindings.
type HotkeysConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Bindings []HotkeyBinding `yaml:"bindings"`
}

// HotkeyBinding binds a key combo to an intent such as "led on". Alt makes
// the combo toggle between the two intents.
type HotkeyBinding struct {
	Keys   []string `yaml:"keys"`
	Intent string   `yaml:"intent"`
	Alt    string   `yaml:"alt,omitempty"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ledlink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Peripheral: PeripheralConfig{
			Match:   "address",
			Address: "B0:B2:1C:F8:98:0E",
			Service: "35e2384d-09ba-40ec-8cc2-a491e7bcd763",
			Auth:    "e58b4b34-daa6-4a79-8a4c-50d63e6e767f",
			Write:   "9d5cb5f2-5eb2-4b7c-a5d4-21e61c9c6f36",
			Notify:  "a9248655-7f1b-4e18-bf36-ad1ee859983f",
			CCCD:    ble.StandardCCCD,
			AuthKey: "your_auth_key",
		},
		Retry: RetryConfig{
			MaxRetries:     4,
			Delay:          2 * time.Second,
			AdapterOff:     2 * time.Second,
			AdapterSettle:  1 * time.Second,
			ConnectTimeout: 10 * time.Second,
			RescanDelay:    2 * time.Second,
		},
		Setup: SetupConfig{
			AuthSettle:   500 * time.Millisecond,
			NotifySettle: 500 * time.Millisecond,
			DismissDelay: 700 * time.Millisecond,
		},
		Radio: RadioConfig{
			Backend:        "bluez",
			Adapter:        "hci0",
			PermissionPoll: 2 * time.Second,
		},
		UI: UIConfig{
			Status:       true,
			DotsInterval: 120 * time.Millisecond,
			Debounce:     300 * time.Millisecond,
		},
		Hotkeys: HotkeysConfig{
			Enabled: false,
			Bindings: []HotkeyBinding{
				{Keys: []string{"ctrl", "alt", "l"}, Intent: "led on", Alt: "led off"},
				{Keys: []string{"ctrl", "alt", "b"}, Intent: "brightness 64", Alt: "brightness 255"},
				{Keys: []string{"ctrl", "alt", "m"}, Intent: "mode blink", Alt: "mode static"},
				{Keys: []string{"ctrl", "alt", "r"}, Intent: "reload"},
				{Keys: []string{"ctrl", "alt", "s"}, Intent: "save"},
			},
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in auth_key_file is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Peripheral.AuthKeyFile = expandTilde(cfg.Peripheral.AuthKeyFile)

	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there. It returns the path written, or "" if a config was
// already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	body, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	header := "# ledlink configuration\n# Set peripheral.auth_key to the key flashed into the controller firmware.\n\n"
	if err := os.WriteFile(path, append([]byte(header), body...), 0o600); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	p := c.Peripheral
	switch p.Match {
	case "address":
		if err := validateAddress(p.Address); err != nil {
			return fmt.Errorf("peripheral.address: %w", err)
		}
	case "name":
		if p.Name == "" {
			return fmt.Errorf("peripheral.name must not be empty when match is \"name\"")
		}
	case "service":
	default:
		return fmt.Errorf("peripheral.match must be \"address\", \"name\" or \"service\", got %q", p.Match)
	}

	for _, f := range []struct{ name, value string }{
		{"service", p.Service},
		{"auth", p.Auth},
		{"write", p.Write},
		{"notify", p.Notify},
		{"cccd", p.CCCD},
	} {
		if _, err := uuid.Parse(f.value); err != nil {
			return fmt.Errorf("peripheral.%s must be a UUID, got %q: %w", f.name, f.value, err)
		}
	}

	if p.AuthKey == "" && p.AuthKeyFile == "" {
		return fmt.Errorf("peripheral.auth_key or peripheral.auth_key_file must be set")
	}

	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("retry.max_retries must be >= 1")
	}
	if c.Retry.ConnectTimeout <= 0 {
		return fmt.Errorf("retry.connect_timeout must be > 0")
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"retry.delay", c.Retry.Delay},
		{"retry.adapter_off", c.Retry.AdapterOff},
		{"retry.adapter_settle", c.Retry.AdapterSettle},
		{"retry.rescan_delay", c.Retry.RescanDelay},
		{"setup.auth_settle", c.Setup.AuthSettle},
		{"setup.notify_settle", c.Setup.NotifySettle},
		{"setup.dismiss_delay", c.Setup.DismissDelay},
		{"ui.debounce", c.UI.Debounce},
	} {
		if d.value < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
	}
	if c.UI.DotsInterval <= 0 {
		return fmt.Errorf("ui.dots_interval must be > 0")
	}

	switch c.Radio.Backend {
	case "bluez":
		if c.Radio.Adapter == "" {
			return fmt.Errorf("radio.adapter must not be empty for the bluez backend")
		}
	case "none":
	default:
		return fmt.Errorf("radio.backend must be \"bluez\" or \"none\", got %q", c.Radio.Backend)
	}

	if c.Hotkeys.Enabled {
		if _, err := c.HotkeyBindings(); err != nil {
			return err
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// validateAddress checks the XX:XX:XX:XX:XX:XX form.
func validateAddress(address string) error {
	parts := strings.Split(address, ":")
	if len(parts) != 6 {
		return fmt.Errorf("invalid BLE address %q (expected XX:XX:XX:XX:XX:XX)", address)
	}
	for _, part := range parts {
		if len(part) != 2 || strings.Trim(part, "0123456789abcdefABCDEF") != "" {
			return fmt.Errorf("invalid BLE address %q (expected XX:XX:XX:XX:XX:XX)", address)
		}
	}
	return nil
}

// Identity returns the peripheral selection strategy.
func (c *Config) Identity() ble.Identity {
	switch c.Peripheral.Match {
	case "name":
		return ble.MatchName(c.Peripheral.Name)
	case "service":
		return ble.MatchService(c.Peripheral.Service)
	default:
		return ble.MatchAddress(c.Peripheral.Address)
	}
}

// ServiceIDs returns the configured GATT identifiers.
func (c *Config) ServiceIDs() ble.ServiceIDs {
	p := c.Peripheral
	return ble.ServiceIDs{
		Service: strings.ToLower(p.Service),
		Auth:    strings.ToLower(p.Auth),
		Write:   strings.ToLower(p.Write),
		Notify:  strings.ToLower(p.Notify),
		CCCD:    strings.ToLower(p.CCCD),
	}
}

// AuthKey returns the pre-shared key, read from auth_key_file when set.
// A single trailing newline in the file is ignored.
func (c *Config) AuthKey() ([]byte, error) {
	if c.Peripheral.AuthKeyFile == "" {
		return []byte(c.Peripheral.AuthKey), nil
	}
	data, err := os.ReadFile(c.Peripheral.AuthKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading auth key file: %w", err)
	}
	data = []byte(strings.TrimSuffix(strings.TrimSuffix(string(data), "\n"), "\r"))
	if len(data) == 0 {
		return nil, fmt.Errorf("auth key file %s is empty", c.Peripheral.AuthKeyFile)
	}
	return data, nil
}

// Options returns the connection manager timings.
func (c *Config) Options() ble.Options {
	return ble.Options{
		MaxRetries:     c.Retry.MaxRetries,
		RetryDelay:     c.Retry.Delay,
		AdapterOff:     c.Retry.AdapterOff,
		AdapterSettle:  c.Retry.AdapterSettle,
		ConnectTimeout: c.Retry.ConnectTimeout,
		AuthSettle:     c.Setup.AuthSettle,
		NotifySettle:   c.Setup.NotifySettle,
		RescanDelay:    c.Retry.RescanDelay,
	}
}

// StatusOptions returns the status indicator timings.
func (c *Config) StatusOptions() uisink.StatusOptions {
	return uisink.StatusOptions{
		DotsInterval: c.UI.DotsInterval,
		Debounce:     c.UI.Debounce,
		DismissDelay: c.Setup.DismissDelay,
	}
}

// HotkeyBindings parses the configured bindings.
func (c *Config) HotkeyBindings() ([]hotkey.Binding, error) {
	out := make([]hotkey.Binding, 0, len(c.Hotkeys.Bindings))
	for i, b := range c.Hotkeys.Bindings {
		binding, err := hotkey.NewBinding(b.Keys, b.Intent, b.Alt)
		if err != nil {
			return nil, fmt.Errorf("hotkeys.bindings[%d]: %w", i, err)
		}
		out = append(out, binding)
	}
	return out, nil
}

// ParseLogLevel maps a config log level to slog. Unknown values map to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
