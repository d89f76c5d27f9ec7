package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/chaz8081/ledlink/internal/ble"
	"github.com/chaz8081/ledlink/internal/ble/bluez"
	"github.com/chaz8081/ledlink/internal/config"
	"github.com/chaz8081/ledlink/internal/dispatch"
	"github.com/chaz8081/ledlink/internal/hotkey"
	"github.com/chaz8081/ledlink/internal/supervisor"
	"github.com/chaz8081/ledlink/internal/uisink"
)

const version = "0.1.0"

func main() {
	app := cli.NewApp()

	app.Name = "ledlink"
	app.Usage = "Keep a BLE link to an LED controller and drive it"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "path to config file (default: ~/.config/ledlink/config.yaml)"},
		cli.StringFlag{Name: "log-level", Usage: "override log_level (debug, info, warn, error)"},
	}
	app.Action = run

	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "Connect and keep the link up, rendering controller state",
			Action: run,
		},
		{
			Name:    "scan",
			Aliases: []string{"s"},
			Usage:   "List peripherals advertising the controller service",
			Action:  scan,
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "duration, d", Value: 5 * time.Second, Usage: "scan duration"},
			},
		},
		{
			Name:      "send",
			Usage:     "Connect, send one command and exit",
			ArgsUsage: "<led on|off | brightness N | mode static|blink | reload | save>",
			Action:    send,
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "timeout, t", Value: 30 * time.Second, Usage: "how long to wait for the link"},
			},
		},
		{
			Name:   "init",
			Usage:  "Write the default config file if none exists",
			Action: initConfig,
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("ledlink failed", "error", err)
		os.Exit(1)
	}
}

// setup loads and validates the config and installs the default logger.
func setup(c *cli.Context) (*config.Config, error) {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if lvl := c.GlobalString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))
	return cfg, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

// host bundles the platform collaborators of the link manager.
type host struct {
	radio     ble.Radio
	refresher ble.CacheRefresher
	perms     ble.PermissionAuthority
	close     func()
}

func openHost(cfg *config.Config) (*host, error) {
	if cfg.Radio.Backend == "none" {
		return &host{radio: ble.NopRadio{}, perms: ble.AllowAll{}, close: func() {}}, nil
	}

	adapter, err := bluez.Open(cfg.Radio.Adapter)
	if err != nil {
		return nil, fmt.Errorf("%w (set radio.backend to \"none\" on hosts without BlueZ)", err)
	}
	authority := bluez.NewAuthority(adapter, cfg.Radio.PermissionPoll)
	return &host{
		radio:     adapter,
		refresher: adapter,
		perms:     authority,
		close:     authority.Close,
	}, nil
}

func newManager(cfg *config.Config, h *host, obs ble.Observer, sup ble.Supervisor) (*ble.Manager, error) {
	key, err := cfg.AuthKey()
	if err != nil {
		return nil, err
	}
	return ble.NewManager(ble.ManagerConfig{
		Adapter:    ble.NewTinyGoAdapter(),
		Identity:   cfg.Identity(),
		IDs:        cfg.ServiceIDs(),
		AuthKey:    key,
		Radio:      h.radio,
		Refresher:  h.refresher,
		Perms:      h.perms,
		Supervisor: sup,
		Observer:   obs,
		Options:    cfg.Options(),
	})
}

func run(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h, err := openHost(cfg)
	if err != nil {
		return err
	}
	defer h.close()

	sinks := uisink.Multi{uisink.NewLogSink(nil)}

	var status *uisink.Status
	if cfg.UI.Status {
		status = uisink.NewStatus(uisink.NewTerminalRenderer(os.Stderr), cfg.StatusOptions())
		defer status.Close()
		sinks = append(sinks, status)
	}

	var dispatcher *dispatch.Dispatcher
	apply := func(ctx context.Context, in dispatch.Intent) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return dispatcher.Apply(ctx, in)
	}

	var hub *uisink.Hub
	if cfg.UI.Listen != "" {
		hub = uisink.NewHub(apply)
		sinks = append(sinks, hub)
	}

	dispatcher = dispatch.New(sinks)

	sup := supervisor.NewExec(func() {
		if status != nil {
			status.Close()
		}
		h.close()
	})

	manager, err := newManager(cfg, h, dispatcher, sup)
	if err != nil {
		return err
	}
	dispatcher.Bind(manager)

	hubErr := make(chan error, 1)
	if hub != nil {
		go func() {
			if err := hub.Serve(ctx, cfg.UI.Listen); err != nil {
				hubErr <- fmt.Errorf("websocket hub: %w", err)
				cancel()
			}
		}()
	}

	if cfg.Hotkeys.Enabled {
		bindings, err := cfg.HotkeyBindings()
		if err != nil {
			return err
		}
		listener := hotkey.NewListener(bindings)
		// The listener is never stopped: gohook's C cleanup can crash on
		// exit, and the OS reclaims the event hook anyway.
		go listener.Start()
		go func() {
			for ev := range listener.Events() {
				slog.Debug("[HOTKEY] pressed", "keys", strings.Join(ev.Keys, "+"), "intent", ev.Intent)
				go func(in dispatch.Intent) {
					if err := apply(ctx, in); err != nil {
						slog.Debug("[HOTKEY] intent not applied", "intent", in, "error", err)
					}
				}(ev.Intent)
			}
		}()
		slog.Info("Hotkeys ready", "bindings", len(bindings))
	}

	err = manager.Run(ctx)
	select {
	case herr := <-hubErr:
		return herr
	default:
	}
	if errors.Is(err, context.Canceled) {
		slog.Info("Shutting down")
		return nil
	}
	return err
}

func scan(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}

	d := c.Duration("duration")
	fmt.Printf("Scanning for %s...\n", d)
	devices, err := ble.ScanForDevices(ble.NewTinyGoAdapter(), ble.MatchService(cfg.Peripheral.Service), d)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No controllers found.")
		return nil
	}
	for _, dev := range devices {
		name := dev.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %-20s %-24s rssi=%d\n", dev.Address, name, dev.RSSI)
	}
	return nil
}

// noRestart lets a one-shot command fail instead of re-executing itself.
type noRestart struct{}

func (noRestart) Restart() {}

func send(c *cli.Context) error {
	if !c.Args().Present() {
		return cli.NewExitError("send: missing command, see --help", 2)
	}
	in, err := dispatch.ParseIntent(strings.Join(c.Args(), " "))
	if err != nil {
		return err
	}

	cfg, err := setup(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := openHost(cfg)
	if err != nil {
		return err
	}
	defer h.close()

	dispatcher := dispatch.New(uisink.NewLogSink(nil))
	manager, err := newManager(cfg, h, dispatcher, noRestart{})
	if err != nil {
		return err
	}
	dispatcher.Bind(manager)

	runErr := make(chan error, 1)
	go func() { runErr <- manager.Run(ctx) }()
	defer func() {
		manager.Close()
		<-runErr
	}()

	waitCtx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()
	if err := manager.WaitFor(waitCtx, ble.StateReady); err != nil {
		return fmt.Errorf("waiting for controller: %w", err)
	}

	if err := dispatcher.Apply(ctx, in); err != nil {
		return err
	}
	fmt.Printf("Sent %s\n", in)
	return nil
}

func initConfig(c *cli.Context) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== ledlink ===")
	fmt.Printf("  Target:  %s\n", cfg.Identity())
	fmt.Printf("  Radio:   %s (%s)\n", cfg.Radio.Backend, cfg.Radio.Adapter)
	fmt.Printf("  Retries: %d (power cycle after %s)\n", cfg.Retry.MaxRetries, cfg.Retry.Delay)
	if cfg.UI.Listen != "" {
		fmt.Printf("  Hub:     ws://%s/ws\n", cfg.UI.Listen)
	}
	fmt.Printf("  Hotkeys: %t\n", cfg.Hotkeys.Enabled)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("===============")
}
