// Command test-hotkey is a manual test for the global hotkey listener.
// Run it, then press Ctrl+Alt+L (toggle LED) or Ctrl+Alt+R (reload) to
// see the intents that would be sent. Nothing is sent to a device.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--config path]
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaz8081/ledlink/internal/config"
	"github.com/chaz8081/ledlink/internal/hotkey"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default bindings if empty)")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	bindings, err := cfg.HotkeyBindings()
	if err != nil {
		log.Fatalf("Invalid hotkey bindings: %v", err)
	}
	for _, b := range bindings {
		desc := b.Intent.String()
		if b.Alt != nil {
			desc += " / " + b.Alt.String()
		}
		fmt.Printf("  %-16s %s\n", strings.Join(b.Keys, "+"), desc)
	}
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(bindings)

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Read events
	go func() {
		for ev := range listener.Events() {
			fmt.Printf(">>> %s  (%s)\n", ev.Intent, strings.Join(ev.Keys, "+"))
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
