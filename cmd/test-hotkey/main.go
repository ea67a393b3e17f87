// Command test-hotkey is a manual test for the global hotkey listener.
// Run it, then press Ctrl+Shift+I to see events.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--mode toggle|trigger]
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/chaz8081/irk-enroll/internal/hotkey"
)

func main() {
	mode := pflag.String("mode", "toggle", "hotkey mode: toggle or trigger")
	pflag.Parse()

	keys := []string{"ctrl", "shift", "i"}
	fmt.Printf("Listening for Ctrl+Shift+I in %q mode...\n", *mode)
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(keys, *mode)

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
			switch ev.Type {
			case hotkey.EventEnroll:
				fmt.Println(">>> ENROLL (start session)")
			case hotkey.EventToggle:
				fmt.Println("<>> TOGGLE (start or cancel)")
			}
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
