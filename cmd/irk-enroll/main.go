package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/chaz8081/irk-enroll/internal/ble"
	"github.com/chaz8081/irk-enroll/internal/bond"
	"github.com/chaz8081/irk-enroll/internal/config"
	"github.com/chaz8081/irk-enroll/internal/enroll"
	"github.com/chaz8081/irk-enroll/internal/hotkey"
	"github.com/chaz8081/irk-enroll/internal/inject"
	"github.com/chaz8081/irk-enroll/internal/irkstore"
	"github.com/chaz8081/irk-enroll/internal/publish"
)

func main() {
	// CLI flags
	configPath := pflag.StringP("config", "c", "", "path to config file (default: ~/.config/irk-enroll/config.yaml)")
	once := pflag.Bool("once", false, "run a single enrollment session and exit")
	writeConfig := pflag.Bool("write-config", false, "write the default config file and exit")
	timeout := pflag.Duration("timeout", 0, "override the session timeout (e.g. 90s)")
	showLatest := pflag.Bool("show-latest", false, "print the stored latest IRK and exit")
	pflag.Parse()

	if *writeConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
			return
		}
		log.Printf("Wrote default config to %s", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *once {
		cfg.AutoRestart = false
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	persister, err := openLatestStore(cfg)
	if err != nil {
		log.Fatalf("latest IRK store: %v", err)
	}
	publisher := publish.NewPublisher(persister)

	if *showLatest {
		printLatest(publisher)
		return
	}

	printBanner(cfg)

	// The sensor is the publisher's single observer; outputs hang off it.
	sensor := publish.NewTextSensor(cfg.LatestIRK.Name)
	sensor.OnValue(func(value string) {
		color.New(color.FgGreen, color.Bold).Printf("%s: %s\n", sensor.Name(), value)
	})
	var output *inject.Observer
	if cfg.LatestIRK.Output != "none" {
		output = inject.NewObserver(inject.NewInjector(cfg.LatestIRK.Output))
		sensor.OnValue(output.PublishState)
		log.Printf("IRK output ready (method: %s)", cfg.LatestIRK.Output)
	}
	// A restored value seeds the sensor only; outputs fire on new captures.
	publisher.SetLatestIRK(sensor)
	if value, ok := sensor.State(); ok {
		log.Printf("%s (restored): %s", sensor.Name(), value)
	}

	adv := ble.NewAdvertiser(ble.NewTinyGoAdapter(), ble.AdvertiserOptions{DeviceName: cfg.DeviceName})
	store := bond.NewBlueZStore(bond.BlueZOptions{
		Root:      cfg.BondStore.Path,
		Adapter:   cfg.BondStore.Adapter,
		AdapterID: cfg.BondStore.AdapterID,
		ByteOrder: bond.ByteOrder(cfg.BondStore.ByteOrder),
	})

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	var final enroll.Session
	engine := enroll.New(adv, bond.NewWatcher(store), publisher, enroll.Options{
		Timeout:      cfg.Timeout,
		PollInterval: cfg.PollInterval,
		RemoveBond:   cfg.BondStore.RemoveAfterCapture,
		AutoRestart:  cfg.AutoRestart,
		BackoffMax:   cfg.RestartBackoffMax,
		OnChange: func(s enroll.Session) {
			logSession(s)
			if *once && s.State.Terminal() {
				final = s
				stop()
			}
		},
	})

	if err := engine.Setup(); err != nil {
		if errors.Is(err, ble.ErrRadioUnavailable) {
			log.Fatalf("Bluetooth is unavailable: %v\n\nCheck that the adapter is powered on and bluetoothd is running.", err)
		}
		log.Fatalf("setup: %v", err)
	}
	if !cfg.AutoRestart {
		if _, err := engine.StartEnrollment(); err != nil {
			stop()
			if errors.Is(err, ble.ErrRadioUnavailable) {
				log.Fatalf("Bluetooth is unavailable: %v\n\nCheck that the adapter is powered on and bluetoothd is running.", err)
			}
			log.Fatalf("start: %v", err)
		}
	}

	var listener *hotkey.Listener
	if cfg.Hotkey.Enabled && !*once {
		listener = hotkey.NewListener(cfg.Hotkey.Keys, cfg.Hotkey.Mode)
		go listener.Start()
		go forwardHotkey(listener, engine)
		log.Printf("Hotkey ready (%s, mode: %s)", strings.Join(cfg.Hotkey.Keys, "+"), cfg.Hotkey.Mode)
	}

	log.Printf("Ready! Pair a phone with %q. Ctrl+C to quit.", cfg.DeviceName)

	runErr := engine.Run(ctx)
	stop()
	if output != nil {
		output.Close()
	}
	if runErr != nil {
		log.Printf("ERROR: %v", runErr)
	}

	code := 0
	switch {
	case runErr != nil:
		code = 1
	case *once && final.State != enroll.Published:
		code = 1
	}

	if listener != nil {
		listener.Stop()
		// Exit directly to avoid gohook's C cleanup crash.
		// The OS reclaims the event hook on process exit.
		os.Exit(code)
	}
	log.Println("Goodbye!")
	os.Exit(code)
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	cfg := config.Default()
	cfg.ExpandPaths()
	return cfg, nil
}

// openLatestStore returns the sealed latest-IRK store, or nil when
// persistence is disabled.
func openLatestStore(cfg *config.Config) (publish.Persister, error) {
	if cfg.LatestIRK.Path == "" {
		return nil, nil
	}
	store, err := irkstore.Open(cfg.LatestIRK.Path, cfg.LatestIRK.KeyFile)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func forwardHotkey(listener *hotkey.Listener, engine *enroll.Engine) {
	for ev := range listener.Events() {
		switch ev.Type {
		case hotkey.EventEnroll:
			engine.RequestStart()
		case hotkey.EventToggle:
			engine.RequestToggle()
		}
	}
}

func logSession(s enroll.Session) {
	switch s.State {
	case enroll.Advertising:
		log.Printf("Session %s: advertising, waiting for a central", shortID(s.ID))
	case enroll.Pairing:
		log.Printf("Session %s: %s connected, waiting for bond", shortID(s.ID), s.Peer)
	case enroll.Captured:
		log.Printf("Session %s: IRK captured from %s", shortID(s.ID), s.Identity.Peer)
	case enroll.Published:
		log.Printf("Session %s: published in %s", shortID(s.ID), s.EndedAt.Sub(s.StartedAt).Round(time.Millisecond))
	case enroll.Failed:
		log.Printf("Session %s: FAILED: %v", shortID(s.ID), s.Err)
	case enroll.Cancelled:
		log.Printf("Session %s: cancelled", shortID(s.ID))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printLatest(p *publish.Publisher) {
	latest, ok := p.Latest()
	if !ok {
		fmt.Println("No IRK has been published yet.")
		return
	}
	fmt.Println(latest.Value)
	fmt.Printf("  Peer:      %s\n", latest.Identity.Peer)
	fmt.Printf("  Published: %s\n", latest.PublishedAt.Local().Format(time.RFC1123))
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	title := color.New(color.FgCyan, color.Bold)
	title.Println("=== irk-enroll ===")
	fmt.Printf("  Name:     %s\n", cfg.DeviceName)
	fmt.Printf("  Timeout:  %s\n", cfg.Timeout)
	fmt.Printf("  Bonds:    %s (%s, remove after capture: %v)\n", cfg.BondStore.Path, cfg.BondStore.ByteOrder, cfg.BondStore.RemoveAfterCapture)
	if cfg.LatestIRK.Path != "" {
		fmt.Printf("  Store:    %s\n", cfg.LatestIRK.Path)
	}
	fmt.Printf("  Output:   %s\n", cfg.LatestIRK.Output)
	if cfg.Hotkey.Enabled {
		fmt.Printf("  Hotkey:   %s (%s mode)\n", strings.Join(cfg.Hotkey.Keys, "+"), cfg.Hotkey.Mode)
	}
	fmt.Printf("  Restart:  %v\n", cfg.AutoRestart)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	title.Println("==================")
}
