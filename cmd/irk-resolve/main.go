// Command irk-resolve checks whether an IRK resolves Bluetooth addresses.
// Use it to confirm that an enrolled phone is recognised when it shows up
// with a fresh resolvable private address.
//
// Usage:
//
//	irk-resolve --irk <hex> <address>...
//	irk-resolve --latest [--config path] <address>...
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/chaz8081/irk-enroll/internal/config"
	"github.com/chaz8081/irk-enroll/internal/irk"
	"github.com/chaz8081/irk-enroll/internal/irkstore"
	"github.com/chaz8081/irk-enroll/internal/publish"
)

func main() {
	keyHex := pflag.String("irk", "", "identity resolving key as 32 hex digits")
	useLatest := pflag.Bool("latest", false, "use the latest IRK stored by irk-enroll")
	configPath := pflag.StringP("config", "c", "", "path to config file (with --latest)")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: irk-resolve (--irk <hex> | --latest) <address>...\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() == 0 || (*keyHex == "") == !*useLatest {
		pflag.Usage()
		os.Exit(2)
	}

	key, err := resolveKey(*keyHex, *useLatest, *configPath)
	if err != nil {
		log.Fatalf("irk: %v", err)
	}

	yes := color.New(color.FgGreen, color.Bold).SprintFunc()
	no := color.New(color.FgRed).SprintFunc()

	matched := 0
	for _, arg := range pflag.Args() {
		addr, err := irk.ParseAddress(arg)
		if err != nil {
			fmt.Printf("%-17s  %s\n", arg, no("invalid address"))
			continue
		}
		if key.Resolves(addr) {
			matched++
			fmt.Printf("%s  %-22s  %s\n", addr, addr.Kind(), yes("resolves"))
			continue
		}
		fmt.Printf("%s  %-22s  %s\n", addr, addr.Kind(), no("no match"))
	}

	if matched == 0 {
		os.Exit(1)
	}
}

func resolveKey(keyHex string, useLatest bool, configPath string) (irk.Key, error) {
	if !useLatest {
		return irk.ParseKey(keyHex)
	}

	cfg := config.Default()
	cfg.ExpandPaths()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return irk.Key{}, err
		}
		cfg = loaded
	}
	if cfg.LatestIRK.Path == "" {
		return irk.Key{}, fmt.Errorf("latest_irk.path is not configured")
	}

	store, err := irkstore.Open(cfg.LatestIRK.Path, cfg.LatestIRK.KeyFile)
	if err != nil {
		return irk.Key{}, err
	}
	latest, ok := publish.NewPublisher(store).Latest()
	if !ok {
		return irk.Key{}, fmt.Errorf("no IRK stored at %s", store.Path())
	}
	return latest.Identity.Key, nil
}
