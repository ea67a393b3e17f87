package bond

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/chaz8081/irk-enroll/internal/irk"
)

// ByteOrder is the octet order of the IRK as written in the bond store.
type ByteOrder string

const (
	// MSBFirst keys are stored in display order.
	MSBFirst ByteOrder = "msb"
	// LSBFirst keys are stored reversed, as received over SMP.
	LSBFirst ByteOrder = "lsb"
)

// DefaultBlueZRoot is where bluetoothd keeps its persistent storage.
const DefaultBlueZRoot = "/var/lib/bluetooth"

// BlueZOptions configures a BlueZStore.
type BlueZOptions struct {
	Root      string    // storage root, default /var/lib/bluetooth
	Adapter   string    // D-Bus adapter name, default hci0
	AdapterID string    // controller address directory; empty picks the only one present
	ByteOrder ByteOrder // default MSBFirst

	// Remover deletes a bond. Defaults to org.bluez.Adapter1.RemoveDevice
	// on the system bus.
	Remover func(adapter string, addr irk.Address) error
}

// BlueZStore reads bonds from BlueZ's storage directory:
//
//	<root>/<controller>/<peer>/info
//
// and removes them through bluetoothd so its in-memory state stays
// consistent.
type BlueZStore struct {
	opts BlueZOptions
}

// NewBlueZStore creates a BlueZStore, filling unset options with defaults.
func NewBlueZStore(opts BlueZOptions) *BlueZStore {
	if opts.Root == "" {
		opts.Root = DefaultBlueZRoot
	}
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}
	if opts.ByteOrder == "" {
		opts.ByteOrder = MSBFirst
	}
	if opts.Remover == nil {
		opts.Remover = removeDeviceDBus
	}
	return &BlueZStore{opts: opts}
}

func (s *BlueZStore) Bonds() ([]Record, error) {
	dir, err := s.controllerDir()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("bond: read %s: %w", dir, err)
	}

	var records []Record
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		addr, err := irk.ParseAddress(e.Name())
		if err != nil {
			// "cache" and friends
			continue
		}
		rec, err := s.readInfo(filepath.Join(dir, e.Name(), "info"), addr)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *BlueZStore) Remove(addr irk.Address) error {
	if err := s.opts.Remover(s.opts.Adapter, addr); err != nil {
		return fmt.Errorf("bond: remove %s: %w", addr, err)
	}
	return nil
}

// controllerDir picks the configured controller directory, or the only
// controller directory present.
func (s *BlueZStore) controllerDir() (string, error) {
	if s.opts.AdapterID != "" {
		return filepath.Join(s.opts.Root, strings.ToUpper(s.opts.AdapterID)), nil
	}

	entries, err := os.ReadDir(s.opts.Root)
	if err != nil {
		return "", fmt.Errorf("bond: read %s: %w", s.opts.Root, err)
	}
	var candidates []string
	for _, e := range entries {
		if _, err := irk.ParseAddress(e.Name()); err == nil && e.IsDir() {
			candidates = append(candidates, e.Name())
		}
	}
	sort.Strings(candidates)
	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("bond: no controller directory under %s", s.opts.Root)
	case 1:
		return filepath.Join(s.opts.Root, candidates[0]), nil
	default:
		return "", fmt.Errorf("bond: %d controllers under %s, set bond_store.adapter_id", len(candidates), s.opts.Root)
	}
}

func (s *BlueZStore) readInfo(path string, addr irk.Address) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, err
	}
	defer f.Close()

	sections, err := parseInfo(f)
	if err != nil {
		return Record{}, fmt.Errorf("bond: parse %s: %w", path, err)
	}

	rec := Record{
		Address:     addr,
		AddressType: sections["General"]["AddressType"],
		Name:        sections["General"]["Name"],
	}
	if raw := sections["IdentityResolvingKey"]["Key"]; raw != "" {
		key, err := decodeKey(raw, s.opts.ByteOrder)
		if err != nil {
			return Record{}, fmt.Errorf("bond: %s: %w", path, err)
		}
		rec.Key = &key
	}
	return rec, nil
}

func decodeKey(raw string, order ByteOrder) (irk.Key, error) {
	b, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return irk.Key{}, fmt.Errorf("decode IdentityResolvingKey: %w", err)
	}
	if order == LSBFirst {
		return irk.KeyFromLittleEndian(b)
	}
	return irk.KeyFromBytes(b)
}

// parseInfo reads the GLib key-file format bluetoothd uses for its info
// files into section -> key -> value.
func parseInfo(r io.Reader) (map[string]map[string]string, error) {
	sections := make(map[string]map[string]string)
	current := ""
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
			current = line[1 : len(line)-1]
			if sections[current] == nil {
				sections[current] = make(map[string]string)
			}
		default:
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				return nil, fmt.Errorf("line %d: expected key=value", n)
			}
			if current == "" {
				return nil, fmt.Errorf("line %d: key outside of a section", n)
			}
			sections[current][strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return sections, sc.Err()
}

var (
	systemBusOnce sync.Once
	systemBus     *dbus.Conn
	systemBusErr  error
)

// removeDeviceDBus asks bluetoothd to forget a device, which deletes its
// bond and storage directory.
func removeDeviceDBus(adapter string, addr irk.Address) error {
	systemBusOnce.Do(func() {
		systemBus, systemBusErr = dbus.SystemBus()
	})
	if systemBusErr != nil {
		return fmt.Errorf("connect system bus: %w", systemBusErr)
	}

	adapterPath := dbus.ObjectPath("/org/bluez/" + adapter)
	devicePath := dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", adapterPath, strings.ReplaceAll(addr.String(), ":", "_")))

	obj := systemBus.Object("org.bluez", adapterPath)
	if call := obj.Call("org.bluez.Adapter1.RemoveDevice", 0, devicePath); call.Err != nil {
		return call.Err
	}
	return nil
}

// Compile-time interface satisfaction check.
var _ Store = (*BlueZStore)(nil)
