package bond

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chaz8081/irk-enroll/internal/irk"
)

const (
	controller = "00:1A:7D:DA:71:13"
	phone      = "F0:99:B6:12:34:56"
	watch      = "D4:61:9D:AA:BB:CC"
)

const phoneInfo = `[General]
Name=iPhone
AddressType=public
SupportedTechnologies=LE;
Trusted=false

[IdentityResolvingKey]
Key=000102030405060708090A0B0C0D0E0F

[LongTermKey]
Key=11111111111111111111111111111111
Authenticated=2
EncSize=16
`

const watchInfo = `[General]
Name=Watch
AddressType=static
`

func writeInfo(t *testing.T, root, peer, content string) {
	t.Helper()
	dir := filepath.Join(root, controller, peer)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "info"), []byte(content), 0600); err != nil {
		t.Fatalf("failed to write info: %v", err)
	}
}

func TestBlueZStoreBonds(t *testing.T) {
	root := t.TempDir()
	writeInfo(t, root, phone, phoneInfo)
	writeInfo(t, root, watch, watchInfo)
	// bluetoothd keeps a cache directory next to the bonds
	if err := os.MkdirAll(filepath.Join(root, controller, "cache"), 0755); err != nil {
		t.Fatal(err)
	}

	store := NewBlueZStore(BlueZOptions{Root: root})
	records, err := store.Bonds()
	if err != nil {
		t.Fatalf("Bonds() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	byAddr := map[string]Record{}
	for _, r := range records {
		byAddr[r.Address.String()] = r
	}

	p := byAddr[phone]
	if p.Name != "iPhone" || p.AddressType != "public" {
		t.Errorf("phone record = %+v", p)
	}
	if !p.HasKey() || p.Key.String() != "000102030405060708090a0b0c0d0e0f" {
		t.Errorf("phone key = %v", p.Key)
	}

	w := byAddr[watch]
	if w.HasKey() {
		t.Errorf("watch record should have no key, got %v", w.Key)
	}
}

func TestBlueZStoreLSBFirst(t *testing.T) {
	root := t.TempDir()
	writeInfo(t, root, phone, phoneInfo)

	store := NewBlueZStore(BlueZOptions{Root: root, AdapterID: strings.ToLower(controller), ByteOrder: LSBFirst})
	records, err := store.Bonds()
	if err != nil {
		t.Fatalf("Bonds() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if got := records[0].Key.String(); got != "0f0e0d0c0b0a09080706050403020100" {
		t.Errorf("key = %s, want reversed", got)
	}
}

func TestBlueZStoreNoController(t *testing.T) {
	store := NewBlueZStore(BlueZOptions{Root: t.TempDir()})
	if _, err := store.Bonds(); err == nil {
		t.Error("Bonds() should fail without a controller directory")
	}
}

func TestBlueZStoreMultipleControllers(t *testing.T) {
	root := t.TempDir()
	for _, c := range []string{"00:00:00:00:00:01", "00:00:00:00:00:02"} {
		if err := os.MkdirAll(filepath.Join(root, c), 0755); err != nil {
			t.Fatal(err)
		}
	}
	store := NewBlueZStore(BlueZOptions{Root: root})
	if _, err := store.Bonds(); err == nil {
		t.Error("Bonds() should ask for adapter_id when several controllers exist")
	}
}

func TestBlueZStoreBadKey(t *testing.T) {
	root := t.TempDir()
	writeInfo(t, root, phone, "[IdentityResolvingKey]\nKey=XYZ\n")

	store := NewBlueZStore(BlueZOptions{Root: root})
	if _, err := store.Bonds(); err == nil {
		t.Error("Bonds() should fail on a malformed key")
	}
}

func TestBlueZStoreRemove(t *testing.T) {
	var gotAdapter string
	var gotAddr irk.Address
	store := NewBlueZStore(BlueZOptions{
		Root:    t.TempDir(),
		Adapter: "hci1",
		Remover: func(adapter string, addr irk.Address) error {
			gotAdapter, gotAddr = adapter, addr
			return nil
		},
	})

	addr, _ := irk.ParseAddress(phone)
	if err := store.Remove(addr); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if gotAdapter != "hci1" || gotAddr != addr {
		t.Errorf("Remover called with (%q, %s)", gotAdapter, gotAddr)
	}

	failing := NewBlueZStore(BlueZOptions{
		Remover: func(string, irk.Address) error { return errors.New("org.bluez.Error.DoesNotExist") },
	})
	if err := failing.Remove(addr); err == nil {
		t.Error("Remove() should surface the remover error")
	}
}

func TestParseInfo(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", phoneInfo, false},
		{"comments and blanks", "# comment\n\n[General]\nName=x\n", false},
		{"missing equals", "[General]\nName\n", true},
		{"key before section", "Name=x\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseInfo(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("parseInfo() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
