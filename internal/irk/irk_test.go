package irk

import (
	"strings"
	"testing"
)

func sequentialKey() Key {
	var k Key
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestKeyString(t *testing.T) {
	got := sequentialKey().String()
	want := "000102030405060708090a0b0c0d0e0f"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if !strings.HasSuffix(got, "0102030405060708090a0b0c0d0e0f") {
		t.Errorf("String() = %q, should end with the 01..0f octets", got)
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", "000102030405060708090a0b0c0d0e0f", false},
		{"upper with prefix", "0x000102030405060708090A0B0C0D0E0F", false},
		{"colons", "00:01:02:03:04:05:06:07:08:09:0a:0b:0c:0d:0e:0f", false},
		{"too short", "0001", true},
		{"not hex", "zz0102030405060708090a0b0c0d0e0f", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := ParseKey(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKey(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && k != sequentialKey() {
				t.Errorf("ParseKey(%q) = %s, want %s", tt.input, k, sequentialKey())
			}
		})
	}
}

func TestKeyFromLittleEndian(t *testing.T) {
	var raw [KeySize]byte
	for i := range raw {
		raw[i] = byte(KeySize - 1 - i)
	}
	k, err := KeyFromLittleEndian(raw[:])
	if err != nil {
		t.Fatalf("KeyFromLittleEndian() error = %v", err)
	}
	if k != sequentialKey() {
		t.Errorf("KeyFromLittleEndian() = %s, want %s", k, sequentialKey())
	}
	if raw[0] != 0x0f {
		t.Error("KeyFromLittleEndian() must not modify its input")
	}

	if _, err := KeyFromLittleEndian(raw[:4]); err == nil {
		t.Error("KeyFromLittleEndian() should reject short input")
	}
}

func TestKeyIsZero(t *testing.T) {
	if !(Key{}).IsZero() {
		t.Error("zero key should report IsZero")
	}
	if sequentialKey().IsZero() {
		t.Error("non-zero key should not report IsZero")
	}
}

func TestKeyTextRoundTrip(t *testing.T) {
	text, err := sequentialKey().MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}
	var k Key
	if err := k.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if k != sequentialKey() {
		t.Errorf("round trip = %s, want %s", k, sequentialKey())
	}
}

func TestParseAddress(t *testing.T) {
	want := Address{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	for _, s := range []string{"AA:BB:CC:DD:EE:FF", "aa-bb-cc-dd-ee-ff", "aabbccddeeff", "dev_AA_BB_CC_DD_EE_FF"} {
		got, err := ParseAddress(s)
		if err != nil {
			t.Errorf("ParseAddress(%q) error = %v", s, err)
			continue
		}
		if got != want {
			t.Errorf("ParseAddress(%q) = %s, want %s", s, got, want)
		}
	}

	if _, err := ParseAddress("AA:BB"); err == nil {
		t.Error("ParseAddress() should reject short input")
	}
	if got := want.String(); got != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("String() = %q", got)
	}
}

func TestAddressKind(t *testing.T) {
	tests := []struct {
		addr Address
		want Kind
	}{
		{Address{0x00}, KindNonResolvable},
		{Address{0x40}, KindResolvable},
		{Address{0x7F}, KindResolvable},
		{Address{0x80}, KindReserved},
		{Address{0xC0}, KindStatic},
	}
	for _, tt := range tests {
		if got := tt.addr.Kind(); got != tt.want {
			t.Errorf("%s.Kind() = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestKeyResolves(t *testing.T) {
	key, err := ParseKey("ec0234a357c8ad05341010a60a397d9b")
	if err != nil {
		t.Fatalf("ParseKey() error = %v", err)
	}
	rpa, err := ParseAddress("70:81:94:0D:FB:AA")
	if err != nil {
		t.Fatalf("ParseAddress() error = %v", err)
	}

	if !key.Resolves(rpa) {
		t.Errorf("%s should resolve %s", key, rpa)
	}

	other := rpa
	other[5] ^= 0x01
	if key.Resolves(other) {
		t.Errorf("%s should not resolve %s", key, other)
	}

	static := Address{0xC1, 0x81, 0x94, 0x0D, 0xFB, 0xAA}
	if key.Resolves(static) {
		t.Error("a static random address is never resolvable")
	}
}
