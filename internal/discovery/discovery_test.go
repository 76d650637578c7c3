package discovery

import "testing"

func TestParseFlagsDecodesPairingDisabledBit(t *testing.T) {
	flags, err := ParseFlags(map[string]string{"rpFl": "0x2"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if !flags.PairingDisabled {
		t.Fatal("expected PairingDisabled true")
	}
	if flags.PINPairingSupported {
		t.Fatal("expected PINPairingSupported false")
	}
}

func TestParseFlagsDecodesPINPairingSupportedBit(t *testing.T) {
	flags, err := ParseFlags(map[string]string{"rpfl": "200"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if !flags.PINPairingSupported {
		t.Fatal("expected PINPairingSupported true")
	}
	if flags.PairingDisabled {
		t.Fatal("expected PairingDisabled false")
	}
}

func TestParseFlagsCombinesBothBits(t *testing.T) {
	flags, err := ParseFlags(map[string]string{"rpFl": "0x202"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if !flags.PairingDisabled || !flags.PINPairingSupported {
		t.Fatalf("expected both bits set, got %+v", flags)
	}
}

func TestParseFlagsMissingKeyIsZeroValue(t *testing.T) {
	flags, err := ParseFlags(map[string]string{"rpmd": "AppleTV14,1"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if flags.Raw != 0 || flags.PairingDisabled || flags.PINPairingSupported {
		t.Fatalf("expected zero-value flags, got %+v", flags)
	}
}

func TestParseFlagsRejectsMalformedHex(t *testing.T) {
	_, err := ParseFlags(map[string]string{"rpFl": "not-hex"})
	if err == nil {
		t.Fatal("expected an error for malformed hex")
	}
}

func TestParseTXTPopulatesDeviceFields(t *testing.T) {
	dev, err := ParseTXT("Living Room", "192.168.1.50", 49152, map[string]string{
		"rpmd": "AppleTV14,1",
		"rpHA": "AA:BB:CC:DD:EE:FF",
		"rpFl": "0x200",
	})
	if err != nil {
		t.Fatalf("ParseTXT: %v", err)
	}
	if dev.Model != "AppleTV14,1" || dev.AccessoryID != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("device = %+v", dev)
	}
	if !dev.Flags.PINPairingSupported {
		t.Fatal("expected PINPairingSupported true")
	}
}
