// Package discovery defines the device record this module's callers
// populate from mDNS, and decodes the Companion Protocol's
// `_companion-link._tcp` TXT record flags. It does not implement an
// mDNS client itself; callers bring their own (zeroconf, hashicorp/mdns,
// or a static device list) and hand the result to Discoverer.
package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Device is one advertised accessory, as resolved from an mDNS
// _companion-link._tcp browse/resolve.
type Device struct {
	Name        string
	Host        string
	Port        int
	Model       string
	AccessoryID string
	Flags       Flags
}

// Discoverer resolves the set of Companion Protocol accessories
// currently reachable. Implementations wrap a real mDNS browser; this
// package supplies none.
type Discoverer interface {
	Discover(ctx context.Context) ([]Device, error)
}

// Flags decodes the `rpFl`/`rpfl` TXT record bits.
type Flags struct {
	Raw                 uint64
	PairingDisabled     bool
	PINPairingSupported bool
}

const (
	flagPairingDisabled     = 0x02
	flagPINPairingSupported = 0x200
)

// ParseTXT decodes a resolved TXT record's key/value pairs into a
// Device, reading rpmd (model), rpHA (accessory id), and rpFl/rpfl
// (pairing flags, hex). name/host/port come from the mDNS
// browse/resolve result itself, not the TXT record, so they're passed
// in rather than read from txt.
func ParseTXT(name, host string, port int, txt map[string]string) (Device, error) {
	flags, err := ParseFlags(txt)
	if err != nil {
		return Device{}, err
	}
	return Device{
		Name:        name,
		Host:        host,
		Port:        port,
		Model:       txt["rpmd"],
		AccessoryID: txt["rpHA"],
		Flags:       flags,
	}, nil
}

// ParseFlags decodes the rpFl/rpfl hex flag field out of txt. Either
// key name has been observed in the wild; rpfl is checked first.
func ParseFlags(txt map[string]string) (Flags, error) {
	raw, ok := txt["rpfl"]
	if !ok {
		raw, ok = txt["rpFl"]
	}
	if !ok {
		return Flags{}, nil
	}
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	v, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return Flags{}, fmt.Errorf("discovery: parse rpFl/rpfl %q: %w", raw, err)
	}
	return Flags{
		Raw:                 v,
		PairingDisabled:     v&flagPairingDisabled != 0,
		PINPairingSupported: v&flagPINPairingSupported != 0,
	}, nil
}
