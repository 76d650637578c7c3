package pairing

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
)

// Credentials is the long-term pairing credential set Pair-Setup
// produces and Pair-Verify consumes: this client's own Ed25519 identity,
// the paired accessory's id and long-term public key (from M6), and
// this client's stable pairing id.
//
// AtvPK is carried beyond the four fields (ltpk, ltsk, atvId, clientId)
// this type serializes to for wire compatibility with an existing iOS
// pairing store. Pair-Verify needs AtvPK to validate the accessory's M2
// signature, but a store built against that four-field format won't
// have one; MarshalJSON/UnmarshalJSON implement exactly that format, so
// reading such a store round-trips cleanly with AtvPK left nil, and
// Verify falls back to trust-on-first-use in that case.
type Credentials struct {
	LTPK     ed25519.PublicKey
	LTSK     ed25519.PrivateKey
	AtvID    []byte
	ClientID []byte
	AtvPK    ed25519.PublicKey
}

type credentialsJSON struct {
	LTPK     []byte `json:"ltpk"`
	LTSK     []byte `json:"ltsk"`
	AtvID    []byte `json:"atvId"`
	ClientID []byte `json:"clientId"`
}

// MarshalJSON implements json.Marshaler, emitting exactly the four
// documented compatibility fields (AtvPK is not part of that format).
func (c Credentials) MarshalJSON() ([]byte, error) {
	return json.Marshal(credentialsJSON{
		LTPK:     []byte(c.LTPK),
		LTSK:     []byte(c.LTSK),
		AtvID:    c.AtvID,
		ClientID: c.ClientID,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Credentials) UnmarshalJSON(data []byte) error {
	var raw credentialsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("pairing: decode credentials: %w", err)
	}
	c.LTPK = ed25519.PublicKey(raw.LTPK)
	c.LTSK = ed25519.PrivateKey(raw.LTSK)
	c.AtvID = raw.AtvID
	c.ClientID = raw.ClientID
	return nil
}
