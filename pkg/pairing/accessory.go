package pairing

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	ccrypto "github.com/barnettlynn/companion/pkg/crypto"
	"github.com/barnettlynn/companion/pkg/srp"
	"github.com/barnettlynn/companion/pkg/tlv8"
)

// AccessorySetup plays the accessory side of Pair-Setup: it is the
// mirror image of Setup, driven by inbound PS_Start/PS_Next frames
// instead of producing them. It exists so this module can stand in for
// a real accessory (an emulator, or accessory-role integration tests)
// without duplicating the SRP/TLV8/AEAD plumbing Setup already has.
type AccessorySetup struct {
	AtvID []byte
	Ed    ccrypto.Ed25519KeyPair

	pin    string
	salt   []byte
	server *srp.Server

	sessionKey []byte
	phase      setupPhase

	clientID  []byte
	clientPub ed25519.PublicKey
}

// NewAccessorySetup creates an AccessorySetup that will accept pin as
// the correct PIN for one Pair-Setup attempt. atvID is this accessory's
// stable identifier, returned to the client in M6.
func NewAccessorySetup(atvID []byte, pin string) (*AccessorySetup, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("pairing: generate salt: %w", err)
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("pairing: generate SRP b: %w", err)
	}
	v := srp.ServerVerifier(salt, pin)
	ed, err := ccrypto.GenerateEd25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("pairing: generate accessory identity: %w", err)
	}
	return &AccessorySetup{
		AtvID:  atvID,
		Ed:     ed,
		pin:    pin,
		salt:   salt,
		server: srp.NewServer(v, b),
		phase:  setupPhaseAwaitM2, // the first HandleRequest call handles client M1, producing M2
	}, nil
}

// HandleRequest consumes one inbound PS_Start/PS_Next frame and returns
// the matching outbound frame, or done=true once M6 has been sent.
func (a *AccessorySetup) HandleRequest(payload []byte) (respPayload []byte, done bool, err error) {
	rec, err := decodeEnvelope(payload)
	if err != nil {
		return nil, false, err
	}
	switch a.phase {
	case setupPhaseAwaitM2:
		return a.handleM1(rec)
	case setupPhaseAwaitM4:
		return a.handleM3(rec)
	case setupPhaseAwaitM6:
		return a.handleM5(rec)
	default:
		return nil, false, errors.New("pairing: AccessorySetup.HandleRequest called out of order")
	}
}

// Result returns the client's identifier and long-term public key once
// HandleRequest has processed M5 (equivalently, the accessory can now
// answer a Pair-Verify from this client).
func (a *AccessorySetup) Result() (clientID []byte, clientLTPK ed25519.PublicKey, err error) {
	if a.phase != setupPhaseDone {
		return nil, nil, errors.New("pairing: Pair-Setup has not completed")
	}
	return a.clientID, a.clientPub, nil
}

func (a *AccessorySetup) handleM1(tlv8.Record) (respPayload []byte, done bool, err error) {
	out := tlv8.Record{}.Append(tlvState, []byte{2}).Append(tlvPublicKey, a.server.PublicKey()).Append(tlvSalt, a.salt)
	a.phase = setupPhaseAwaitM4
	return encodeEnvelope(out), false, nil
}

func (a *AccessorySetup) handleM3(rec tlv8.Record) (respPayload []byte, done bool, err error) {
	A, ok := rec.Get(tlvPublicKey)
	if !ok {
		return nil, false, errors.New("pairing: M3 missing PublicKey")
	}
	m1, ok := rec.Get(tlvProof)
	if !ok {
		return nil, false, errors.New("pairing: M3 missing Proof")
	}
	K, err := a.server.ComputeSessionKey(A)
	if err != nil {
		return nil, false, fmt.Errorf("pairing: compute SRP session key: %w", err)
	}
	want := a.server.ExpectedM1(a.salt)
	if !bytes.Equal(m1, want) {
		out := tlv8.Record{}.Append(tlvState, []byte{4}).Append(tlvError, []byte{tlvErrAuthentication})
		return encodeEnvelope(out), false, nil
	}
	sessionKey, err := ccrypto.HKDF("Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info", K)
	if err != nil {
		return nil, false, err
	}
	a.sessionKey = sessionKey

	m2 := a.server.ProofM2(m1)
	out := tlv8.Record{}.Append(tlvState, []byte{4}).Append(tlvProof, m2)
	a.phase = setupPhaseAwaitM6
	return encodeEnvelope(out), false, nil
}

func (a *AccessorySetup) handleM5(rec tlv8.Record) (respPayload []byte, done bool, err error) {
	enc, ok := rec.Get(tlvEncryptedData)
	if !ok {
		return nil, false, errors.New("pairing: M5 missing EncryptedData")
	}
	nonce, err := ccrypto.StringNonce("PS-Msg05")
	if err != nil {
		return nil, false, err
	}
	plain, err := ccrypto.AEADOpen(a.sessionKey, nonce[:], nil, enc)
	if err != nil {
		return nil, false, fmt.Errorf("pairing: open M5: %w", err)
	}
	inner, err := tlv8.Decode(plain)
	if err != nil {
		return nil, false, fmt.Errorf("pairing: decode M5 TLV: %w", err)
	}
	clientID, ok := inner.Get(tlvIdentifier)
	if !ok {
		return nil, false, errors.New("pairing: M5 missing Identifier")
	}
	clientPub, ok := inner.Get(tlvPublicKey)
	if !ok {
		return nil, false, errors.New("pairing: M5 missing PublicKey")
	}
	a.clientID = clientID
	a.clientPub = ed25519.PublicKey(clientPub)

	inner6 := tlv8.Record{}.Append(tlvIdentifier, a.AtvID).Append(tlvPublicKey, []byte(a.Ed.Public))
	nonce6, err := ccrypto.StringNonce("PS-Msg06")
	if err != nil {
		return nil, false, err
	}
	enc6, err := ccrypto.AEADSeal(a.sessionKey, nonce6[:], nil, tlv8.Encode(inner6))
	if err != nil {
		return nil, false, fmt.Errorf("pairing: seal M6: %w", err)
	}
	out := tlv8.Record{}.Append(tlvState, []byte{6}).Append(tlvEncryptedData, enc6)
	a.phase = setupPhaseDone
	return encodeEnvelope(out), true, nil
}

// AccessoryVerify plays the accessory side of Pair-Verify: the mirror
// image of Verify. LookupClient resolves a client identifier (captured
// by a prior AccessorySetup) to that client's long-term public key;
// HandleRequest fails PV_M3 if it returns ok=false.
type AccessoryVerify struct {
	AtvID        []byte
	Ed           ccrypto.Ed25519KeyPair
	LookupClient func(clientID []byte) (ed25519.PublicKey, bool)

	eph          ccrypto.X25519KeyPair
	clientEphPub []byte
	shared       []byte
	sealKey      []byte
	phase        verifyPhase

	txKey [32]byte
	rxKey [32]byte
}

// NewAccessoryVerify creates an AccessoryVerify for one Pair-Verify
// attempt, using the accessory's own long-term Ed25519 identity (the
// same key minted by AccessorySetup) and a client-lookup callback.
func NewAccessoryVerify(atvID []byte, ed ccrypto.Ed25519KeyPair, lookup func([]byte) (ed25519.PublicKey, bool)) *AccessoryVerify {
	return &AccessoryVerify{AtvID: atvID, Ed: ed, LookupClient: lookup, phase: verifyPhaseAwaitM2}
}

// HandleRequest consumes one inbound PV_Start/PV_Next frame and returns
// the matching outbound frame, or done=true once PV_M4 has been sent.
func (a *AccessoryVerify) HandleRequest(payload []byte) (respPayload []byte, done bool, err error) {
	rec, err := decodeEnvelope(payload)
	if err != nil {
		return nil, false, err
	}
	switch a.phase {
	case verifyPhaseAwaitM2:
		return a.handleM1(rec)
	case verifyPhaseAwaitM4:
		return a.handleM3(rec)
	default:
		return nil, false, errors.New("pairing: AccessoryVerify.HandleRequest called out of order")
	}
}

// Result returns the data-channel tx/rx keys derived by a completed
// Pair-Verify handshake, ready for transport.Conn.InstallKeys. Note tx
// and rx are swapped relative to Verify.Result, since what the client
// transmits the accessory receives.
func (a *AccessoryVerify) Result() (tx, rx [32]byte, err error) {
	if a.phase != verifyPhaseDone {
		return tx, rx, errors.New("pairing: Pair-Verify has not completed")
	}
	return a.txKey, a.rxKey, nil
}

func (a *AccessoryVerify) handleM1(rec tlv8.Record) (respPayload []byte, done bool, err error) {
	clientEphPub, ok := rec.Get(tlvPublicKey)
	if !ok {
		return nil, false, errors.New("pairing: PV_M1 missing PublicKey")
	}
	eph, err := ccrypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, false, fmt.Errorf("pairing: generate pair-verify ephemeral key: %w", err)
	}
	a.eph = eph
	a.clientEphPub = append([]byte{}, clientEphPub...)
	shared, err := eph.X25519DH(clientEphPub)
	if err != nil {
		return nil, false, fmt.Errorf("pairing: pair-verify key agreement: %w", err)
	}
	a.shared = shared
	sk, err := ccrypto.HKDF("Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info", shared)
	if err != nil {
		return nil, false, err
	}

	info := append(append(append([]byte{}, a.eph.Public[:]...), a.AtvID...), clientEphPub...)
	sig := ccrypto.Ed25519Sign(a.Ed.Private, info)
	inner := tlv8.Record{}.Append(tlvIdentifier, a.AtvID).Append(tlvSignature, sig)

	nonce, err := ccrypto.StringNonce("PV-Msg02")
	if err != nil {
		return nil, false, err
	}
	enc, err := ccrypto.AEADSeal(sk, nonce[:], nil, tlv8.Encode(inner))
	if err != nil {
		return nil, false, fmt.Errorf("pairing: seal PV_M2: %w", err)
	}
	a.sealKey = sk

	out := tlv8.Record{}.Append(tlvState, []byte{2}).Append(tlvPublicKey, a.eph.Public[:]).Append(tlvEncryptedData, enc)
	a.phase = verifyPhaseAwaitM4
	return encodeEnvelope(out), false, nil
}

func (a *AccessoryVerify) handleM3(rec tlv8.Record) (respPayload []byte, done bool, err error) {
	enc, ok := rec.Get(tlvEncryptedData)
	if !ok {
		return nil, false, errors.New("pairing: PV_M3 missing EncryptedData")
	}
	nonce, err := ccrypto.StringNonce("PV-Msg03")
	if err != nil {
		return nil, false, err
	}
	plain, err := ccrypto.AEADOpen(a.sealKey, nonce[:], nil, enc)
	if err != nil {
		return nil, false, fmt.Errorf("pairing: open PV_M3: %w", err)
	}
	inner, err := tlv8.Decode(plain)
	if err != nil {
		return nil, false, fmt.Errorf("pairing: decode PV_M3 TLV: %w", err)
	}
	clientID, ok := inner.Get(tlvIdentifier)
	if !ok {
		return nil, false, errors.New("pairing: PV_M3 missing Identifier")
	}
	sig, ok := inner.Get(tlvSignature)
	if !ok {
		return nil, false, errors.New("pairing: PV_M3 missing Signature")
	}
	clientPub, ok := a.LookupClient(clientID)
	if !ok {
		out := tlv8.Record{}.Append(tlvState, []byte{4}).Append(tlvError, []byte{tlvErrAuthentication})
		return encodeEnvelope(out), false, nil
	}
	// The client signs {clientEphPub, clientID, accessoryEphPub}.
	verifyInfo := append(append(append([]byte{}, a.clientEphPub...), clientID...), a.eph.Public[:]...)
	if !ccrypto.Ed25519Verify(clientPub, verifyInfo, sig) {
		out := tlv8.Record{}.Append(tlvState, []byte{4}).Append(tlvError, []byte{tlvErrAuthentication})
		return encodeEnvelope(out), false, nil
	}

	txKey, err := ccrypto.HKDF("", "ServerEncrypt-main", a.shared)
	if err != nil {
		return nil, false, err
	}
	rxKey, err := ccrypto.HKDF("", "ClientEncrypt-main", a.shared)
	if err != nil {
		return nil, false, err
	}
	copy(a.txKey[:], txKey)
	copy(a.rxKey[:], rxKey)

	out := tlv8.Record{}.Append(tlvState, []byte{4})
	a.phase = verifyPhaseDone
	return encodeEnvelope(out), true, nil
}
