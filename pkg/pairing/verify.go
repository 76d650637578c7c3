package pairing

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	ccrypto "github.com/barnettlynn/companion/pkg/crypto"
	"github.com/barnettlynn/companion/pkg/opack"
	"github.com/barnettlynn/companion/pkg/tlv8"
	"github.com/barnettlynn/companion/pkg/transport"
)

type verifyPhase int

const (
	verifyPhaseInit verifyPhase = iota
	verifyPhaseAwaitM2
	verifyPhaseAwaitM4
	verifyPhaseDone
)

// pairVerifyAuthType is the _auTy value the accessory expects on the
// M1 envelope (HAP's kTLVMethod_PairVerify equivalent for this wire).
const pairVerifyAuthType = 4

// Verify drives the Pair-Verify M1-M4 handshake using a previously
// minted Credentials, producing the data-channel tx/rx keys on success.
type Verify struct {
	ClientID    []byte
	Credentials Credentials

	phase    verifyPhase
	inFlight bool

	eph          ccrypto.X25519KeyPair
	deviceEphPub []byte
	shared       []byte
	encryptKey   []byte

	txKey [32]byte
	rxKey [32]byte
}

// NewVerify creates a Verify that will authenticate with the accessory
// using a long-term credential from a completed Pair-Setup.
func NewVerify(clientID []byte, creds Credentials) *Verify {
	return &Verify{ClientID: clientID, Credentials: creds, phase: verifyPhaseInit}
}

// Start builds the M1 frame.
func (v *Verify) Start() (transport.FrameType, []byte, error) {
	if v.inFlight {
		return 0, nil, ErrHandshakeInProgress
	}
	if v.phase != verifyPhaseInit {
		return 0, nil, errors.New("pairing: Verify.Start called more than once")
	}
	eph, err := ccrypto.GenerateX25519KeyPair()
	if err != nil {
		return 0, nil, fmt.Errorf("pairing: generate pair-verify ephemeral key: %w", err)
	}
	v.eph = eph
	v.inFlight = true

	rec := tlv8.Record{}.Append(tlvState, []byte{1}).Append(tlvPublicKey, eph.Public[:])
	payload := encodeEnvelope(rec, opack.Entry(opackKeyAuthType, opack.IntVal(pairVerifyAuthType, 0)))
	v.phase = verifyPhaseAwaitM2
	return transport.PairVerifyStart, payload, nil
}

// Step feeds one inbound PV_Next frame and returns the next outbound
// frame, or done=true once the handshake completes; call Result to
// retrieve the derived data-channel keys.
func (v *Verify) Step(t transport.FrameType, payload []byte) (nextType transport.FrameType, nextPayload []byte, done bool, err error) {
	if t != transport.PairVerifyNext {
		return 0, nil, false, fmt.Errorf("pairing: unexpected frame type %s during Pair-Verify", t)
	}
	rec, err := decodeEnvelope(payload)
	if err != nil {
		return 0, nil, false, err
	}
	if code, ok := rec.Get(tlvError); ok {
		return 0, nil, false, v.tlvError(code, rec)
	}

	switch v.phase {
	case verifyPhaseAwaitM2:
		return v.stepM2(rec)
	case verifyPhaseAwaitM4:
		return v.stepM4(rec)
	default:
		return 0, nil, false, errors.New("pairing: Verify.Step called out of order")
	}
}

// Result returns the data-channel tx/rx keys derived by a completed
// Pair-Verify handshake, ready for transport.Conn.InstallKeys.
func (v *Verify) Result() (tx, rx [32]byte, err error) {
	if v.phase != verifyPhaseDone {
		return tx, rx, errors.New("pairing: Pair-Verify has not completed")
	}
	return v.txKey, v.rxKey, nil
}

func (v *Verify) stepM2(rec tlv8.Record) (transport.FrameType, []byte, bool, error) {
	devicePub, ok := rec.Get(tlvPublicKey)
	if !ok {
		return 0, nil, false, &Error{Kind: KindProtocol, Step: "PV_M2", Cause: errors.New("missing PublicKey")}
	}
	enc, ok := rec.Get(tlvEncryptedData)
	if !ok {
		return 0, nil, false, &Error{Kind: KindProtocol, Step: "PV_M2", Cause: errors.New("missing EncryptedData")}
	}

	shared, err := v.eph.X25519DH(devicePub)
	if err != nil {
		return 0, nil, false, fmt.Errorf("pairing: pair-verify key agreement: %w", err)
	}
	sk, err := ccrypto.HKDF("Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info", shared)
	if err != nil {
		return 0, nil, false, err
	}
	v.shared = shared
	v.encryptKey = sk
	v.deviceEphPub = append([]byte{}, devicePub...)

	nonce, err := ccrypto.StringNonce("PV-Msg02")
	if err != nil {
		return 0, nil, false, err
	}
	plain, err := ccrypto.AEADOpen(sk, nonce[:], nil, enc)
	if err != nil {
		return 0, nil, false, &Error{Kind: KindAuthentication, Step: "PV_M2", Cause: err}
	}
	inner, err := tlv8.Decode(plain)
	if err != nil {
		return 0, nil, false, fmt.Errorf("pairing: decode PV_M2 TLV: %w", err)
	}

	deviceID, ok := inner.Get(tlvIdentifier)
	if !ok {
		return 0, nil, false, &Error{Kind: KindProtocol, Step: "PV_M2", Cause: errors.New("missing Identifier")}
	}
	sig, ok := inner.Get(tlvSignature)
	if !ok {
		return 0, nil, false, &Error{Kind: KindProtocol, Step: "PV_M2", Cause: errors.New("missing Signature")}
	}
	if !bytes.Equal(deviceID, v.Credentials.AtvID) {
		return 0, nil, false, &Error{Kind: KindAuthentication, Step: "PV_M2", Cause: errors.New("accessory identifier does not match stored credential")}
	}

	// AtvPK is absent when Credentials came from a store built against
	// the four-field compatibility format, which predates this client
	// ever having seen the accessory's long-term public key. Fall back
	// to trusting the identifier match already checked above rather
	// than refusing to verify altogether.
	if len(v.Credentials.AtvPK) == ed25519.PublicKeySize {
		sigInfo := append(append(append([]byte{}, devicePub...), deviceID...), v.eph.Public[:]...)
		if !ccrypto.Ed25519Verify(v.Credentials.AtvPK, sigInfo, sig) {
			return 0, nil, false, &Error{Kind: KindAuthentication, Step: "PV_M2", Cause: errors.New("accessory signature did not verify")}
		}
	}

	ownInfo := append(append(append([]byte{}, v.eph.Public[:]...), v.ClientID...), devicePub...)
	ownSig := ccrypto.Ed25519Sign(v.Credentials.LTSK, ownInfo)

	outInner := tlv8.Record{}.Append(tlvIdentifier, v.ClientID).Append(tlvSignature, ownSig)
	nonce3, err := ccrypto.StringNonce("PV-Msg03")
	if err != nil {
		return 0, nil, false, err
	}
	encrypted, err := ccrypto.AEADSeal(sk, nonce3[:], nil, tlv8.Encode(outInner))
	if err != nil {
		return 0, nil, false, fmt.Errorf("pairing: seal PV_M3: %w", err)
	}

	out := tlv8.Record{}.Append(tlvState, []byte{3}).Append(tlvEncryptedData, encrypted)
	v.phase = verifyPhaseAwaitM4
	return transport.PairVerifyNext, encodeEnvelope(out), false, nil
}

func (v *Verify) stepM4(rec tlv8.Record) (transport.FrameType, []byte, bool, error) {
	_ = rec // M4 carries no required TLV content beyond State=4; absence of an Error is the acknowledgement.

	txKey, err := ccrypto.HKDF("", "ClientEncrypt-main", v.shared)
	if err != nil {
		return 0, nil, false, err
	}
	rxKey, err := ccrypto.HKDF("", "ServerEncrypt-main", v.shared)
	if err != nil {
		return 0, nil, false, err
	}
	copy(v.txKey[:], txKey)
	copy(v.rxKey[:], rxKey)

	v.phase = verifyPhaseDone
	v.inFlight = false
	return 0, nil, true, nil
}

func (v *Verify) tlvError(code []byte, rec tlv8.Record) error {
	step := v.stepName()
	if len(code) != 1 {
		return &Error{Kind: KindProtocol, Step: step, Cause: fmt.Errorf("malformed error TLV: % x", code)}
	}
	e := &Error{Kind: tlvErrorToKind(code[0]), Step: step}
	if e.Kind == KindBackOff {
		if rd, ok := rec.Get(tlvRetryDelay); ok {
			e.RetryAfter = retryDelayDuration(rd)
		}
	}
	return e
}

func (v *Verify) stepName() string {
	switch v.phase {
	case verifyPhaseAwaitM2:
		return "PV_M2"
	case verifyPhaseAwaitM4:
		return "PV_M4"
	default:
		return "Pair-Verify"
	}
}
