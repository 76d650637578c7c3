package pairing

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	ccrypto "github.com/barnettlynn/companion/pkg/crypto"
	"github.com/barnettlynn/companion/pkg/opack"
	"github.com/barnettlynn/companion/pkg/srp"
	"github.com/barnettlynn/companion/pkg/tlv8"
	"github.com/barnettlynn/companion/pkg/transport"
)

type setupPhase int

const (
	setupPhaseInit setupPhase = iota
	setupPhaseAwaitM2
	setupPhaseAwaitM4
	setupPhaseAwaitM6
	setupPhaseDone
)

// Setup drives the Pair-Setup M1-M6 handshake and produces a
// Credentials on success. It mirrors AuthenticateEV2First's
// shape: a single stateful driver that owns the crypto for one
// handshake attempt and is not reusable afterward.
type Setup struct {
	ClientID    []byte
	DisplayName string

	// VerifyDeviceSignature opts into checking a Signature TLV in M6
	// against the device's long-term public key, when the accessory
	// includes one. Default false to match the wire behavior this
	// client was built against, where M6 carries only Identifier and
	// PublicKey.
	VerifyDeviceSignature bool

	pin string

	phase     setupPhase
	inFlight  bool
	ed        ccrypto.Ed25519KeyPair
	srpClient *srp.Client

	sessionKey []byte
	iOSDeviceX []byte

	result Credentials
}

// NewSetup creates a Setup that will authenticate with the accessory's
// PIN. clientID is this client's stable pairing identifier, persisted
// across pairings; displayName, if non-empty, is sent in M5 as the
// accessory-visible client name.
func NewSetup(clientID []byte, displayName, pin string) (*Setup, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("pairing: generate ephemeral identity: %w", err)
	}
	ed, err := ccrypto.Ed25519KeyPairFromSeed(seed)
	if err != nil {
		return nil, err
	}
	srpClient, err := srp.NewClient(seed, pin)
	if err != nil {
		return nil, err
	}
	return &Setup{
		ClientID:    clientID,
		DisplayName: displayName,
		pin:         pin,
		ed:          ed,
		srpClient:   srpClient,
		phase:       setupPhaseInit,
	}, nil
}

// Start builds the M1 frame.
func (s *Setup) Start() (transport.FrameType, []byte, error) {
	if s.inFlight {
		return 0, nil, ErrHandshakeInProgress
	}
	if s.phase != setupPhaseInit {
		return 0, nil, errors.New("pairing: Setup.Start called more than once")
	}
	s.inFlight = true
	rec := tlv8.Record{}.Append(tlvMethod, []byte{0}).Append(tlvState, []byte{1})
	payload := encodeEnvelope(rec, opack.Entry(opackKeyPwType, opack.IntVal(1, 0)))
	s.phase = setupPhaseAwaitM2
	return transport.PairSetupStart, payload, nil
}

// Step feeds one inbound PS_Next frame and returns the next outbound
// frame, or done=true once the handshake completes; call Result to
// retrieve the minted Credentials.
func (s *Setup) Step(t transport.FrameType, payload []byte) (nextType transport.FrameType, nextPayload []byte, done bool, err error) {
	if t != transport.PairSetupNext {
		return 0, nil, false, fmt.Errorf("pairing: unexpected frame type %s during Pair-Setup", t)
	}
	rec, err := decodeEnvelope(payload)
	if err != nil {
		return 0, nil, false, err
	}
	if code, ok := rec.Get(tlvError); ok {
		return 0, nil, false, s.tlvError(code, rec)
	}

	switch s.phase {
	case setupPhaseAwaitM2:
		return s.stepM2(rec)
	case setupPhaseAwaitM4:
		return s.stepM4(rec)
	case setupPhaseAwaitM6:
		return s.stepM6(rec)
	default:
		return 0, nil, false, errors.New("pairing: Setup.Step called out of order")
	}
}

// Result returns the long-term credential minted by a completed
// Pair-Setup handshake.
func (s *Setup) Result() (Credentials, error) {
	if s.phase != setupPhaseDone {
		return Credentials{}, errors.New("pairing: Pair-Setup has not completed")
	}
	return s.result, nil
}

func (s *Setup) stepM2(rec tlv8.Record) (transport.FrameType, []byte, bool, error) {
	B, ok := rec.Get(tlvPublicKey)
	if !ok {
		return 0, nil, false, &Error{Kind: KindProtocol, Step: "M2", Cause: errors.New("missing PublicKey")}
	}
	salt, ok := rec.Get(tlvSalt)
	if !ok {
		return 0, nil, false, &Error{Kind: KindProtocol, Step: "M2", Cause: errors.New("missing Salt")}
	}

	A, m1, err := s.srpClient.Credentials(salt, B)
	if err != nil {
		return 0, nil, false, &Error{Kind: KindAuthentication, Step: "M2", Cause: err}
	}

	out := tlv8.Record{}.Append(tlvState, []byte{3}).Append(tlvPublicKey, A).Append(tlvProof, m1)
	s.phase = setupPhaseAwaitM4
	return transport.PairSetupNext, encodeEnvelope(out), false, nil
}

func (s *Setup) stepM4(rec tlv8.Record) (transport.FrameType, []byte, bool, error) {
	m2, ok := rec.Get(tlvProof)
	if !ok {
		return 0, nil, false, &Error{Kind: KindProtocol, Step: "M4", Cause: errors.New("missing Proof")}
	}
	if err := s.srpClient.VerifyServer(m2); err != nil {
		return 0, nil, false, &Error{Kind: KindAuthentication, Step: "M4", Cause: err}
	}

	K := s.srpClient.SessionKey()
	iOSDeviceX, err := ccrypto.HKDF("Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info", K)
	if err != nil {
		return 0, nil, false, err
	}
	sessionKey, err := ccrypto.HKDF("Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info", K)
	if err != nil {
		return 0, nil, false, err
	}
	s.iOSDeviceX = iOSDeviceX
	s.sessionKey = sessionKey

	info := append(append(append([]byte{}, iOSDeviceX...), s.ClientID...), []byte(s.ed.Public)...)
	sig := ccrypto.Ed25519Sign(s.ed.Private, info)

	inner := tlv8.Record{}.
		Append(tlvIdentifier, s.ClientID).
		Append(tlvPublicKey, []byte(s.ed.Public)).
		Append(tlvSignature, sig)
	if s.DisplayName != "" {
		nameOPACK := opack.Pack(opack.MapVal(opack.Entry("name", opack.StringVal(s.DisplayName))))
		inner = inner.Append(tlvName, nameOPACK)
	}

	nonce, err := ccrypto.StringNonce("PS-Msg05")
	if err != nil {
		return 0, nil, false, err
	}
	encrypted, err := ccrypto.AEADSeal(sessionKey, nonce[:], nil, tlv8.Encode(inner))
	if err != nil {
		return 0, nil, false, fmt.Errorf("pairing: seal M5: %w", err)
	}

	out := tlv8.Record{}.Append(tlvState, []byte{5}).Append(tlvEncryptedData, encrypted)
	s.phase = setupPhaseAwaitM6
	return transport.PairSetupNext, encodeEnvelope(out), false, nil
}

func (s *Setup) stepM6(rec tlv8.Record) (transport.FrameType, []byte, bool, error) {
	enc, ok := rec.Get(tlvEncryptedData)
	if !ok {
		return 0, nil, false, &Error{Kind: KindProtocol, Step: "M6", Cause: errors.New("missing EncryptedData")}
	}

	nonce, err := ccrypto.StringNonce("PS-Msg06")
	if err != nil {
		return 0, nil, false, err
	}
	plain, err := ccrypto.AEADOpen(s.sessionKey, nonce[:], nil, enc)
	if err != nil {
		return 0, nil, false, &Error{Kind: KindAuthentication, Step: "M6", Cause: err}
	}
	inner, err := tlv8.Decode(plain)
	if err != nil {
		return 0, nil, false, fmt.Errorf("pairing: decode M6 TLV: %w", err)
	}

	atvID, ok := inner.Get(tlvIdentifier)
	if !ok {
		return 0, nil, false, &Error{Kind: KindProtocol, Step: "M6", Cause: errors.New("missing Identifier")}
	}
	devicePub, ok := inner.Get(tlvPublicKey)
	if !ok {
		return 0, nil, false, &Error{Kind: KindProtocol, Step: "M6", Cause: errors.New("missing PublicKey")}
	}

	if s.VerifyDeviceSignature {
		if sig, ok := inner.Get(tlvSignature); ok {
			info := append(append(append([]byte{}, s.iOSDeviceX...), atvID...), devicePub...)
			if !ccrypto.Ed25519Verify(ed25519.PublicKey(devicePub), info, sig) {
				return 0, nil, false, &Error{Kind: KindAuthentication, Step: "M6", Cause: errors.New("device signature did not verify")}
			}
		}
	}

	s.result = Credentials{
		LTPK:     s.ed.Public,
		LTSK:     s.ed.Private,
		AtvID:    atvID,
		ClientID: s.ClientID,
		AtvPK:    ed25519.PublicKey(devicePub),
	}
	s.phase = setupPhaseDone
	s.inFlight = false
	return 0, nil, true, nil
}

func (s *Setup) tlvError(code []byte, rec tlv8.Record) error {
	step := s.stepName()
	if len(code) != 1 {
		return &Error{Kind: KindProtocol, Step: step, Cause: fmt.Errorf("malformed error TLV: % x", code)}
	}
	kind := tlvErrorToKind(code[0])
	e := &Error{Kind: kind, Step: step}
	if kind == KindBackOff {
		if rd, ok := rec.Get(tlvRetryDelay); ok {
			e.RetryAfter = retryDelayDuration(rd)
		}
	}
	return e
}

func (s *Setup) stepName() string {
	switch s.phase {
	case setupPhaseAwaitM2:
		return "M2"
	case setupPhaseAwaitM4:
		return "M4"
	case setupPhaseAwaitM6:
		return "M6"
	default:
		return "Pair-Setup"
	}
}
