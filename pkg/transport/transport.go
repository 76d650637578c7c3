// Package transport implements the Companion Protocol's framed TCP wire
// format: a 4-byte header (1-byte frame type, 3-byte big-endian length)
// followed by payload, optionally ChaCha20-Poly1305-sealed once pairing
// keys are installed. The read/verify/decrypt pipeline generalizes
// ntag424's Transmit/SsmCmdFull (read response, check status, decrypt)
// from APDUs over a smartcard reader to length-prefixed frames over TCP.
package transport

import (
	"bufio"
	"fmt"
	"io"
	"net"

	"github.com/barnettlynn/companion/pkg/crypto"
)

// FrameType identifies the kind of payload carried by a frame.
type FrameType byte

const (
	NoOp             FrameType = 0x00
	PairSetupStart   FrameType = 0x03
	PairSetupNext    FrameType = 0x04
	PairVerifyStart  FrameType = 0x05
	PairVerifyNext   FrameType = 0x06
	UnencryptedOPACK FrameType = 0x07
	EncryptedOPACK   FrameType = 0x08
	PlainOPACK       FrameType = 0x09
)

func (t FrameType) String() string {
	switch t {
	case NoOp:
		return "NoOp"
	case PairSetupStart:
		return "PS_Start"
	case PairSetupNext:
		return "PS_Next"
	case PairVerifyStart:
		return "PV_Start"
	case PairVerifyNext:
		return "PV_Next"
	case UnencryptedOPACK:
		return "U_OPACK"
	case EncryptedOPACK:
		return "E_OPACK"
	case PlainOPACK:
		return "P_OPACK"
	default:
		return fmt.Sprintf("FrameType(0x%02X)", byte(t))
	}
}

const (
	headerLen = 4
	tagLen    = 16
)

// Conn wraps a net.Conn with the Companion Protocol's frame format. It is
// not safe for concurrent use from multiple goroutines: reads and writes
// each mutate the connection's own nonce counter and must be serialized
// by the caller (the multiplexer owns exactly one reader goroutine and
// serializes writers behind its own lock).
type Conn struct {
	nc net.Conn
	r  *bufio.Reader

	keyed     bool
	txKey     [32]byte
	rxKey     [32]byte
	txCounter crypto.NonceCounter
	rxCounter crypto.NonceCounter
}

// NewConn wraps an already-dialed net.Conn.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReader(nc)}
}

// InstallKeys switches the connection into AEAD mode with the given
// per-direction keys (the data-channel keys derived at the end of
// Pair-Verify) and resets both nonce counters to zero. It must be called
// at most once per connection.
func (c *Conn) InstallKeys(tx, rx [32]byte) {
	c.txKey = tx
	c.rxKey = rx
	c.txCounter = crypto.NonceCounter{}
	c.rxCounter = crypto.NonceCounter{}
	c.keyed = true
}

// WriteFrame writes one frame. If the connection is keyed and payload is
// non-empty, payload is sealed with the outbound nonce counter and the
// 4-byte header as AAD; the transmitted length includes the 16-byte tag.
func (c *Conn) WriteFrame(t FrameType, payload []byte) error {
	header := [headerLen]byte{byte(t), 0, 0, 0}

	var body []byte
	if c.keyed && len(payload) > 0 {
		ctr, err := c.txCounter.Next()
		if err != nil {
			return fmt.Errorf("transport: %w", err)
		}
		nonce := crypto.TwelveByteNonce(ctr)
		putLen(header[1:], len(payload)+tagLen)
		sealed, err := crypto.AEADSeal(c.txKey[:], nonce[:], header[:], payload)
		if err != nil {
			return fmt.Errorf("transport: seal frame: %w", err)
		}
		body = sealed
	} else {
		putLen(header[1:], len(payload))
		body = payload
	}

	if _, err := c.nc.Write(header[:]); err != nil {
		return fmt.Errorf("transport: write header: %w", err)
	}
	if len(body) > 0 {
		if _, err := c.nc.Write(body); err != nil {
			return fmt.Errorf("transport: write payload: %w", err)
		}
	}
	return nil
}

// ReadFrame blocks until one complete frame has arrived, decrypting it
// in place if the connection is keyed. A failed AEAD open is fatal to
// the connection: the nonce counters are desynchronized from the peer
// and the caller must close and re-establish the session.
func (c *Conn) ReadFrame() (FrameType, []byte, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("transport: read header: %w", err)
	}
	l := readLen(header[1:])
	t := FrameType(header[0])

	body := make([]byte, l)
	if l > 0 {
		if _, err := io.ReadFull(c.r, body); err != nil {
			return 0, nil, fmt.Errorf("transport: read payload: %w", err)
		}
	}

	if !c.keyed || l == 0 {
		return t, body, nil
	}

	ctr, err := c.rxCounter.Next()
	if err != nil {
		return 0, nil, fmt.Errorf("transport: %w", err)
	}
	nonce := crypto.TwelveByteNonce(ctr)
	pt, err := crypto.AEADOpen(c.rxKey[:], nonce[:], header[:], body)
	if err != nil {
		return 0, nil, fmt.Errorf("transport: frame %s failed to decrypt: %w", t, err)
	}
	return t, pt, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

func putLen(b []byte, n int) {
	b[0] = byte(n >> 16)
	b[1] = byte(n >> 8)
	b[2] = byte(n)
}

func readLen(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}
