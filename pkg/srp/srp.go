// Package srp implements the client side of SRP-6a (RFC 5054) the way
// Pair-Setup uses it: group 3072-bit/SHA-512, username fixed to
// "Pair-Setup", and the client's ephemeral secret `a` supplied by the
// caller rather than generated internally, since HAP requires `a` to
// equal the Ed25519 private-key seed minted at the start of Pair-Setup.
//
// The derivation shape (compute k, x, u, then the shared premaster
// secret and session key) mirrors the SRP handling in go-ios's untrusted
// tunnel client, which drives the same Pair-Setup handshake.
package srp

import (
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"math/big"
)

const identity = "Pair-Setup"

// Client runs one SRP-6a exchange. It is not safe to reuse across
// handshakes.
type Client struct {
	password string

	a *big.Int
	A *big.Int

	s []byte
	B *big.Int

	sessionKey []byte
	m1         []byte
	expectedM2 []byte
}

// NewClient builds a Client whose ephemeral secret is a (typically the
// 32-byte seed of the Ed25519 identity minted for this pairing attempt)
// and whose password is the setup code PIN.
func NewClient(a []byte, password string) (*Client, error) {
	if len(a) == 0 {
		return nil, errors.New("srp: ephemeral secret a must not be empty")
	}
	aInt := new(big.Int).SetBytes(a)
	A := new(big.Int).Exp(groupG, aInt, groupN)
	return &Client{password: password, a: aInt, A: A}, nil
}

// PublicKey returns A = g^a mod N, serialized as 384 bytes big-endian.
func (c *Client) PublicKey() []byte {
	return paddedBytes(c.A, groupByteLen)
}

// Credentials consumes the server's salt and public key B, derives the
// shared session key and client proof, and returns A and M1 ready to
// send to the device. It must be called exactly once per handshake.
func (c *Client) Credentials(salt, B []byte) (A, M1 []byte, err error) {
	Bint := new(big.Int).SetBytes(B)
	if new(big.Int).Mod(Bint, groupN).Sign() == 0 {
		return nil, nil, errors.New("srp: server public key B is congruent to 0 mod N")
	}
	c.s = append([]byte(nil), salt...)
	c.B = Bint

	paddedA := paddedBytes(c.A, groupByteLen)
	paddedB := paddedBytes(Bint, groupByteLen)

	u := new(big.Int).SetBytes(hashBytes(paddedA, paddedB))
	if u.Sign() == 0 {
		return nil, nil, errors.New("srp: derived u is zero")
	}

	k := new(big.Int).SetBytes(hashBytes(paddedBytes(groupN, groupByteLen), paddedBytes(groupG, groupByteLen)))
	x := new(big.Int).SetBytes(hashBytes(c.s, []byte(identity), []byte(c.password)))

	gx := new(big.Int).Exp(groupG, x, groupN)
	kgx := new(big.Int).Mod(new(big.Int).Mul(k, gx), groupN)

	base := new(big.Int).Mod(new(big.Int).Sub(Bint, kgx), groupN)
	if base.Sign() < 0 {
		base.Add(base, groupN)
	}

	exp := new(big.Int).Add(c.a, new(big.Int).Mul(u, x))
	S := new(big.Int).Exp(base, exp, groupN)

	c.sessionKey = hashBytes(paddedBytes(S, groupByteLen))
	c.m1 = computeM1(paddedA, paddedB, c.s, c.sessionKey)
	c.expectedM2 = computeM2(paddedA, c.m1, c.sessionKey)

	return paddedA, c.m1, nil
}

// SessionKey returns K, the 64-byte SHA-512 session key derived by
// Credentials. It is the input to the HKDF derivations in Pair-Setup
// M5/M6.
func (c *Client) SessionKey() []byte {
	return c.sessionKey
}

// VerifyServer checks the device's proof M2 against the session key
// derived in Credentials, in constant time.
func (c *Client) VerifyServer(M2 []byte) error {
	if c.expectedM2 == nil {
		return errors.New("srp: VerifyServer called before Credentials")
	}
	if subtle.ConstantTimeCompare(c.expectedM2, M2) != 1 {
		return errors.New("srp: server proof M2 does not match")
	}
	return nil
}

func hashBytes(parts ...[]byte) []byte {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// computeM1 follows RFC 5054 §2.4 / RFC 2945: M1 = H(H(N) xor H(g), H(I), s, A, B, K).
func computeM1(paddedA, paddedB, salt, K []byte) []byte {
	hn := hashBytes(paddedBytes(groupN, groupByteLen))
	hg := hashBytes(paddedBytes(groupG, groupByteLen))
	hng := make([]byte, len(hn))
	for i := range hng {
		hng[i] = hn[i] ^ hg[i]
	}
	hi := hashBytes([]byte(identity))
	return hashBytes(hng, hi, salt, paddedA, paddedB, K)
}

// computeM2 follows RFC 2945: M2 = H(A, M1, K).
func computeM2(paddedA, m1, K []byte) []byte {
	return hashBytes(paddedA, m1, K)
}
