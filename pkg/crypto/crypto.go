// Package crypto is a thin facade over the primitives a Companion
// Protocol session needs: Ed25519 signing, X25519 key agreement,
// HKDF-SHA512 key derivation, and ChaCha20-Poly1305 AEAD sealing/opening
// with the three nonce constructions the protocol's handshakes and data
// channel use. Grounded on the HKDF/ChaCha20-Poly1305 key-setup pattern in
// go-ios's untrusted tunnel client (golang.org/x/crypto/hkdf +
// golang.org/x/crypto/chacha20poly1305, info strings
// "ClientEncrypt-main"/"ServerEncrypt-main") and on the X25519/HKDF/AEAD
// call shape in shurli's invite PAKE (crypto/ecdh, chacha20poly1305.NewX).
package crypto

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Ed25519KeyPair holds a generated Ed25519 long-term identity.
type Ed25519KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateEd25519KeyPair creates a fresh Ed25519 identity using the system
// CSPRNG.
func GenerateEd25519KeyPair() (Ed25519KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Ed25519KeyPair{}, fmt.Errorf("crypto: ed25519 keypair generation: %w", err)
	}
	return Ed25519KeyPair{Public: pub, Private: priv}, nil
}

// Ed25519KeyPairFromSeed derives a deterministic Ed25519 identity from a
// 32-byte seed, used by Pair-Setup where the client's SRP ephemeral secret
// `a` is required to equal the Ed25519 private-key seed bytes.
func Ed25519KeyPairFromSeed(seed []byte) (Ed25519KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return Ed25519KeyPair{}, fmt.Errorf("crypto: ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return Ed25519KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// Ed25519Sign signs msg with sk, producing a 64-byte signature.
func Ed25519Sign(sk ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(sk, msg)
}

// Ed25519Verify reports whether sig is a valid signature of msg under pk.
func Ed25519Verify(pk ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pk, msg, sig)
}

// X25519KeyPair holds a generated X25519 ephemeral key pair.
type X25519KeyPair struct {
	private *ecdh.PrivateKey
	Public  [32]byte
}

// GenerateX25519KeyPair creates a fresh X25519 ephemeral key pair.
func GenerateX25519KeyPair() (X25519KeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return X25519KeyPair{}, fmt.Errorf("crypto: x25519 keypair generation: %w", err)
	}
	var pub [32]byte
	copy(pub[:], priv.PublicKey().Bytes())
	return X25519KeyPair{private: priv, Public: pub}, nil
}

// X25519DH computes the shared secret between kp's private key and a
// peer's 32-byte public key.
func (kp X25519KeyPair) X25519DH(peerPublic []byte) ([]byte, error) {
	peer, err := ecdh.X25519().NewPublicKey(peerPublic)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid x25519 peer public key: %w", err)
	}
	shared, err := kp.private.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("crypto: x25519 key exchange: %w", err)
	}
	return shared, nil
}

// HKDF derives 32 bytes of key material from ikm using HMAC-SHA512, with
// salt and info supplied as UTF-8 labels (the Companion Protocol's
// handshakes always use literal ASCII salt/info strings).
func HKDF(salt, info string, ikm []byte) ([]byte, error) {
	r := hkdf.New(sha512.New, ikm, []byte(salt), []byte(info))
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("crypto: HKDF derivation: %w", err)
	}
	return out, nil
}

// AEADSeal encrypts pt under key/nonce with aad as associated data,
// appending the 16-byte Poly1305 tag.
func AEADSeal(key, nonce, aad, pt []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: chacha20poly1305 init: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("crypto: nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	return aead.Seal(nil, nonce, pt, aad), nil
}

// AEADOpen authenticates and decrypts ct||tag under key/nonce/aad.
func AEADOpen(key, nonce, aad, ct []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: chacha20poly1305 init: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("crypto: nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("crypto: AEAD open failed: %w", errAEADAuth)
	}
	return pt, nil
}

var errAEADAuth = errors.New("authentication failed")

// EightByteNonce builds the 12-byte AEAD nonce used during pairing-phase
// encryptions: four zero bytes followed by an 8-byte little-endian
// counter.
func EightByteNonce(counter uint64) [12]byte {
	var n [12]byte
	putUint64LE(n[4:], counter)
	return n
}

// TwelveByteNonce builds the 12-byte AEAD nonce used on the data channel:
// an 8-byte little-endian counter followed by four zero bytes.
func TwelveByteNonce(counter uint64) [12]byte {
	var n [12]byte
	putUint64LE(n[0:8], counter)
	return n
}

// StringNonce right-aligns an ASCII label (e.g. "PS-Msg05") in 12 bytes
// with left zero-padding, used where HAP requires deterministic,
// counter-free nonces during pairing.
func StringNonce(label string) ([12]byte, error) {
	var n [12]byte
	if len(label) > len(n) {
		return n, fmt.Errorf("crypto: nonce label %q longer than 12 bytes", label)
	}
	copy(n[len(n)-len(label):], label)
	return n, nil
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
