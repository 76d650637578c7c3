package srp

import (
	"errors"
	"math/big"
)

// ServerVerifier computes the long-term verifier v = g^x mod N for a
// given salt and password. An accessory (or the companion-emulator
// loopback peer this module ships for integration testing) stores v in
// place of the plaintext PIN.
func ServerVerifier(salt []byte, password string) *big.Int {
	x := new(big.Int).SetBytes(hashBytes(salt, []byte(identity), []byte(password)))
	return new(big.Int).Exp(groupG, x, groupN)
}

// Server holds the accessory side of one SRP-6a exchange.
type Server struct {
	v *big.Int
	b *big.Int
	B *big.Int

	A *big.Int
	K []byte
}

// NewServer creates a Server for verifier v with ephemeral secret b.
func NewServer(v *big.Int, b []byte) *Server {
	bInt := new(big.Int).SetBytes(b)
	k := new(big.Int).SetBytes(hashBytes(paddedBytes(groupN, groupByteLen), paddedBytes(groupG, groupByteLen)))
	gb := new(big.Int).Exp(groupG, bInt, groupN)
	kv := new(big.Int).Mod(new(big.Int).Mul(k, v), groupN)
	B := new(big.Int).Mod(new(big.Int).Add(kv, gb), groupN)
	return &Server{v: v, b: bInt, B: B}
}

// PublicKey returns B, serialized as 384 bytes big-endian.
func (s *Server) PublicKey() []byte {
	return paddedBytes(s.B, groupByteLen)
}

// ComputeSessionKey consumes the client's public key A and derives the
// shared session key K.
func (s *Server) ComputeSessionKey(A []byte) ([]byte, error) {
	Aint := new(big.Int).SetBytes(A)
	if new(big.Int).Mod(Aint, groupN).Sign() == 0 {
		return nil, errors.New("srp: client public key A is congruent to 0 mod N")
	}
	s.A = Aint

	u := new(big.Int).SetBytes(hashBytes(paddedBytes(Aint, groupByteLen), paddedBytes(s.B, groupByteLen)))
	vu := new(big.Int).Exp(s.v, u, groupN)
	base := new(big.Int).Mod(new(big.Int).Mul(Aint, vu), groupN)
	S := new(big.Int).Exp(base, s.b, groupN)

	s.K = hashBytes(paddedBytes(S, groupByteLen))
	return s.K, nil
}

// ExpectedM1 returns the client proof the server expects, given salt.
// Call only after ComputeSessionKey.
func (s *Server) ExpectedM1(salt []byte) []byte {
	return computeM1(paddedBytes(s.A, groupByteLen), paddedBytes(s.B, groupByteLen), salt, s.K)
}

// ProofM2 returns the server's proof of the session key, given the
// client's (verified) M1.
func (s *Server) ProofM2(m1 []byte) []byte {
	return computeM2(paddedBytes(s.A, groupByteLen), m1, s.K)
}
