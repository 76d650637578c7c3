package companion

import (
	"context"
	"fmt"

	"github.com/barnettlynn/companion/pkg/pairing"
)

// PairSetup drives a Pair-Setup handshake to completion over the
// session's connection and returns the minted long-term Credentials.
// Call before the connection has been switched into AEAD mode.
func (s *Session) PairSetup(ctx context.Context, setup *pairing.Setup) (pairing.Credentials, error) {
	if err := s.runAuth(ctx, setup); err != nil {
		return pairing.Credentials{}, fmt.Errorf("companion: pair-setup: %w", err)
	}
	return setup.Result()
}

// PairVerify drives a Pair-Verify handshake to completion and installs
// the resulting data-channel keys on the session's connection, so every
// OPACK frame sent and received afterward is AEAD-sealed.
func (s *Session) PairVerify(ctx context.Context, verify *pairing.Verify) error {
	if err := s.runAuth(ctx, verify); err != nil {
		return fmt.Errorf("companion: pair-verify: %w", err)
	}
	tx, rx, err := verify.Result()
	if err != nil {
		return err
	}
	s.conn.InstallKeys(tx, rx)
	return nil
}
