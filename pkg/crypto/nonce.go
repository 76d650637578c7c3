package crypto

import "fmt"

// NonceCounter tracks a monotonically increasing per-direction counter
// used to build AEAD nonces. It must increment exactly once per sealed or
// opened frame and is required to fail cleanly before it would wrap,
// rather than silently reusing a nonce.
type NonceCounter struct {
	next uint64
}

// Next returns the counter value to use for the next frame and advances
// the counter. It errors instead of wrapping past math.MaxUint64.
func (c *NonceCounter) Next() (uint64, error) {
	if c.next == ^uint64(0) {
		return 0, fmt.Errorf("crypto: nonce counter would overflow; session must be re-established")
	}
	v := c.next
	c.next++
	return v, nil
}

// Value reports the next counter value that will be issued, without
// consuming it.
func (c *NonceCounter) Value() uint64 {
	return c.next
}
