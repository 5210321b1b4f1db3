package calls

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// reconnectTokenBytes is the entropy behind a reconnect token. Tokens are
// bearer credentials for resuming a live call, so they must come from the
// OS CSPRNG, never a seeded PRNG.
const reconnectTokenBytes = 32

// NewReconnectToken returns a 64-character lowercase hex token from 32 bytes
// of cryptographically secure randomness.
func NewReconnectToken() (string, error) {
	buf := make([]byte, reconnectTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reconnect token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
