package version

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash fingerprints note content for no-op detection and storage
// accounting. It is not an identity and carries no security weight.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
