package service

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// ContentHash returns the hex BLAKE2b-256 digest of recognized text.
// It is the integrity key for OCR cache entries: a cached row may only be
// reused while the digest of its stored markdown still matches.
func ContentHash(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
