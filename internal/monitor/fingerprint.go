package monitor

import (
	"crypto/sha256"
	"encoding/binary"
)

// Fingerprint hashes the trailing window characters of screen text into a
// cheap change-detection token. Identical trailing content yields the same
// fingerprint; the leading scrollback is deliberately ignored.
func Fingerprint(text string, window int) uint64 {
	if window > 0 && len(text) > window {
		text = text[len(text)-window:]
	}
	sum := sha256.Sum256([]byte(text))
	return binary.BigEndian.Uint64(sum[:8])
}
