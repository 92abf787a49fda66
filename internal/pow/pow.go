// ABOUTME: Proof-of-work verification for agent challenges
// ABOUTME: SHA-256 over prefix+nonce must start with N zero hex digits

package pow

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Algorithm is the fixed hash algorithm announced to clients.
const Algorithm = "sha256"

// DigestHexLen is the length of a hex-encoded SHA-256 digest.
// Difficulties above this can never be satisfied.
const DigestHexLen = sha256.Size * 2

// Verify reports whether nonce is a valid solution for the given prefix
// and difficulty. The solution hash is sha256(prefix + nonce), and its
// hexadecimal form must begin with at least difficulty '0' characters.
// Difficulty is measured in hex digits, not bits; hex.EncodeToString
// always zero-pads, so the comparison never depends on digest length
// quirks. Difficulty 0 accepts any nonce.
func Verify(prefix, nonce string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if difficulty > DigestHexLen {
		return false
	}
	sum := sha256.Sum256([]byte(prefix + nonce))
	digest := hex.EncodeToString(sum[:])
	return strings.HasPrefix(digest, strings.Repeat("0", difficulty))
}

// Solve searches for a nonce satisfying Verify(prefix, nonce, difficulty)
// by iterating a decimal counter. Expected work grows by a factor of 16
// per difficulty level; callers own deciding how much work is reasonable.
func Solve(prefix string, difficulty int) string {
	for i := uint64(0); ; i++ {
		nonce := strconv.FormatUint(i, 10)
		if Verify(prefix, nonce, difficulty) {
			return nonce
		}
	}
}
