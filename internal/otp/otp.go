package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"strconv"
)

// GenerateCode returns a 6-digit numeric OTP string, uniform over 100000-999999.
// Uses crypto/rand for randomness.
func GenerateCode() (string, error) {
	const span = 900000
	// Rejection sampling keeps the distribution uniform over the span.
	max := (uint32(1<<31) / span) * span
	for {
		var b [4]byte
		if _, err := rand.Read(b[:]); err != nil {
			return "", err
		}
		n := binary.BigEndian.Uint32(b[:]) & 0x7fffffff
		if n >= max {
			continue
		}
		return strconv.Itoa(int(n%span) + 100000), nil
	}
}

// HashCode returns a SHA-256 hash of the OTP string, hex-encoded.
// Challenges store only the hash; consumption compares hashes in SQL.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// CodeEqual performs constant-time comparison of the provided code's hash with the stored hash.
func CodeEqual(providedCode, storedHash string) bool {
	providedHash := HashCode(providedCode)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}
