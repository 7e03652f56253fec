package security

import (
	"crypto/rand"
	"fmt"
)

// 62 characters: 0-9, a-z, A-Z
const alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// TemporaryPasswordLength yields roughly 119 bits of entropy.
const TemporaryPasswordLength = 20

// GenerateTemporaryPassword returns a random Base62 password of
// TemporaryPasswordLength characters.
func GenerateTemporaryPassword() (string, error) {
	return GenerateRandomString(TemporaryPasswordLength)
}

// GenerateRandomString creates a cryptographically secure random Base62 string.
func GenerateRandomString(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid length: %d", length)
	}

	// Rejection sampling to avoid modulo bias.
	// 248 is the largest multiple of 62 below 256.
	const maxRandomByte = 248

	out := make([]byte, length)
	buf := make([]byte, length*2)
	written := 0

	for written < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read secure random bytes: %w", err)
		}

		for _, b := range buf {
			if b >= maxRandomByte {
				continue
			}
			out[written] = alphabet[int(b)%len(alphabet)]
			written++
			if written == length {
				break
			}
		}
	}

	return string(out), nil
}
