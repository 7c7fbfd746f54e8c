package random

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// CollisionResistantLength is a byte length suitable for identifiers that
// need to be resistant to collision across concurrent generation, such as
// temporary file and shadow-backup path suffixes.
const CollisionResistantLength = 8

// New returns a byte slice of the specified length with cryptographically
// random contents.
func New(length int) ([]byte, error) {
	result := make([]byte, length)

	if _, err := rand.Read(result[:]); err != nil {
		return nil, fmt.Errorf("unable to read random data: %w", err)
	}

	return result, nil
}

// Hex returns a lowercase hexadecimal string of cryptographically random
// content with the specified byte length (the resulting string is twice as
// long). It is used to construct unpredictable filesystem suffixes (for
// atomic-replace temporary files and batch shadow-backup paths) so that
// concurrent operations on the same target never collide.
func Hex(length int) (string, error) {
	data, err := New(length)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(data), nil
}
