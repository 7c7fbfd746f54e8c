// Package auxops implements the remaining filesystem auxiliary operations:
// checksum compute/verify, disk-usage analysis, and in-workspace symlink
// creation, grounded in the teacher's hashing Algorithm/Factory pattern
// (pkg/synchronization/hashing/algorithm.go) and walk-based traversal style
// (pkg/filesystem/walk.go).
package auxops

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Algorithm identifies a supported checksum algorithm.
type Algorithm string

const (
	// AlgorithmMD5 selects MD5.
	AlgorithmMD5 Algorithm = "md5"
	// AlgorithmSHA1 selects SHA-1.
	AlgorithmSHA1 Algorithm = "sha1"
	// AlgorithmSHA256 selects SHA-256.
	AlgorithmSHA256 Algorithm = "sha256"
	// AlgorithmSHA512 selects SHA-512.
	AlgorithmSHA512 Algorithm = "sha512"
)

// Factory returns a constructor for the algorithm's hash.Hash
// implementation. It panics on an unsupported algorithm value; callers are
// expected to validate the algorithm before reaching this point.
func (a Algorithm) Factory() func() hash.Hash {
	switch a {
	case AlgorithmMD5:
		return md5.New
	case AlgorithmSHA1:
		return sha1.New
	case AlgorithmSHA256:
		return sha256.New
	case AlgorithmSHA512:
		return sha512.New
	default:
		panic("unsupported checksum algorithm")
	}
}

// Supported reports whether a is one of the four recognized algorithms.
func (a Algorithm) Supported() bool {
	switch a {
	case AlgorithmMD5, AlgorithmSHA1, AlgorithmSHA256, AlgorithmSHA512:
		return true
	default:
		return false
	}
}

// ErrFileModified is returned by Compute when the file's modification time
// changed between the initial stat and the completion of the streamed read,
// indicating the digest may not correspond to any single consistent
// snapshot of the file.
var ErrFileModified = errors.New("FILE_MODIFIED: file changed while being hashed")

// Compute streams path through algorithm's hash, returning the lowercase
// hexadecimal digest. If the file's modification time differs between the
// start and end of the read, Compute returns ErrFileModified instead of a
// digest, since the bytes hashed may not reflect any single consistent
// version of the file.
func Compute(path string, algorithm Algorithm) (string, error) {
	if !algorithm.Supported() {
		return "", fmt.Errorf("unsupported checksum algorithm %q", algorithm)
	}

	before, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrap(err, "unable to stat checksum target")
	}

	file, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "unable to open checksum target")
	}
	defer file.Close()

	digest := algorithm.Factory()()
	if _, err := io.Copy(digest, file); err != nil {
		return "", errors.Wrap(err, "unable to read checksum target")
	}

	after, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrap(err, "unable to re-stat checksum target")
	}
	if !after.ModTime().Equal(before.ModTime()) {
		return "", ErrFileModified
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}

// Verify computes path's digest under algorithm and compares it against
// expectedHex using a case-insensitive hexadecimal comparison.
func Verify(path string, algorithm Algorithm, expectedHex string) (bool, error) {
	actual, err := Compute(path, algorithm)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(actual, expectedHex), nil
}
