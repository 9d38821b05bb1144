// Package integrity verifies downloaded component bytes against their
// declared content hash.
package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Prefix is the algorithm tag every content hash carries.
const Prefix = "sha256:"

// ErrInvalidChecksum indicates a declared hash is not in sha256:<hex> form.
var ErrInvalidChecksum = errors.New("invalid checksum format")

// MismatchError reports bytes that do not hash to the declared value.
// It is fatal: the bytes must be discarded.
type MismatchError struct {
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("integrity check failed: expected %s, got %s", e.Expected, e.Actual)
}

// ReadError wraps a failure to read the bytes being verified. It is a
// transport problem, not evidence of tampering, and may be retried.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return "read content: " + e.Err.Error()
}

func (e *ReadError) Unwrap() error { return e.Err }

// IsMismatch reports whether err is an integrity mismatch.
func IsMismatch(err error) bool {
	var m *MismatchError
	return errors.As(err, &m)
}

// Sum returns the content hash of b.
func Sum(b []byte) string {
	sum := sha256.Sum256(b)
	return Prefix + hex.EncodeToString(sum[:])
}

// Compute hashes everything read from r.
func Compute(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", &ReadError{Err: err}
	}
	return format(h), nil
}

// ComputeFile hashes the file at path.
func ComputeFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Compute(f)
}

// Normalize validates a declared hash and returns it in canonical lower case.
func Normalize(declared string) (string, error) {
	declared = strings.ToLower(strings.TrimSpace(declared))
	digest, ok := strings.CutPrefix(declared, Prefix)
	if !ok {
		return "", fmt.Errorf("%w: %q must start with %s", ErrInvalidChecksum, declared, Prefix)
	}
	if len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("%w: digest must be %d hex characters", ErrInvalidChecksum, sha256.Size*2)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidChecksum, err)
	}
	return declared, nil
}

// Copy streams src into dst while hashing it and returns the number of bytes
// written. The caller must discard dst when the error is a *MismatchError.
func Copy(dst io.Writer, src io.Reader, declared string) (int64, error) {
	expected, err := Normalize(declared)
	if err != nil {
		return 0, err
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, h), src)
	if err != nil {
		return n, &ReadError{Err: err}
	}
	return n, check(expected, format(h))
}

// Verify reads r to the end and compares its hash with declared.
func Verify(r io.Reader, declared string) error {
	_, err := Copy(io.Discard, r, declared)
	return err
}

// VerifyFile verifies the file at path against declared.
func VerifyFile(path, declared string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Verify(f, declared)
}

func check(expected, actual string) error {
	if subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) != 1 {
		return &MismatchError{Expected: expected, Actual: actual}
	}
	return nil
}

func format(h hash.Hash) string {
	return Prefix + hex.EncodeToString(h.Sum(nil))
}
