// Package integrity verifies downloaded results against the checksum the
// remote service declares for them.
package integrity

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrChecksumMismatch is returned when the local checksum differs from the
// declared one.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Checksum returns the base64-encoded MD5 digest of everything read from r,
// the form the remote service uses in its Content-MD5 values.
func Checksum(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// ChecksumBytes is Checksum over an in-memory payload.
func ChecksumBytes(b []byte) string {
	sum := md5.Sum(b)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Verify compares the checksum of content with declared. An empty declared
// checksum never matches.
func Verify(content []byte, declared string) error {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return fmt.Errorf("%w: no checksum declared", ErrChecksumMismatch)
	}
	local, err := Checksum(bytes.NewReader(content))
	if err != nil {
		return err
	}
	if local != declared {
		return fmt.Errorf("%w: computed %s, declared %s", ErrChecksumMismatch, local, declared)
	}
	return nil
}
