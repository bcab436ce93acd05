// Package checksum computes the hex SHA-256 digests stored alongside audit
// archives. Storage backends record the digest in object metadata and the
// retention job compares it with the digest of the local file before purging.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
)

// ErrMismatch is returned by Verify when the digest differs from the expected one.
var ErrMismatch = errors.New("checksum mismatch")

// Bytes returns the hex SHA-256 of data.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Calculate reads r to EOF and returns its hex SHA-256.
func Calculate(r io.Reader) (string, error) {
	h := NewReader(r)
	if _, err := io.Copy(io.Discard, h); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return h.Sum(), nil
}

// Verify reads r to EOF and reports ErrMismatch if its digest is not expected.
func Verify(r io.Reader, expected string) error {
	actual, err := Calculate(r)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("%w: got %s, want %s", ErrMismatch, actual, expected)
	}
	return nil
}

// Reader hashes everything read through it.
type Reader struct {
	r io.Reader
	h hash.Hash
	n int64
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, h: sha256.New()}
}

func (c *Reader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.h.Write(p[:n])
		c.n += int64(n)
	}
	return n, err
}

// Sum returns the hex digest of the bytes read so far.
func (c *Reader) Sum() string {
	return hex.EncodeToString(c.h.Sum(nil))
}

// Size returns the number of bytes read so far.
func (c *Reader) Size() int64 {
	return c.n
}
