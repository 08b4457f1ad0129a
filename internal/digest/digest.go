// Package digest implements the registry's Digest Service: streaming
// SHA-256 computation with a parallel size counter and constant-time
// verification, so the Artifact Fetcher can verify bytes as they arrive
// without buffering the whole artifact.
package digest

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"io"

	"github.com/worldcache/registry/pkg/registryerr"
)

// Algorithm is the one digest algorithm the registry speaks on the wire.
const Algorithm = "sha256"

// HexWidth is the fixed width of a lowercase-hex sha256 digest.
const HexWidth = 64

// Stream accumulates a SHA-256 digest and a running byte count over chunks
// pushed by a caller (typically the Artifact Fetcher as it reads a response
// body). It is not safe for concurrent use by multiple goroutines.
type Stream struct {
	h    hash.Hash
	size int64
}

// NewStream starts a fresh digest stream.
func NewStream() *Stream {
	return &Stream{h: sha256.New()}
}

// Write feeds a chunk into the digest and running size counter. Satisfies
// io.Writer so a Stream can be used directly as the sink of an io.TeeReader
// or io.Copy destination.
func (s *Stream) Write(p []byte) (int, error) {
	n, err := s.h.Write(p)
	s.size += int64(n)
	return n, err
}

// Size returns the number of bytes written so far.
func (s *Stream) Size() int64 {
	return s.size
}

// Sum returns the final digest as 64 lowercase hex characters. Safe to call
// multiple times; does not reset the stream.
func (s *Stream) Sum() string {
	return hex.EncodeToString(s.h.Sum(nil))
}

// Of computes the SHA-256 digest and byte size of r in one pass, without
// buffering it in memory.
func Of(r io.Reader) (digestHex string, size int64, err error) {
	s := NewStream()
	if _, err := io.Copy(s, r); err != nil {
		return "", 0, err
	}
	return s.Sum(), s.Size(), nil
}

// Verify compares an expected lowercase-hex digest and declared size
// against a stream's actual values, in constant time for the digest
// comparison. Returns a registryerr of KindDigestMismatch or
// KindSizeMismatch on the first disagreement.
func Verify(s *Stream, expectedDigest string, expectedSize int64) error {
	if s.Size() != expectedSize {
		return registryerr.Newf(registryerr.KindSizeMismatch, "declared size %d does not match fetched size %d", expectedSize, s.Size()).
			WithDetails(map[string]interface{}{"declared_size": expectedSize, "actual_size": s.Size()})
	}

	actual := s.Sum()
	if !Equal(expectedDigest, actual) {
		return registryerr.Newf(registryerr.KindDigestMismatch, "declared digest does not match fetched content").
			WithDetails(map[string]interface{}{"expected": expectedDigest, "actual": actual})
	}

	return nil
}

// Equal performs a constant-time, case-sensitive comparison of two
// lowercase-hex digest strings.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ValidHexDigest reports whether s has the expected fixed width for the
// registry's chosen algorithm and consists only of lowercase hex digits.
func ValidHexDigest(s string) bool {
	if len(s) != HexWidth {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
