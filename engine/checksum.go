package engine

import (
	"fmt"
	"hash"
	"hash/crc64"
	"io"
)

// ChecksumReader wraps an io.Reader to compute a CRC64 checksum of everything
// read through it.
type ChecksumReader struct {
	r    io.Reader
	hash hash.Hash64
	n    int64
}

// NewChecksumReader creates a ChecksumReader over r.
func NewChecksumReader(r io.Reader) *ChecksumReader {
	return &ChecksumReader{
		r:    r,
		hash: crc64.New(crc64.MakeTable(crc64.ISO)),
	}
}

// Read reads from the underlying reader and updates the checksum.
func (cr *ChecksumReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.n += int64(n)
		cr.hash.Write(p[:n])
	}
	return n, err
}

// Sum returns the checksum of the bytes read so far as a hex string.
func (cr *ChecksumReader) Sum() string {
	return fmt.Sprintf("%016x", cr.hash.Sum64())
}

// BytesRead returns the total number of bytes read.
func (cr *ChecksumReader) BytesRead() int64 {
	return cr.n
}
