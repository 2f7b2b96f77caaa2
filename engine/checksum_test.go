package engine

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumReader_StableAcrossReads(t *testing.T) {
	data := bytes.Repeat([]byte("vaultfast"), 4096)

	whole := NewChecksumReader(bytes.NewReader(data))
	_, err := io.Copy(io.Discard, whole)
	require.NoError(t, err)

	// reading in small chunks must not change the sum
	chunked := NewChecksumReader(bytes.NewReader(data))
	buf := make([]byte, 7)
	for {
		if _, err := chunked.Read(buf); err == io.EOF {
			break
		} else {
			require.NoError(t, err)
		}
	}

	assert.Equal(t, whole.Sum(), chunked.Sum())
	assert.Equal(t, int64(len(data)), whole.BytesRead())
	assert.Equal(t, int64(len(data)), chunked.BytesRead())
	assert.Len(t, whole.Sum(), 16)
}

func TestChecksumReader_DiffersOnDifferentData(t *testing.T) {
	a := NewChecksumReader(strings.NewReader("one"))
	b := NewChecksumReader(strings.NewReader("two"))
	_, _ = io.Copy(io.Discard, a)
	_, _ = io.Copy(io.Discard, b)
	assert.NotEqual(t, a.Sum(), b.Sum())
}

func TestBufferPool_Reuse(t *testing.T) {
	bp := NewBufferPool(1024)

	b := bp.Get()
	require.NotNil(t, b)
	assert.Len(t, *b, 1024)
	bp.Put(b)

	// undersized buffers are not returned to the pool
	small := make([]byte, 16)
	bp.Put(&small)
	again := bp.Get()
	assert.GreaterOrEqual(t, cap(*again), 1024)
}
