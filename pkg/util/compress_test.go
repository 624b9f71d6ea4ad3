package util

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressorRoundTrip(t *testing.T) {
	c, err := NewCompressor(3)
	require.NoError(t, err)
	defer c.Close()

	data := bytes.Repeat([]byte("frame data "), 500)
	packed := c.Compress(data)
	assert.Less(t, len(packed), len(data))

	out, err := c.Decompress(packed)
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.Equal(t, 3, c.Level())
}

func TestDecompressGarbage(t *testing.T) {
	c, err := NewCompressor(1)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Decompress([]byte("definitely not zstd"))
	assert.Error(t, err)
}

func TestCompressorConcurrent(t *testing.T) {
	c, err := NewCompressor(3)
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := bytes.Repeat([]byte{byte(i)}, 4096)
			out, err := c.Decompress(c.Compress(data))
			assert.NoError(t, err)
			assert.Equal(t, data, out)
		}(i)
	}
	wg.Wait()
}
