package util

import (
	"fmt"

	zstd "github.com/klauspost/compress/zstd"
)

// Compressor holds one zstd encoder and decoder. EncodeAll and DecodeAll
// are safe for concurrent use, so a single Compressor serves every worker.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	level   int
}

// NewCompressor accepts a zstd level (1..22); the library maps it onto its
// own speed presets.
func NewCompressor(level int) (*Compressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("zstd new writer: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd new reader: %w", err)
	}
	return &Compressor{encoder: enc, decoder: dec, level: level}, nil
}

func (c *Compressor) Level() int {
	return c.level
}

func (c *Compressor) Compress(data []byte) []byte {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

func (c *Compressor) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
