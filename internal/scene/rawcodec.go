package scene

import (
	"context"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// RawFormat is the format identifier used by RawCodec snapshots.
const RawFormat = "raw+zstd"

// RawCodec is the built-in stand-in codec. It does not understand any design
// file format: Decode records size metadata and stows a zstd-compressed copy
// of the bytes as the snapshot source, and Encode decompresses that copy.
//
// Real format codecs replace this with a structural decode; RawCodec exists
// so every engine path, including snapshot re-encode fallback, works out of
// the box.
type RawCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewRawCodec creates a RawCodec with the given zstd level (1 fastest to
// 4 best).
func NewRawCodec(level int) (*RawCodec, error) {
	if level < 1 || level > 4 {
		return nil, fmt.Errorf("scene: invalid compression level %d", level)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &RawCodec{enc: enc, dec: dec}, nil
}

// Name returns the codec identifier.
func (c *RawCodec) Name() string { return RawFormat }

// Decode compresses the file bytes into a snapshot.
func (c *RawCodec) Decode(ctx context.Context, data []byte) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	compressed := c.enc.EncodeAll(data, nil)

	return &Snapshot{
		Format:   RawFormat,
		Summary:  fmt.Sprintf("%d bytes", len(data)),
		ByteSize: int64(len(data)),
		TakenAt:  time.Now().UTC(),
		Source:   compressed,
	}, nil
}

// Encode decompresses the snapshot source back into file bytes.
func (c *RawCodec) Encode(ctx context.Context, snap *Snapshot) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !snap.CanEncode() {
		return nil, ErrNoSource
	}
	if snap.Format != RawFormat {
		return nil, fmt.Errorf("scene: cannot encode %q snapshot with raw codec", snap.Format)
	}

	data, err := c.dec.DecodeAll(snap.Source, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot source: %w", err)
	}
	return data, nil
}

// Close releases codec resources.
func (c *RawCodec) Close() {
	c.enc.Close()
	c.dec.Close()
}
