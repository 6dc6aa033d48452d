package scene

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestRawCodecRoundTrip(t *testing.T) {
	codec, err := NewRawCodec(2)
	if err != nil {
		t.Fatalf("NewRawCodec failed: %v", err)
	}
	defer codec.Close()

	data := bytes.Repeat([]byte("mesh vertex data "), 1024)

	snap, err := codec.Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if snap.Format != RawFormat {
		t.Errorf("expected format %q, got %q", RawFormat, snap.Format)
	}
	if snap.ByteSize != int64(len(data)) {
		t.Errorf("expected byte size %d, got %d", len(data), snap.ByteSize)
	}
	if !snap.CanEncode() {
		t.Fatal("raw snapshot should be re-encodable")
	}
	if len(snap.Source) >= len(data) {
		t.Errorf("repetitive payload should compress: %d >= %d", len(snap.Source), len(data))
	}

	out, err := codec.Encode(context.Background(), snap)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("round trip did not reproduce original bytes")
	}
}

func TestRawCodecEmptyPayload(t *testing.T) {
	codec, err := NewRawCodec(1)
	if err != nil {
		t.Fatalf("NewRawCodec failed: %v", err)
	}
	defer codec.Close()

	snap, err := codec.Decode(context.Background(), nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if snap.ByteSize != 0 {
		t.Errorf("expected byte size 0, got %d", snap.ByteSize)
	}
}

func TestRawCodecNoSource(t *testing.T) {
	codec, err := NewRawCodec(2)
	if err != nil {
		t.Fatalf("NewRawCodec failed: %v", err)
	}
	defer codec.Close()

	snap := &Snapshot{Format: RawFormat, Summary: "view only"}
	_, err = codec.Encode(context.Background(), snap)
	if !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
}

func TestRawCodecForeignFormat(t *testing.T) {
	codec, err := NewRawCodec(2)
	if err != nil {
		t.Fatalf("NewRawCodec failed: %v", err)
	}
	defer codec.Close()

	snap := &Snapshot{Format: "glb", Source: []byte{1, 2, 3}}
	if _, err := codec.Encode(context.Background(), snap); err == nil {
		t.Error("expected error for foreign snapshot format")
	}
}

func TestRawCodecInvalidLevel(t *testing.T) {
	if _, err := NewRawCodec(0); err == nil {
		t.Error("expected error for level 0")
	}
	if _, err := NewRawCodec(9); err == nil {
		t.Error("expected error for level 9")
	}
}

func TestSnapshotClone(t *testing.T) {
	snap := &Snapshot{
		Format:   RawFormat,
		ByteSize: 3,
		Source:   []byte{1, 2, 3},
	}

	clone := snap.Clone()
	clone.Source[0] = 9

	if snap.Source[0] == 9 {
		t.Error("mutating clone source affected original")
	}

	var nilSnap *Snapshot
	if nilSnap.Clone() != nil {
		t.Error("clone of nil snapshot should be nil")
	}
}

func TestSnapshotCanEncode(t *testing.T) {
	var nilSnap *Snapshot
	if nilSnap.CanEncode() {
		t.Error("nil snapshot cannot encode")
	}
	if (&Snapshot{}).CanEncode() {
		t.Error("empty snapshot cannot encode")
	}
	if !(&Snapshot{Source: []byte{1}}).CanEncode() {
		t.Error("snapshot with source should encode")
	}
}
