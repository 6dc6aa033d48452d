// Package scene defines the decoded in-memory representation of a tracked
// design file and the codec seam used to move between file bytes and that
// representation.
//
// The engine never interprets design file contents itself. Everything
// format-specific happens behind the Codec interface, so real formats (GLB,
// STEP, native CAD containers) plug in without touching engine code.
package scene

import (
	"context"
	"errors"
	"time"
)

// ErrNoSource indicates a snapshot that cannot be re-encoded into file bytes.
var ErrNoSource = errors.New("scene: snapshot has no re-encodable source")

// Snapshot is the decoded scene held in memory for display and comparison.
//
// The engine treats it as opaque apart from the display fields. Source is
// codec-private material that lets the owning codec re-encode the snapshot
// back into file bytes; it may be absent, in which case the snapshot is
// view-only.
type Snapshot struct {
	// Format identifies the codec that produced this snapshot.
	Format string `json:"format"`

	// Summary is a short human-readable description for history listings.
	Summary string `json:"summary,omitempty"`

	// ByteSize is the size of the encoded file bytes this snapshot was
	// decoded from.
	ByteSize int64 `json:"byte_size"`

	// TakenAt records when the snapshot was decoded.
	TakenAt time.Time `json:"taken_at"`

	// Source is codec-private re-encode material. Nil means the snapshot
	// cannot be turned back into file bytes.
	Source []byte `json:"source,omitempty"`
}

// CanEncode reports whether the snapshot carries enough material to be
// re-encoded into file bytes.
func (s *Snapshot) CanEncode() bool {
	return s != nil && len(s.Source) > 0
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	if s.Source != nil {
		c.Source = append([]byte(nil), s.Source...)
	}
	return &c
}

// Codec converts between design file bytes and snapshots.
//
// Decode must not retain data after returning. Encode output need not be
// byte-identical to the original file the snapshot was decoded from; callers
// that require exact bytes must fetch them from blob storage instead.
type Codec interface {
	// Name returns the codec identifier recorded in Snapshot.Format.
	Name() string

	// Decode parses file bytes into a snapshot.
	Decode(ctx context.Context, data []byte) (*Snapshot, error)

	// Encode turns a snapshot back into file bytes. Returns ErrNoSource
	// when the snapshot is view-only.
	Encode(ctx context.Context, snap *Snapshot) ([]byte, error)
}
