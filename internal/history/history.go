// Package history persists the append-only commit log of a tracked design
// file. Commits are metadata records; the payload bytes live in the blob
// store and are referenced by size and content sum. The log is branchable:
// a commit's parent is whatever commit was current when it was created, so
// committing after a pull of an older commit starts a new line of history
// without any explicit branch object.
//
// Starred ids are persisted in their own table so star state survives
// independently of the commit list, and the engine's position (current
// commit, pulled commit, dirty flag) is persisted per file key so a
// pull-then-commit branch survives a process restart.
package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"modelvault/internal/blob"
	"modelvault/internal/scene"
)

var (
	// ErrNotFound indicates the requested commit does not exist.
	ErrNotFound = errors.New("history: commit not found")

	// ErrDuplicateID indicates an append with an id that is already present.
	ErrDuplicateID = errors.New("history: commit id already exists")

	// ErrUnknownParent indicates an append whose parent id is not in the log.
	ErrUnknownParent = errors.New("history: parent commit not found")
)

// RemoteRef links a commit to its mirrored copy on the remote vault service.
type RemoteRef struct {
	// ObjectVersion is the version token the object store returned for the
	// uploaded payload.
	ObjectVersion string `json:"object_version"`

	// CommitID is the id the remote metadata service assigned.
	CommitID string `json:"commit_id"`
}

// Commit is one entry in a tracked file's history. Everything except
// Starred and the remote linkage is immutable once appended.
type Commit struct {
	// ID orders the commit within its file's history. Lexicographic order
	// equals creation order; see NewID.
	ID string `json:"id"`

	// Message is the user-supplied commit message.
	Message string `json:"message"`

	// CreatedAt is the creation instant.
	CreatedAt time.Time `json:"created_at"`

	// ParentID names the commit this one was created from. Empty only for
	// the first commit of a tracked file or for roots of pulled branches.
	ParentID string `json:"parent_id,omitempty"`

	// Snapshot is the decoded scene captured at commit time. Loaded lazily;
	// nil after a metadata load even when one is persisted (check
	// HasSnapshot, fetch with Log.LoadSnapshot).
	Snapshot *scene.Snapshot `json:"snapshot,omitempty"`

	// HasSnapshot reports whether a snapshot is persisted for this commit.
	HasSnapshot bool `json:"has_snapshot"`

	// Blob references the exact payload bytes in the blob store. Nil marks
	// a degraded commit whose bytes could not be captured.
	Blob *blob.Ref `json:"blob,omitempty"`

	// Remote is set once the commit has been mirrored to the vault service.
	Remote *RemoteRef `json:"remote,omitempty"`

	// Starred is the user's bookmark flag, the only mutable field.
	Starred bool `json:"starred"`
}

// Degraded reports whether the commit was recorded without payload bytes.
func (c *Commit) Degraded() bool {
	return c.Blob == nil
}

// State is the persisted engine position for a tracked file.
type State struct {
	// CurrentCommitID is the commit the on-disk file is believed to match.
	CurrentCommitID string

	// PulledCommitID is set while the on-disk file holds an explicitly
	// pulled commit, so a later commit branches from it.
	PulledCommitID string

	// Dirty reports that the on-disk file has diverged since the current
	// commit.
	Dirty bool
}

// NewID returns a fresh commit id: the creation time in nanoseconds as
// zero-padded hex, then a random fragment to disambiguate ids minted in the
// same nanosecond. Lexicographic order of ids equals creation order.
func NewID() string {
	return fmt.Sprintf("%016x-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}
