// Package blob stores commit payloads for tracked design files across a
// chain of tiers: a filesystem commit store, an in-memory cache, an embedded
// key-value cache, and an optional remote fetch. Reads walk the chain in
// that order and stop at the first hit; writes go to the first available
// durable tier.
//
// Payloads are large (design files run to hundreds of megabytes), so the
// store does not copy them defensively. Callers must treat slices passed to
// Put and returned from Get as read-only.
package blob

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates that no configured tier holds the requested payload.
var ErrNotFound = errors.New("blob: payload not found in any tier")

// Ref is a resolvable pointer to stored payload bytes.
type Ref struct {
	// Key is the tracked file key the payload belongs to.
	Key string `json:"key"`

	// CommitID is the commit the payload was stored for.
	CommitID string `json:"commit_id"`

	// Size is the payload length in bytes.
	Size int64 `json:"size"`

	// Sum is the xxh3 sum of the payload. It detects corruption; it is
	// not a cryptographic guarantee.
	Sum uint64 `json:"sum"`
}

// Tier identifies a storage tier in the chain.
type Tier int

const (
	// TierNone means the payload was not found.
	TierNone Tier = iota
	// TierFS is the filesystem commit store.
	TierFS
	// TierMemory is the in-process payload cache.
	TierMemory
	// TierKV is the embedded key-value cache.
	TierKV
	// TierRemote is the remote object store.
	TierRemote
)

func (t Tier) String() string {
	switch t {
	case TierFS:
		return "fs"
	case TierMemory:
		return "memory"
	case TierKV:
		return "kv"
	case TierRemote:
		return "remote"
	default:
		return "none"
	}
}

func cacheKey(fileKey, commitID string) string {
	return fmt.Sprintf("%s/%s", fileKey, commitID)
}
