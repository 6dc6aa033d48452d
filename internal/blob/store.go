package blob

import (
	"context"
	"fmt"

	"github.com/zeebo/xxh3"

	"modelvault/internal/logging"
)

// RemoteFetcher retrieves payload bytes from the remote object store. It is
// the last tier in the chain and is only consulted when every local tier
// misses.
type RemoteFetcher interface {
	FetchBlob(ctx context.Context, fileKey, commitID string) ([]byte, error)
}

// Options configures a Store. Zero values disable the corresponding tier;
// at least one of FSDir and KVPath must be set so payloads have a durable
// home.
type Options struct {
	// FSDir is the root of the filesystem commit store. Empty disables it.
	FSDir string

	// KVPath is the path of the embedded cache database. Empty disables it.
	KVPath string

	// MemoryEntries bounds the in-process payload cache.
	MemoryEntries int

	// CompressionLevel selects the zstd level for cached payloads, 1 to 4.
	CompressionLevel int

	// Remote fetches payloads that are no longer held locally. Nil disables
	// the remote tier.
	Remote RemoteFetcher

	// Logger receives tier fallback and corruption warnings. Nil uses the
	// process default.
	Logger *logging.Logger
}

// Store resolves payloads across the tier chain. All methods are safe for
// concurrent use.
type Store struct {
	fs     *fsTier
	mem    *memoryCache
	kv     *kvTier
	remote RemoteFetcher
	log    *logging.Logger
}

// Open builds the tier chain described by opts.
func Open(opts Options) (*Store, error) {
	if opts.FSDir == "" && opts.KVPath == "" {
		return nil, fmt.Errorf("open blob store: no durable tier configured")
	}

	log := opts.Logger
	if log == nil {
		log = logging.Default().WithComponent("blob")
	}

	s := &Store{
		mem:    newMemoryCache(opts.MemoryEntries),
		remote: opts.Remote,
		log:    log,
	}

	if opts.FSDir != "" {
		fs, err := newFSTier(opts.FSDir)
		if err != nil {
			return nil, err
		}
		s.fs = fs
	}
	if opts.KVPath != "" {
		level := opts.CompressionLevel
		if level < 1 || level > 4 {
			level = 2
		}
		kv, err := newKVTier(opts.KVPath, level)
		if err != nil {
			return nil, err
		}
		s.kv = kv
	}
	return s, nil
}

// Put stores data in the first available durable tier and caches it in
// memory. When the filesystem tier fails the payload falls through to the
// embedded cache with a warning; Put only fails once no durable tier
// accepted the bytes.
func (s *Store) Put(fileKey, commitID string, data []byte) (Ref, error) {
	ref := Ref{
		Key:      fileKey,
		CommitID: commitID,
		Size:     int64(len(data)),
		Sum:      xxh3.Hash(data),
	}

	durable := false
	if s.fs != nil {
		if err := s.fs.put(fileKey, commitID, data); err != nil {
			s.log.Warn("filesystem tier rejected payload, falling back",
				"commit_id", commitID, "error", err)
		} else {
			durable = true
		}
	}
	if !durable && s.kv != nil {
		if err := s.kv.put(fileKey, commitID, data); err != nil {
			s.log.Warn("embedded cache rejected payload",
				"commit_id", commitID, "error", err)
		} else {
			durable = true
		}
	}
	if !durable {
		return Ref{}, fmt.Errorf("store payload for commit %s: %w", commitID, ErrNotFound)
	}

	s.mem.put(fileKey, commitID, data)
	return ref, nil
}

// Get resolves the payload for a commit, probing tiers in order and
// stopping at the first hit. Hits from the embedded cache or the remote
// tier are promoted into faster tiers so the slow path is not taken twice.
func (s *Store) Get(ctx context.Context, fileKey, commitID string) ([]byte, error) {
	if s.fs != nil {
		data, err := s.fs.get(fileKey, commitID)
		if err == nil {
			return data, nil
		}
		if err != ErrNotFound {
			s.log.Warn("filesystem tier read failed, probing next tier",
				"commit_id", commitID, "error", err)
		}
	}

	if data, ok := s.mem.get(fileKey, commitID); ok {
		return data, nil
	}

	if s.kv != nil {
		data, corrupt, err := s.kv.get(fileKey, commitID)
		if err == nil {
			s.mem.put(fileKey, commitID, data)
			return data, nil
		}
		if corrupt {
			s.log.Warn("embedded cache row failed verification, treating as miss",
				"commit_id", commitID)
		} else if err != ErrNotFound {
			s.log.Warn("embedded cache read failed, probing next tier",
				"commit_id", commitID, "error", err)
		}
	}

	if s.remote != nil {
		data, err := s.remote.FetchBlob(ctx, fileKey, commitID)
		if err != nil {
			return nil, fmt.Errorf("fetch payload for commit %s from remote: %w", commitID, err)
		}
		s.promote(fileKey, commitID, data)
		return data, nil
	}

	return nil, fmt.Errorf("resolve payload for commit %s: %w", commitID, ErrNotFound)
}

// promote warms local tiers with a payload recovered from the remote.
func (s *Store) promote(fileKey, commitID string, data []byte) {
	if s.kv != nil {
		if err := s.kv.put(fileKey, commitID, data); err != nil {
			s.log.Warn("promote remote payload into embedded cache failed",
				"commit_id", commitID, "error", err)
		}
	}
	s.mem.put(fileKey, commitID, data)
}

// Locate reports which local tier holds the payload without reading it.
// The remote tier is not consulted; callers that track remote references
// decide on their own whether a miss here is fatal.
func (s *Store) Locate(fileKey, commitID string) (Tier, error) {
	if s.fs != nil && s.fs.exists(fileKey, commitID) {
		return TierFS, nil
	}
	if _, ok := s.mem.get(fileKey, commitID); ok {
		return TierMemory, nil
	}
	if s.kv != nil {
		ok, err := s.kv.exists(fileKey, commitID)
		if err != nil {
			return TierNone, err
		}
		if ok {
			return TierKV, nil
		}
	}
	return TierNone, ErrNotFound
}

// Delete drops the payload from every local tier. Missing entries are not
// an error.
func (s *Store) Delete(fileKey, commitID string) error {
	var firstErr error
	if s.fs != nil {
		if err := s.fs.delete(fileKey, commitID); err != nil {
			firstErr = err
		}
	}
	s.mem.delete(fileKey, commitID)
	if s.kv != nil {
		if err := s.kv.delete(fileKey, commitID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close releases the embedded cache. The Store must not be used afterwards.
func (s *Store) Close() error {
	if s.kv != nil {
		return s.kv.close()
	}
	return nil
}
