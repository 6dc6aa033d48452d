package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"modelvault/internal/blob"
	"modelvault/internal/history"
	"modelvault/internal/remote"
)

// SyncOutcome reports what a remote sync pass changed.
type SyncOutcome struct {
	// Added and Updated count the merge results from remote metadata.
	Added   int
	Updated int

	// Uploaded counts local-only commits mirrored during this pass.
	Uploaded int

	// UploadFailures counts commits whose mirror attempt failed; details
	// are in the log. Failed commits stay local-only and are retried on the
	// next sync.
	UploadFailures int
}

// SyncRemote merges remote commit metadata into local history and mirrors
// local-only commits back. Payload bytes are never fetched eagerly; a merged
// commit's bytes resolve through the blob chain the first time something
// needs them.
func (e *Engine) SyncRemote(ctx context.Context) (*SyncOutcome, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	if e.remote == nil {
		return nil, ErrRemoteDisabled
	}

	rctx, cancel := context.WithTimeout(ctx, e.cfg.RemoteTimeout())
	metas, err := e.remote.FetchCommits(rctx, e.file.Key)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("fetch remote commits: %w", err)
	}

	incoming := make([]*history.Commit, 0, len(metas))
	for _, m := range metas {
		c := &history.Commit{
			ID:        m.ID,
			Message:   m.Message,
			CreatedAt: time.Unix(0, m.CreatedAtNs).UTC(),
			ParentID:  m.ParentID,
		}
		if m.ObjectVersion != "" {
			c.Remote = &history.RemoteRef{ObjectVersion: m.ObjectVersion, CommitID: m.ID}
		}
		incoming = append(incoming, c)
	}

	added, updated, err := e.history.Merge(e.file.Key, incoming)
	if err != nil {
		return nil, fmt.Errorf("merge remote commits: %w", err)
	}

	outcome := &SyncOutcome{Added: added, Updated: updated}
	e.mirrorLocalOnly(ctx, outcome)

	e.stats.RecordSync()
	e.log.Info("remote sync complete",
		"added", added, "updated", updated,
		"uploaded", outcome.Uploaded, "upload_failures", outcome.UploadFailures)
	return outcome, nil
}

// mirrorCommit uploads a freshly appended commit best-effort. Failure
// downgrades the commit to local-only; it never unwinds local state.
func (e *Engine) mirrorCommit(ctx context.Context, outcome *CommitOutcome, c *history.Commit, data []byte) {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.RemoteTimeout())
	defer cancel()

	start := time.Now()
	res, err := e.remote.UploadCommit(rctx, e.file.Key, remoteMeta(c), data)
	e.stats.RecordRemoteUpload(time.Since(start), err == nil)
	if err != nil {
		outcome.RemoteErr = err
		e.log.Warn("remote upload failed, commit is local-only",
			"commit_id", c.ID, "error", err)
		return
	}

	ref := history.RemoteRef{ObjectVersion: res.ObjectVersion, CommitID: res.RemoteCommitID}
	if err := e.history.SetRemote(e.file.Key, c.ID, ref); err != nil {
		outcome.RemoteErr = err
		e.log.Warn("record remote linkage failed", "commit_id", c.ID, "error", err)
		return
	}
	c.Remote = &ref
	outcome.RemoteSynced = true
}

// mirrorLocalOnly uploads commits that never reached the remote, oldest
// first so parents arrive before children.
func (e *Engine) mirrorLocalOnly(ctx context.Context, outcome *SyncOutcome) {
	commits, err := e.history.Load(e.file.Key)
	if err != nil {
		e.log.Warn("load history for mirror pass failed", "error", err)
		return
	}

	for i := len(commits) - 1; i >= 0; i-- {
		c := commits[i]
		if c.Remote != nil || c.Blob == nil {
			continue
		}

		data, err := e.blobs.Get(ctx, e.file.Key, c.ID)
		if err != nil {
			e.log.Warn("local payload unavailable, skipping mirror",
				"commit_id", c.ID, "error", err)
			outcome.UploadFailures++
			continue
		}

		rctx, cancel := context.WithTimeout(ctx, e.cfg.RemoteTimeout())
		start := time.Now()
		res, err := e.remote.UploadCommit(rctx, e.file.Key, remoteMeta(c), data)
		e.stats.RecordRemoteUpload(time.Since(start), err == nil)
		cancel()
		if err != nil {
			e.log.Warn("mirror commit failed", "commit_id", c.ID, "error", err)
			outcome.UploadFailures++
			continue
		}

		ref := history.RemoteRef{ObjectVersion: res.ObjectVersion, CommitID: res.RemoteCommitID}
		if err := e.history.SetRemote(e.file.Key, c.ID, ref); err != nil {
			e.log.Warn("record remote linkage failed", "commit_id", c.ID, "error", err)
			continue
		}
		outcome.Uploaded++
	}
}

func remoteMeta(c *history.Commit) remote.CommitMeta {
	return remote.CommitMeta{
		ID:          c.ID,
		Message:     c.Message,
		CreatedAtNs: c.CreatedAt.UnixNano(),
		ParentID:    c.ParentID,
	}
}

// BlobHealth classifies how a commit's payload can currently be resolved.
type BlobHealth string

const (
	// HealthLocal means a local tier holds the exact bytes.
	HealthLocal BlobHealth = "local"

	// HealthRemote means only the remote object store holds the bytes.
	HealthRemote BlobHealth = "remote"

	// HealthSnapshotOnly means only a snapshot re-encode is possible, which
	// may not reproduce the exact original bytes.
	HealthSnapshotOnly BlobHealth = "snapshot-only"

	// HealthUnresolvable means nothing can produce payload bytes for the
	// commit.
	HealthUnresolvable BlobHealth = "unresolvable"
)

// VerifyEntry is the audit result for one commit.
type VerifyEntry struct {
	CommitID string
	Health   BlobHealth

	// Tier is the local tier that would serve the payload, set for
	// HealthLocal entries.
	Tier blob.Tier
}

// Verify audits payload resolvability for every commit without moving any
// bytes. The remote is not contacted; a commit with remote linkage counts
// as remotely resolvable while sync is permitted.
func (e *Engine) Verify() ([]VerifyEntry, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}

	commits, err := e.history.Load(e.file.Key)
	if err != nil {
		return nil, err
	}

	entries := make([]VerifyEntry, 0, len(commits))
	for _, c := range commits {
		entry := VerifyEntry{CommitID: c.ID}

		tier, err := e.blobs.Locate(e.file.Key, c.ID)
		if err != nil && !errors.Is(err, blob.ErrNotFound) {
			e.log.Warn("tier probe failed during verify", "commit_id", c.ID, "error", err)
		}

		switch {
		case err == nil:
			entry.Health = HealthLocal
			entry.Tier = tier
		case c.Remote != nil && e.remote != nil:
			entry.Health = HealthRemote
		case c.HasSnapshot:
			entry.Health = HealthSnapshotOnly
		default:
			entry.Health = HealthUnresolvable
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
