package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"modelvault/internal/blob"
	"modelvault/internal/history"
	"modelvault/internal/remote"
	"modelvault/internal/scene"
)

// Commit records the working copy as a new history entry parented on the
// current commit. The uniform parent rule is what makes branches: committing
// after a pull of an older commit parents the new entry on the pulled
// commit, not the old tip.
//
// Payload trouble degrades, it does not fail: an unreadable file or a full
// blob store records a snapshot-only commit with a warning. Remote mirroring
// is best-effort under the configured timeout; its failure is reported in
// the outcome and the commit stays local-only until the next sync.
func (e *Engine) Commit(ctx context.Context, message string) (*CommitOutcome, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	start := time.Now()

	data, snap, err := e.capture(ctx)
	if err != nil {
		return nil, err
	}

	id := history.NewID()
	degraded := data == nil

	var ref *blob.Ref
	if data != nil {
		r, err := e.blobs.Put(e.file.Key, id, data)
		if err != nil {
			e.log.Warn("payload could not be stored, recording degraded commit",
				"commit_id", id, "error", err)
			degraded = true
		} else {
			ref = &r
			e.stats.RecordPayloadStored(len(data))
		}
	}

	c := &history.Commit{
		ID:        id,
		Message:   message,
		CreatedAt: time.Now().UTC(),
		ParentID:  e.currentID(),
		Snapshot:  snap,
		Blob:      ref,
	}
	if err := e.history.Append(e.file.Key, c); err != nil {
		if ref != nil {
			if derr := e.blobs.Delete(e.file.Key, id); derr != nil {
				e.log.Warn("orphaned payload cleanup failed", "commit_id", id, "error", derr)
			}
		}
		return nil, fmt.Errorf("append commit: %w", err)
	}
	c.HasSnapshot = snap != nil

	e.stateMu.Lock()
	e.current = id
	e.pulled = ""
	e.dirty = false
	if snap != nil {
		e.snapshot = snap
	}
	e.stateMu.Unlock()
	e.saveState(history.State{CurrentCommitID: id})

	if degraded {
		e.log.Warn("commit recorded without payload bytes", "commit_id", id)
	} else {
		e.log.Info("commit recorded", "commit_id", id, "bytes", len(data))
	}

	outcome := &CommitOutcome{Commit: c, Degraded: degraded}
	if e.remote != nil && data != nil {
		e.mirrorCommit(ctx, outcome, c, data)
	}
	e.stats.RecordCommit(time.Since(start), degraded)
	return outcome, nil
}

// capture gathers payload bytes and a snapshot for a new commit. Either may
// be absent; with neither there is nothing to record and the commit refuses.
func (e *Engine) capture(ctx context.Context) ([]byte, *scene.Snapshot, error) {
	if e.detached {
		return e.captureDetached(ctx)
	}

	var data []byte
	raw, err := os.ReadFile(e.file.Path)
	switch {
	case err != nil:
		e.log.Warn("tracked file unreadable, commit will be degraded",
			"path", e.file.Path, "error", err)
	case e.cfg.Engine.MaxFileSize > 0 && int64(len(raw)) > e.cfg.Engine.MaxFileSize:
		return nil, nil, fmt.Errorf("commit: file is %d bytes, limit is %d",
			len(raw), e.cfg.Engine.MaxFileSize)
	default:
		data = raw
	}

	var snap *scene.Snapshot
	if data != nil {
		snap, err = e.codec.Decode(ctx, data)
		if err != nil {
			e.log.Warn("decode failed, keeping last known snapshot", "error", err)
			snap = e.lastSnapshot()
		}
	} else {
		snap = e.lastSnapshot()
	}

	if data == nil && snap == nil {
		return nil, nil, fmt.Errorf("commit: no file bytes and no snapshot to record")
	}
	return data, snap, nil
}

// captureDetached encodes the in-memory scene back into payload bytes. A
// view-only snapshot still commits, as a degraded entry.
func (e *Engine) captureDetached(ctx context.Context) ([]byte, *scene.Snapshot, error) {
	snap := e.lastSnapshot()
	if snap == nil {
		return nil, nil, fmt.Errorf("commit: no scene has been loaded")
	}
	if !snap.CanEncode() {
		return nil, snap, nil
	}

	data, err := e.codec.Encode(ctx, snap)
	if err != nil {
		e.log.Warn("encode snapshot failed, commit will be degraded", "error", err)
		return nil, snap, nil
	}
	return data, snap, nil
}

// Restore loads a commit into the in-memory view without touching the
// on-disk file. The current commit moves to id and the dirty flag clears;
// the pulled marker is left alone because the disk contents did not change.
func (e *Engine) Restore(ctx context.Context, id string) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if err := e.checkClosed(); err != nil {
		return err
	}

	c, err := e.history.Get(e.file.Key, id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("restore %s: %w", id, ErrCommitNotFound)
		}
		return fmt.Errorf("restore %s: %w", id, err)
	}

	snap, err := e.resolveView(ctx, c)
	if err != nil {
		return fmt.Errorf("restore %s: %w", id, err)
	}

	e.stateMu.Lock()
	e.current = id
	e.dirty = false
	e.snapshot = snap
	st := history.State{CurrentCommitID: id, PulledCommitID: e.pulled}
	e.stateMu.Unlock()
	e.saveState(st)

	e.stats.RecordRestore()
	e.log.Info("restored commit into view", "commit_id", id)
	return nil
}

// resolveView produces the snapshot for a commit: the persisted snapshot
// when one survives, otherwise the payload bytes decoded through the codec.
func (e *Engine) resolveView(ctx context.Context, c *history.Commit) (*scene.Snapshot, error) {
	if c.HasSnapshot {
		snap, err := e.history.LoadSnapshot(e.file.Key, c.ID)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			return snap, nil
		}
	}

	data, err := e.blobs.Get(ctx, e.file.Key, c.ID)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, remote.ErrNotFound) {
			return nil, ErrBlobUnresolvable
		}
		return nil, err
	}

	snap, err := e.codec.Decode(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return snap, nil
}

// Pull overwrites the on-disk file with a commit's exact bytes. The file may
// be open in an external editor, so the write follows a fixed protocol:
//
//  1. resolve the bytes through the blob chain (snapshot re-encode only as
//     a warned last resort)
//  2. write them to the tracked path
//  3. wait the settle interval, read the file back, verify the length
//  4. write the identical bytes again, so external watchers that collapse
//     back-to-back events still see a fresh change
//  5. decode into the in-memory view
//
// A verification failure aborts with ErrPullVerification and no state
// change. Only a fully successful pull advances current and pulled and arms
// the grace window that keeps the engine's own watcher events from flagging
// the file dirty.
func (e *Engine) Pull(ctx context.Context, id string) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if err := e.checkClosed(); err != nil {
		return err
	}
	if e.detached {
		return fmt.Errorf("pull %s: %w", id, ErrDetached)
	}
	start := time.Now()

	c, err := e.history.Get(e.file.Key, id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("pull %s: %w", id, ErrCommitNotFound)
		}
		return fmt.Errorf("pull %s: %w", id, err)
	}

	data, err := e.resolvePayload(ctx, c)
	if err != nil {
		return fmt.Errorf("pull %s: %w", id, err)
	}

	if err := writeTracked(e.file.Path, data); err != nil {
		return fmt.Errorf("pull %s: write tracked file: %w", id, err)
	}

	settle := e.cfg.SettleInterval()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(settle):
	}

	readBack, err := os.ReadFile(e.file.Path)
	if err != nil {
		e.stats.RecordPullVerifyFailure()
		return fmt.Errorf("pull %s: read back failed (%v): %w", id, err, ErrPullVerification)
	}
	if len(readBack) != len(data) {
		e.stats.RecordPullVerifyFailure()
		return fmt.Errorf("pull %s: wrote %d bytes, read back %d: %w",
			id, len(data), len(readBack), ErrPullVerification)
	}

	if err := writeTracked(e.file.Path, data); err != nil {
		return fmt.Errorf("pull %s: rewrite tracked file: %w", id, err)
	}

	snap, err := e.codec.Decode(ctx, readBack)
	if err != nil {
		e.log.Warn("decode pulled payload failed, view keeps the previous scene",
			"commit_id", id, "error", err)
		snap = nil
	}

	// The watcher's settled event for the pull writes lands roughly one
	// debounce after the rewrite; the grace window must outlast it.
	grace := e.cfg.DebounceInterval() + 2*settle

	e.stateMu.Lock()
	e.current = id
	e.pulled = id
	e.dirty = false
	if snap != nil {
		e.snapshot = snap
	}
	e.suppressUntil = time.Now().Add(grace)
	e.stateMu.Unlock()
	e.saveState(history.State{CurrentCommitID: id, PulledCommitID: id})

	e.stats.RecordPull(time.Since(start))
	e.log.Info("pulled commit onto disk", "commit_id", id, "bytes", len(data))
	return nil
}

// resolvePayload resolves a commit's exact bytes through the blob chain.
// When every tier misses, a re-encode of the persisted snapshot is the last
// resort; the result may not be byte-identical to the original file, which
// is logged.
func (e *Engine) resolvePayload(ctx context.Context, c *history.Commit) ([]byte, error) {
	data, err := e.blobs.Get(ctx, e.file.Key, c.ID)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, blob.ErrNotFound) && !errors.Is(err, remote.ErrNotFound) {
		e.log.Warn("payload lookup failed, trying snapshot fallback",
			"commit_id", c.ID, "error", err)
	}

	if c.HasSnapshot {
		snap, serr := e.history.LoadSnapshot(e.file.Key, c.ID)
		if serr == nil && snap.CanEncode() {
			encoded, eerr := e.codec.Encode(ctx, snap)
			if eerr == nil {
				e.log.Warn("payload rebuilt from snapshot, bytes may differ from the original commit",
					"commit_id", c.ID)
				return encoded, nil
			}
			e.log.Warn("snapshot re-encode failed", "commit_id", c.ID, "error", eerr)
		}
	}
	return nil, ErrBlobUnresolvable
}

// writeTracked writes payload bytes in place at the tracked path. No
// temp-and-rename: external editors keep their open handle on this inode,
// and the settle-and-verify step checks the same file their watchers see.
func writeTracked(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
