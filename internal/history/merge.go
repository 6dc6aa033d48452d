package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Merge folds remotely fetched commits into the local log, keyed by commit
// id. Same-id conflicts keep the local copy, except that optional fields
// the local copy lacks (blob reference, remote linkage, snapshot) are filled
// from the incoming copy. Star state always follows the local starred
// table: an incoming id already in that table shows up starred, and an
// incoming Starred flag is ignored. The result is the same no matter how
// many times or in what grouping the merges run.
func (l *Log) Merge(fileKey string, incoming []*Commit) (added, updated int, err error) {
	tx, err := l.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range incoming {
		if c == nil || c.ID == "" {
			return 0, 0, fmt.Errorf("merge commit: empty id")
		}

		var (
			blobSize      sql.NullInt64
			remoteVersion sql.NullString
			hasSnapshot   bool
		)
		err := tx.QueryRow(`
            SELECT blob_size, remote_object_version, snapshot IS NOT NULL
            FROM commits WHERE file_key = ? AND id = ?`,
			fileKey, c.ID,
		).Scan(&blobSize, &remoteVersion, &hasSnapshot)

		if errors.Is(err, sql.ErrNoRows) {
			if err := insertCommit(tx, fileKey, c); err != nil {
				return 0, 0, err
			}
			added++
			continue
		}
		if err != nil {
			return 0, 0, fmt.Errorf("check merge target: %w", err)
		}

		changed, err := fillMissing(tx, fileKey, c, blobSize.Valid, remoteVersion.Valid, hasSnapshot)
		if err != nil {
			return 0, 0, err
		}
		if changed {
			updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit transaction: %w", err)
	}
	return added, updated, nil
}

// fillMissing copies optional fields the local row lacks from the incoming
// commit. Fields the local row already has are left alone: the local copy
// wins, it may hold payload details the remote copy never saw.
func fillMissing(tx *sql.Tx, fileKey string, c *Commit, hasBlob, hasRemote, hasSnapshot bool) (bool, error) {
	changed := false

	if !hasBlob && c.Blob != nil {
		if _, err := tx.Exec(`
            UPDATE commits SET blob_size = ?, blob_sum = ?
            WHERE file_key = ? AND id = ?`,
			c.Blob.Size, int64(c.Blob.Sum), fileKey, c.ID,
		); err != nil {
			return false, fmt.Errorf("fill blob ref: %w", err)
		}
		changed = true
	}

	if !hasRemote && c.Remote != nil {
		if _, err := tx.Exec(`
            UPDATE commits SET remote_object_version = ?, remote_commit_id = ?
            WHERE file_key = ? AND id = ?`,
			c.Remote.ObjectVersion, c.Remote.CommitID, fileKey, c.ID,
		); err != nil {
			return false, fmt.Errorf("fill remote ref: %w", err)
		}
		changed = true
	}

	if !hasSnapshot && c.Snapshot != nil {
		data, err := json.Marshal(c.Snapshot)
		if err != nil {
			return false, fmt.Errorf("marshal snapshot: %w", err)
		}
		if _, err := tx.Exec(`
            UPDATE commits SET snapshot = ? WHERE file_key = ? AND id = ?`,
			data, fileKey, c.ID,
		); err != nil {
			return false, fmt.Errorf("fill snapshot: %w", err)
		}
		changed = true
	}

	return changed, nil
}
