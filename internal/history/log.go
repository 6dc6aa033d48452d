package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"modelvault/internal/blob"
	"modelvault/internal/logging"
	"modelvault/internal/scene"
)

// Schema for the commit log database.
const schema = `
CREATE TABLE IF NOT EXISTS commits (
    file_key              TEXT NOT NULL,
    id                    TEXT NOT NULL,
    message               TEXT NOT NULL,
    created_at_ns         INTEGER NOT NULL,
    parent_id             TEXT NOT NULL DEFAULT '',
    blob_size             INTEGER,
    blob_sum              INTEGER,
    remote_object_version TEXT,
    remote_commit_id      TEXT,
    snapshot              BLOB,
    PRIMARY KEY (file_key, id)
);

CREATE INDEX IF NOT EXISTS idx_commits_created ON commits(file_key, created_at_ns);

CREATE TABLE IF NOT EXISTS starred (
    file_key  TEXT NOT NULL,
    commit_id TEXT NOT NULL,
    PRIMARY KEY (file_key, commit_id)
);

CREATE TABLE IF NOT EXISTS state (
    file_key          TEXT PRIMARY KEY,
    current_commit_id TEXT NOT NULL DEFAULT '',
    pulled_commit_id  TEXT NOT NULL DEFAULT '',
    dirty             INTEGER NOT NULL DEFAULT 0
);
`

// Log is the SQLite-backed commit log. Snapshot payloads are stored in a
// separate column and excluded from list loads, so loading metadata stays
// fast even when snapshots embed compressed scene data.
type Log struct {
	db  *sql.DB
	log *logging.Logger
}

// Open opens or creates the commit log database at the given path.
func Open(path string) (*Log, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}

	return &Log{db: db, log: logging.Default().WithComponent("history")}, nil
}

// OpenRecover opens the commit log, and when the database file is corrupt it
// moves the file aside and starts over with empty history instead of
// refusing to run. The loss is logged; version history must never make the
// engine unusable.
func OpenRecover(path string) (*Log, error) {
	l, err := Open(path)
	if err == nil {
		return l, nil
	}

	aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if renameErr := os.Rename(path, aside); renameErr != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	logging.Default().WithComponent("history").Error(
		"history database is corrupt, starting with empty history",
		"path", path, "moved_to", aside, "error", err)

	l, retryErr := Open(path)
	if retryErr != nil {
		return nil, fmt.Errorf("reopen history database after recovery: %w", retryErr)
	}
	return l, nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Append adds a commit to the log and persists it before returning. The
// commit id must be unique and its parent, when named, must already exist —
// the parent graph stays a forest with no cycles because parents are always
// created strictly earlier.
func (l *Log) Append(fileKey string, c *Commit) error {
	if c.ID == "" {
		return fmt.Errorf("append commit: empty id")
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRow(`SELECT 1 FROM commits WHERE file_key = ? AND id = ?`, fileKey, c.ID).Scan(&one)
	if err == nil {
		return fmt.Errorf("append commit %s: %w", c.ID, ErrDuplicateID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check commit id: %w", err)
	}

	if c.ParentID != "" {
		err = tx.QueryRow(`SELECT 1 FROM commits WHERE file_key = ? AND id = ?`, fileKey, c.ParentID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("append commit %s: parent %s: %w", c.ID, c.ParentID, ErrUnknownParent)
		}
		if err != nil {
			return fmt.Errorf("check parent id: %w", err)
		}
	}

	if err := insertCommit(tx, fileKey, c); err != nil {
		return err
	}

	if c.Starred {
		if _, err := tx.Exec(`
            INSERT OR IGNORE INTO starred (file_key, commit_id) VALUES (?, ?)`,
			fileKey, c.ID,
		); err != nil {
			return fmt.Errorf("star commit: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// insertCommit writes one commit row inside tx.
func insertCommit(tx *sql.Tx, fileKey string, c *Commit) error {
	var blobSize, blobSum sql.NullInt64
	if c.Blob != nil {
		blobSize = sql.NullInt64{Int64: c.Blob.Size, Valid: true}
		blobSum = sql.NullInt64{Int64: int64(c.Blob.Sum), Valid: true}
	}

	var remoteVersion, remoteID sql.NullString
	if c.Remote != nil {
		remoteVersion = sql.NullString{String: c.Remote.ObjectVersion, Valid: true}
		remoteID = sql.NullString{String: c.Remote.CommitID, Valid: true}
	}

	var snapshot []byte
	if c.Snapshot != nil {
		data, err := json.Marshal(c.Snapshot)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		snapshot = data
	}

	if _, err := tx.Exec(`
        INSERT INTO commits (file_key, id, message, created_at_ns, parent_id,
                             blob_size, blob_sum, remote_object_version, remote_commit_id, snapshot)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fileKey, c.ID, c.Message, c.CreatedAt.UnixNano(), c.ParentID,
		blobSize, blobSum, remoteVersion, remoteID, snapshot,
	); err != nil {
		return fmt.Errorf("insert commit: %w", err)
	}
	return nil
}

// Load returns commit metadata for a tracked file, newest first (ties broken
// by id, so the order is deterministic). Snapshots are not loaded; fetch
// them with LoadSnapshot when needed.
func (l *Log) Load(fileKey string) ([]*Commit, error) {
	rows, err := l.db.Query(`
        SELECT c.id, c.message, c.created_at_ns, c.parent_id,
               c.blob_size, c.blob_sum, c.remote_object_version, c.remote_commit_id,
               c.snapshot IS NOT NULL,
               s.commit_id IS NOT NULL
        FROM commits c
        LEFT JOIN starred s ON s.file_key = c.file_key AND s.commit_id = c.id
        WHERE c.file_key = ?
        ORDER BY c.created_at_ns DESC, c.id DESC`, fileKey,
	)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	return scanCommits(rows, fileKey)
}

// scanCommits is a helper to scan commit rows into a slice.
func scanCommits(rows *sql.Rows, fileKey string) ([]*Commit, error) {
	var commits []*Commit

	for rows.Next() {
		var (
			c             Commit
			createdNs     int64
			blobSize      sql.NullInt64
			blobSum       sql.NullInt64
			remoteVersion sql.NullString
			remoteID      sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Message, &createdNs, &c.ParentID,
			&blobSize, &blobSum, &remoteVersion, &remoteID,
			&c.HasSnapshot, &c.Starred); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}

		c.CreatedAt = time.Unix(0, createdNs).UTC()
		if blobSize.Valid {
			c.Blob = &blob.Ref{
				Key:      fileKey,
				CommitID: c.ID,
				Size:     blobSize.Int64,
				Sum:      uint64(blobSum.Int64),
			}
		}
		if remoteVersion.Valid || remoteID.Valid {
			c.Remote = &RemoteRef{
				ObjectVersion: remoteVersion.String,
				CommitID:      remoteID.String,
			}
		}

		commits = append(commits, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return commits, nil
}

// Get returns a single commit's metadata, or ErrNotFound.
func (l *Log) Get(fileKey, id string) (*Commit, error) {
	rows, err := l.db.Query(`
        SELECT c.id, c.message, c.created_at_ns, c.parent_id,
               c.blob_size, c.blob_sum, c.remote_object_version, c.remote_commit_id,
               c.snapshot IS NOT NULL,
               s.commit_id IS NOT NULL
        FROM commits c
        LEFT JOIN starred s ON s.file_key = c.file_key AND s.commit_id = c.id
        WHERE c.file_key = ? AND c.id = ?`, fileKey, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query commit: %w", err)
	}
	defer rows.Close()

	commits, err := scanCommits(rows, fileKey)
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("get commit %s: %w", id, ErrNotFound)
	}
	return commits[0], nil
}

// LoadSnapshot fetches the persisted snapshot for a commit. Returns
// (nil, nil) when the commit has no snapshot; a snapshot that fails to
// decode is logged and treated as absent rather than poisoning the load.
func (l *Log) LoadSnapshot(fileKey, id string) (*scene.Snapshot, error) {
	var data []byte
	err := l.db.QueryRow(`
        SELECT snapshot FROM commits WHERE file_key = ? AND id = ?`,
		fileKey, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load snapshot for %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	var snap scene.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		l.log.Warn("persisted snapshot failed to decode, treating as absent",
			"commit_id", id, "error", err)
		return nil, nil
	}
	return &snap, nil
}

// SetStarred flips the persisted star flag for a commit.
func (l *Log) SetStarred(fileKey, id string, starred bool) error {
	var one int
	err := l.db.QueryRow(`SELECT 1 FROM commits WHERE file_key = ? AND id = ?`, fileKey, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("star commit %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check commit id: %w", err)
	}

	if starred {
		_, err = l.db.Exec(`
            INSERT OR IGNORE INTO starred (file_key, commit_id) VALUES (?, ?)`,
			fileKey, id,
		)
	} else {
		_, err = l.db.Exec(`
            DELETE FROM starred WHERE file_key = ? AND commit_id = ?`,
			fileKey, id,
		)
	}
	if err != nil {
		return fmt.Errorf("update star: %w", err)
	}
	return nil
}

// StarredIDs returns the persisted starred-id set for a tracked file. The
// set may name ids with no surviving commit row; membership is preserved so
// a later merge re-applies it.
func (l *Log) StarredIDs(fileKey string) ([]string, error) {
	rows, err := l.db.Query(`
        SELECT commit_id FROM starred WHERE file_key = ? ORDER BY commit_id`, fileKey,
	)
	if err != nil {
		return nil, fmt.Errorf("query starred ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan starred id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate starred ids: %w", err)
	}
	return ids, nil
}

// Counts reports how many commits and starred ids exist for a tracked file.
func (l *Log) Counts(fileKey string) (commits, starred int, err error) {
	if err := l.db.QueryRow(`
        SELECT COUNT(*) FROM commits WHERE file_key = ?`, fileKey,
	).Scan(&commits); err != nil {
		return 0, 0, fmt.Errorf("count commits: %w", err)
	}
	if err := l.db.QueryRow(`
        SELECT COUNT(*) FROM starred WHERE file_key = ?`, fileKey,
	).Scan(&starred); err != nil {
		return 0, 0, fmt.Errorf("count starred: %w", err)
	}
	return commits, starred, nil
}

// SetRemote records the remote linkage for a commit after a successful
// upload. Apart from the star flag this is the only mutation of an
// existing row.
func (l *Log) SetRemote(fileKey, id string, ref RemoteRef) error {
	res, err := l.db.Exec(`
        UPDATE commits SET remote_object_version = ?, remote_commit_id = ?
        WHERE file_key = ? AND id = ?`,
		ref.ObjectVersion, ref.CommitID, fileKey, id,
	)
	if err != nil {
		return fmt.Errorf("record remote ref: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record remote ref for %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveState persists the engine position for a tracked file.
func (l *Log) SaveState(fileKey string, st State) error {
	dirty := 0
	if st.Dirty {
		dirty = 1
	}
	_, err := l.db.Exec(`
        INSERT OR REPLACE INTO state (file_key, current_commit_id, pulled_commit_id, dirty)
        VALUES (?, ?, ?, ?)`,
		fileKey, st.CurrentCommitID, st.PulledCommitID, dirty,
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// LoadState returns the persisted engine position, or nil when none has
// been saved for this file key.
func (l *Log) LoadState(fileKey string) (*State, error) {
	var (
		st    State
		dirty int
	)
	err := l.db.QueryRow(`
        SELECT current_commit_id, pulled_commit_id, dirty FROM state WHERE file_key = ?`,
		fileKey,
	).Scan(&st.CurrentCommitID, &st.PulledCommitID, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	st.Dirty = dirty != 0
	return &st, nil
}
