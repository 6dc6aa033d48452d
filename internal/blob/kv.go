package blob

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
	"github.com/zeebo/xxh3"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS blobs (
    file_key      TEXT NOT NULL,
    commit_id     TEXT NOT NULL,
    size          INTEGER NOT NULL,
    sum           INTEGER NOT NULL,
    created_at_ns INTEGER NOT NULL,
    data          BLOB NOT NULL,
    PRIMARY KEY (file_key, commit_id)
);

CREATE INDEX IF NOT EXISTS idx_blobs_file ON blobs(file_key);
`

// kvTier keeps zstd-compressed payloads in an embedded SQLite database.
// Rows carry the uncompressed size and xxh3 sum; a row that fails either
// check on read is treated as a miss rather than handed to the caller.
type kvTier struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newKVTier(path string, compressionLevel int) (*kvTier, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open blob cache: %w", err)
	}
	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create blob cache schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevel(compressionLevel)))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create compressor: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("create decompressor: %w", err)
	}

	return &kvTier{db: db, enc: enc, dec: dec}, nil
}

func (t *kvTier) put(fileKey, commitID string, data []byte) error {
	compressed := t.enc.EncodeAll(data, nil)
	sum := xxh3.Hash(data)

	_, err := t.db.Exec(`
        INSERT OR REPLACE INTO blobs (file_key, commit_id, size, sum, created_at_ns, data)
        VALUES (?, ?, ?, ?, ?, ?)`,
		fileKey, commitID, int64(len(data)), int64(sum), time.Now().UnixNano(), compressed,
	)
	if err != nil {
		return fmt.Errorf("insert cached payload: %w", err)
	}
	return nil
}

// get returns the payload, or ErrNotFound for both absent and corrupt rows.
// The bool reports whether a row existed but failed verification, so the
// caller can log the corruption.
func (t *kvTier) get(fileKey, commitID string) ([]byte, bool, error) {
	var (
		size       int64
		sum        int64
		compressed []byte
	)
	err := t.db.QueryRow(`
        SELECT size, sum, data FROM blobs
        WHERE file_key = ? AND commit_id = ?`,
		fileKey, commitID,
	).Scan(&size, &sum, &compressed)
	if err == sql.ErrNoRows {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("query cached payload: %w", err)
	}

	data, err := t.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, true, ErrNotFound
	}
	if int64(len(data)) != size || xxh3.Hash(data) != uint64(sum) {
		return nil, true, ErrNotFound
	}
	return data, false, nil
}

func (t *kvTier) exists(fileKey, commitID string) (bool, error) {
	var one int
	err := t.db.QueryRow(`
        SELECT 1 FROM blobs WHERE file_key = ? AND commit_id = ?`,
		fileKey, commitID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query cached payload: %w", err)
	}
	return true, nil
}

func (t *kvTier) delete(fileKey, commitID string) error {
	_, err := t.db.Exec(`
        DELETE FROM blobs WHERE file_key = ? AND commit_id = ?`,
		fileKey, commitID,
	)
	if err != nil {
		return fmt.Errorf("delete cached payload: %w", err)
	}
	return nil
}

func (t *kvTier) close() error {
	t.enc.Close()
	t.dec.Close()
	if err := t.db.Close(); err != nil {
		return fmt.Errorf("close blob cache: %w", err)
	}
	return nil
}
