package blob

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// fsTier persists payloads as plain files under <dir>/<fileKey>/<commitID>.blob.
// Writes are atomic: a temp file in the target directory is flushed, synced,
// and renamed into place, so a crash never leaves a partial payload behind.
type fsTier struct {
	dir string
}

func newFSTier(dir string) (*fsTier, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &fsTier{dir: dir}, nil
}

func (t *fsTier) path(fileKey, commitID string) string {
	return filepath.Join(t.dir, fileKey, commitID+".blob")
}

func (t *fsTier) put(fileKey, commitID string, data []byte) error {
	dir := filepath.Join(t.dir, fileKey)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create payload directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return fmt.Errorf("create temp payload: %w", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriterSize(tmp, 4*1024*1024)
	if _, err := w.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write payload: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flush payload: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp payload: %w", err)
	}

	if err := os.Rename(tmpName, t.path(fileKey, commitID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename payload into place: %w", err)
	}
	return nil
}

func (t *fsTier) get(fileKey, commitID string) ([]byte, error) {
	data, err := os.ReadFile(t.path(fileKey, commitID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}

func (t *fsTier) exists(fileKey, commitID string) bool {
	info, err := os.Stat(t.path(fileKey, commitID))
	return err == nil && !info.IsDir()
}

func (t *fsTier) delete(fileKey, commitID string) error {
	err := os.Remove(t.path(fileKey, commitID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove payload: %w", err)
	}
	return nil
}
