package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileRotator is an io.Writer over the log file that rotates it by size.
// A full file is renamed to <name>-<timestamp><ext> next to the live one
// and a fresh file takes its place; retention keeps the newest MaxBackups
// rotated files.
type FileRotator struct {
	cfg  *Config
	mu   sync.Mutex
	file *os.File
	size int64
}

// NewFileRotator opens (creating if needed) the configured log file.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, size, err := openAppend(cfg.FilePath)
	if err != nil {
		return nil, err
	}
	return &FileRotator{cfg: cfg, file: file, size: size}, nil
}

// openAppend opens the log file for appending and reports its current
// size, the starting point for the rotation threshold.
func openAppend(path string) (*os.File, int64, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	return file, info.Size(), nil
}

// Write appends p, rotating first if the file would exceed the size cap.
func (r *FileRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		file, size, err := openAppend(r.cfg.FilePath)
		if err != nil {
			return 0, err
		}
		r.file, r.size = file, size
	}

	if limit := r.cfg.MaxSize * 1024 * 1024; limit > 0 && r.size+int64(len(p)) > limit {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// rotate moves the live file aside under a timestamped name and starts a
// fresh one. Retention runs in the background; rotation itself must not
// stall the write path on directory scans.
func (r *FileRotator) rotate() error {
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("close current log: %w", err)
		}
		r.file = nil
	}

	aside := rotatedName(r.cfg.FilePath, time.Now())
	if err := os.Rename(r.cfg.FilePath, aside); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}

	file, size, err := openAppend(r.cfg.FilePath)
	if err != nil {
		return err
	}
	r.file, r.size = file, size

	go r.prune()
	return nil
}

// rotatedName places the timestamp between the file's base name and its
// extension: modelvault.log becomes modelvault-20260825-103000.log.
func rotatedName(path string, at time.Time) string {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	name := strings.TrimSuffix(filepath.Base(path), ext)
	return filepath.Join(dir, name+"-"+at.Format("20060102-150405")+ext)
}

// prune deletes the oldest rotated files beyond the backup limit.
func (r *FileRotator) prune() {
	dir := filepath.Dir(r.cfg.FilePath)
	ext := filepath.Ext(r.cfg.FilePath)
	prefix := strings.TrimSuffix(filepath.Base(r.cfg.FilePath), ext) + "-"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	type rotated struct {
		path string
		mod  time.Time
	}
	var old []rotated
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		old = append(old, rotated{path: filepath.Join(dir, e.Name()), mod: info.ModTime()})
	}

	if len(old) <= r.cfg.MaxBackups {
		return
	}
	sort.Slice(old, func(i, j int) bool { return old[i].mod.Before(old[j].mod) })
	for _, f := range old[:len(old)-r.cfg.MaxBackups] {
		os.Remove(f.path)
	}
}

// Close releases the live file handle. Writes after Close reopen it.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Sync flushes the live file to disk.
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}
