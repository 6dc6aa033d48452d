package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"modelvault/internal/history"
	"modelvault/internal/scene"
	"modelvault/internal/watcher"
)

// StartWatching begins monitoring the tracked file for external changes.
// Events only ever flip the dirty flag; nothing is committed automatically.
// Calling it again while watching is a no-op.
func (e *Engine) StartWatching() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if err := e.checkClosed(); err != nil {
		return err
	}
	if e.detached {
		return fmt.Errorf("watch: %w", ErrDetached)
	}
	if e.watch != nil {
		return nil
	}

	w, err := watcher.New(e.file.Path, e.cfg.DebounceInterval())
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	e.watch = w
	e.watchWG.Add(1)
	go e.pump(w)

	e.log.Info("watching tracked file", "path", e.file.Path)
	return nil
}

func (e *Engine) pump(w *watcher.Watcher) {
	defer e.watchWG.Done()
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			e.HandleFileEvent(ev)

		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			e.log.Warn("watcher error", "error", err)
		}
	}
}

// HandleFileEvent folds a watcher event into the working state. Only a
// modified event on the exact tracked path sets the dirty flag, and events
// inside the post-pull grace window are the engine's own writes coming back
// around, so they are dropped.
func (e *Engine) HandleFileEvent(ev watcher.Event) {
	if e.file.Path == "" || filepath.Clean(ev.Path) != e.file.Path {
		return
	}

	switch ev.Op {
	case watcher.OpRemoved:
		e.log.Warn("tracked file removed from disk", "path", ev.Path)
		return
	case watcher.OpModified:
	default:
		return
	}

	e.stateMu.Lock()
	if e.closed || time.Now().Before(e.suppressUntil) || e.dirty {
		e.stateMu.Unlock()
		return
	}
	e.dirty = true
	st := history.State{CurrentCommitID: e.current, PulledCommitID: e.pulled, Dirty: true}
	e.stateMu.Unlock()

	e.saveState(st)
	e.stats.RecordDirtyEvent()
	e.log.Info("tracked file changed externally", "size", ev.Size)
}

// MarkEdited records an editor-driven change to the in-memory scene, the
// detached-mode analog of a watcher event. A non-nil snapshot replaces the
// current view and becomes the material the next commit captures. The
// engine takes ownership of snap.
func (e *Engine) MarkEdited(snap *scene.Snapshot) {
	e.stateMu.Lock()
	if e.closed {
		e.stateMu.Unlock()
		return
	}
	if snap != nil {
		e.snapshot = snap
	}
	first := !e.dirty
	e.dirty = true
	st := history.State{CurrentCommitID: e.current, PulledCommitID: e.pulled, Dirty: true}
	e.stateMu.Unlock()

	if first {
		e.saveState(st)
		e.stats.RecordDirtyEvent()
	}
}

// SetStarred flips the persisted star flag on a commit. Star toggles are
// commutative and deliberately skip the operation lock, so they never wait
// behind a pull.
func (e *Engine) SetStarred(id string, starred bool) error {
	if err := e.checkClosed(); err != nil {
		return err
	}
	if err := e.history.SetStarred(e.file.Key, id, starred); err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("star %s: %w", id, ErrCommitNotFound)
		}
		return fmt.Errorf("star %s: %w", id, err)
	}
	return nil
}

// SelectGallery picks commits for side-by-side comparison. The selection is
// view state: capped, checked against history, never persisted.
func (e *Engine) SelectGallery(ids []string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}

	limit := e.cfg.Engine.GalleryLimit
	if limit <= 0 {
		limit = 4
	}
	if len(ids) > limit {
		return fmt.Errorf("select %d commits, limit %d: %w", len(ids), limit, ErrGalleryLimit)
	}

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return fmt.Errorf("select gallery: duplicate commit %s", id)
		}
		seen[id] = true
		if _, err := e.history.Get(e.file.Key, id); err != nil {
			if errors.Is(err, history.ErrNotFound) {
				return fmt.Errorf("select gallery: %s: %w", id, ErrCommitNotFound)
			}
			return fmt.Errorf("select gallery: %w", err)
		}
	}

	e.stateMu.Lock()
	e.gallery = append([]string(nil), ids...)
	e.stateMu.Unlock()
	return nil
}

// GallerySelection returns a copy of the current gallery selection.
func (e *Engine) GallerySelection() []string {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return append([]string(nil), e.gallery...)
}

// Commits returns history metadata for the tracked file, newest first.
// Snapshots stay lazy; fetch them through Snapshot when needed.
func (e *Engine) Commits() ([]*history.Commit, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	return e.history.Load(e.file.Key)
}

// ExportHistory assembles the portable history document for the tracked file.
func (e *Engine) ExportHistory() (*history.Document, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	return e.history.Export(e.file.Key)
}

// Snapshot fetches the persisted snapshot for a commit, nil when the commit
// has none.
func (e *Engine) Snapshot(id string) (*scene.Snapshot, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	snap, err := e.history.LoadSnapshot(e.file.Key, id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return nil, fmt.Errorf("snapshot %s: %w", id, ErrCommitNotFound)
		}
		return nil, err
	}
	return snap, nil
}

// CurrentBranch returns the path from the root to the current commit,
// oldest first. Branches are implicit in the parent graph; this is the
// display walk, nothing more.
func (e *Engine) CurrentBranch() ([]*history.Commit, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}

	current := e.currentID()
	if current == "" {
		return nil, nil
	}

	commits, err := e.history.Load(e.file.Key)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*history.Commit, len(commits))
	for _, c := range commits {
		byID[c.ID] = c
	}

	var branch []*history.Commit
	seen := make(map[string]bool)
	for id := current; id != ""; {
		c := byID[id]
		if c == nil || seen[id] {
			break
		}
		seen[id] = true
		branch = append(branch, c)
		id = c.ParentID
	}

	for i, j := 0, len(branch)-1; i < j; i, j = i+1, j-1 {
		branch[i], branch[j] = branch[j], branch[i]
	}
	return branch, nil
}

// Status returns a read-only view of the engine for display.
func (e *Engine) Status() (*Status, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}

	commitCount, starredCount, err := e.history.Counts(e.file.Key)
	if err != nil {
		return nil, fmt.Errorf("count commits: %w", err)
	}

	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return &Status{
		Path:            e.file.Path,
		DisplayName:     e.file.DisplayName,
		FileKey:         e.file.Key,
		Detached:        e.detached,
		CurrentCommitID: e.current,
		PulledCommitID:  e.pulled,
		WorkingState:    e.workingStateLocked(),
		CommitCount:     commitCount,
		StarredCount:    starredCount,
		RemoteEnabled:   e.remote != nil,
		Gallery:         append([]string(nil), e.gallery...),
	}, nil
}
