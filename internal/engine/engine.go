// Package engine is the version control core for a single tracked design
// file.
//
// The engine ties together:
// - The append-only commit log (history)
// - Tiered payload storage (blob)
// - The scene codec that turns file bytes into a displayable snapshot
// - Watcher events that mark the working copy dirty
// - Optional best-effort mirroring to the remote vault service
//
// Commit, restore, pull and remote sync on the same tracked file are
// serialized; star toggles, gallery selection and watcher events stay
// lock-light so they are never stuck behind a slow pull.
package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"modelvault/internal/blob"
	"modelvault/internal/config"
	"modelvault/internal/history"
	"modelvault/internal/logging"
	"modelvault/internal/metrics"
	"modelvault/internal/remote"
	"modelvault/internal/scene"
	"modelvault/internal/watcher"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("engine: closed")

	// ErrDetached is returned by operations that need a file on disk when
	// the engine tracks a detached scene.
	ErrDetached = errors.New("engine: no file on disk in detached mode")

	// ErrCommitNotFound indicates the named commit is not in the log.
	ErrCommitNotFound = errors.New("engine: commit not found")

	// ErrBlobUnresolvable indicates no tier and no snapshot can produce the
	// commit's payload bytes. The failed operation changes no state.
	ErrBlobUnresolvable = errors.New("engine: payload unresolvable in any tier")

	// ErrPullVerification indicates the pulled file failed the read-back
	// check. The pull does not advance state; the user should retry.
	ErrPullVerification = errors.New("engine: pulled file failed verification")

	// ErrGalleryLimit indicates a gallery selection beyond the configured cap.
	ErrGalleryLimit = errors.New("engine: gallery selection over limit")

	// ErrRemoteDisabled indicates a sync request while cloud sync is not
	// permitted.
	ErrRemoteDisabled = errors.New("engine: remote sync not enabled")
)

// TrackedFile identifies the single file under version control. Key
// namespaces every storage tier; it is derived from the absolute path on
// disk, or from the display name when there is no backing file.
type TrackedFile struct {
	// Path is the absolute on-disk path. Empty in detached mode.
	Path string

	// DisplayName is the human-readable name shown in listings.
	DisplayName string

	// Key is the stable storage key, FileKey of the identity.
	Key string
}

// FileKey derives the stable storage key for a tracked file identity.
func FileKey(identity string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(identity))
}

// WorkingState describes the on-disk file relative to the current commit.
type WorkingState string

const (
	// StateClean means the working copy matches the current commit.
	StateClean WorkingState = "clean"

	// StateDirty means the working copy diverged since the current commit.
	StateDirty WorkingState = "dirty"

	// StateDirtyFromPull means the working copy diverged from an explicitly
	// pulled commit, so the next commit starts a new branch rather than
	// extending the old tip.
	StateDirtyFromPull WorkingState = "dirty-from-pull"
)

// Status is a read-only view of the engine for display.
type Status struct {
	Path            string
	DisplayName     string
	FileKey         string
	Detached        bool
	CurrentCommitID string
	PulledCommitID  string
	WorkingState    WorkingState
	CommitCount     int
	StarredCount    int
	RemoteEnabled   bool
	Gallery         []string
}

// CommitOutcome reports a finished commit. Degraded payloads and remote
// failures are surfaced here as warnings; they never fail the commit itself.
type CommitOutcome struct {
	// Commit is the appended history entry.
	Commit *history.Commit

	// Degraded is set when the payload bytes could not be stored and only
	// the snapshot was recorded.
	Degraded bool

	// RemoteSynced is set once the commit is mirrored to the vault service.
	RemoteSynced bool

	// RemoteErr holds the mirror failure for a local-only commit.
	RemoteErr error
}

// Options configures an Engine.
type Options struct {
	// Config supplies workspace layout and tuning. Nil uses defaults.
	Config *config.Config

	// Codec decodes and encodes the design file format. Nil installs the
	// built-in raw codec.
	Codec scene.Codec

	// Remote mirrors commits to the vault service. Nil means cloud sync is
	// not permitted; the engine runs local-only.
	Remote *remote.Client

	// Logger receives operational logs. Nil uses the process default.
	Logger *logging.Logger
}

// Engine is the state machine for one tracked file.
type Engine struct {
	// Collaborators
	cfg    *config.Config
	codec  scene.Codec
	log    *logging.Logger
	remote *remote.Client
	stats  *metrics.VaultMetrics

	history *history.Log
	blobs   *blob.Store

	// Tracked file identity, fixed at open
	file     TrackedFile
	detached bool

	// opMu serializes commit, restore, pull and remote sync. Later calls
	// queue behind the one in flight; they are never cancelled by it.
	opMu sync.Mutex

	// stateMu guards the position flags, gallery, and in-memory view. It is
	// never held across file, database or network IO.
	stateMu       sync.RWMutex
	current       string
	pulled        string
	dirty         bool
	gallery       []string
	snapshot      *scene.Snapshot
	suppressUntil time.Time
	closed        bool

	// Watcher lifecycle, guarded by opMu
	watch   *watcher.Watcher
	watchWG sync.WaitGroup
}

// Open activates version control for the file at path. The file does not
// have to exist yet; a pull can create it.
func Open(path string, opts Options) (*Engine, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve tracked path: %w", err)
	}

	file := TrackedFile{
		Path:        abs,
		DisplayName: filepath.Base(abs),
		Key:         FileKey(abs),
	}
	return open(file, false, opts)
}

// OpenDetached activates version control for a scene with no backing file,
// identified by display name alone. Payloads come from the in-memory
// snapshot; pull and watching are unavailable.
func OpenDetached(displayName string, opts Options) (*Engine, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return nil, fmt.Errorf("open detached: display name is required")
	}

	file := TrackedFile{
		DisplayName: name,
		Key:         FileKey(name),
	}
	return open(file, true, opts)
}

func open(file TrackedFile, detached bool, opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default().WithComponent("engine")
	}
	log = log.WithFile(file.Key)

	codec := opts.Codec
	if codec == nil {
		rc, err := scene.NewRawCodec(cfg.Blob.CompressionLevel)
		if err != nil {
			return nil, fmt.Errorf("create default codec: %w", err)
		}
		codec = rc
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare workspace: %w", err)
	}

	hist, err := history.OpenRecover(cfg.HistoryDBPath())
	if err != nil {
		return nil, fmt.Errorf("open commit log: %w", err)
	}

	blobOpts := blob.Options{
		MemoryEntries:    cfg.Blob.MemoryCacheEntries,
		CompressionLevel: cfg.Blob.CompressionLevel,
	}
	if cfg.Blob.FSTierEnabled {
		blobOpts.FSDir = cfg.BlobDirPath()
	}
	if cfg.Blob.KVTierEnabled {
		blobOpts.KVPath = cfg.BlobDBPath()
	}
	if opts.Remote != nil {
		blobOpts.Remote = opts.Remote
	}

	blobs, err := blob.Open(blobOpts)
	if err != nil {
		hist.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		codec:    codec,
		log:      log,
		remote:   opts.Remote,
		stats:    metrics.GetMetrics(),
		history:  hist,
		blobs:    blobs,
		file:     file,
		detached: detached,
	}

	if err := e.rehydrate(); err != nil {
		blobs.Close()
		hist.Close()
		return nil, err
	}

	e.log.Info("engine opened",
		"file", file.DisplayName,
		"detached", detached,
		"current", e.current,
		"remote", e.remote != nil)
	return e, nil
}

// rehydrate restores the engine position: the persisted state row when one
// survives, otherwise the newest commit with a clean working copy.
func (e *Engine) rehydrate() error {
	st, err := e.history.LoadState(e.file.Key)
	if err != nil {
		return fmt.Errorf("load engine state: %w", err)
	}

	if st != nil && st.CurrentCommitID != "" {
		if _, err := e.history.Get(e.file.Key, st.CurrentCommitID); err != nil {
			e.log.Warn("persisted state names a missing commit, falling back to newest",
				"commit_id", st.CurrentCommitID)
			st = nil
		}
	}
	if st != nil {
		e.current = st.CurrentCommitID
		e.pulled = st.PulledCommitID
		e.dirty = st.Dirty
		return nil
	}

	commits, err := e.history.Load(e.file.Key)
	if err != nil {
		return fmt.Errorf("load commit history: %w", err)
	}
	if len(commits) > 0 {
		e.current = commits[0].ID
	}
	return nil
}

// File returns the tracked file identity.
func (e *Engine) File() TrackedFile {
	return e.file
}

// Detached reports whether the engine tracks a scene with no backing file.
func (e *Engine) Detached() bool {
	return e.detached
}

// CurrentCommitID returns the commit the working copy is based on, or empty
// before the first commit.
func (e *Engine) CurrentCommitID() string {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.current
}

// WorkingState reports how the working copy relates to the current commit.
func (e *Engine) WorkingState() WorkingState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.workingStateLocked()
}

// CurrentSnapshot returns the scene currently loaded in memory, or nil when
// nothing has been decoded yet.
func (e *Engine) CurrentSnapshot() *scene.Snapshot {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.snapshot
}

// Close stops the watcher, persists the engine position, and releases
// storage. Further operations return ErrClosed.
func (e *Engine) Close() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.stateMu.Lock()
	if e.closed {
		e.stateMu.Unlock()
		return nil
	}
	e.closed = true
	st := history.State{
		CurrentCommitID: e.current,
		PulledCommitID:  e.pulled,
		Dirty:           e.dirty,
	}
	e.stateMu.Unlock()

	if e.watch != nil {
		if err := e.watch.Stop(); err != nil {
			e.log.Warn("stop watcher failed", "error", err)
		}
		e.watchWG.Wait()
		e.watch = nil
	}

	if err := e.history.SaveState(e.file.Key, st); err != nil {
		e.log.Warn("persist engine state failed", "error", err)
	}

	var firstErr error
	if err := e.blobs.Close(); err != nil {
		firstErr = err
	}
	if err := e.history.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	e.log.Info("engine closed", "file", e.file.DisplayName)
	return firstErr
}

func (e *Engine) checkClosed() error {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

func (e *Engine) currentID() string {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.current
}

// workingStateLocked derives the working state. Callers hold stateMu.
func (e *Engine) workingStateLocked() WorkingState {
	switch {
	case !e.dirty:
		return StateClean
	case e.pulled != "":
		return StateDirtyFromPull
	default:
		return StateDirty
	}
}

// saveState persists the engine position best-effort. Position is a
// convenience for restarts, never worth failing an operation over.
func (e *Engine) saveState(st history.State) {
	if err := e.history.SaveState(e.file.Key, st); err != nil {
		e.log.Warn("persist engine state failed", "error", err)
	}
}

func (e *Engine) lastSnapshot() *scene.Snapshot {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.snapshot
}
