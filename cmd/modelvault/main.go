// modelvault - Version control for large binary design files
//
// Every tracked file gets its own commit history. Committing records the
// working copy; restoring loads an old commit without touching the file;
// pulling overwrites the working copy with an old commit so the next
// commit branches from it.
//
//	modelvault init                     Initialize the workspace
//	modelvault commit [-m msg] <file>   Record the working copy as a commit
//	modelvault log <file>               Show commit history
//	modelvault restore <file> <id>      Load a commit without touching disk
//	modelvault pull <file> <id>         Overwrite the working copy with a commit
//	modelvault star <file> <id>         Star or unstar a commit
//	modelvault gallery <file> <id>...   Try a comparison gallery selection
//	modelvault sync <file>              Merge and mirror with the remote vault
//	modelvault verify <file>            Report payload health per commit
//	modelvault export [-o out] <file>   Export the history document as JSON
//	modelvault watch <file>             Watch the file and flag external edits
//	modelvault status <file>            Show tracked file status
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"modelvault/internal/config"
	"modelvault/internal/engine"
	"modelvault/internal/history"
	"modelvault/internal/logging"
	"modelvault/internal/metrics"
	"modelvault/internal/remote"
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch cmd := os.Args[1]; cmd {
	case "init":
		runInit()
	case "commit":
		runCommit()
	case "log":
		runLog()
	case "restore":
		runRestore()
	case "pull":
		runPull()
	case "star":
		runStar()
	case "gallery":
		runGallery()
	case "sync":
		runSync()
	case "verify":
		runVerify()
	case "export":
		runExport()
	case "watch":
		runWatch()
	case "status":
		runStatus()
	case "version":
		fmt.Printf("modelvault %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "modelvault: unknown command %q\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`modelvault - Version control for large binary design files

USAGE:
    modelvault <command> [options]

COMMANDS:
    init                     Initialize the workspace and default config
    commit [-m msg] <file>   Record the working copy as a new commit
    log [-limit n] <file>    Show commit history for a file
    restore <file> <id>      Load a commit into the viewer state only
    pull <file> <id>         Overwrite the working copy with a commit
    star <file> <id>         Star a commit (-remove to unstar)
    gallery <file> <id>...   Validate a comparison gallery selection
    sync <file>              Merge remote history and mirror local commits
    verify <file>            Report where each commit's payload survives
    export [-o out] <file>   Export the history document as JSON
    watch <file>             Watch the file and report external edits
    status <file>            Show tracked file status
    version                  Print the version
    help                     Show this help message

BASIC WORKFLOW:
    1. modelvault init                        # One-time setup
    2. (work on your model in the editor)
    3. modelvault commit -m "..." model.glb   # Checkpoint when ready
    4. modelvault log model.glb               # Browse history
    5. modelvault pull model.glb <id>         # Rewind the working copy
    6. (keep editing; the next commit branches from the pulled commit)

Remote sync is optional. Set remote.enabled and remote.base_url in the
config file, and put the token in MODELVAULT_REMOTE_TOKEN. When the
service is unreachable commits still succeed locally; 'modelvault sync'
uploads the backlog later.

ENVIRONMENT:
    MODELVAULT_CONFIG        Config file path (default: ` + config.ConfigPath() + `)
    MODELVAULT_DATA_DIR      Workspace directory override
    MODELVAULT_REMOTE_TOKEN  Bearer token for the remote vault`)
}

func loadConfig() *config.Config {
	path := os.Getenv("MODELVAULT_CONFIG")
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) *logging.Logger {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		format = logging.FormatText
	}

	logger, err := logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    int64(cfg.Logging.MaxSizeMB),
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging setup failed: %v\n", err)
		return logging.Default()
	}
	logging.SetDefault(logger)
	return logger
}

// openEngine wires config, logging and the optional remote client into an
// engine for the given tracked file.
func openEngine(path string) *engine.Engine {
	cfg := loadConfig()
	logger := setupLogging(cfg)

	var client *remote.Client
	if cfg.RemotePermitted() {
		c, err := remote.NewClient(remote.Options{
			BaseURL:     cfg.Remote.BaseURL,
			Token:       cfg.Remote.Token,
			Timeout:     cfg.RemoteTimeout(),
			MaxAttempts: cfg.Remote.MaxAttempts,
			Logger:      logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error configuring remote: %v\n", err)
			os.Exit(1)
		}
		client = c
	}

	e, err := engine.Open(path, engine.Options{
		Config: cfg,
		Remote: client,
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening engine: %v\n", err)
		os.Exit(1)
	}
	return e
}

func runInit() {
	path := os.Getenv("MODELVAULT_CONFIG")
	if path == "" {
		path = config.ConfigPath()
	}

	cfg, created, err := config.LoadOrCreate(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating workspace: %v\n", err)
		os.Exit(1)
	}

	if created {
		fmt.Printf("Wrote default config: %s\n", path)
	} else {
		fmt.Printf("Using existing config: %s\n", path)
	}
	fmt.Println()
	fmt.Println("modelvault initialized!")
	fmt.Printf("  Workspace:  %s\n", cfg.Workspace.DataDir)
	fmt.Printf("  History DB: %s\n", cfg.HistoryDBPath())
	fmt.Printf("  Blob store: %s\n", cfg.BlobDirPath())
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Commit a file:  modelvault commit -m \"first version\" model.glb")
	fmt.Println("  2. Browse history: modelvault log model.glb")
}

func runCommit() {
	fs := flag.NewFlagSet("commit", flag.ExitOnError)
	message := fs.String("m", "", "Optional commit message")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: modelvault commit [-m message] <file>")
		os.Exit(1)
	}

	e := openEngine(fs.Arg(0))
	defer e.Close()

	out, err := e.Commit(context.Background(), *message)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating commit: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Commit %s created\n", out.Commit.ID)
	if out.Commit.ParentID != "" {
		fmt.Printf("  Parent:  %s\n", out.Commit.ParentID)
	}
	if out.Commit.Blob != nil {
		fmt.Printf("  Payload: %s\n", formatBytes(out.Commit.Blob.Size))
	}
	if *message != "" {
		fmt.Printf("  Message: %s\n", *message)
	}
	if out.Degraded {
		fmt.Println()
		fmt.Println("WARNING: payload bytes were unavailable; this commit records the")
		fmt.Println("last known snapshot only and cannot be pulled byte-for-byte.")
	}
	switch {
	case out.RemoteSynced:
		fmt.Printf("  Remote:  synced (%s)\n", out.Commit.Remote.ObjectVersion)
	case out.RemoteErr != nil:
		fmt.Printf("  Remote:  unreachable, commit is local-only (%v)\n", out.RemoteErr)
		fmt.Println("           run 'modelvault sync' once the service is back")
	}
}

func runLog() {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	limit := fs.Int("limit", 0, "Show at most n commits (0 = all)")
	branch := fs.Bool("branch", false, "Show only the current branch, root first")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: modelvault log [-limit n] [-branch] <file>")
		os.Exit(1)
	}

	e := openEngine(fs.Arg(0))
	defer e.Close()

	var (
		commits []*history.Commit
		err     error
	)
	if *branch {
		commits, err = e.CurrentBranch()
	} else {
		commits, err = e.Commits()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading history: %v\n", err)
		os.Exit(1)
	}

	st, err := e.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading status: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Commit History: %s ===\n", st.DisplayName)
	fmt.Printf("Commits: %d (%d starred)\n", st.CommitCount, st.StarredCount)
	fmt.Println()

	if len(commits) == 0 {
		fmt.Println("No commits recorded.")
		return
	}

	shown := 0
	for _, c := range commits {
		if *limit > 0 && shown >= *limit {
			fmt.Printf("(showing first %d of %d)\n", shown, len(commits))
			break
		}

		marker := " "
		if c.ID == st.CurrentCommitID {
			marker = "*"
		}
		star := ""
		if c.Starred {
			star = "  ★"
		}
		fmt.Printf("%s %s  %s%s\n", marker, c.ID, c.CreatedAt.Local().Format("2006-01-02 15:04:05"), star)
		if c.Message != "" {
			fmt.Printf("    Msg:     %s\n", c.Message)
		}
		if c.ParentID != "" {
			fmt.Printf("    Parent:  %s\n", c.ParentID)
		}
		if c.Blob != nil {
			fmt.Printf("    Payload: %s\n", formatBytes(c.Blob.Size))
		} else if c.HasSnapshot {
			fmt.Println("    Payload: snapshot only")
		}
		fmt.Println()
		shown++
	}
}

func runRestore() {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "Usage: modelvault restore <file> <commit-id>")
		os.Exit(1)
	}

	e := openEngine(os.Args[2])
	defer e.Close()

	id := os.Args[3]
	if err := e.Restore(context.Background(), id); err != nil {
		fmt.Fprintf(os.Stderr, "Error restoring commit: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Restored %s into the viewer state.\n", id)
	fmt.Println("The on-disk file is untouched; use 'pull' to rewrite it.")
}

func runPull() {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "Usage: modelvault pull <file> <commit-id>")
		os.Exit(1)
	}

	e := openEngine(os.Args[2])
	defer e.Close()

	id := os.Args[3]
	if err := e.Pull(context.Background(), id); err != nil {
		fmt.Fprintf(os.Stderr, "Error pulling commit: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Pulled %s into the working copy.\n", id)
	fmt.Println("Reload the file in your editor. The next commit will branch from it.")
}

func runStar() {
	fs := flag.NewFlagSet("star", flag.ExitOnError)
	remove := fs.Bool("remove", false, "Unstar instead of star")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: modelvault star [-remove] <file> <commit-id>")
		os.Exit(1)
	}

	e := openEngine(fs.Arg(0))
	defer e.Close()

	id := fs.Arg(1)
	if err := e.SetStarred(id, !*remove); err != nil {
		fmt.Fprintf(os.Stderr, "Error updating star: %v\n", err)
		os.Exit(1)
	}

	if *remove {
		fmt.Printf("Unstarred %s\n", id)
	} else {
		fmt.Printf("Starred %s\n", id)
	}
}

func runGallery() {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "Usage: modelvault gallery <file> <commit-id>...")
		os.Exit(1)
	}

	e := openEngine(os.Args[2])
	defer e.Close()

	ids := os.Args[3:]
	if err := e.SelectGallery(ids); err != nil {
		fmt.Fprintf(os.Stderr, "Error selecting gallery: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Gallery selection accepted (%d commits):\n", len(ids))
	for _, id := range e.GallerySelection() {
		fmt.Printf("  - %s\n", id)
	}
	fmt.Println()
	fmt.Println("The selection is viewer state; it is not persisted.")
}

func runSync() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: modelvault sync <file>")
		os.Exit(1)
	}

	e := openEngine(os.Args[2])
	defer e.Close()

	fmt.Print("Syncing with remote vault...")
	start := time.Now()
	out, err := e.SyncRemote(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nError syncing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf(" done (%s)\n", time.Since(start).Round(time.Millisecond))
	fmt.Println()

	fmt.Printf("  Remote commits added:   %d\n", out.Added)
	fmt.Printf("  Remote commits updated: %d\n", out.Updated)
	fmt.Printf("  Local commits uploaded: %d\n", out.Uploaded)
	if out.UploadFailures > 0 {
		fmt.Printf("  Upload failures:        %d (will retry on next sync)\n", out.UploadFailures)
	}
}

func runVerify() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: modelvault verify <file>")
		os.Exit(1)
	}

	e := openEngine(os.Args[2])
	defer e.Close()

	entries, err := e.Verify()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error verifying: %v\n", err)
		os.Exit(1)
	}

	if len(entries) == 0 {
		fmt.Println("No commits recorded.")
		return
	}

	fmt.Println("=== Payload Health ===")
	fmt.Printf("%-26s %-14s %s\n", "Commit", "Health", "Tier")
	unhealthy := 0
	for _, entry := range entries {
		tier := ""
		if entry.Health == engine.HealthLocal {
			tier = entry.Tier.String()
		}
		fmt.Printf("%-26s %-14s %s\n", entry.CommitID, entry.Health, tier)
		if entry.Health == engine.HealthUnresolvable {
			unhealthy++
		}
	}

	if unhealthy > 0 {
		fmt.Printf("\n%d commit(s) have no recoverable payload.\n", unhealthy)
		os.Exit(1)
	}
	fmt.Println("\nAll commits have a recoverable payload or snapshot.")
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	output := fs.String("o", "", "Output file (default: <file>.history.json)")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: modelvault export [-o output.json] <file>")
		os.Exit(1)
	}

	filePath := fs.Arg(0)
	e := openEngine(filePath)
	defer e.Close()

	doc, err := e.ExportHistory()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error exporting history: %v\n", err)
		os.Exit(1)
	}

	outputPath := *output
	if outputPath == "" {
		outputPath = filepath.Base(filePath) + ".history.json"
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding history: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(outputPath, data, 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", outputPath, err)
		os.Exit(1)
	}

	fmt.Printf("History exported to: %s\n", outputPath)
	fmt.Printf("  Commits: %d\n", len(doc.Commits))
	fmt.Printf("  Starred: %d\n", len(doc.StarredIDs))
}

func runWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	metricsAddr := fs.String("metrics", "", "serve Prometheus metrics on this address")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: modelvault watch [-metrics addr] <file>")
		os.Exit(1)
	}

	e := openEngine(fs.Arg(0))
	defer e.Close()

	if err := e.StartWatching(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting watcher: %v\n", err)
		os.Exit(1)
	}

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: metrics.Default().HTTPHandler()}
		defer srv.Close()
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "Warning: metrics endpoint failed: %v\n", err)
			}
		}()
		fmt.Printf("Metrics on http://%s/\n", *metricsAddr)
	}

	fmt.Printf("Watching %s (Ctrl-C to stop)\n", e.File().Path)
	fmt.Println("External edits set the dirty flag; nothing is committed automatically.")
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	last := e.WorkingState()
	fmt.Printf("[%s] state: %s\n", time.Now().Format("15:04:05"), last)

	for {
		select {
		case <-sigCh:
			fmt.Println("\nStopping.")
			return
		case <-ticker.C:
			state := e.WorkingState()
			if state != last {
				fmt.Printf("[%s] state: %s\n", time.Now().Format("15:04:05"), state)
				if state != engine.StateClean {
					fmt.Println("    commit when ready: modelvault commit -m \"...\"")
				}
				last = state
			}
		}
	}
}

func runStatus() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: modelvault status <file>")
		os.Exit(1)
	}

	e := openEngine(os.Args[2])
	defer e.Close()

	st, err := e.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading status: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== modelvault Status ===")
	fmt.Println()
	fmt.Printf("File:       %s\n", st.Path)
	fmt.Printf("Key:        %s\n", st.FileKey)
	fmt.Printf("State:      %s\n", st.WorkingState)
	fmt.Printf("Commits:    %d (%d starred)\n", st.CommitCount, st.StarredCount)
	if st.CurrentCommitID != "" {
		fmt.Printf("Current:    %s\n", st.CurrentCommitID)
	} else {
		fmt.Println("Current:    (no commits yet)")
	}
	if st.PulledCommitID != "" {
		fmt.Printf("Pulled:     %s (next commit branches from it)\n", st.PulledCommitID)
	}
	if st.RemoteEnabled {
		fmt.Println("Remote:     enabled")
	} else {
		fmt.Println("Remote:     disabled")
	}
	if len(st.Gallery) > 0 {
		fmt.Printf("Gallery:    %d selected\n", len(st.Gallery))
	}
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
