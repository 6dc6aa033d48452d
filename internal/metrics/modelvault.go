package metrics

import (
	"sync"
	"time"
)

// VaultMetrics holds the engine-level metrics for a modelvault process.
type VaultMetrics struct {
	registry *Registry

	// Counters
	CommitsTotal              *Counter
	DegradedCommitsTotal      *Counter
	RestoresTotal             *Counter
	PullsTotal                *Counter
	PullVerifyFailuresTotal   *Counter
	SyncsTotal                *Counter
	RemoteUploadsTotal        *Counter
	RemoteUploadFailuresTotal *Counter
	DirtyEventsTotal          *Counter

	// Gauges
	TrackedFileBytes *Gauge
	LastCommitTs     *Gauge
	UptimeSeconds    *Gauge

	// Histograms
	CommitDuration       *Histogram
	PullDuration         *Histogram
	RemoteUploadDuration *Histogram
	PayloadBytes         *Histogram
}

var startTime = time.Now()

// NewVaultMetrics registers the modelvault metric set on the registry. A nil
// registry uses the process default.
func NewVaultMetrics(registry *Registry) *VaultMetrics {
	if registry == nil {
		registry = Default()
	}

	return &VaultMetrics{
		registry: registry,

		CommitsTotal: registry.RegisterCounter(
			"commits_total",
			"Total commits recorded",
		),
		DegradedCommitsTotal: registry.RegisterCounter(
			"degraded_commits_total",
			"Commits recorded without payload bytes",
		),
		RestoresTotal: registry.RegisterCounter(
			"restores_total",
			"Commits restored into the in-memory view",
		),
		PullsTotal: registry.RegisterCounter(
			"pulls_total",
			"Commits pulled onto disk",
		),
		PullVerifyFailuresTotal: registry.RegisterCounter(
			"pull_verify_failures_total",
			"Pulls aborted by the read-back verification",
		),
		SyncsTotal: registry.RegisterCounter(
			"syncs_total",
			"Remote sync passes completed",
		),
		RemoteUploadsTotal: registry.RegisterCounter(
			"remote_uploads_total",
			"Commits mirrored to the remote vault",
		),
		RemoteUploadFailuresTotal: registry.RegisterCounter(
			"remote_upload_failures_total",
			"Mirror attempts that failed and left the commit local-only",
		),
		DirtyEventsTotal: registry.RegisterCounter(
			"dirty_events_total",
			"Watcher or editor events that marked the working copy dirty",
		),

		TrackedFileBytes: registry.RegisterGauge(
			"tracked_file_bytes",
			"Size of the tracked file at the last commit",
		),
		LastCommitTs: registry.RegisterGauge(
			"last_commit_timestamp",
			"Unix timestamp of the last commit",
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Seconds since the process started",
		),

		CommitDuration: registry.RegisterHistogram(
			"commit_duration_seconds",
			"Duration of commit operations",
			DurationBuckets,
		),
		PullDuration: registry.RegisterHistogram(
			"pull_duration_seconds",
			"Duration of pull operations, settle wait included",
			DurationBuckets,
		),
		RemoteUploadDuration: registry.RegisterHistogram(
			"remote_upload_duration_seconds",
			"Duration of remote mirror uploads",
			DurationBuckets,
		),
		PayloadBytes: registry.RegisterHistogram(
			"payload_bytes",
			"Size of stored commit payloads",
			SizeBuckets,
		),
	}
}

// RecordCommit records a finished commit.
func (m *VaultMetrics) RecordCommit(d time.Duration, degraded bool) {
	m.CommitsTotal.Inc()
	m.CommitDuration.ObserveDuration(d)
	m.LastCommitTs.Set(time.Now().Unix())
	if degraded {
		m.DegradedCommitsTotal.Inc()
	}
}

// RecordPayloadStored records a payload persisted to the blob chain.
func (m *VaultMetrics) RecordPayloadStored(n int) {
	m.PayloadBytes.Observe(float64(n))
	m.TrackedFileBytes.Set(int64(n))
}

// RecordRestore records a restore into the in-memory view.
func (m *VaultMetrics) RecordRestore() {
	m.RestoresTotal.Inc()
}

// RecordPull records a successful pull.
func (m *VaultMetrics) RecordPull(d time.Duration) {
	m.PullsTotal.Inc()
	m.PullDuration.ObserveDuration(d)
}

// RecordPullVerifyFailure records a pull aborted by read-back verification.
func (m *VaultMetrics) RecordPullVerifyFailure() {
	m.PullVerifyFailuresTotal.Inc()
}

// RecordSync records a completed remote sync pass.
func (m *VaultMetrics) RecordSync() {
	m.SyncsTotal.Inc()
}

// RecordRemoteUpload records a mirror attempt.
func (m *VaultMetrics) RecordRemoteUpload(d time.Duration, success bool) {
	m.RemoteUploadDuration.ObserveDuration(d)
	if success {
		m.RemoteUploadsTotal.Inc()
	} else {
		m.RemoteUploadFailuresTotal.Inc()
	}
}

// RecordDirtyEvent records a change that marked the working copy dirty.
func (m *VaultMetrics) RecordDirtyEvent() {
	m.DirtyEventsTotal.Inc()
}

// UpdateUptime refreshes the uptime gauge.
func (m *VaultMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}

// Snapshot returns the current value of the key metrics.
func (m *VaultMetrics) Snapshot() map[string]any {
	m.UpdateUptime()
	return map[string]any{
		"commits_total":          m.CommitsTotal.Value(),
		"degraded_commits_total": m.DegradedCommitsTotal.Value(),
		"restores_total":         m.RestoresTotal.Value(),
		"pulls_total":            m.PullsTotal.Value(),
		"syncs_total":            m.SyncsTotal.Value(),
		"remote_uploads_total":   m.RemoteUploadsTotal.Value(),
		"dirty_events_total":     m.DirtyEventsTotal.Value(),
		"tracked_file_bytes":     m.TrackedFileBytes.Value(),
		"uptime_seconds":         m.UptimeSeconds.Value(),
		"commit_mean_seconds":    m.CommitDuration.Mean(),
		"pull_mean_seconds":      m.PullDuration.Mean(),
	}
}

var (
	vaultOnce    sync.Once
	vaultMetrics *VaultMetrics
)

// GetMetrics returns the process-wide vault metrics, registered on the
// default registry.
func GetMetrics() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultMetrics = NewVaultMetrics(Default())
	})
	return vaultMetrics
}
