// Package metrics collects pipeline counters across a batch run. Counters
// are atomic so the fetch client and the orchestrator can record from
// different call depths without coordination; collection itself is still
// sequential per job.
package metrics

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Pipeline accumulates counters for one batch run.
type Pipeline struct {
	startTime time.Time

	downloads       atomic.Int64
	downloadRetries atomic.Int64
	bytesDownloaded atomic.Int64
	jobsWritten     atomic.Int64
	jobsSkipped     atomic.Int64
	jobsFailed      atomic.Int64
	barsWritten     atomic.Int64
	malformedRows   atomic.Int64
	outOfOrderRows  atomic.Int64
}

// NewPipeline creates a counter set with the clock started.
func NewPipeline() *Pipeline {
	return &Pipeline{startTime: time.Now()}
}

// RecordDownload records one completed download of n bytes.
func (p *Pipeline) RecordDownload(n int64) {
	p.downloads.Add(1)
	p.bytesDownloaded.Add(n)
}

// RecordRetries records the extra attempts a job needed beyond the first.
func (p *Pipeline) RecordRetries(attempts int) {
	if attempts > 1 {
		p.downloadRetries.Add(int64(attempts - 1))
	}
}

// RecordJobWritten records a successfully written job and its row counts.
func (p *Pipeline) RecordJobWritten(bars, malformed, outOfOrder int) {
	p.jobsWritten.Add(1)
	p.barsWritten.Add(int64(bars))
	p.malformedRows.Add(int64(malformed))
	p.outOfOrderRows.Add(int64(outOfOrder))
}

// RecordJobSkipped records a job skipped because its outputs exist.
func (p *Pipeline) RecordJobSkipped() {
	p.jobsSkipped.Add(1)
}

// RecordJobFailed records a terminally failed job.
func (p *Pipeline) RecordJobFailed() {
	p.jobsFailed.Add(1)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Elapsed         time.Duration
	Downloads       int64
	DownloadRetries int64
	BytesDownloaded int64
	JobsWritten     int64
	JobsSkipped     int64
	JobsFailed      int64
	BarsWritten     int64
	MalformedRows   int64
	OutOfOrderRows  int64
}

// Snapshot copies the current counter values.
func (p *Pipeline) Snapshot() Snapshot {
	return Snapshot{
		Elapsed:         time.Since(p.startTime),
		Downloads:       p.downloads.Load(),
		DownloadRetries: p.downloadRetries.Load(),
		BytesDownloaded: p.bytesDownloaded.Load(),
		JobsWritten:     p.jobsWritten.Load(),
		JobsSkipped:     p.jobsSkipped.Load(),
		JobsFailed:      p.jobsFailed.Load(),
		BarsWritten:     p.barsWritten.Load(),
		MalformedRows:   p.malformedRows.Load(),
		OutOfOrderRows:  p.outOfOrderRows.Load(),
	}
}

// Log writes the snapshot through the structured logger.
func (s Snapshot) Log(logger *slog.Logger) {
	logger.Info("pipeline metrics",
		"elapsed", s.Elapsed,
		"downloads", s.Downloads,
		"download_retries", s.DownloadRetries,
		"bytes_downloaded", s.BytesDownloaded,
		"jobs_written", s.JobsWritten,
		"jobs_skipped", s.JobsSkipped,
		"jobs_failed", s.JobsFailed,
		"bars_written", s.BarsWritten,
		"malformed_rows", s.MalformedRows,
		"out_of_order_rows", s.OutOfOrderRows)
}
