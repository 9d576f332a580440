// Package metrics collects run statistics for the mirror daemon.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// Metrics is the collection interface the watch loop and seed pass report
// into. The noop implementation disables collection without changing the
// calling code.
type Metrics interface {
	AddEventsSeen(n int64)
	AddFilesCopied(n int64)
	AddDirsCreated(n int64)
	AddSymlinksCreated(n int64)
	AddEntriesRemoved(n int64)
	AddEntriesRenamed(n int64)
	AddMetadataSynced(n int64)
	AddIgnored(n int64)
	AddUnsupported(n int64)
	AddFailures(n int64)
	LogSummary(msg string)

	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// MirrorMetrics holds the atomic counters for one daemon run.
type MirrorMetrics struct {
	EventsSeen      atomic.Int64
	FilesCopied     atomic.Int64
	DirsCreated     atomic.Int64
	SymlinksCreated atomic.Int64
	EntriesRemoved  atomic.Int64
	EntriesRenamed  atomic.Int64
	MetadataSynced  atomic.Int64
	Ignored         atomic.Int64
	Unsupported     atomic.Int64
	Failures        atomic.Int64

	stopChan  chan struct{}
	startTime time.Time
}

func (m *MirrorMetrics) AddEventsSeen(n int64)      { m.EventsSeen.Add(n) }
func (m *MirrorMetrics) AddFilesCopied(n int64)     { m.FilesCopied.Add(n) }
func (m *MirrorMetrics) AddDirsCreated(n int64)     { m.DirsCreated.Add(n) }
func (m *MirrorMetrics) AddSymlinksCreated(n int64) { m.SymlinksCreated.Add(n) }
func (m *MirrorMetrics) AddEntriesRemoved(n int64)  { m.EntriesRemoved.Add(n) }
func (m *MirrorMetrics) AddEntriesRenamed(n int64)  { m.EntriesRenamed.Add(n) }
func (m *MirrorMetrics) AddMetadataSynced(n int64)  { m.MetadataSynced.Add(n) }
func (m *MirrorMetrics) AddIgnored(n int64)         { m.Ignored.Add(n) }
func (m *MirrorMetrics) AddUnsupported(n int64)     { m.Unsupported.Add(n) }
func (m *MirrorMetrics) AddFailures(n int64)        { m.Failures.Add(n) }

func (m *MirrorMetrics) StartProgress(msg string, interval time.Duration) {
	m.startTime = time.Now()
	m.stopChan = make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *MirrorMetrics) StopProgress() {
	if m.stopChan != nil {
		close(m.stopChan)
	}
}

// LogSummary prints the counters with a custom message, either from the
// progress ticker or at shutdown.
func (m *MirrorMetrics) LogSummary(msg string) {
	duration := time.Duration(0)
	if !m.startTime.IsZero() {
		duration = time.Since(m.startTime)
	}

	plog.Info(msg,
		"events_seen", m.EventsSeen.Load(),
		"files_copied", m.FilesCopied.Load(),
		"dirs_created", m.DirsCreated.Load(),
		"symlinks_created", m.SymlinksCreated.Load(),
		"entries_removed", m.EntriesRemoved.Load(),
		"entries_renamed", m.EntriesRenamed.Load(),
		"metadata_synced", m.MetadataSynced.Load(),
		"ignored", m.Ignored.Load(),
		"unsupported", m.Unsupported.Load(),
		"failures", m.Failures.Load(),
		"duration", duration.Round(time.Millisecond),
	)
}

// NoopMetrics implements Metrics with no operations.
type NoopMetrics struct{}

func (m *NoopMetrics) AddEventsSeen(n int64)                            {}
func (m *NoopMetrics) AddFilesCopied(n int64)                           {}
func (m *NoopMetrics) AddDirsCreated(n int64)                           {}
func (m *NoopMetrics) AddSymlinksCreated(n int64)                       {}
func (m *NoopMetrics) AddEntriesRemoved(n int64)                        {}
func (m *NoopMetrics) AddEntriesRenamed(n int64)                        {}
func (m *NoopMetrics) AddMetadataSynced(n int64)                        {}
func (m *NoopMetrics) AddIgnored(n int64)                               {}
func (m *NoopMetrics) AddUnsupported(n int64)                           {}
func (m *NoopMetrics) AddFailures(n int64)                              {}
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

var _ Metrics = (*MirrorMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
