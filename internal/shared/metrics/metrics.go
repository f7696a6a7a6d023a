package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	runsStartedTotal   atomic.Uint64
	runsSucceededTotal atomic.Uint64
	runsFailedTotal    atomic.Uint64
	runsTimedOutTotal  atomic.Uint64

	ocrRetriesTotal atomic.Uint64

	jobsEnqueuedTotal     atomic.Uint64
	jobsReceivedTotal     atomic.Uint64
	jobsCompletedTotal    atomic.Uint64
	jobsFailedTotal       atomic.Uint64
	jobsDeadLetteredTotal atomic.Uint64

	signalsDuplicateTotal atomic.Uint64

	runDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 300000})
)

// IncRunsStarted increments the started-runs counter.
func IncRunsStarted() { runsStartedTotal.Add(1) }

// IncRunsSucceeded increments the succeeded-runs counter.
func IncRunsSucceeded() { runsSucceededTotal.Add(1) }

// IncRunsFailed increments the failed-runs counter.
func IncRunsFailed() { runsFailedTotal.Add(1) }

// IncRunsTimedOut increments the timed-out-runs counter.
func IncRunsTimedOut() { runsTimedOutTotal.Add(1) }

// IncOCRRetries increments the OCR retry counter.
func IncOCRRetries() { ocrRetriesTotal.Add(1) }

// IncJobsEnqueued increments the enqueued-jobs counter.
func IncJobsEnqueued() { jobsEnqueuedTotal.Add(1) }

// IncJobsReceived increments the received-jobs counter.
func IncJobsReceived() { jobsReceivedTotal.Add(1) }

// IncJobsCompleted increments the completed-jobs counter.
func IncJobsCompleted() { jobsCompletedTotal.Add(1) }

// IncJobsFailed increments the failed-jobs counter.
func IncJobsFailed() { jobsFailedTotal.Add(1) }

// IncJobsDeadLettered increments the dead-lettered-jobs counter.
func IncJobsDeadLettered() { jobsDeadLetteredTotal.Add(1) }

// IncSignalsDuplicate increments the duplicate/unknown-token signal counter.
func IncSignalsDuplicate() { signalsDuplicateTotal.Add(1) }

// ObserveRunDurationMs records a run duration in milliseconds.
func ObserveRunDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	runDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "runs_started_total", "Total workflow runs started", runsStartedTotal.Load())
	writeCounter(&buf, "runs_succeeded_total", "Total workflow runs succeeded", runsSucceededTotal.Load())
	writeCounter(&buf, "runs_failed_total", "Total workflow runs failed", runsFailedTotal.Load())
	writeCounter(&buf, "runs_timed_out_total", "Total workflow runs failed on suspension timeout", runsTimedOutTotal.Load())
	writeCounter(&buf, "ocr_retries_total", "Total OCR retry attempts", ocrRetriesTotal.Load())
	writeCounter(&buf, "extraction_jobs_enqueued_total", "Total extraction jobs enqueued", jobsEnqueuedTotal.Load())
	writeCounter(&buf, "extraction_jobs_received_total", "Total extraction jobs received by workers", jobsReceivedTotal.Load())
	writeCounter(&buf, "extraction_jobs_completed_total", "Total extraction jobs completed", jobsCompletedTotal.Load())
	writeCounter(&buf, "extraction_jobs_failed_total", "Total extraction jobs failed", jobsFailedTotal.Load())
	writeCounter(&buf, "extraction_jobs_dead_lettered_total", "Total extraction jobs moved to the dead-letter store", jobsDeadLetteredTotal.Load())
	writeCounter(&buf, "completion_signals_duplicate_total", "Total duplicate or unknown-token completion signals", signalsDuplicateTotal.Load())
	writeHistogram(&buf, "run_duration_ms", "Workflow run duration in milliseconds", runDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
