// Package telemetry declares the Prometheus metrics surface for the
// storage core, grounded on the teacher's go/network/metrics.go (package
// level promauto.NewCounterVec/NewHistogramVec vars, each with a "status"
// or "kind" label rather than separate metrics per outcome).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var appendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "eventledger_append_total",
	Help: "counter of Append calls against the event log, by store type and outcome",
}, []string{"store", "status"})

var appendEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "eventledger_append_events_total",
	Help: "counter of individual events successfully appended",
}, []string{"store"})

var chunkRollTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "eventledger_chunk_roll_total",
	Help: "counter of stream chunk rolls performed during Append",
}, []string{"store"})

var documentSetTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "eventledger_document_set_total",
	Help: "counter of document Set calls, by store type and outcome",
}, []string{"store", "status"})

var hashChainBrokenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "eventledger_hash_chain_broken_total",
	Help: "counter of appends rejected because a stream's lastObjectDocumentHash disagreed with the document hash",
}, []string{"store"})

var lockWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "eventledger_lock_wait_seconds",
	Help:    "time spent retrying Acquire before winning a distributed lock",
	Buckets: prometheus.DefBuckets,
}, []string{"path"})

var projectionRebuildTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "eventledger_projection_rebuild_total",
	Help: "counter of projection rebuild attempts, by outcome",
}, []string{"projection", "status"})

// ObserveAppend records one Append outcome and, when n > 0, the number of
// events it wrote.
func ObserveAppend(store string, err error, n int) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	appendTotal.WithLabelValues(store, status).Inc()
	if err == nil && n > 0 {
		appendEventsTotal.WithLabelValues(store).Add(float64(n))
	}
}

// ObserveChunkRoll records one chunk-roll event during Append.
func ObserveChunkRoll(store string) {
	chunkRollTotal.WithLabelValues(store).Inc()
}

// ObserveDocumentSet records one document Set outcome.
func ObserveDocumentSet(store string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	documentSetTotal.WithLabelValues(store, status).Inc()
}

// ObserveHashChainBroken records one hash-chain rejection.
func ObserveHashChainBroken(store string) {
	hashChainBrokenTotal.WithLabelValues(store).Inc()
}

// ObserveLockWait records how long Acquire spent retrying before it won
// the lease on path (or gave up).
func ObserveLockWait(path string, seconds float64) {
	lockWaitSeconds.WithLabelValues(path).Observe(seconds)
}

// ObserveProjectionRebuild records one rebuild-lifecycle transition.
func ObserveProjectionRebuild(projectionName, status string) {
	projectionRebuildTotal.WithLabelValues(projectionName, status).Inc()
}
