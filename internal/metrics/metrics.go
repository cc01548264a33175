// Package metrics collects and exposes the daemon's runtime observability
// data.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (per-function counters + a rolling
//     time series) for a lightweight JSON /metrics endpoint.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems.
//
// # Concurrency — hot path
//
// RecordInvocation is called from the emulator on every completed
// invocation and must be as fast as possible. It uses atomic increments
// for global counters and dispatches a lightweight event onto a buffered
// channel (tsChan) for the time-series worker to process asynchronously,
// avoiding any lock on the hot path.
//
// The per-function FunctionMetrics struct also uses atomic operations
// exclusively; the sync.Map that stores per-function entries is
// read-heavy and write-once-per-new-function, the ideal use case for
// sync.Map.
//
// # Invariants
//
//   - TotalInvocations == SuccessInvocations + FailedInvocations.
//   - ColdStarts + WarmStarts == TotalInvocations.
//   - The time-series ring buffer holds at most timeSeriesBucketCount
//     buckets (24 * 60 = 1440 for the last 24 hours at 1-minute
//     granularity).
//   - tsChan capacity is 8192 events; events dropped when full are
//     counted in tsDroppedEvents for observability.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeSeriesBucketDuration = time.Minute
	timeSeriesBucketCount    = 24 * 60
)

// TimeSeriesBucket stores metrics for a single time bucket.
type TimeSeriesBucket struct {
	Timestamp    time.Time
	Invocations  int64
	Errors       int64
	TotalLatency int64
	Count        int64
}

// Metrics collects and exposes daemon-wide invocation metrics.
type Metrics struct {
	TotalInvocations   atomic.Int64
	SuccessInvocations atomic.Int64
	FailedInvocations  atomic.Int64
	ColdStarts         atomic.Int64
	WarmStarts         atomic.Int64

	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	ActiveRequests atomic.Int64

	ExtensionEventsDelivered atomic.Int64
	ExtensionEventsDropped   atomic.Int64

	funcMetrics sync.Map // function name -> *FunctionMetrics

	timeSeriesMu    sync.RWMutex
	timeSeries      []*TimeSeriesBucket
	tsChan          chan timeSeriesEvent
	tsDroppedEvents atomic.Int64

	startTime time.Time
}

type timeSeriesEvent struct {
	durationMs int64
	isError    bool
}

// FunctionMetrics tracks metrics for a single function.
type FunctionMetrics struct {
	Invocations atomic.Int64
	Successes   atomic.Int64
	Failures    atomic.Int64
	ColdStarts  atomic.Int64
	WarmStarts  atomic.Int64
	TotalMs     atomic.Int64
	MinMs       atomic.Int64
	MaxMs       atomic.Int64
}

var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinLatencyMs.Store(int64(^uint64(0) >> 1))
	global.tsChan = make(chan timeSeriesEvent, 8192)
	global.initTimeSeries()
	go global.processTimeSeriesLoop()
}

func (m *Metrics) initTimeSeries() {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

// Global returns the global metrics instance.
func Global() *Metrics { return global }

// StartTime returns the time when the metrics system was initialized.
func StartTime() time.Time { return global.startTime }

// RecordInvocation records an invocation result for both the global and
// the per-function counters, and bridges to Prometheus.
func (m *Metrics) RecordInvocation(functionName string, durationMs int64, coldStart, success bool) {
	m.TotalInvocations.Add(1)
	if success {
		m.SuccessInvocations.Add(1)
	} else {
		m.FailedInvocations.Add(1)
	}
	if coldStart {
		m.ColdStarts.Add(1)
	} else {
		m.WarmStarts.Add(1)
	}

	m.TotalLatencyMs.Add(durationMs)
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	fm := m.getFunctionMetrics(functionName)
	fm.Invocations.Add(1)
	if success {
		fm.Successes.Add(1)
	} else {
		fm.Failures.Add(1)
	}
	if coldStart {
		fm.ColdStarts.Add(1)
	} else {
		fm.WarmStarts.Add(1)
	}
	fm.TotalMs.Add(durationMs)
	updateMin(&fm.MinMs, durationMs)
	updateMax(&fm.MaxMs, durationMs)

	m.recordTimeSeries(durationMs, !success)
	RecordPrometheusInvocation(functionName, durationMs, coldStart, success)
}

// IncActiveRequests and DecActiveRequests move the active-request
// count for both stores in one call each, so the Prometheus gauge
// never observes a torn read-modify-write from racing handlers.
func (m *Metrics) IncActiveRequests() {
	m.ActiveRequests.Add(1)
	incPrometheusActiveRequests(1)
}

func (m *Metrics) DecActiveRequests() {
	m.ActiveRequests.Add(-1)
	incPrometheusActiveRequests(-1)
}

// RecordExtensionEvent tracks whether an extension's event delivery
// succeeded (the extension had a live channel) or was dropped (the
// extension's channel was full — a best-effort delivery policy).
func (m *Metrics) RecordExtensionEvent(delivered bool) {
	if delivered {
		m.ExtensionEventsDelivered.Add(1)
	} else {
		m.ExtensionEventsDropped.Add(1)
	}
	RecordPrometheusExtensionEvent(delivered)
}

func (m *Metrics) recordTimeSeries(durationMs int64, isError bool) {
	select {
	case m.tsChan <- timeSeriesEvent{durationMs: durationMs, isError: isError}:
	default:
		m.tsDroppedEvents.Add(1)
	}
}

func (m *Metrics) processTimeSeriesLoop() {
	for evt := range m.tsChan {
		m.applyTimeSeriesEvent(evt.durationMs, evt.isError)
	}
}

func (m *Metrics) applyTimeSeriesEvent(durationMs int64, isError bool) {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)

	if len(m.timeSeries) > 0 {
		lastBucket := m.timeSeries[len(m.timeSeries)-1]
		bucketsDiff := int(now.Sub(lastBucket.Timestamp) / timeSeriesBucketDuration)

		if bucketsDiff > 0 {
			if bucketsDiff >= timeSeriesBucketCount {
				m.initTimeSeriesLocked(now)
			} else {
				m.timeSeries = m.timeSeries[bucketsDiff:]
				for i := 0; i < bucketsDiff; i++ {
					m.timeSeries = append(m.timeSeries, &TimeSeriesBucket{
						Timestamp: lastBucket.Timestamp.Add(time.Duration(i+1) * timeSeriesBucketDuration),
					})
				}
			}
		}
	}

	if len(m.timeSeries) > 0 {
		bucket := m.timeSeries[len(m.timeSeries)-1]
		bucket.Invocations++
		bucket.TotalLatency += durationMs
		bucket.Count++
		if isError {
			bucket.Errors++
		}
	}
}

func (m *Metrics) initTimeSeriesLocked(now time.Time) {
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

func (m *Metrics) getFunctionMetrics(functionName string) *FunctionMetrics {
	v, _ := m.funcMetrics.LoadOrStore(functionName, &FunctionMetrics{})
	return v.(*FunctionMetrics)
}

// Snapshot is the JSON shape served by the /metrics endpoint.
type Snapshot struct {
	UptimeSeconds      float64                     `json:"uptime_seconds"`
	TotalInvocations   int64                       `json:"total_invocations"`
	SuccessInvocations int64                       `json:"success_invocations"`
	FailedInvocations  int64                       `json:"failed_invocations"`
	ColdStarts         int64                       `json:"cold_starts"`
	WarmStarts         int64                       `json:"warm_starts"`
	ActiveRequests     int64                       `json:"active_requests"`
	AvgLatencyMs       float64                     `json:"avg_latency_ms"`
	Functions          map[string]FunctionSnapshot `json:"functions"`
}

// FunctionSnapshot is the per-function slice of a Snapshot.
type FunctionSnapshot struct {
	Invocations int64   `json:"invocations"`
	Successes   int64   `json:"successes"`
	Failures    int64   `json:"failures"`
	AvgMs       float64 `json:"avg_ms"`
}

// Snapshot builds a point-in-time view of the global counters.
func (m *Metrics) Snapshot() Snapshot {
	total := m.TotalInvocations.Load()
	var avg float64
	if total > 0 {
		avg = float64(m.TotalLatencyMs.Load()) / float64(total)
	}

	s := Snapshot{
		UptimeSeconds:      time.Since(m.startTime).Seconds(),
		TotalInvocations:   total,
		SuccessInvocations: m.SuccessInvocations.Load(),
		FailedInvocations:  m.FailedInvocations.Load(),
		ColdStarts:         m.ColdStarts.Load(),
		WarmStarts:         m.WarmStarts.Load(),
		ActiveRequests:     m.ActiveRequests.Load(),
		AvgLatencyMs:       avg,
		Functions:          make(map[string]FunctionSnapshot),
	}

	m.funcMetrics.Range(func(key, value any) bool {
		fm := value.(*FunctionMetrics)
		invocations := fm.Invocations.Load()
		var favg float64
		if invocations > 0 {
			favg = float64(fm.TotalMs.Load()) / float64(invocations)
		}
		s.Functions[key.(string)] = FunctionSnapshot{
			Invocations: invocations,
			Successes:   fm.Successes.Load(),
			Failures:    fm.Failures.Load(),
			AvgMs:       favg,
		}
		return true
	})

	return s
}

// ServeHTTP implements the JSON /metrics endpoint.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.Snapshot())
}

func updateMin(a *atomic.Int64, v int64) {
	for {
		cur := a.Load()
		if v >= cur {
			return
		}
		if a.CompareAndSwap(cur, v) {
			return
		}
	}
}

func updateMax(a *atomic.Int64, v int64) {
	for {
		cur := a.Load()
		if v <= cur {
			return
		}
		if a.CompareAndSwap(cur, v) {
			return
		}
	}
}
