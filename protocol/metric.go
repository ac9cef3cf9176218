package protocol

import (
	"daomonitor/libs/utils"
	jsoniter "github.com/json-iterator/go"
	"github.com/rcrowley/go-metrics"
	"sync"
	"time"
)

// 最多保留的round trip样本数
const maxLatencySamples = 256

func newRequesterMetric() *requesterMetric {
	return &requesterMetric{
		sent:         metrics.NewCounter(),
		completed:    metrics.NewCounter(),
		timeouts:     metrics.NewCounter(),
		sendFailures: metrics.NewCounter(),
		malformed:    metrics.NewCounter(),
		dropped:      metrics.NewCounter(),
		latencies:    make([]time.Duration, 0, maxLatencySamples),
	}
}

type requesterMetric struct {
	sent         metrics.Counter
	completed    metrics.Counter
	timeouts     metrics.Counter
	sendFailures metrics.Counter
	malformed    metrics.Counter
	dropped      metrics.Counter

	mtx       sync.Mutex
	latencies []time.Duration
}

type requesterSnapshot struct {
	Sent         int64   `json:"sent"`
	Completed    int64   `json:"completed"`
	Timeouts     int64   `json:"timeouts"`
	SendFailures int64   `json:"send_failures"`
	Malformed    int64   `json:"malformed"`
	Dropped      int64   `json:"dropped"`
	Pending      int     `json:"pending"`
	MaxLatencyMs float64 `json:"max_latency_ms"`
	MinLatencyMs float64 `json:"min_latency_ms"`
	MidLatencyMs float64 `json:"mid_latency_ms"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

func (rm *requesterMetric) snapshot(pending int) requesterSnapshot {
	rm.mtx.Lock()
	ms := utils.DurationsToMillis(rm.latencies)
	rm.mtx.Unlock()

	return requesterSnapshot{
		Sent:         rm.sent.Count(),
		Completed:    rm.completed.Count(),
		Timeouts:     rm.timeouts.Count(),
		SendFailures: rm.sendFailures.Count(),
		Malformed:    rm.malformed.Count(),
		Dropped:      rm.dropped.Count(),
		Pending:      pending,
		MaxLatencyMs: utils.Max(ms...),
		MinLatencyMs: utils.Min(ms...),
		MidLatencyMs: utils.Mean(ms...),
		AvgLatencyMs: utils.Avg(ms...),
	}
}

func (rm *requesterMetric) MarkSent()        { rm.sent.Inc(1) }
func (rm *requesterMetric) MarkTimeout()     { rm.timeouts.Inc(1) }
func (rm *requesterMetric) MarkSendFailure() { rm.sendFailures.Inc(1) }
func (rm *requesterMetric) MarkMalformed()   { rm.malformed.Inc(1) }
func (rm *requesterMetric) MarkDropped()     { rm.dropped.Inc(1) }

func (rm *requesterMetric) MarkCompleted(rtt time.Duration) {
	rm.completed.Inc(1)

	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	if len(rm.latencies) == maxLatencySamples {
		rm.latencies = rm.latencies[1:]
	}
	rm.latencies = append(rm.latencies, rtt)
}

// JSONString implements metric.MetricItem.
func (r *Requester) JSONString() string {
	s, _ := jsoniter.MarshalToString(r.metric.snapshot(r.NumPending()))
	return s
}
