package server

import (
	"sync/atomic"
	"time"
)

// Metrics counts what the server has done since start. Each connection
// carries at most one request, so RequestsTotal never exceeds the number of
// accepted connections and ActiveConnections is also the number of requests
// in flight.
type Metrics struct {
	// Requests that parsed and reached the handler chain.
	RequestsTotal     atomic.Int64
	ActiveConnections atomic.Int64
	// ErrorsTotal mirrors Errors5xx; a 4xx is the client's fault.
	ErrorsTotal atomic.Int64
	Errors4xx   atomic.Int64
	Errors5xx   atomic.Int64

	// Connections answered with an error page straight from the parser.
	// Silent closes (nothing sent, peer reset) are not counted.
	RejectedRequests atomic.Int64
	// Subset of RejectedRequests that ran out of ReadTimeout (408).
	ReadTimeouts atomic.Int64

	// Sum of handler time, parse and write excluded.
	TotalLatencyNs atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRequest is called once per handled request with the status the
// client will see.
func (m *Metrics) RecordRequest(statusCode int, duration time.Duration) {
	m.RequestsTotal.Add(1)
	m.TotalLatencyNs.Add(duration.Nanoseconds())

	switch {
	case statusCode >= 500:
		m.Errors5xx.Add(1)
		m.ErrorsTotal.Add(1)
	case statusCode >= 400:
		m.Errors4xx.Add(1)
	}
}

// AverageLatency is the mean handler time over all handled requests.
func (m *Metrics) AverageLatency() time.Duration {
	n := m.RequestsTotal.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(m.TotalLatencyNs.Load() / n)
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	RequestsTotal     int64
	ActiveConnections int64
	ErrorsTotal       int64
	Errors4xx         int64
	Errors5xx         int64
	RejectedRequests  int64
	ReadTimeouts      int64
	AverageLatency    time.Duration
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		RequestsTotal:     m.RequestsTotal.Load(),
		ActiveConnections: m.ActiveConnections.Load(),
		ErrorsTotal:       m.ErrorsTotal.Load(),
		Errors4xx:         m.Errors4xx.Load(),
		Errors5xx:         m.Errors5xx.Load(),
		RejectedRequests:  m.RejectedRequests.Load(),
		ReadTimeouts:      m.ReadTimeouts.Load(),
		AverageLatency:    m.AverageLatency(),
	}
}
