package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordRequest(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest(200, 10*time.Millisecond)
	m.RecordRequest(404, 20*time.Millisecond)
	m.RecordRequest(500, 30*time.Millisecond)

	s := m.Snapshot()
	assert.Equal(t, int64(3), s.RequestsTotal)
	assert.Equal(t, int64(1), s.Errors4xx)
	assert.Equal(t, int64(1), s.Errors5xx)
	assert.Equal(t, int64(1), s.ErrorsTotal)
	assert.Equal(t, 20*time.Millisecond, s.AverageLatency)
}

func TestMetricsAverageLatencyWithoutRequests(t *testing.T) {
	assert.Zero(t, NewMetrics().AverageLatency())
}
