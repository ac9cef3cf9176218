package utils

import (
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func TestStats(t *testing.T) {
	data := []float64{4, 1, 3, 2}

	assert.Equal(t, 4.0, Max(data...))
	assert.Equal(t, 1.0, Min(data...))
	assert.Equal(t, 2.5, Mean(data...))
	assert.Equal(t, 2.5, Avg(data...))
	assert.Equal(t, []float64{4, 1, 3, 2}, data, "Mean must not reorder its input")

	assert.Equal(t, 3.0, Mean(3, 1, 5))
	assert.Equal(t, -1.0, Max())
	assert.Equal(t, -1.0, Mean())
}

func TestDurationsToMillis(t *testing.T) {
	got := DurationsToMillis([]time.Duration{time.Second, 1500 * time.Microsecond})
	assert.Equal(t, []float64{1000, 1.5}, got)
}
