package metric

import (
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func newTestMetric() *MetricSet {
	m := NewMetricSet()
	m.metrics["TEST"] = MetricFunc(func() string { return "TEST" })
	return m
}

func TestMetricSet_HasMetrics(t *testing.T) {
	metric := newTestMetric()

	assert.True(t, metric.HasMetrics("TEST"), "should contain label(TEST)")
	assert.False(t, metric.HasMetrics("FTEST"), "shouldn't contain label(FTEST)")
}

func TestMetricSet_SetMetrics(t *testing.T) {
	metric := newTestMetric()

	item := MetricFunc(func() string { return "TEST1" })
	err := metric.SetMetrics("TEST", item)
	assert.True(t, errors.Is(err, ErrMetricLabelExist), "label(TEST)不应该设置成功")

	assert.Nil(t, metric.SetMetrics("TEST1", item), "label(TEST1)应该设置成功")

	assert.True(t, metric.HasMetrics("TEST"), "should contain label(TEST)")
	assert.True(t, metric.HasMetrics("TEST1"), "should contain label(TEST1)")
}

func TestMetricSet_GetAllLabels(t *testing.T) {
	metric := newTestMetric()
	require.NoError(t, metric.SetMetrics("A", MetricFunc(func() string { return "{}" })))

	labels := metric.GetAllLabels()
	assert.Equal(t, []string{"A", "TEST"}, labels)
}

func TestMetricSet_JSONString(t *testing.T) {
	metric := newTestMetric()

	s, err := metric.JSONString("TEST")
	require.NoError(t, err)
	assert.Equal(t, "TEST", s)

	_, err = metric.JSONString("missing")
	assert.True(t, errors.Is(err, ErrMetricLabelNotFound))

	assert.Equal(t, map[string]string{"TEST": "TEST"}, metric.Snapshot())
}
