package metric

import (
	"github.com/pkg/errors"
	"sort"
	"sync"
)

var (
	ErrMetricLabelExist    = errors.New("metric label already exist")
	ErrMetricLabelNotFound = errors.New("metric label not found")
)

func NewMetricSet() *MetricSet {
	return &MetricSet{
		metrics: make(map[string]MetricItem),
	}
}

// MetricSet 节点上所有metric的集合，label形如 "monitor/DaoState"
type MetricSet struct {
	mtx     sync.RWMutex
	metrics map[string]MetricItem
}

// SetMetrics - 根据label设置对应的Metrics，如果有存在的label，则返回error
func (ms *MetricSet) SetMetrics(label string, item MetricItem) error {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	if _, existed := ms.metrics[label]; existed {
		return errors.Wrap(ErrMetricLabelExist, label)
	}
	ms.metrics[label] = item
	return nil
}

func (ms *MetricSet) HasMetrics(label string) bool {
	ms.mtx.RLock()
	_, existed := ms.metrics[label]
	ms.mtx.RUnlock()
	return existed
}

func (ms *MetricSet) GetMetrics(label string) MetricItem {
	ms.mtx.RLock()
	defer ms.mtx.RUnlock()
	return ms.metrics[label]
}

// JSONString 返回label对应的metric
func (ms *MetricSet) JSONString(label string) (string, error) {
	item := ms.GetMetrics(label)
	if item == nil {
		return "", errors.Wrap(ErrMetricLabelNotFound, label)
	}
	return item.JSONString(), nil
}

// GetAllLabels 按字典序返回
func (ms *MetricSet) GetAllLabels() []string {
	ms.mtx.RLock()
	keys := make([]string, 0, len(ms.metrics))
	for k := range ms.metrics {
		keys = append(keys, k)
	}
	ms.mtx.RUnlock()

	sort.Strings(keys)
	return keys
}

// Snapshot label -> JSONString
func (ms *MetricSet) Snapshot() map[string]string {
	labels := ms.GetAllLabels()
	res := make(map[string]string, len(labels))
	for _, label := range labels {
		if item := ms.GetMetrics(label); item != nil {
			res[label] = item.JSONString()
		}
	}
	return res
}
