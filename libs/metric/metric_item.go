package metric

// MetricItem - 一个独立的metric模块对应一个MetricItem
// monitor、requester都实现了JSONString
type MetricItem interface {
	JSONString() string
}

// MetricFunc 把一个返回JSON字符串的函数适配成MetricItem
type MetricFunc func() string

func (f MetricFunc) JSONString() string {
	return f()
}
