package rpc

import (
	"daomonitor/libs/metric"
	"daomonitor/monitor"
	"daomonitor/types"
)

var env *Environment

func SetEnvironment(e *Environment) {
	env = e
}

// Environment rpc handler依赖的节点组件，由node在启动rpc server之前设置
type Environment struct {
	Reactor *monitor.Reactor

	MetricSet *metric.MetricSet
}

func getMonitor(stateType string) (*monitor.Monitor, error) {
	st, err := types.ParseStateType(stateType)
	if err != nil {
		return nil, err
	}
	return env.Reactor.GetMonitor(st)
}
