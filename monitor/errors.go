package monitor

import "errors"

var (
	// ErrMonitorHalted is returned for every local append after the local
	// chain broke continuity, until the operator resyncs from genesis.
	ErrMonitorHalted     = errors.New("monitor halted after local chain corruption")
	ErrUnknownStateType  = errors.New("unknown state type")
	ErrMonitorExists     = errors.New("monitor for state type already registered")
	ErrNoRebuilder       = errors.New("no state rebuilder configured")
	ErrPersistedChainBad = errors.New("persisted chain failed verification")
)
