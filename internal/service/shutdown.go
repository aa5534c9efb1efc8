package service

import "sync/atomic"

// ShutdownFlag is the global protocol shutdown switch. Once set it never
// clears: accrual freezes, liquidation and adjustments stop, settlement
// opens up.
type ShutdownFlag struct {
	active atomic.Bool
}

func NewShutdownFlag() *ShutdownFlag {
	return &ShutdownFlag{}
}

func (f *ShutdownFlag) IsShutdown() bool {
	return f.active.Load()
}

// Trigger sets the flag. Returns false if it was already set.
func (f *ShutdownFlag) Trigger() bool {
	return f.active.CompareAndSwap(false, true)
}

// Restore re-arms the flag from a persisted snapshot at boot.
func (f *ShutdownFlag) Restore() {
	f.active.Store(true)
}
