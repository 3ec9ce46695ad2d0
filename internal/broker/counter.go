package broker

import "sync/atomic"

// int64counter and boolFlag are thin atomic wrappers for the broker's
// completed counter and done flag — both read far more often than written,
// so plain atomics (rather than a mutex) keep the hot path lock-free.
type int64counter struct {
	v atomic.Int64
}

func (c *int64counter) add(delta int64) int64 { return c.v.Add(delta) }
func (c *int64counter) load() int64           { return c.v.Load() }

type boolFlag struct {
	v atomic.Bool
}

func (f *boolFlag) setTrue() { f.v.Store(true) }
func (f *boolFlag) get() bool { return f.v.Load() }
