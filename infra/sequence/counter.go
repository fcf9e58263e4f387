package sequence

import "sync/atomic"

// Counter holds the last sequence id the Sequencer handed out. The
// Sequencer reads Current as the previous id of an event before calling
// Next for its own id.
type Counter struct {
	last atomic.Int64
}

// NewCounter starts after id last; zero for an empty event log.
func NewCounter(last int64) *Counter {
	c := &Counter{}
	c.last.Store(last)
	return c
}

func (c *Counter) Next() int64 {
	return c.last.Add(1)
}

func (c *Counter) Current() int64 {
	return c.last.Load()
}

// Reset moves the counter to the highest logged id on recovery, or back
// to where it stood before a batch whose append failed.
func (c *Counter) Reset(last int64) {
	c.last.Store(last)
}
