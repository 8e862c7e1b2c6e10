package actor

import (
	"time"

	"go.uber.org/atomic"
)

// runtimeStats accumulates counters touched from every spawn and send;
// all fields are atomics so the hot path never takes a lock.
type runtimeStats struct {
	spawned     atomic.Int64
	stopped     atomic.Int64
	failed      atomic.Int64
	messages    atomic.Int64
	deadLetters atomic.Int64
	started     time.Time
}

func newRuntimeStats() *runtimeStats {
	return &runtimeStats{started: time.Now()}
}

// Stats is a point-in-time snapshot of runtime counters.
type Stats struct {
	Live        int           `json:"live"`
	Spawned     int64         `json:"spawned"`
	Stopped     int64         `json:"stopped"`
	Failed      int64         `json:"failed"`
	Messages    int64         `json:"messages"`
	DeadLetters int64         `json:"dead_letters"`
	Uptime      time.Duration `json:"uptime"`
}

// Stats returns a snapshot of the runtime counters.
func (rt *Runtime) Stats() Stats {
	return Stats{
		Live:        rt.Count(),
		Spawned:     rt.stats.spawned.Load(),
		Stopped:     rt.stats.stopped.Load(),
		Failed:      rt.stats.failed.Load(),
		Messages:    rt.stats.messages.Load(),
		DeadLetters: rt.stats.deadLetters.Load(),
		Uptime:      time.Since(rt.stats.started),
	}
}
