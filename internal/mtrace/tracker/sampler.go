package tracker

import "sync/atomic"

// sampler throttles allocation-site capture to one in every n events.
// Leak accounting itself is never sampled; skipped events just produce
// records without frames.
type sampler struct {
	every uint64
	pos   atomic.Uint64
}

func newSampler(every int) *sampler {
	if every < 1 {
		every = 1
	}
	return &sampler{every: uint64(every)}
}

// next reports whether the current event should capture its call stack.
// The first event always captures so short runs keep their sites.
func (s *sampler) next() bool {
	if s.every == 1 {
		return true
	}
	return (s.pos.Add(1)-1)%s.every == 0
}
