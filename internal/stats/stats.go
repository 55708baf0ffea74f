// Package stats holds the profiler's monotonically non-decreasing
// runtime counters. It is written from two places concurrently - the
// perf-buffer lost-event callback (controller goroutine) and the sample
// processor (processor goroutine) - so all mutation goes through a
// sync.RWMutex, matching the Arc<RwLock<Stats>> shape of the component
// this was ported from.
package stats

import (
	"fmt"
	"sync"
)

// Stats are the runtime error/event counters described in the spec's
// data model. All fields only ever increase for the lifetime of a run.
type Stats struct {
	mu sync.RWMutex

	totalEvents      uint32
	lostEventErrors  uint32
	mapReadingErrors uint32
	truncatedStacks  uint32
	garbledDataErrs  uint32
}

// IncTotalEvents increments the count of samples that reached the
// processor, exactly once per sample.
func (s *Stats) IncTotalEvents() {
	s.mu.Lock()
	s.totalEvents++
	s.mu.Unlock()
}

// AddLostEvents records count samples the kernel dropped because the
// perf buffer overran.
func (s *Stats) AddLostEvents(count uint64) {
	s.mu.Lock()
	s.lostEventErrors += uint32(count)
	s.mu.Unlock()
}

// IncMapReadingErrors records a symbol id that failed to resolve against
// the symbols map; the containing frame is skipped, not the sample.
func (s *Stats) IncMapReadingErrors() {
	s.mu.Lock()
	s.mapReadingErrors++
	s.mu.Unlock()
}

// IncTruncatedStacks records a kernel-reported truncated stack.
func (s *Stats) IncTruncatedStacks() {
	s.mu.Lock()
	s.truncatedStacks++
	s.mu.Unlock()
}

// IncGarbledDataErrors records a string field that failed UTF-8
// validation after NUL-truncation; the containing frame is dropped.
func (s *Stats) IncGarbledDataErrors() {
	s.mu.Lock()
	s.garbledDataErrs++
	s.mu.Unlock()
}

// Snapshot is a point-in-time, race-free copy of Stats' counters.
type Snapshot struct {
	TotalEvents      uint32
	LostEventErrors  uint32
	MapReadingErrors uint32
	TruncatedStacks  uint32
	GarbledDataErrors uint32
}

// TotalErrors sums every runtime-local error counter.
func (sn Snapshot) TotalErrors() uint32 {
	return sn.LostEventErrors + sn.MapReadingErrors + sn.TruncatedStacks + sn.GarbledDataErrors
}

// StackErrors sums the error counters that can cause a frame to be
// dropped from a stack (as opposed to lost-event errors, which drop
// whole samples before they ever reach the processor).
func (sn Snapshot) StackErrors() uint32 {
	return sn.MapReadingErrors + sn.TruncatedStacks + sn.GarbledDataErrors
}

func (sn Snapshot) String() string {
	return fmt.Sprintf(
		"\ntotal events: %d\ntotal errors: %d\nlost event errors: %d\nmap reading errors: %d\ntruncated stacks: %d\ngarbled data errors: %d\n",
		sn.TotalEvents, sn.TotalErrors(), sn.LostEventErrors, sn.MapReadingErrors, sn.TruncatedStacks, sn.GarbledDataErrors,
	)
}

// Snapshot reads every counter under a single read lock.
func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		TotalEvents:       s.totalEvents,
		LostEventErrors:   s.lostEventErrors,
		MapReadingErrors:  s.mapReadingErrors,
		TruncatedStacks:   s.truncatedStacks,
		GarbledDataErrors: s.garbledDataErrs,
	}
}
