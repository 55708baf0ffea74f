// Package profile implements the Profile Store & Reporter (spec.md §4.7):
// it aggregates resolved call stacks into a stack -> count frequency
// table and renders pprof, flamegraph or folded output.
//
// Grounded on original_source/src/profile.rs (Profile::add_sample,
// Report::{pprof,flamegraph,folded}).
package profile

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ResolvedFrame is one resolved frame in a stack: a "{class}::{func}"
// name, the file it came from, and its line number, per spec.md §4.6
// step 6.
type ResolvedFrame struct {
	Name string
	File string
	Line uint32
}

// StackKey identifies a per-thread call stack for aggregation purposes.
// Two keys are equal iff ThreadID and the frame sequence match (the
// sequence is encoded into framesID, and the aggregation maps are keyed
// by identityKey, since StackKey itself holds a slice and is not
// comparable); ThreadName and Timestamp are carried for reporting but do
// not participate in equality, matching original_source's Frames type.
type StackKey struct {
	ThreadID   uint64
	framesID   string
	ThreadName string
	Timestamp  time.Time

	frames []ResolvedFrame
}

// Frames returns the resolved frame sequence in the order it was passed
// to Profile.AddSample, which is the order received from the kernel,
// innermost first.
func (k StackKey) Frames() []ResolvedFrame {
	return k.frames
}

func framesIdentity(frames []ResolvedFrame) string {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString(f.Name)
		b.WriteByte('\x00')
		b.WriteString(f.File)
		b.WriteByte('\x00')
		b.WriteString(strconv.FormatUint(uint64(f.Line), 10))
		b.WriteByte('\x1f')
	}
	return b.String()
}

// identityKey is the actual Go map key: ThreadID plus a content hash of
// the frame sequence, so equal stacks collapse regardless of the
// ResolvedFrame slice's backing array identity.
type identityKey struct {
	threadID uint64
	frames   string
}

// Profile accumulates stack -> count samples over an acquisition
// window. It is owned exclusively by the Sample Processor goroutine for
// the duration of a run and returned to the controller on join.
type Profile struct {
	mu sync.Mutex

	StartTime time.Time
	Duration  time.Duration
	Frequency uint64

	keys map[identityKey]StackKey
	data map[identityKey]int64
}

// New returns an empty Profile for the given acquisition window.
func New(duration time.Duration, frequency uint64) *Profile {
	return &Profile{
		Duration:  duration,
		Frequency: frequency,
		keys:      make(map[identityKey]StackKey),
		data:      make(map[identityKey]int64),
	}
}

// AddSample creates the stack key on first insertion with the given
// thread name and timestamp, or increments its count by weight on
// subsequent calls. Per spec.md §5, Timestamp on a key records the
// *first* observation and is therefore sensitive to goroutine
// interleaving; the count itself is commutative.
func (p *Profile) AddSample(threadID uint64, ts time.Time, threadName string, frames []ResolvedFrame, weight int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ik := identityKey{threadID: threadID, frames: framesIdentity(frames)}
	if _, ok := p.keys[ik]; !ok {
		p.keys[ik] = StackKey{
			ThreadID:   threadID,
			framesID:   ik.frames,
			ThreadName: threadName,
			Timestamp:  ts,
			frames:     frames,
		}
	}
	p.data[ik] += weight
}

// Entry pairs a stack key with its accumulated count.
type Entry struct {
	Key   StackKey
	Count int64
}

// Entries returns every accumulated stack key and its count, sorted by
// thread id then frame identity for deterministic report output.
func (p *Profile) Entries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := make([]Entry, 0, len(p.data))
	for ik, count := range p.data {
		entries = append(entries, Entry{Key: p.keys[ik], Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Key.ThreadID != entries[j].Key.ThreadID {
			return entries[i].Key.ThreadID < entries[j].Key.ThreadID
		}
		return entries[i].Key.framesID < entries[j].Key.framesID
	})
	return entries
}

// ThreadName resolves a human-readable name for tid, reading
// /proc/<tid>/comm and falling back to "Thread {tid}" if the thread has
// already exited, per spec.md §4.7 and §9. It reads the file on every
// call; the Sample Processor caches the result per tid.
func ThreadName(tid uint64) string {
	path := fmt.Sprintf("/proc/%d/comm", tid)
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("Thread %d", tid)
	}
	return strings.TrimSpace(string(raw))
}
