// Package process implements the Sample Processor (spec.md §4.6): it
// consumes (cpu, bytes) messages from the Sample Drain, decodes fixed-
// layout sample records, resolves each symbol id against the kernel's
// symbols map, builds a per-thread call stack, and folds it into a
// Profile.
//
// Grounded on original_source/src/py_perf.rs's handle_sample.
package process

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cilium/ebpf"
	"github.com/rs/zerolog"

	"github.com/kakkoyun/py-perf/internal/drain"
	"github.com/kakkoyun/py-perf/internal/profile"
	"github.com/kakkoyun/py-perf/internal/sample"
	"github.com/kakkoyun/py-perf/internal/stats"
)

// FatalError marks a processing failure the spec treats as an
// invariant violation (pid == 0 in a sample, or an under-length sample
// buffer): fatal to the run rather than a counted, recoverable error.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string { return "fatal sample processing error: " + e.Reason }

// Processor consumes drained sample messages and accumulates them into
// a Profile. It is meant to run in its own goroutine for the duration
// of one acquisition window and be joined before the controller
// returns, giving it the same "cannot outlive the caller's frame"
// property as the original's scoped thread.
type Processor struct {
	symbols *ebpf.Map
	stats   *stats.Stats
	logger  zerolog.Logger

	// threadNames caches profile.ThreadName lookups per tid: the name is
	// computed once per (tid, session) per spec.md §4.7, not re-read from
	// /proc on every sample. Only ever touched from Run's single consuming
	// goroutine, so it needs no lock.
	threadNames map[uint64]string
}

// New returns a Processor reading symbol definitions from symbols.
func New(symbols *ebpf.Map, st *stats.Stats, logger zerolog.Logger) *Processor {
	return &Processor{symbols: symbols, stats: st, logger: logger, threadNames: make(map[uint64]string)}
}

// Run consumes messages until stop fires, accumulating samples into
// prof. A fatal
// error (pid == 0, under-length buffer) stops the loop immediately and
// is returned alongside whatever was accumulated so far.
//
// A receive failure on messages without a stop signal is treated as
// "continue waiting" per spec.md §4.6 Termination - the controller is
// authoritative for when to stop, not a channel hiccup.
func (p *Processor) Run(messages <-chan drain.Message, stop <-chan struct{}, prof *profile.Profile) error {
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				// A nil channel never becomes ready, so from here on
				// only stop can end the loop.
				p.logger.Debug().Msg("sample channel closed")
				messages = nil
				continue
			}
			if err := p.handle(msg, prof); err != nil {
				var fatal *FatalError
				if asFatal(err, &fatal) {
					return err
				}
				// Recoverable per-sample errors are already folded into
				// Stats by handle(); nothing further to do here.
			}

		case <-stop:
			p.logger.Debug().Msg("stopping sample processor")
			return nil
		}
	}
}

func asFatal(err error, target **FatalError) bool {
	fe, ok := err.(*FatalError)
	if ok {
		*target = fe
	}
	return ok
}

// handle decodes one raw sample and folds it into prof, per spec.md
// §4.6 steps 1-7.
func (p *Processor) handle(msg drain.Message, prof *profile.Profile) error {
	p.stats.IncTotalEvents()

	if len(msg.Data) < recordSize {
		return &FatalError{Reason: fmt.Sprintf("sample buffer too short: got %d bytes, need %d", len(msg.Data), recordSize)}
	}

	var rec sample.Record
	if err := binary.Read(bytes.NewReader(msg.Data), binary.LittleEndian, &rec); err != nil {
		return &FatalError{Reason: fmt.Sprintf("decode sample record: %v", err)}
	}

	if rec.Pid == 0 {
		return &FatalError{Reason: "pid is zero, this should never happen"}
	}

	idToSymbol, err := p.snapshotSymbols()
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to snapshot symbols map")
	}

	p.logger.Debug().
		Int("cpu", msg.CPU).
		Uint32("pid", rec.Pid).
		Uint32("tid", rec.Tid).
		Str("comm", rec.CommString()).
		Int32("kernel_stack_id", rec.NativeStackKey.KernelStackID).
		Int32("user_stack_id", rec.NativeStackKey.UserStackID).
		Msg("received sample")

	timestamp := time.Unix(int64(rec.Timestamp), 0) // see DESIGN.md: kernel timestamp unit

	frames := resolveFrames(rec.Stack, idToSymbol, p.stats)

	tid := uint64(rec.Tid)
	threadName, ok := p.threadNames[tid]
	if !ok {
		threadName = profile.ThreadName(tid)
		p.threadNames[tid] = threadName
	}
	prof.AddSample(tid, timestamp, threadName, frames, 1)
	return nil
}

// resolveFrames decodes rec's symbol ids against idToSymbol into resolved
// frames, in the order the kernel produced them (innermost first). A
// symbol id absent from idToSymbol or that fails UTF-8 decoding drops
// only that frame - the rest of the stack is still folded into a key,
// per spec.md §4.6 step 6 and §8 scenario 5.
func resolveFrames(stack sample.Stack, idToSymbol map[uint32]sample.Symbol, st *stats.Stats) []profile.ResolvedFrame {
	frameCount := stack.Len
	if frameCount > sample.MaxStackDepth {
		frameCount = sample.MaxStackDepth
	}

	frames := make([]profile.ResolvedFrame, 0, frameCount)
	for i := uint32(0); i < frameCount; i++ {
		symbolID := stack.Frames[i]

		sym, ok := idToSymbol[symbolID]
		if !ok {
			st.IncMapReadingErrors()
			continue
		}

		decoded, err := sym.Decode()
		if err != nil {
			st.IncGarbledDataErrors()
			continue
		}

		frames = append(frames, profile.ResolvedFrame{
			Name: decoded.Class + "::" + decoded.Func,
			File: decoded.File,
			Line: decoded.Line,
		})
	}
	return frames
}

var recordSize = binary.Size(sample.Record{})

// snapshotSymbols copies the entire symbols map into a local id ->
// Symbol lookup table. A fresh snapshot per sample is acceptable per
// spec.md §4.6 step 4 since symbol ids are never recycled within a
// session; this mirrors original_source/src/py_perf.rs's handle_sample,
// which re-iterates the map on every sample.
func (p *Processor) snapshotSymbols() (map[uint32]sample.Symbol, error) {
	out := make(map[uint32]sample.Symbol)

	var id uint32
	var sym sample.Symbol
	it := p.symbols.Iterate()
	for it.Next(&id, &sym) {
		out[id] = sym
	}
	if err := it.Err(); err != nil {
		return out, fmt.Errorf("iterate symbols map: %w", err)
	}
	return out, nil
}
