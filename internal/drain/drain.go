// Package drain implements the Sample Drain (spec.md §4.5 step 5 / §2
// component 5): it polls the kernel's shared perf buffer and pushes
// tagged (cpu, bytes) messages, or lost-event notifications, onward.
//
// Grounded on cilium/ebpf's own perf.Reader, the idiomatic Go analogue
// of libbpf_rs::PerfBufferBuilder used by original_source/src/py_perf.rs.
package drain

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/perf"
	"github.com/rs/zerolog"

	"github.com/kakkoyun/py-perf/internal/stats"
)

// Message is one sample record copied out of the shared perf buffer,
// tagged with the CPU it arrived on. Samples are delivered in the order
// the kernel produced them per CPU; cross-CPU order is not implied.
type Message struct {
	CPU  int
	Data []byte
}

// Drain polls a perf-event array map and forwards decoded-later sample
// bytes to a bounded channel, while folding lost-event notifications
// directly into Stats.
type Drain struct {
	reader *perf.Reader
	out    chan<- Message
	stats  *stats.Stats
	logger zerolog.Logger
}

// New wraps events in a perf.Reader. perCPUBufferSize is the size (in
// bytes) of each CPU's ring buffer; out is the bounded channel messages
// are pushed onto.
func New(events *ebpf.Map, perCPUBufferSize int, out chan<- Message, st *stats.Stats, logger zerolog.Logger) (*Drain, error) {
	reader, err := perf.NewReader(events, perCPUBufferSize)
	if err != nil {
		return nil, fmt.Errorf("open perf reader on events map: %w", err)
	}
	return &Drain{reader: reader, out: out, stats: st, logger: logger}, nil
}

// Poll drains every record currently available in the shared buffer,
// bounded by timeout (spec.md §4.5 step 7: "polls the perf buffer with
// a 100 ms bounded wait each time"). It returns nil on a plain timeout;
// any other error (including the reader having been closed concurrently)
// is returned to the caller.
func (d *Drain) Poll(timeout time.Duration) error {
	if err := d.reader.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set perf reader deadline: %w", err)
	}

	for {
		record, err := d.reader.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) {
				return err
			}
			if os.IsTimeout(err) {
				return nil
			}
			return fmt.Errorf("read perf buffer: %w", err)
		}

		if record.LostSamples > 0 {
			d.logger.Error().
				Uint64("lost", record.LostSamples).
				Int("cpu", record.CPU).
				Msg("lost events on cpu")
			d.stats.AddLostEvents(record.LostSamples)
			continue
		}

		d.logger.Trace().Int("cpu", record.CPU).Msg("received sample from cpu")
		data := make([]byte, len(record.RawSample))
		copy(data, record.RawSample)
		d.out <- Message{CPU: record.CPU, Data: data}
	}
}

// Close releases the underlying perf buffer reader. Any Poll call
// blocked in a Read wakes with perf.ErrClosed.
func (d *Drain) Close() error {
	return d.reader.Close()
}
