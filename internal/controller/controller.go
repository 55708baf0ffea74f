// Package controller implements the Profiler Controller (spec.md §4.5):
// it wires the Version Offset Catalog, Target Introspector, Kernel
// Program Handle, Perf Event Attacher, Sample Drain and Sample Processor
// into the full acquisition lifecycle described there.
//
// Grounded on original_source/src/py_perf.rs's PyPerf::{new,record,start}
// and xiu-parca-agent's longer-lived struct-with-Close() shape.
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/cilium/ebpf"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kakkoyun/py-perf/internal/drain"
	"github.com/kakkoyun/py-perf/internal/introspect"
	"github.com/kakkoyun/py-perf/internal/kernel"
	"github.com/kakkoyun/py-perf/internal/offsets"
	"github.com/kakkoyun/py-perf/internal/perfevent"
	"github.com/kakkoyun/py-perf/internal/process"
	"github.com/kakkoyun/py-perf/internal/profile"
	"github.com/kakkoyun/py-perf/internal/sample"
	"github.com/kakkoyun/py-perf/internal/stats"
)

// target is one registered process, packaging its introspected info
// together with the offsets that apply to its Python version.
type target struct {
	info    introspect.TargetInfo
	offsets offsets.Offsets
}

// Controller is the Profiler Controller. Construct with New, register
// at least one target with Register, then call Start at most once.
type Controller struct {
	duration  time.Duration
	frequency uint64

	catalog      *offsets.Catalog
	introspector *introspect.Introspector
	handle       *kernel.Handle
	stats        *stats.Stats
	logger       zerolog.Logger

	targets []target
	started bool

	perCPUBufferSize int
	channelBuffer    int
}

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithLogger attaches a zerolog.Logger every component will log through.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithPerCPUBufferSize overrides the per-CPU perf ring buffer size (in
// bytes) used by the Sample Drain. Defaults to 64 KiB.
func WithPerCPUBufferSize(n int) Option {
	return func(c *Controller) { c.perCPUBufferSize = n }
}

// New loads the kernel object, builds the Version Offset Catalog, and
// initializes empty stats and target list, per spec.md §4.5.
func New(resolver introspect.AddressResolver, duration time.Duration, frequency uint64, verbose bool, opts ...Option) (*Controller, error) {
	c := &Controller{
		duration:         duration,
		frequency:        frequency,
		introspector:     introspect.New(resolver),
		stats:            &stats.Stats{},
		logger:           zerolog.Nop(),
		perCPUBufferSize: 64 * 1024,
		channelBuffer:    4096,
	}
	for _, opt := range opts {
		opt(c)
	}

	catalog, err := offsets.Load()
	if err != nil {
		return nil, fmt.Errorf("load version offset catalog: %w", err)
	}
	c.catalog = catalog

	spec, err := kernel.LoadSpec()
	if err != nil {
		return nil, fmt.Errorf("load bpf object spec: %w", err)
	}

	handle, err := kernel.Load(spec, verbose, c.logger)
	if err != nil {
		return nil, fmt.Errorf("load bpf object: %w", err)
	}
	c.handle = handle

	return c, nil
}

// Register introspects pid, requires its Python version to exist in the
// catalog, and writes its offsets and process info into the kernel
// maps. Multiple calls append targets. Must be called before Start.
func (c *Controller) Register(pid int) error {
	info, err := c.introspector.Introspect(pid)
	if err != nil {
		return fmt.Errorf("register pid %d: %w", pid, err)
	}

	off, ok := c.catalog.Lookup(info.Version)
	if !ok {
		return fmt.Errorf("unsupported Python version: %d.%d", info.Version.Major, info.Version.Minor)
	}

	c.logger.Debug().Int("pid", pid).Str("version", info.Version.Key()).Msg("introspected python process")

	pyVersion := info.Version.PackedVersion()
	if err := c.handle.VersionSpecificOffsets.Update(&pyVersion, &off, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("update version specific offsets map for pid %d: %w", pid, err)
	}

	pidKey := uint32(info.Pid)
	procInfo := sample.ProcessInfo{
		ThreadStateAddr: info.ThreadStateAddr,
		InterpreterAddr: info.InterpreterAddr,
		PyVersion:       pyVersion,
	}
	if err := c.handle.PidToProcessInfo.Update(&pidKey, &procInfo, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("update process info map for pid %d: %w", pid, err)
	}

	c.targets = append(c.targets, target{info: info, offsets: off})
	c.logger.Info().Int("found_targets", len(c.targets)).Msg("found python processes")
	return nil
}

// Start performs the full acquisition lifecycle and returns the
// aggregated Profile. It may be called at most once.
func (c *Controller) Start(ctx context.Context, cancel <-chan struct{}) (*profile.Profile, error) {
	if c.started {
		return nil, fmt.Errorf("controller already started")
	}
	c.started = true

	if len(c.targets) == 0 {
		return nil, fmt.Errorf("no targets")
	}
	c.logger.Info().Msg("starting profiler")

	cpus, err := perfevent.OnlineCPUs()
	if err != nil {
		return nil, fmt.Errorf("enumerate online cpus: %w", err)
	}

	pid := c.targets[0].info.Pid
	var fds []int
	closeFDs := func() {
		for _, fd := range fds {
			_ = perfevent.Close(fd)
		}
	}

	for _, cpu := range cpus {
		fd, err := perfevent.Open(cpu, c.frequency, &pid)
		if err != nil {
			closeFDs()
			return nil, fmt.Errorf("open perf event on cpu %d: %w", cpu, err)
		}
		if err := perfevent.Attach(fd, c.handle.OnEvent.FD()); err != nil {
			closeFDs()
			return nil, fmt.Errorf("attach perf event on cpu %d: %w", cpu, err)
		}
		fds = append(fds, fd)
	}
	defer closeFDs()

	idx := kernel.PYPERFStackWalkingProgramIdx
	if err := c.handle.Programs.Update(&idx, c.handle.WalkPythonStack, ebpf.UpdateAny); err != nil {
		return nil, fmt.Errorf("install stack-walking tail call: %w", err)
	}

	c.logger.Debug().
		Dur("duration", c.duration).
		Uint64("frequency", c.frequency).
		Msg("profiling duration and frequency")

	messages := make(chan drainMessage, c.channelBuffer)
	d, err := drain.New(c.handle.Events, c.perCPUBufferSize, messages, c.stats, c.logger)
	if err != nil {
		return nil, fmt.Errorf("open sample drain: %w", err)
	}
	defer d.Close()

	startedAt := time.Now()
	c.logger.Info().Msg("profiler started recording...")

	prof := profile.New(c.duration, c.frequency)
	prof.StartTime = startedAt

	stop := make(chan struct{})
	proc := process.New(c.handle.Symbols, c.stats, c.logger)

	group, _ := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := proc.Run(messages, stop, prof)
		c.logger.Debug().Msg("sample processor is done")
		return err
	})

	ticker := time.NewTicker(c.duration)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ticker.C:
			c.logger.Debug().Msg("tick")
			if err := d.Poll(100 * time.Millisecond); err != nil {
				c.logger.Debug().Err(err).Msg("polling perf buffer failed")
			}
		case <-cancel:
			c.logger.Debug().Msg("stopping profiling")
			close(stop)
			break loop
		}
	}
	c.logger.Debug().Msg("profiling is stopped")

	if err := group.Wait(); err != nil {
		return prof, fmt.Errorf("sample processor: %w", err)
	}

	snapshot := c.stats.Snapshot()
	c.logger.Info().Msg(snapshot.String())

	return prof, nil
}

// drainMessage is an alias kept local to avoid a stutter import name;
// see internal/drain.Message for the actual type.
type drainMessage = drain.Message

// Close tears down the loaded kernel object. Perf-event fds are closed
// implicitly when Start returns (scope exit); this only needs to run
// once Start has returned or will never be called.
func (c *Controller) Close() error {
	return c.handle.Close()
}
