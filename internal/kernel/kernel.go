// Package kernel wraps the loaded BPF object (the "unwinder") behind
// named, typed accessors for the maps and programs spec.md §6 requires
// it to export. The unwinder itself - the in-kernel BPF program that
// actually walks a frozen Python stack - is an external collaborator
// (spec.md §1); this package only knows how to load whatever
// *ebpf.CollectionSpec it is handed (produced by a `bpf2go` go:generate
// step against that out-of-scope C source) and expose its surface.
//
// Grounded on marselester-diy-parca-agent/cmd/profiler3's
// ParcaAgentObjects/LoadParcaAgentObjects bpf2go idiom and
// mirendev-runtime's loadPerfObjects(&objs, nil) / objs.Profile.FD()
// idiom.
package kernel

//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -cc clang -cflags "-O2 -g -Wall -target bpf" -target bpfel pyperf ./bpf/pyperf.bpf.c -- -I./bpf/headers

import (
	"embed"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/rs/zerolog"
)

// PYPERFStackWalkingProgramIdx is the build-time constant index into the
// programs tail-call table at which walk_python_stack is installed.
// Named to match the C-side PYPERF_STACK_WALKING_PROGRAM_IDX constant
// spec.md §6 requires both sides to agree on.
const PYPERFStackWalkingProgramIdx uint32 = 0

const (
	mapVersionSpecificOffsets = "version_specific_offsets"
	mapPidToProcessInfo       = "pid_to_process_info"
	mapPrograms               = "programs"
	mapSymbols                = "symbols"
	mapEvents                 = "events"

	progOnEvent         = "on_event"
	progWalkPythonStack = "walk_python_stack"
)

//go:embed bpf/pyperf_bpfel.o
var embeddedObject embed.FS

// LoadSpec reads the embedded BPF object produced by the `bpf2go`
// go:generate directive in this package into a CollectionSpec ready to
// be passed to Load. The object itself is produced by a build step
// against the out-of-scope unwinder source (see package doc).
func LoadSpec() (*ebpf.CollectionSpec, error) {
	raw, err := embeddedObject.Open("bpf/pyperf_bpfel.o")
	if err != nil {
		return nil, fmt.Errorf("open embedded bpf object: %w", err)
	}
	defer raw.Close()

	spec, err := ebpf.LoadCollectionSpecFromReader(raw)
	if err != nil {
		return nil, fmt.Errorf("parse embedded bpf object: %w", err)
	}
	return spec, nil
}

// Handle is a thin, typed wrapper around a loaded BPF collection,
// exposing the five named maps and two named programs spec.md §6 and
// §4.3 require by role instead of by raw ebpf.Collection lookups.
type Handle struct {
	coll *ebpf.Collection

	VersionSpecificOffsets *ebpf.Map
	PidToProcessInfo       *ebpf.Map
	Programs               *ebpf.Map
	Symbols                *ebpf.Map
	Events                 *ebpf.Map

	OnEvent         *ebpf.Program
	WalkPythonStack *ebpf.Program
}

// Load configures every program in spec as a perf-event program (the
// type the attachment in internal/perfevent expects), sets the
// verbosity rodata flag once before load, loads the collection, and
// resolves every named map/program. Missing either is fatal, per
// spec.md §4.3.
func Load(spec *ebpf.CollectionSpec, verbose bool, logger zerolog.Logger) (*Handle, error) {
	if err := spec.RewriteConstants(map[string]interface{}{"verbose": verbose}); err != nil {
		logger.Debug().Err(err).Msg("no verbose rodata constant to rewrite; continuing")
	}

	for name, prog := range spec.Programs {
		prog.Type = ebpf.PerfEvent
		logger.Debug().Str("program", name).Msg("configured as perf-event program")
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("load bpf collection: %w", err)
	}

	h := &Handle{coll: coll}
	for name, dst := range map[string]**ebpf.Map{
		mapVersionSpecificOffsets: &h.VersionSpecificOffsets,
		mapPidToProcessInfo:       &h.PidToProcessInfo,
		mapPrograms:               &h.Programs,
		mapSymbols:                &h.Symbols,
		mapEvents:                 &h.Events,
	} {
		m, ok := coll.Maps[name]
		if !ok {
			coll.Close()
			return nil, fmt.Errorf("bpf object missing required map %q", name)
		}
		*dst = m
	}

	for name, dst := range map[string]**ebpf.Program{
		progOnEvent:         &h.OnEvent,
		progWalkPythonStack: &h.WalkPythonStack,
	} {
		p, ok := coll.Programs[name]
		if !ok {
			coll.Close()
			return nil, fmt.Errorf("bpf object missing required program %q", name)
		}
		*dst = p
	}

	return h, nil
}

// Close releases every map and program file descriptor.
func (h *Handle) Close() error {
	h.coll.Close()
	return nil
}
