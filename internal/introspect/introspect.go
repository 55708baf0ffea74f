// Package introspect packages the result of locating a Python
// interpreter inside a live target process. The actual mechanism for
// doing so - reading another process's memory to detect its Python
// version and resolve the absolute addresses of its interpreter state
// and main thread state - is explicitly out of scope for this system
// (spec.md §1 treats it as a library call yielding absolute addresses,
// analogous to py-spy/remoteprocess in the original Rust implementation).
// This package defines the narrow AddressResolver boundary a real
// resolver plugs into, and wraps whatever it returns into a TargetInfo.
package introspect

import (
	"fmt"

	"github.com/kakkoyun/py-perf/internal/offsets"
)

// AddressResolver is the external collaborator that knows how to open a
// process, detect its Python version, and resolve the absolute
// addresses of its interpreter state and main thread state. A
// production build injects a ptrace/ELF-symbol-backed implementation;
// this repository ships the interface, a StaticResolver test double and
// cmd/py-perf's procfsResolver (version detection only, zero addresses),
// per the scope boundary in spec.md §1/§4.2.
type AddressResolver interface {
	Resolve(pid int) (version offsets.Version, interpreterAddr, threadStateAddr uint64, err error)
}

// TargetInfo is the packaged result of introspecting one target process.
type TargetInfo struct {
	Pid               int
	Version           offsets.Version
	InterpreterAddr   uint64
	ThreadStateAddr   uint64
	VersionString     string
}

// Error wraps every introspection failure mode (process not found,
// insufficient privilege, unreadable memory, unrecognizable interpreter)
// into a single "cannot introspect target" error with a cause chain, per
// spec.md §4.2.
type Error struct {
	Pid int
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cannot introspect target pid %d: %v", e.Pid, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Introspector packages an AddressResolver's raw findings into a
// TargetInfo, per spec.md §4.2 ("the component's job is to package
// them").
type Introspector struct {
	resolver AddressResolver
}

// New returns an Introspector backed by resolver.
func New(resolver AddressResolver) *Introspector {
	return &Introspector{resolver: resolver}
}

// Introspect resolves pid's Python version and interpreter/thread-state
// addresses and packages them into a TargetInfo.
func (in *Introspector) Introspect(pid int) (TargetInfo, error) {
	version, interpAddr, tstateAddr, err := in.resolver.Resolve(pid)
	if err != nil {
		return TargetInfo{}, &Error{Pid: pid, Err: err}
	}

	return TargetInfo{
		Pid:             pid,
		Version:         version,
		InterpreterAddr: interpAddr,
		ThreadStateAddr: tstateAddr,
		VersionString:   version.Key(),
	}, nil
}

// StaticResolver is an AddressResolver that always returns a fixed
// answer. It exists so the controller and its tests have a concrete
// collaborator to run against without a real target process; it is not
// a substitute for a production resolver.
type StaticResolver struct {
	Version         offsets.Version
	InterpreterAddr uint64
	ThreadStateAddr uint64
	Err             error
}

func (r StaticResolver) Resolve(int) (offsets.Version, uint64, uint64, error) {
	if r.Err != nil {
		return offsets.Version{}, 0, 0, r.Err
	}
	return r.Version, r.InterpreterAddr, r.ThreadStateAddr, nil
}
