//go:build linux

package main

import (
	"fmt"
	"os"
	"regexp"

	"github.com/kakkoyun/py-perf/internal/offsets"
)

// procfsResolver is a best-effort stand-in for the AddressResolver
// spec.md §1/§4.2 treats as an external collaborator ("the mechanism
// used to locate the interpreter state address inside the target
// process"). It detects the Python version from /proc/<pid>/exe and
// /proc/<pid>/maps, but does not resolve real interpreter/thread-state
// addresses - a production deployment injects a ptrace/ELF-symbol-backed
// resolver (py-spy/remoteprocess in the original) in its place; see
// DESIGN.md.
type procfsResolver struct{}

var pythonVersionPattern = regexp.MustCompile(`python(\d+)\.(\d+)(?:\.(\d+))?`)

func (procfsResolver) Resolve(pid int) (offsets.Version, uint64, uint64, error) {
	exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err == nil {
		if v, ok := parsePythonVersion(exe); ok {
			return v, 0, 0, nil
		}
	}

	maps, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return offsets.Version{}, 0, 0, fmt.Errorf("read /proc/%d/maps: %w", pid, err)
	}
	if v, ok := parsePythonVersion(string(maps)); ok {
		return v, 0, 0, nil
	}

	return offsets.Version{}, 0, 0, fmt.Errorf("could not detect a python interpreter for pid %d", pid)
}

func parsePythonVersion(s string) (offsets.Version, bool) {
	m := pythonVersionPattern.FindStringSubmatch(s)
	if m == nil {
		return offsets.Version{}, false
	}
	var major, minor, patch uint32
	fmt.Sscanf(m[1], "%d", &major)
	fmt.Sscanf(m[2], "%d", &minor)
	if m[3] != "" {
		fmt.Sscanf(m[3], "%d", &patch)
	}
	return offsets.Version{Major: major, Minor: minor, Patch: patch}, true
}
