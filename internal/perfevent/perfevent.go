//go:build linux

// Package perfevent opens the per-CPU software perf events the
// Profiler Controller attaches its entry program to, per spec.md §4.4.
//
// Grounded on marselester-diy-parca-agent/cmd/profiler3's
// unix.PerfEventOpen call and alexandrem-coral's perf-event attribute
// construction (PerfBitFreq, PERF_FLAG_FD_CLOEXEC); the "for each online
// CPU" enumeration is grounded on mirendev-runtime's
// /sys/devices/system/cpu/online parsing, which is more correct than
// counting schedulable CPUs since offline CPUs never need an event.
package perfevent

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

const onlineCPUsPath = "/sys/devices/system/cpu/online"

// OnlineCPUs returns the ids of every online CPU, e.g. [0, 2, 3] for a
// machine that reports "0,2-3".
func OnlineCPUs() ([]int, error) {
	raw, err := os.ReadFile(onlineCPUsPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", onlineCPUsPath, err)
	}
	return parseCPURange(string(raw))
}

// parseCPURange parses the kernel's range-list syntax ("0-1,3,5-7").
// Loosely based on the same idiom bcc's utils.py and mirendev-runtime's
// ReadCPURange use for the identical file.
func parseCPURange(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty cpu range")
	}

	var cpus []int
	for _, part := range strings.Split(s, ",") {
		bounds := strings.SplitN(part, "-", 2)
		first, err := strconv.Atoi(bounds[0])
		if err != nil {
			return nil, fmt.Errorf("parse cpu range %q: %w", s, err)
		}
		if len(bounds) == 1 {
			cpus = append(cpus, first)
			continue
		}
		last, err := strconv.Atoi(bounds[1])
		if err != nil {
			return nil, fmt.Errorf("parse cpu range %q: %w", s, err)
		}
		for cpu := first; cpu <= last; cpu++ {
			cpus = append(cpus, cpu)
		}
	}
	return cpus, nil
}

// Open opens a software CPU-clock perf event on cpu at the given
// frequency (samples per second), initially disabled and close-on-exec,
// scoped to pid if non-nil or system-wide on that CPU otherwise.
//
// The event is opened in frequency mode (PerfBitFreq, with frequency as
// the sample_freq value), so the kernel derives the period itself; the
// nominal period floor(1e9 / frequency) is available from
// SamplePeriodNanos but is not written into the attribute.
func Open(cpu int, frequency uint64, pid *int) (int, error) {
	if frequency == 0 {
		return -1, fmt.Errorf("frequency must be > 0")
	}

	targetPid := -1
	if pid != nil {
		targetPid = *pid
	}

	attr := unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_SOFTWARE,
		Config: unix.PERF_COUNT_SW_CPU_CLOCK,
		Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Sample: frequency,
		Bits:   unix.PerfBitDisabled | unix.PerfBitFreq,
	}

	fd, err := unix.PerfEventOpen(
		&attr,
		targetPid,
		cpu,
		-1, /* group_fd: a single event on its own is a group of one */
		unix.PERF_FLAG_FD_CLOEXEC,
	)
	if err != nil {
		return -1, fmt.Errorf("perf_event_open(cpu=%d, freq=%d): %w", cpu, frequency, err)
	}
	return fd, nil
}

// SamplePeriodNanos returns floor(1e9/frequency), the derived sample
// period spec.md §4.5 documents as the numeric semantics of frequency.
func SamplePeriodNanos(frequency uint64) uint64 {
	return uint64(1e9) / frequency
}

// Attach attaches the BPF program with file descriptor progFD to the
// perf event fd and enables it.
func Attach(fd, progFD int) error {
	if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_SET_BPF, progFD); err != nil {
		return fmt.Errorf("attach bpf program to perf event fd %d: %w", fd, err)
	}
	if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
		return fmt.Errorf("enable perf event fd %d: %w", fd, err)
	}
	return nil
}

// Close disables and closes a perf event fd opened by Open.
func Close(fd int) error {
	_ = unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_DISABLE, 0)
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("close perf event fd %d: %w", fd, err)
	}
	return nil
}
