// Package offsets holds the version-specific struct offsets the kernel
// unwinder needs to walk a CPython interpreter's frames, and the catalog
// that maps a (major, minor) Python version to them.
package offsets

import "fmt"

// Version is a Python release triple plus an optional release flag
// string (e.g. "rc1"). Only (Major, Minor) participate in catalog
// lookups; Patch and ReleaseFlags are carried for diagnostics.
type Version struct {
	Major        uint32
	Minor        uint32
	Patch        uint32
	ReleaseFlags string
}

// Key canonicalizes a version to the catalog lookup key, "pythonM.N".
func (v Version) Key() string {
	return fmt.Sprintf("python%d.%d", v.Major, v.Minor)
}

func (v Version) String() string {
	if v.ReleaseFlags == "" {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	return fmt.Sprintf("%d.%d.%d%s", v.Major, v.Minor, v.Patch, v.ReleaseFlags)
}

// PackedVersion returns major*100+minor, the encoding the kernel side uses
// as the key into the version_specific_offsets map (fits u32 for every
// version in the catalog).
func (v Version) PackedVersion() uint32 {
	return v.Major*100 + v.Minor
}

// absent is the sentinel written into an Offsets field that doesn't apply
// to a given interpreter version. The kernel unwinder must treat it as
// "skip this dereference".
const absent int64 = -1

// Offsets is a flat, byte-copyable record of the struct member offsets the
// kernel unwinder reads out of a live interpreter. Every field is a signed
// byte offset (or absolute size) from the start of the named struct; -1
// means "not applicable to this version". The struct must stay
// padding-stable (explicit widths, no embedded pointers) since it is
// copied byte-for-byte into the version_specific_offsets BPF map.
type Offsets struct {
	MajorVersion uint32
	MinorVersion uint32
	PatchVersion uint32

	// PyObject.
	ObjectType int64

	// PyTypeObject.
	TypeName int64

	// PyThreadState.
	ThreadStateInterp           int64
	ThreadStateNext             int64
	ThreadStateFrame            int64
	ThreadStateThreadID         int64
	ThreadStateNativeThreadID   int64
	ThreadStateCFrame           int64

	// _PyCFrame.
	CFrameCurrentFrame int64

	// PyInterpreterState.
	InterpreterStateTStateHead int64

	// _PyRuntimeState.
	RuntimeStateInterpMain int64

	// PyFrameObject / _PyInterpreterFrame.
	FrameBack       int64
	FrameCode       int64
	FrameLineno     int64
	FrameLocalsplus int64

	// PyCodeObject.
	CodeFilename    int64
	CodeName        int64
	CodeVarnames    int64
	CodeFirstlineno int64

	// PyTupleObject.
	TupleObItem int64

	// PyASCIIObject / PyBytesObject (string storage).
	StringData int64
	StringSize int64
}

// IsAbsent reports whether off is the "not applicable" sentinel.
func IsAbsent(off int64) bool {
	return off == absent
}

// Version reconstructs the Version this offsets record was generated for.
func (o Offsets) Version() Version {
	return Version{Major: o.MajorVersion, Minor: o.MinorVersion, Patch: o.PatchVersion}
}
