package offsets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadPopulatesEveryEmbeddedVersion(t *testing.T) {
	cat, err := Load()
	require.NoError(t, err)

	keys := cat.Keys()
	require.NotEmpty(t, keys)

	for _, want := range []string{
		"python2.7", "python3.6", "python3.7", "python3.8",
		"python3.9", "python3.10", "python3.11", "python3.12",
	} {
		require.Contains(t, keys, want)
	}
}

func TestLookupUnsupportedVersion(t *testing.T) {
	cat, err := Load()
	require.NoError(t, err)

	_, ok := cat.Lookup(Version{Major: 1, Minor: 0})
	require.False(t, ok)
}

func TestLookupRoundTripsMajorMinor(t *testing.T) {
	cat, err := Load()
	require.NoError(t, err)

	off, ok := cat.Lookup(Version{Major: 3, Minor: 11, Patch: 8})
	require.True(t, ok)
	require.Equal(t, uint32(3), off.MajorVersion)
	require.Equal(t, uint32(11), off.MinorVersion)
}

func TestPre310OffsetsLackCFrame(t *testing.T) {
	cat, err := Load()
	require.NoError(t, err)

	off, ok := cat.Lookup(Version{Major: 3, Minor: 9})
	require.True(t, ok)
	require.True(t, IsAbsent(off.ThreadStateCFrame))
	require.True(t, IsAbsent(off.CFrameCurrentFrame))
	require.True(t, IsAbsent(off.RuntimeStateInterpMain))
}

func TestPost311OffsetsLackThreadStateFrame(t *testing.T) {
	cat, err := Load()
	require.NoError(t, err)

	off, ok := cat.Lookup(Version{Major: 3, Minor: 11})
	require.True(t, ok)
	require.True(t, IsAbsent(off.ThreadStateFrame))
	require.True(t, IsAbsent(off.FrameLineno))
}

func TestVersionKeyIgnoresPatchAndFlags(t *testing.T) {
	a := Version{Major: 3, Minor: 10, Patch: 0}
	b := Version{Major: 3, Minor: 10, Patch: 13, ReleaseFlags: "rc1"}
	require.Equal(t, a.Key(), b.Key())
}

func TestVersionString(t *testing.T) {
	require.Equal(t, "3.11.8", Version{Major: 3, Minor: 11, Patch: 8}.String())
	require.Equal(t, "3.13.0rc1", Version{Major: 3, Minor: 13, Patch: 0, ReleaseFlags: "rc1"}.String())
}

func TestPackedVersion(t *testing.T) {
	require.Equal(t, uint32(311), Version{Major: 3, Minor: 11}.PackedVersion())
}
