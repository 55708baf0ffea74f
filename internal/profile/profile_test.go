package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmptyProfileHasNoEntries(t *testing.T) {
	p := New(10*time.Second, 19)
	require.Empty(t, p.Entries())
}

func TestSingleStackIsCountedOnce(t *testing.T) {
	p := New(10*time.Second, 19)
	frames := []ResolvedFrame{{Name: "Handler::get", File: "app.py", Line: 10}}
	p.AddSample(1, time.Unix(100, 0), "worker", frames, 1)

	entries := p.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, int64(1), entries[0].Count)
	require.Equal(t, "worker", entries[0].Key.ThreadName)
}

func TestRepeatedIdenticalStackMerges(t *testing.T) {
	p := New(10*time.Second, 19)
	frames := []ResolvedFrame{{Name: "Handler::get", File: "app.py", Line: 10}}

	p.AddSample(1, time.Unix(100, 0), "worker", frames, 1)
	p.AddSample(1, time.Unix(101, 0), "worker", frames, 1)
	p.AddSample(1, time.Unix(102, 0), "worker", frames, 1)

	entries := p.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, int64(3), entries[0].Count)
	// StartTime-equivalent metadata records the first observation only.
	require.Equal(t, time.Unix(100, 0), entries[0].Key.Timestamp)
}

func TestMultiThreadStacksDoNotMerge(t *testing.T) {
	p := New(10*time.Second, 19)
	frames := []ResolvedFrame{{Name: "Handler::get", File: "app.py", Line: 10}}

	p.AddSample(1, time.Unix(100, 0), "worker-1", frames, 1)
	p.AddSample(2, time.Unix(100, 0), "worker-2", frames, 1)

	entries := p.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, uint64(1), entries[0].Key.ThreadID)
	require.Equal(t, uint64(2), entries[1].Key.ThreadID)
}

func TestDifferentFrameSequencesOnSameThreadDoNotMerge(t *testing.T) {
	p := New(10*time.Second, 19)
	a := []ResolvedFrame{{Name: "Handler::get", File: "app.py", Line: 10}}
	b := []ResolvedFrame{{Name: "Handler::post", File: "app.py", Line: 20}}

	p.AddSample(1, time.Unix(100, 0), "worker", a, 1)
	p.AddSample(1, time.Unix(100, 0), "worker", b, 1)

	require.Len(t, p.Entries(), 2)
}

func TestEntriesAreSortedDeterministically(t *testing.T) {
	p := New(10*time.Second, 19)
	a := []ResolvedFrame{{Name: "A::a", File: "a.py", Line: 1}}
	b := []ResolvedFrame{{Name: "B::b", File: "b.py", Line: 2}}

	p.AddSample(2, time.Unix(100, 0), "worker-2", b, 1)
	p.AddSample(1, time.Unix(100, 0), "worker-1", a, 1)

	entries := p.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, uint64(1), entries[0].Key.ThreadID)
	require.Equal(t, uint64(2), entries[1].Key.ThreadID)
}

func TestTwoThreadsIdenticalFramesFiveTimesEachStayDistinct(t *testing.T) {
	p := New(time.Second, 10)
	frames := []ResolvedFrame{{Name: "C::m", File: "a.py", Line: 3}, {Name: "D::n", File: "b.py", Line: 7}}

	for i := 0; i < 5; i++ {
		p.AddSample(100, time.Unix(int64(i), 0), "thread-100", frames, 1)
	}
	for i := 0; i < 5; i++ {
		p.AddSample(200, time.Unix(int64(i), 0), "thread-200", frames, 1)
	}

	entries := p.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, int64(5), entries[0].Count)
	require.Equal(t, int64(5), entries[1].Count)
}

func TestUnknownThreadNameFallsBackToThreadID(t *testing.T) {
	name := ThreadName(1<<31 + 12345)
	require.Contains(t, name, "Thread")
}
