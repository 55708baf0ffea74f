package process

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kakkoyun/py-perf/internal/drain"
	"github.com/kakkoyun/py-perf/internal/profile"
	"github.com/kakkoyun/py-perf/internal/sample"
	"github.com/kakkoyun/py-perf/internal/stats"
)

func TestHandleRejectsUnderLengthBuffer(t *testing.T) {
	p := &Processor{stats: &stats.Stats{}}
	prof := profile.New(time.Second, 19)

	err := p.handle(drain.Message{CPU: 0, Data: []byte{1, 2, 3}}, prof)
	require.Error(t, err)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
}

func TestHandleRejectsZeroPid(t *testing.T) {
	p := &Processor{stats: &stats.Stats{}}
	prof := profile.New(time.Second, 19)

	var rec sample.Record
	rec.Pid = 0
	rec.Tid = 42

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, rec))

	err := p.handle(drain.Message{CPU: 0, Data: buf.Bytes()}, prof)
	require.Error(t, err)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	require.Contains(t, fatal.Error(), "pid is zero")
}

func TestRunKeepsWaitingAfterChannelCloseUntilStop(t *testing.T) {
	p := &Processor{stats: &stats.Stats{}}
	prof := profile.New(time.Second, 19)

	messages := make(chan drain.Message)
	close(messages)
	stop := make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- p.Run(messages, stop, prof) }()

	select {
	case <-done:
		t.Fatal("Run returned on channel close without a stop signal")
	case <-time.After(50 * time.Millisecond):
	}

	close(stop)
	require.NoError(t, <-done)
}

func TestResolveFramesSkipsUnknownSymbolButKeepsOthers(t *testing.T) {
	known := symbolOf("a.py", "C", "m", 3)
	idToSymbol := map[uint32]sample.Symbol{1: known}

	var stack sample.Stack
	stack.Len = 2
	stack.Frames[0] = 1 // known
	stack.Frames[1] = 2 // absent from the map

	st := &stats.Stats{}
	frames := resolveFrames(stack, idToSymbol, st)

	require.Len(t, frames, 1)
	require.Equal(t, "C::m", frames[0].Name)
	require.Equal(t, uint32(1), st.Snapshot().MapReadingErrors)
}

func TestResolveFramesSkipsGarbledSymbol(t *testing.T) {
	var garbled sample.Symbol
	copy(garbled.File[:], []byte{0xff, 0xfe, 0x00})
	idToSymbol := map[uint32]sample.Symbol{1: garbled}

	var stack sample.Stack
	stack.Len = 1
	stack.Frames[0] = 1

	st := &stats.Stats{}
	frames := resolveFrames(stack, idToSymbol, st)

	require.Empty(t, frames)
	require.Equal(t, uint32(1), st.Snapshot().GarbledDataErrors)
}

func symbolOf(file, class, fn string, line uint32) sample.Symbol {
	var s sample.Symbol
	copy(s.File[:], file)
	copy(s.Class[:], class)
	copy(s.Func[:], fn)
	s.Line = line
	return s
}

func TestRunStopsOnStopSignal(t *testing.T) {
	p := &Processor{stats: &stats.Stats{}}
	prof := profile.New(time.Second, 19)

	messages := make(chan drain.Message)
	stop := make(chan struct{})
	close(stop)

	err := p.Run(messages, stop, prof)
	require.NoError(t, err)
}
