package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountersAccumulate(t *testing.T) {
	var s Stats
	s.IncTotalEvents()
	s.IncTotalEvents()
	s.AddLostEvents(3)
	s.IncMapReadingErrors()
	s.IncTruncatedStacks()
	s.IncGarbledDataErrors()
	s.IncGarbledDataErrors()

	snap := s.Snapshot()
	require.Equal(t, uint32(2), snap.TotalEvents)
	require.Equal(t, uint32(3), snap.LostEventErrors)
	require.Equal(t, uint32(1), snap.MapReadingErrors)
	require.Equal(t, uint32(1), snap.TruncatedStacks)
	require.Equal(t, uint32(2), snap.GarbledDataErrors)
}

func TestLostEventsAcrossTwoCallbacksSum(t *testing.T) {
	var s Stats
	s.AddLostEvents(3)
	s.AddLostEvents(4)

	require.Equal(t, uint32(7), s.Snapshot().LostEventErrors)
}

func TestTotalErrorsVsStackErrors(t *testing.T) {
	snap := Snapshot{
		LostEventErrors:   5,
		MapReadingErrors:  2,
		TruncatedStacks:   1,
		GarbledDataErrors: 1,
	}
	require.Equal(t, uint32(9), snap.TotalErrors())
	require.Equal(t, uint32(4), snap.StackErrors())
}

func TestConcurrentIncrementsAreRaceFree(t *testing.T) {
	var s Stats
	var wg sync.WaitGroup
	const goroutines = 50
	const perGoroutine = 100

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				s.IncTotalEvents()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, uint32(goroutines*perGoroutine), s.Snapshot().TotalEvents)
}
