//go:build linux

package perfevent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCPURange(t *testing.T) {
	tt := map[string]struct {
		in      string
		want    []int
		wantErr bool
	}{
		"single cpu":       {in: "0", want: []int{0}},
		"contiguous range":  {in: "0-3", want: []int{0, 1, 2, 3}},
		"mixed list":        {in: "0-1,3,5-7", want: []int{0, 1, 3, 5, 6, 7}},
		"trailing newline":  {in: "0-1\n", want: []int{0, 1}},
		"empty is an error": {in: "", wantErr: true},
	}

	for name, tc := range tt {
		t.Run(name, func(t *testing.T) {
			got, err := parseCPURange(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestSamplePeriodNanos(t *testing.T) {
	require.Equal(t, uint64(1e9), SamplePeriodNanos(1))
	require.Equal(t, uint64(52631578), SamplePeriodNanos(19))
}

func TestOpenRejectsZeroFrequency(t *testing.T) {
	_, err := Open(0, 0, nil)
	require.Error(t, err)
}
