//go:build linux

package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutputFilenameHasExpectedShape(t *testing.T) {
	name := outputFilename("profile", "pb")
	require.Contains(t, name, "py-perf_")
	require.Contains(t, name, "_profile.pb")
}

func TestUnwrapFollowsErrorChain(t *testing.T) {
	root := errors.New("root cause")
	wrapped := fmt.Errorf("register target: %w", root)
	twice := fmt.Errorf("record profile: %w", wrapped)

	first := unwrap(twice)
	require.Equal(t, wrapped, first)

	second := unwrap(first)
	require.Equal(t, root, second)

	require.Nil(t, unwrap(second))
}

func TestUtsnameToStringStopsAtNul(t *testing.T) {
	var field [65]int8
	for i, c := range []byte("6.1.0-amd64") {
		field[i] = int8(c)
	}
	require.Equal(t, "6.1.0-amd64", utsnameToString(field))
}
