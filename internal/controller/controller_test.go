package controller

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kakkoyun/py-perf/internal/introspect"
	"github.com/kakkoyun/py-perf/internal/offsets"
)

func TestRegisterRejectsUnsupportedVersionWithoutTouchingMaps(t *testing.T) {
	catalog, err := offsets.Load()
	require.NoError(t, err)

	resolver := introspect.StaticResolver{Version: offsets.Version{Major: 3, Minor: 99}}
	c := &Controller{
		catalog:      catalog,
		introspector: introspect.New(resolver),
		logger:       zerolog.Nop(),
	}

	err = c.Register(1234)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported Python version: 3.99")
	require.Empty(t, c.targets)
}

func TestRegisterPropagatesIntrospectionFailure(t *testing.T) {
	catalog, err := offsets.Load()
	require.NoError(t, err)

	resolver := introspect.StaticResolver{Err: errProcessGone}
	c := &Controller{
		catalog:      catalog,
		introspector: introspect.New(resolver),
		logger:       zerolog.Nop(),
	}

	err = c.Register(1234)
	require.Error(t, err)
	require.Empty(t, c.targets)
}

var errProcessGone = &introspectionGoneError{}

type introspectionGoneError struct{}

func (*introspectionGoneError) Error() string { return "process no longer exists" }
