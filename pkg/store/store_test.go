package store

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullable(t *testing.T) {
	assert.Nil(t, nullable(math.NaN()))
	assert.Nil(t, nullable(math.Inf(-1)))
	require.NotNil(t, nullable(2.5))
	assert.Equal(t, 2.5, *nullable(2.5))
	assert.True(t, math.IsNaN(orNaN(nil)))
	assert.Equal(t, 2.5, orNaN(nullable(2.5)))
}

func TestNewRun(t *testing.T) {
	a, b := NewRun("a.fits"), NewRun("a.fits")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "a.fits", a.File)
	assert.True(t, math.IsNaN(a.ZeroPoint))
	assert.False(t, a.StartedAt.IsZero())
}

// TestStoreIntegration needs a PostgreSQL server named by
// STONESTEPS_TEST_DATABASE_URL.
func TestStoreIntegration(t *testing.T) {
	url := os.Getenv("STONESTEPS_TEST_DATABASE_URL")
	if url == "" || testing.Short() {
		t.Skip("STONESTEPS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := New(ctx, url)
	require.NoError(t, err)
	defer s.Close(ctx)

	r := NewRun("obs.fits")
	r.Steps = "SEP,FCAL"
	r.LowCount, r.HighCount = 42, 7
	r.RHalf = 2.1
	r.Matches = 12
	r.ZeroPoint, r.ZeroErr = 24.8, 0.02
	require.NoError(t, s.InsertRun(ctx, r))

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "SEP,FCAL", got.Steps)
	assert.Equal(t, 42, got.LowCount)
	assert.Equal(t, 12, got.Matches)
	assert.InDelta(t, 24.8, got.ZeroPoint, 1e-12)
	assert.True(t, math.IsNaN(got.Elong))
	assert.Empty(t, got.Error)

	failed := NewRun("bad.fits")
	failed.Steps = "SEP"
	failed.Error = "insufficient calibration matches"
	require.NoError(t, s.InsertRun(ctx, failed))
	got, err = s.GetRun(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, failed.Error, got.Error)
	assert.True(t, math.IsNaN(got.ZeroPoint))
}
