package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndRecent(t *testing.T) {
	store := openTestStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		run := Run{
			ID:          uuid.NewString(),
			Archive:     fmt.Sprintf("host-%d.tar.xz", i),
			Outcome:     "processed",
			StartedAt:   base.Add(time.Duration(i) * time.Hour),
			FinishedAt:  base.Add(time.Duration(i)*time.Hour + 5*time.Minute),
			MetricCount: 100 + i,
			Points:      1000 * i,
		}
		require.NoError(t, store.Append(run))
	}

	runs, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	// Newest first
	require.Equal(t, "host-2.tar.xz", runs[0].Archive)
	require.Equal(t, "host-1.tar.xz", runs[1].Archive)
	require.Equal(t, "host-0.tar.xz", runs[2].Archive)
	require.Equal(t, 102, runs[0].MetricCount)
}

func TestRecentHonorsLimit(t *testing.T) {
	store := openTestStore(t)

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(Run{
			ID:        uuid.NewString(),
			Archive:   fmt.Sprintf("a-%d.tar.xz", i),
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	runs, err := store.Recent(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "a-4.tar.xz", runs[0].Archive)
}

func TestRecentEmptyStore(t *testing.T) {
	store := openTestStore(t)

	runs, err := store.Recent(10)
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestRunRoundTripPreservesFields(t *testing.T) {
	store := openTestStore(t)

	run := Run{
		ID:              uuid.NewString(),
		Archive:         "host1-20240101.tar.xz",
		Outcome:         "failed",
		Error:           "database write failed: connection refused",
		StartedAt:       time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		FinishedAt:      time.Date(2024, 1, 1, 12, 3, 0, 0, time.UTC),
		MetricCount:     217,
		Fingerprint:     0xdeadbeefcafe,
		Points:          120000,
		Lines:           4000,
		BadRows:         3,
		InvalidValues:   512,
		FilteredValues:  90,
		ExtractSeconds:  1.5,
		ValidateSeconds: 20.25,
		ExportSeconds:   95.0,
	}
	require.NoError(t, store.Append(run))

	runs, err := store.Recent(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, run, runs[0])
}
