package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiihann/hddtest/report"
)

func openStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "history", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Initialize())

	return store
}

func TestRecordAndList(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, model := range []string{"DISK-A", "DISK-B", "DISK-C"} {
		run := &Run{
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
			TargetPath: "/dev/sdb",
			Model:      model,
			Serial:     "S" + model,
			Rows: []report.Row{
				{Benchmark: "seek", Metric: "average seek time", Unit: "ms", Primary: 8.5, HasPrimary: true},
			},
		}

		require.NoError(t, store.Record(ctx, run))
		assert.NotEqual(t, uuid.Nil, run.ID)
	}

	runs, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	assert.Equal(t, "DISK-C", runs[0].Model)
	assert.Equal(t, "DISK-A", runs[2].Model)
	assert.True(t, runs[0].CreatedAt.Equal(base.Add(2*time.Hour)))
	require.Len(t, runs[0].Rows, 1)
	assert.Equal(t, 8.5, runs[0].Rows[0].Primary)

	limited, err := store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestGet(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	run := &Run{TargetPath: "/mnt/data", Model: "M", Serial: "S", ResultFile: "out.xml"}
	require.NoError(t, store.Record(ctx, run))
	assert.False(t, run.CreatedAt.IsZero())

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "out.xml", got.ResultFile)
	assert.Empty(t, got.Rows)

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateID(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	run := &Run{ID: uuid.New(), TargetPath: "/dev/sdb"}
	require.NoError(t, store.Record(ctx, run))

	dup := *run
	assert.Error(t, store.Record(ctx, &dup))
}

func TestClosedStore(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.List(context.Background(), 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Record(context.Background(), &Run{}), ErrClosed)
}
