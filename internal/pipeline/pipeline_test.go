package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

func TestParseCronField(t *testing.T) {
	tests := []struct {
		field string
		lo    int
		hi    int
		want  []int
		err   bool
	}{
		{field: "5", lo: 0, hi: 59, want: []int{5}},
		{field: "1,15", lo: 0, hi: 59, want: []int{1, 15}},
		{field: "1-4", lo: 0, hi: 59, want: []int{1, 2, 3, 4}},
		{field: "*/20", lo: 0, hi: 59, want: []int{0, 20, 40}},
		{field: "10-30/10", lo: 0, hi: 59, want: []int{10, 20, 30}},
		{field: "5/30", lo: 0, hi: 59, want: []int{5, 35}},
		{field: "60", lo: 0, hi: 59, err: true},
		{field: "4-1", lo: 0, hi: 59, err: true},
		{field: "*/0", lo: 0, hi: 59, err: true},
		{field: "x", lo: 0, hi: 59, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			f, err := parseCronField(tt.field, tt.lo, tt.hi)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			var got []int
			for v := tt.lo; v <= tt.hi; v++ {
				if f.matches(v) {
					got = append(got, v)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCronNext(t *testing.T) {
	from := time.Date(2026, 6, 1, 9, 30, 15, 0, time.UTC) // a Monday

	daily, err := parseCron("0 3 * * *")
	require.NoError(t, err)
	next, err := daily.next(from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 2, 3, 0, 0, 0, time.UTC), next)

	quarter, err := parseCron("*/15 * * * *")
	require.NoError(t, err)
	next, err = quarter.next(from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 1, 9, 45, 0, 0, time.UTC), next)

	sunday, err := parseCron("0 0 * * 7")
	require.NoError(t, err)
	next, err = sunday.next(from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 7, 0, 0, 0, 0, time.UTC), next)

	// Restricted day-of-month and day-of-week match either.
	either, err := parseCron("0 0 15 * 3")
	require.NoError(t, err)
	next, err = either.next(from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC), next)

	_, err = parseCron("0 3 * *")
	require.Error(t, err)
	never, err := parseCron("0 0 31 2 *")
	require.NoError(t, err)
	_, err = never.next(from)
	require.Error(t, err)
}

type fakeArchiver struct{ cutoffs []time.Time }

func (f *fakeArchiver) ArchiveEvents(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 7, nil
}

func TestArchiverRunUsesRetention(t *testing.T) {
	fa := &fakeArchiver{}
	a := NewArchiver(fa, 30, slog.New(slog.DiscardHandler))
	a.nowFn = func() time.Time { return time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, a.Run(context.Background()))
	require.Len(t, fa.cutoffs, 1)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), fa.cutoffs[0])
}

type countingSaver struct{ n atomic.Int32 }

func (c *countingSaver) Save(context.Context) (domain.SnapshotRecord, error) {
	c.n.Add(1)
	return domain.SnapshotRecord{}, nil
}

func TestSnapshotterSavesOnTickAndShutdown(t *testing.T) {
	saver := &countingSaver{}
	s := NewSnapshotter(saver, 10*time.Millisecond, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return saver.n.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, saver.n.Load(), int32(3), "a final snapshot is saved on shutdown")
}
