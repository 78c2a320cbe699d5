package export

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// mockWriter records every batch it receives.
type mockWriter struct {
	batches  [][]*Point
	writeErr error
}

func (m *mockWriter) WritePoints(ctx context.Context, points []*Point) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	batch := make([]*Point, len(points))
	copy(batch, points)
	m.batches = append(m.batches, batch)
	return nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testPoint(field string, value float64) *Point {
	return &Point{
		Timestamp: time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC),
		Tags:      map[string]string{"product_type": "SERVER1", "serialNumber": "1234"},
		Fields:    map[string]float64{field: value},
	}
}

func TestBatcherFlushesAtSizeThenRemainder(t *testing.T) {
	writer := &mockWriter{}
	b := NewBatcher(writer, quietLogger(), 2, 10)

	ctx := context.Background()
	p1 := testPoint("a", 1)
	p2 := testPoint("b", 2)
	p3 := testPoint("c", 3)

	require.NoError(t, b.Add(ctx, p1))
	require.Empty(t, writer.batches)
	require.NoError(t, b.Add(ctx, p2))
	require.NoError(t, b.Add(ctx, p3))
	require.NoError(t, b.Finish(ctx))

	// One full flush of [p1,p2], one final flush of [p3], in order
	require.Len(t, writer.batches, 2)
	require.Equal(t, []*Point{p1, p2}, writer.batches[0])
	require.Equal(t, []*Point{p3}, writer.batches[1])
	require.Equal(t, 3, b.Written())
}

func TestBatcherFinishWithNothingPending(t *testing.T) {
	writer := &mockWriter{}
	b := NewBatcher(writer, quietLogger(), 100, 10)

	require.NoError(t, b.Finish(context.Background()))
	require.Empty(t, writer.batches)
}

func TestBatcherFlushFailureIsFatal(t *testing.T) {
	writer := &mockWriter{writeErr: errors.New("connection refused")}
	b := NewBatcher(writer, quietLogger(), 1, 10)

	err := b.Add(context.Background(), testPoint("a", 1))
	require.Error(t, err)
	require.Equal(t, 0, b.Written())
}

func TestBatcherProgressCallback(t *testing.T) {
	writer := &mockWriter{}
	b := NewBatcher(writer, quietLogger(), 2, 10)

	var calls [][2]int
	b.Progress = func(written, flushes int) {
		calls = append(calls, [2]int{written, flushes})
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Add(ctx, testPoint("a", float64(i))))
	}
	require.NoError(t, b.Finish(ctx))

	require.Equal(t, [][2]int{{2, 1}, {4, 2}, {5, 3}}, calls)
}
