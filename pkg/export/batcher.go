package export

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Batcher accumulates points in arrival order and flushes them to the writer
// whenever the pending count reaches the batch size. A flush failure is fatal
// to the run: there is no partial-batch retry, the caller aborts the archive.
type Batcher struct {
	writer        PointWriter
	log           *logrus.Logger
	size          int
	progressEvery int

	pending []*Point
	flushes int
	written int

	// Progress, when set, is called after every flush. Used by the control
	// feed; must not block.
	Progress func(written, flushes int)
}

// NewBatcher creates a batcher flushing every size points and logging
// progress every progressEvery flushes.
func NewBatcher(writer PointWriter, log *logrus.Logger, size, progressEvery int) *Batcher {
	return &Batcher{
		writer:        writer,
		log:           log,
		size:          size,
		progressEvery: progressEvery,
		pending:       make([]*Point, 0, size),
	}
}

// Add appends a point, flushing when the batch fills.
func (b *Batcher) Add(ctx context.Context, p *Point) error {
	b.pending = append(b.pending, p)
	if len(b.pending) >= b.size {
		return b.flush(ctx)
	}
	return nil
}

// Finish flushes any remainder once the stream ends.
func (b *Batcher) Finish(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	b.log.Infof("Writing final batch of %d points...", len(b.pending))
	return b.flush(ctx)
}

// Written returns the total number of points delivered so far.
func (b *Batcher) Written() int {
	return b.written
}

func (b *Batcher) flush(ctx context.Context) error {
	if err := b.writer.WritePoints(ctx, b.pending); err != nil {
		return err
	}
	b.written += len(b.pending)
	b.flushes++
	b.pending = b.pending[:0]

	if b.flushes%b.progressEvery == 0 {
		b.log.Infof("Progress: %d points written (%d batches)...", b.written, b.flushes)
	}
	if b.Progress != nil {
		b.Progress(b.written, b.flushes)
	}
	return nil
}
