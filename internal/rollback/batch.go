package rollback

import (
	"context"
	"time"

	"migration-guard/internal/errors"
)

// Sleeper pauses between batches. Tests substitute a recording no-op.
type Sleeper func(time.Duration)

// BatchStrategy paces batched data rollback. The inter-batch delay is the
// engine's only back-pressure mechanism: it trades rollback speed for
// reduced load on the live database.
type BatchStrategy struct {
	BatchSize int
	Delay     time.Duration
	Sleep     Sleeper
}

// NewBatchStrategy builds a strategy with the default sleeper
func NewBatchStrategy(batchSize int, delay time.Duration) *BatchStrategy {
	return &BatchStrategy{
		BatchSize: batchSize,
		Delay:     delay,
		Sleep:     time.Sleep,
	}
}

// Run processes totalRows in ceil(totalRows/BatchSize) batches, sleeping
// Delay between consecutive batches. fn receives the batch index and the
// row offset and size of its slice. It returns the number of batches run.
func (bs *BatchStrategy) Run(ctx context.Context, totalRows int, fn func(batch, offset, size int) error) (int, error) {
	if bs.BatchSize < 1 {
		return 0, errors.NewValidationError("batch size must be at least 1", nil)
	}
	if totalRows <= 0 {
		return 0, nil
	}

	sleep := bs.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	batches := 0
	for offset := 0; offset < totalRows; offset += bs.BatchSize {
		if err := ctx.Err(); err != nil {
			return batches, errors.NewRollbackFailed("batched rollback interrupted", err)
		}

		if batches > 0 && bs.Delay > 0 {
			sleep(bs.Delay)
		}

		size := bs.BatchSize
		if remaining := totalRows - offset; remaining < size {
			size = remaining
		}

		if err := fn(batches, offset, size); err != nil {
			return batches, err
		}
		batches++
	}
	return batches, nil
}

// RowCounter reports how many rows a rollback's data phase must walk.
// The default implementation sums the configured tables of the app.
type RowCounter interface {
	CountRows(ctx context.Context, app string) (int, error)
}
