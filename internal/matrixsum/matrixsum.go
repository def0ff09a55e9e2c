// Package matrixsum adds up a dense matrix with a fixed number of workers,
// each owning a contiguous run of the row-major flattened elements.
package matrixsum

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrEmpty is returned for a matrix without rows or columns.
	ErrEmpty = errors.New("matrixsum: empty matrix")
	// ErrRagged is returned when rows have different lengths.
	ErrRagged = errors.New("matrixsum: ragged matrix")
	// ErrWorkers is returned when fewer than one worker is requested.
	ErrWorkers = errors.New("matrixsum: workers must be at least 1")
)

// Logger records the range each worker covers. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

// Option customizes a Sum call.
type Option func(*options)

type options struct {
	logger Logger
}

// WithLogger reports each worker's range.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Span is the half-open flat index range [Start, End) assigned to one worker.
type Span struct {
	Start int
	End   int
}

// Partition splits total elements into at most workers contiguous spans of
// ceil(total/workers) elements; the last span may be shorter.
func Partition(total, workers int) []Span {
	if total <= 0 || workers < 1 {
		return nil
	}
	size := (total + workers - 1) / workers
	spans := make([]Span, 0, workers)
	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		spans = append(spans, Span{Start: start, End: end})
	}
	return spans
}

// Sum returns the sum of every element of matrix using workers goroutines.
func Sum(ctx context.Context, matrix [][]float64, workers int, opts ...Option) (float64, error) {
	if workers < 1 {
		return 0, ErrWorkers
	}
	cols, err := shape(matrix)
	if err != nil {
		return 0, err
	}
	cfg := options{logger: nopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	spans := Partition(len(matrix)*cols, workers)
	partials := make([]float64, len(spans))
	g, gctx := errgroup.WithContext(ctx)
	for i, span := range spans {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			last := span.End - 1
			cfg.logger.Printf("matrixsum: worker %d summing [%d][%d] to [%d][%d]",
				i, span.Start/cols, span.Start%cols, last/cols, last%cols)
			var res float64
			for pos := span.Start; pos < span.End; pos++ {
				res += matrix[pos/cols][pos%cols]
			}
			partials[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("matrixsum: %w", err)
	}
	var total float64
	for _, partial := range partials {
		total += partial
	}
	return total, nil
}

func shape(matrix [][]float64) (int, error) {
	if len(matrix) == 0 || len(matrix[0]) == 0 {
		return 0, ErrEmpty
	}
	cols := len(matrix[0])
	for i, row := range matrix {
		if len(row) != cols {
			return 0, fmt.Errorf("%w: row %d has %d columns, want %d", ErrRagged, i, len(row), cols)
		}
	}
	return cols, nil
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
