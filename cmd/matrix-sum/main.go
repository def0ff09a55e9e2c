package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"

	"github.com/kingrea/reactive-counter/internal/matrixsum"
)

func main() {
	rows := flag.Int("rows", 1000, "number of matrix rows")
	cols := flag.Int("cols", 1000, "number of matrix columns")
	seed := flag.Uint64("seed", 1, "seed for the generated matrix")
	verbose := flag.Bool("v", false, "print each worker's range")
	var workerCounts intsFlag
	flag.Var(&workerCounts, "workers", "worker count to run (repeatable, default 1,2,4,8)")
	flag.Parse()

	if *rows < 1 || *cols < 1 {
		die("--rows and --cols must be positive")
	}
	if len(workerCounts) == 0 {
		workerCounts = intsFlag{1, 2, 4, 8}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	matrix := generate(*rows, *cols, *seed)
	var opts []matrixsum.Option
	if *verbose {
		opts = append(opts, matrixsum.WithLogger(stderrLogger{}))
	}
	label := color.New(color.FgCyan)
	for _, workers := range workerCounts {
		started := time.Now()
		sum, err := matrixsum.Sum(ctx, matrix, workers, opts...)
		if err != nil {
			die("sum with %d workers: %v", workers, err)
		}
		label.Printf("%3d workers", workers)
		fmt.Printf("  sum=%.6f  elapsed=%s\n", sum, time.Since(started).Round(time.Microsecond))
	}
}

func generate(rows, cols int, seed uint64) [][]float64 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	matrix := make([][]float64, rows)
	for i := range matrix {
		matrix[i] = make([]float64, cols)
		for j := range matrix[i] {
			matrix[i][j] = rng.Float64()
		}
	}
	return matrix
}

type stderrLogger struct{}

func (stderrLogger) Printf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

type intsFlag []int

func (f *intsFlag) String() string {
	if f == nil {
		return ""
	}
	return fmt.Sprint([]int(*f))
}

func (f *intsFlag) Set(value string) error {
	var n int
	if _, err := fmt.Sscanf(value, "%d", &n); err != nil || n < 1 {
		return fmt.Errorf("invalid worker count %q", value)
	}
	*f = append(*f, n)
	return nil
}
