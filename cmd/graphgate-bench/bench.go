package main

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/straja-ai/graphgate/internal/gateway"
)

type evaluator interface {
	Evaluate(ctx context.Context, raw string, params map[string]any, callerID string, now time.Time) (gateway.Result, error)
}

// runner benchmarks the full path including execution.
type runner struct {
	gw *gateway.Gateway
}

func (r runner) Evaluate(ctx context.Context, raw string, params map[string]any, callerID string, now time.Time) (gateway.Result, error) {
	res, _, err := r.gw.Run(ctx, raw, params, callerID, now)
	return res, err
}

type summary struct {
	n       int
	allowed int
	avg     float64
	p50     float64
	p95     float64
	p99     float64
}

// run evaluates q n times spread over workers and summarises the latencies in
// milliseconds. Each worker uses its own caller id.
func run(ctx context.Context, gw evaluator, q string, params map[string]any, n, workers int) (summary, error) {
	if workers <= 0 {
		workers = 1
	}
	durations := make([]time.Duration, n)
	var allowed atomic.Int64
	var next atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		caller := fmt.Sprintf("bench-%d", w)
		g.Go(func() error {
			for {
				i := int(next.Add(1)) - 1
				if i >= n {
					return nil
				}
				start := time.Now()
				res, err := gw.Evaluate(ctx, q, params, caller, time.Time{})
				if err != nil {
					return err
				}
				durations[i] = time.Since(start)
				if res.Allowed {
					allowed.Add(1)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return summary{}, err
	}
	s := summarize(durations)
	s.allowed = int(allowed.Load())
	return s, nil
}

func summarize(durations []time.Duration) summary {
	if len(durations) == 0 {
		return summary{}
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000.0 }
	at := func(p float64) time.Duration { return sorted[int(float64(len(sorted)-1)*p)] }
	return summary{
		n:   len(sorted),
		avg: float64(total.Microseconds()) / 1000.0 / float64(len(sorted)),
		p50: ms(at(0.50)),
		p95: ms(at(0.95)),
		p99: ms(at(0.99)),
	}
}
