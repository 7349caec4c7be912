// Command graphgate-bench measures in-process gate latency.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/straja-ai/graphgate/internal/config"
	"github.com/straja-ai/graphgate/internal/gateway"
	"github.com/straja-ai/graphgate/internal/logging"
	"github.com/straja-ai/graphgate/internal/mockgraph"
)

func main() {
	cfgPath := flag.String("config", "", "path to config yaml (defaults when empty)")
	n := flag.Int("n", 2000, "number of iterations")
	workers := flag.Int("c", 1, "concurrent workers")
	execute := flag.Bool("execute", false, "run queries through the neo4j_http executor against an in-process mock graph")
	q := flag.String("query", "MATCH (p:Person)-[:KNOWS]->(f:Person) WHERE p.name = $name RETURN f.name LIMIT 25", "query text to evaluate")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	// Keep the bucket out of the measurement and audit out of the output.
	cfg.RateLimit.Burst = float64(*n+10) * cfg.RateLimit.Cost
	cfg.Audit.Sinks = nil

	ctx := context.Background()
	if *execute {
		shutdown, url, err := mockgraph.Start("127.0.0.1:0", logging.Discard())
		if err != nil {
			log.Fatalf("start mock graph: %v", err)
		}
		defer shutdown(ctx)
		cfg.Executor = config.ExecutorConfig{Type: "neo4j_http", URL: url}
	}

	gw, err := gateway.New(cfg, gateway.Deps{Logger: logging.Discard()})
	if err != nil {
		log.Fatalf("build gateway: %v", err)
	}
	var ev evaluator = gw
	if *execute {
		ev = runner{gw}
	}

	params := map[string]any{"name": "Ada"}

	// Warmup
	for i := 0; i < 5; i++ {
		if _, err := ev.Evaluate(ctx, *q, params, fmt.Sprintf("warmup-%d", i), time.Time{}); err != nil {
			log.Fatalf("warmup evaluate failed: %v", err)
		}
	}

	if *n <= 0 {
		*n = 1
	}
	s, err := run(ctx, ev, *q, params, *n, *workers)
	if err != nil {
		log.Fatalf("evaluate failed: %v", err)
	}

	fmt.Printf("bench: n=%d c=%d execute=%t allowed=%d avg_ms=%.3f p50_ms=%.3f p95_ms=%.3f p99_ms=%.3f\n",
		s.n, *workers, *execute, s.allowed, s.avg, s.p50, s.p95, s.p99)
}
