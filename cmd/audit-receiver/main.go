// Command audit-receiver accepts events from the webhook audit sink, appends them
// to a JSONL file and reports gaps in the chain sequence.
package main

import (
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/straja-ai/graphgate/internal/config"
	"github.com/straja-ai/graphgate/internal/logging"
)

func main() {
	addr := flag.String("addr", ":8099", "listen address for the audit receiver")
	out := flag.String("out", "audit-received.jsonl", "JSONL file receiving events")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := logging.New(config.LoggingConfig{Level: *level, Format: "text"}, os.Stderr)

	f, err := os.OpenFile(*out, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		logger.Error("open output", "path", *out, "err", err)
		os.Exit(1)
	}
	defer f.Close()

	rcv := newReceiver(f, logger)
	mux := http.NewServeMux()
	mux.Handle("/audit", rcv)
	mux.Handle("/", rcv)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("audit receiver listening (POST events to /audit)", "addr", *addr, "out", *out)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("receiver error", "err", err)
		os.Exit(1)
	}
}
