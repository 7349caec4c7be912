package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/straja-ai/graphgate/internal/audit"
)

const maxEventBytes = 1 << 20

// receiver appends every delivered event to out. A seq of 1 starts a new
// segment; a repeated seq is a webhook retry and is dropped.
type receiver struct {
	mu     sync.Mutex
	out    io.Writer
	last   uint64
	gaps   int
	logger *slog.Logger
}

func newReceiver(out io.Writer, logger *slog.Logger) *receiver {
	return &receiver{out: out, logger: logger}
}

type receipt struct {
	Status string `json:"status"`
	Seq    uint64 `json:"seq"`
	Gap    bool   `json:"gap,omitempty"`
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes+1))
	_ = r.Body.Close()
	if err != nil || len(body) > maxEventBytes {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	var ev audit.Event
	if err := json.Unmarshal(body, &ev); err != nil || ev.Chain.Seq == 0 {
		http.Error(w, "not an audit event", http.StatusBadRequest)
		return
	}
	var line bytes.Buffer
	if err := json.Compact(&line, body); err != nil {
		http.Error(w, "not an audit event", http.StatusBadRequest)
		return
	}

	res, err := rc.accept(ev.Chain.Seq, line.Bytes())
	if err != nil {
		rc.logger.Error("write event", "seq", ev.Chain.Seq, "err", err)
		http.Error(w, "write failed", http.StatusInternalServerError)
		return
	}
	rc.logger.Debug("received audit event",
		"seq", ev.Chain.Seq, "request_id", ev.RequestID, "outcome", string(ev.Outcome), "gap", res.Gap)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res)
}

func (rc *receiver) accept(seq uint64, line []byte) (receipt, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	res := receipt{Status: "ok", Seq: seq}
	switch {
	case seq == rc.last:
		res.Status = "duplicate"
		return res, nil
	case seq == 1 && rc.last != 0:
		rc.logger.Info("new chain segment", "previous_seq", rc.last)
	case seq != rc.last+1 && seq != 1:
		res.Gap = true
		rc.gaps++
		rc.logger.Warn("audit sequence gap", "expected", rc.last+1, "got", seq)
	}
	if _, err := fmt.Fprintf(rc.out, "%s\n", line); err != nil {
		return receipt{}, err
	}
	rc.last = seq
	return res, nil
}
