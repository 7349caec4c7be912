// Package mockgraph serves a minimal Neo4j HTTP transactional endpoint for
// tests and benchmarks.
package mockgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort    = 17474
	defaultDelayMS = 0
)

// FailMarker makes the mock answer a statement with a database error.
const FailMarker = "mockgraph_fail"

// Start launches the mock server. If addr is empty it listens on
// 127.0.0.1:MOCK_GRAPH_PORT (default 17474). MOCK_DELAY_MS adds latency to every
// commit. It returns a shutdown function and the base URL.
func Start(addr string, logger *slog.Logger) (func(context.Context) error, string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(addr) == "" {
		port := strings.TrimSpace(os.Getenv("MOCK_GRAPH_PORT"))
		if port == "" {
			port = strconv.Itoa(defaultPort)
		}
		addr = "127.0.0.1:" + port
	}

	delay := defaultDelayMS
	if val := strings.TrimSpace(os.Getenv("MOCK_DELAY_MS")); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed >= 0 {
			delay = parsed
		}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           Handler(time.Duration(delay)*time.Millisecond, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("mock graph server error", "err", err)
		}
	}()

	baseURL := "http://" + ln.Addr().String()
	logger.Info("mock graph listening", "url", baseURL, "delay_ms", delay)
	return srv.Shutdown, baseURL, nil
}

// Handler answers POST /db/{name}/tx/commit with one row per statement.
func Handler(delay time.Duration, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /db/{name}/tx/commit", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("mock graph request", "db", r.PathValue("name"))
		var req struct {
			Statements []struct {
				Statement  string         `json:"statement"`
				Parameters map[string]any `json:"parameters"`
			} `json:"statements"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"results": []any{},
				"errors":  []any{dbError("Neo.ClientError.Request.InvalidFormat", "Unable to deserialize request")},
			})
			return
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		results := []any{}
		errs := []any{}
		for _, st := range req.Statements {
			if strings.Contains(st.Statement, FailMarker) {
				errs = append(errs, dbError("Neo.ClientError.Statement.SyntaxError", "Invalid input near "+FailMarker))
				break
			}
			results = append(results, map[string]any{
				"columns": []string{"statement", "params"},
				"data": []any{
					map[string]any{"row": []any{st.Statement, len(st.Parameters)}, "meta": []any{nil, nil}},
				},
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results, "errors": errs})
	})
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			writeJSON(w, http.StatusNotFound, map[string]any{"errors": []any{dbError("Neo.ClientError.Request.Invalid", "Not found")}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"transaction":   "/db/{databaseName}/tx",
			"neo4j_version": "5.0.0-mock",
			"neo4j_edition": "community",
		})
	})
	return mux
}

func dbError(code, msg string) map[string]string {
	return map[string]string{"code": code, "message": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
