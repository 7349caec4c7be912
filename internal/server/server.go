// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/straja-ai/graphgate/internal/audit"
	"github.com/straja-ai/graphgate/internal/auth"
	"github.com/straja-ai/graphgate/internal/config"
	"github.com/straja-ai/graphgate/internal/executor"
	"github.com/straja-ai/graphgate/internal/gateway"
	"github.com/straja-ai/graphgate/internal/telemetry"
)

// Pipeline is the gateway surface the server needs.
type Pipeline interface {
	Evaluate(ctx context.Context, raw string, params map[string]any, callerID string, now time.Time) (gateway.Result, error)
	Run(ctx context.Context, raw string, params map[string]any, callerID string, now time.Time) (gateway.Result, *executor.Rows, error)
}

// Server wraps the HTTP routes of graphgate.
type Server struct {
	mux    *http.ServeMux
	cfg    *config.Config
	gw     Pipeline
	auth   *auth.Auth
	tel    *telemetry.Provider
	logger *slog.Logger
}

// New creates a server with all routes registered.
func New(cfg *config.Config, gw Pipeline, authz *auth.Auth, tel *telemetry.Provider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mux:    http.NewServeMux(),
		cfg:    cfg,
		gw:     gw,
		auth:   authz,
		tel:    tel,
		logger: logger,
	}

	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/v1/query", s.handleQuery)
	s.mux.HandleFunc("/v1/query/check", s.handleCheck)
	if h := tel.MetricsHandler(); h != nil {
		s.mux.Handle("/metrics", h)
	}
	return s
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.mux, "graphgate",
		otelhttp.WithTracerProvider(s.tel.TracerProvider()),
		otelhttp.WithMeterProvider(s.tel.MeterProvider()),
	)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("graphgate listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "ok")
}

type queryRequest struct {
	Query  string         `json:"query"`
	Params map[string]any `json:"params,omitempty"`
}

type queryResponse struct {
	Result  gateway.Result `json:"result"`
	Columns []string       `json:"columns,omitempty"`
	Rows    [][]any        `json:"rows,omitempty"`
	Error   *errorDetail   `json:"error,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	s.serveQuery(w, r, true)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	s.serveQuery(w, r, false)
}

func (s *Server) serveQuery(w http.ResponseWriter, r *http.Request, execute bool) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error", "")
		return
	}

	caller, ok := s.callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid or missing API key", "authentication_error", "")
		return
	}

	var body queryRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "invalid_request_error", "")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body", "invalid_request_error", "")
		return
	}
	if body.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required", "invalid_request_error", "")
		return
	}

	var (
		res  gateway.Result
		rows *executor.Rows
		err  error
	)
	if execute {
		res, rows, err = s.gw.Run(r.Context(), body.Query, body.Params, caller, time.Time{})
	} else {
		res, err = s.gw.Evaluate(r.Context(), body.Query, body.Params, caller, time.Time{})
	}

	status, detail := statusFor(res, err)
	if err != nil && status >= 500 {
		s.logger.Error("request failed", "request_id", res.RequestID, "outcome", string(res.Outcome), "err", err)
	}

	resp := queryResponse{Result: res, Error: detail}
	if rows != nil {
		resp.Columns = rows.Columns
		resp.Rows = rows.Data
	}
	if res.RetryAfterSeconds != nil {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(*res.RetryAfterSeconds))))
	}
	w.Header().Set("X-Request-ID", res.RequestID)
	writeJSON(w, status, resp)
}

// callerID resolves the caller: a known API key names its project; without
// require_auth the remote host is used, or X-Caller-ID when trust_caller_header
// is set.
func (s *Server) callerID(r *http.Request) (string, bool) {
	if key, ok := auth.ParseBearer(r.Header.Get("Authorization")); ok {
		if p, ok := s.auth.Lookup(key); ok {
			return p.ID, true
		}
		return "", false
	}
	if s.cfg.Server.RequireAuth {
		return "", false
	}
	if s.cfg.Server.TrustCallerHeader {
		if id := r.Header.Get("X-Caller-ID"); id != "" {
			return id, true
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr, true
	}
	return host, true
}

// statusFor maps a pipeline result to an HTTP status. Infrastructure errors take
// precedence over the outcome.
func statusFor(res gateway.Result, err error) (int, *errorDetail) {
	switch {
	case errors.Is(err, gateway.ErrAuditUnavailable):
		return http.StatusServiceUnavailable, &errorDetail{Message: "audit unavailable", Type: "unavailable_error", Code: gateway.CodeAuditUnavailable}
	case errors.Is(err, gateway.ErrInternal):
		return http.StatusInternalServerError, &errorDetail{Message: "internal error", Type: "internal_error", Code: gateway.CodeInternal}
	case errors.Is(err, gateway.ErrCancelled):
		return http.StatusRequestTimeout, &errorDetail{Message: "request cancelled", Type: "timeout_error", Code: gateway.CodeCancelled}
	}

	detail := &errorDetail{Message: res.Reason, Code: res.Code}
	switch res.Outcome {
	case audit.OutcomeAllowed, audit.OutcomeSuccess:
		return http.StatusOK, nil
	case audit.OutcomeSanitizerBlocked, audit.OutcomeComplexityBlocked:
		detail.Type = "validation_error"
		return http.StatusBadRequest, detail
	case audit.OutcomeAccessDenied:
		detail.Type = "access_error"
		return http.StatusForbidden, detail
	case audit.OutcomeRateLimited:
		detail.Type = "rate_limit_error"
		return http.StatusTooManyRequests, detail
	case audit.OutcomeExecutionError:
		if errors.Is(err, executor.ErrNoExecutor) {
			detail.Type = "configuration_error"
			return http.StatusNotImplemented, detail
		}
		detail.Type = "execution_error"
		return http.StatusBadGateway, detail
	case audit.OutcomeCancelled:
		detail.Type = "timeout_error"
		return http.StatusRequestTimeout, detail
	default:
		return http.StatusInternalServerError, &errorDetail{Message: "internal error", Type: "internal_error", Code: gateway.CodeInternal}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, typ, code string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: message, Type: typ, Code: code}})
}
