// Package executor runs admitted queries against a graph database.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/straja-ai/graphgate/internal/config"
)

// Rows is a tabular result.
type Rows struct {
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
}

// Len is the number of rows.
func (r *Rows) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Data)
}

// Executor runs a query. Implementations must honor ctx cancellation.
type Executor interface {
	Run(ctx context.Context, text string, params map[string]any) (*Rows, error)
}

// Error is a failure reported by the database or the transport to it.
type Error struct {
	Code    string // database error code, or "transport"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("executor: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("executor: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Func adapts a function to Executor.
type Func func(ctx context.Context, text string, params map[string]any) (*Rows, error)

func (f Func) Run(ctx context.Context, text string, params map[string]any) (*Rows, error) {
	return f(ctx, text, params)
}

// ErrNoExecutor is returned by Run when executor.type is "none".
var ErrNoExecutor = errors.New("executor: no executor configured")

// New builds the executor named by cfg.Type. "none" yields an executor whose Run
// always fails with ErrNoExecutor.
func New(cfg config.ExecutorConfig) (Executor, error) {
	switch cfg.Type {
	case "", "none":
		return Func(func(context.Context, string, map[string]any) (*Rows, error) {
			return nil, ErrNoExecutor
		}), nil
	case "fake":
		return NewFake(nil), nil
	case "neo4j_http":
		return NewHTTP(cfg)
	default:
		return nil, config.Errorf("executor.type", "unknown executor %q", cfg.Type)
	}
}
