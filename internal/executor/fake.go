package executor

import (
	"context"
	"sync"
)

// Fake returns scripted rows or an error and records every call.
type Fake struct {
	Rows  *Rows
	Error error
	// Hook, when set, runs before the scripted result is returned.
	Hook func(ctx context.Context, text string) error

	mu    sync.Mutex
	calls []string
}

func NewFake(rows *Rows) *Fake {
	return &Fake{Rows: rows}
}

func (f *Fake) Run(ctx context.Context, text string, _ map[string]any) (*Rows, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()

	if f.Hook != nil {
		if err := f.Hook(ctx, text); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Error != nil {
		return nil, f.Error
	}
	if f.Rows == nil {
		return &Rows{}, nil
	}
	return f.Rows, nil
}

// Calls returns the executed query texts in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
