package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/straja-ai/graphgate/internal/config"
)

// HTTP calls the Neo4j HTTP transactional endpoint. The core never links a
// database driver; this is the only component that talks to the database.
type HTTP struct {
	endpoint         string
	username         string
	password         string
	client           *http.Client
	maxResponseBytes int64
}

// NewHTTP builds the executor from cfg. Credentials are read from the env vars
// it names.
func NewHTTP(cfg config.ExecutorConfig) (*HTTP, error) {
	if cfg.URL == "" {
		return nil, errors.New("executor url is empty")
	}
	db := cfg.Database
	if db == "" {
		db = "neo4j"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	h := &HTTP{
		endpoint:         strings.TrimRight(cfg.URL, "/") + "/db/" + db + "/tx/commit",
		maxResponseBytes: 16 * 1024 * 1024,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	if cfg.UsernameEnv != "" {
		h.username = os.Getenv(cfg.UsernameEnv)
	}
	if cfg.PasswordEnv != "" {
		h.password = os.Getenv(cfg.PasswordEnv)
	}
	return h, nil
}

type txRequest struct {
	Statements []txStatement `json:"statements"`
}

type txStatement struct {
	Statement  string         `json:"statement"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type txResponse struct {
	Results []struct {
		Columns []string `json:"columns"`
		Data    []struct {
			Row []any `json:"row"`
		} `json:"data"`
	} `json:"results"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (h *HTTP) Run(ctx context.Context, text string, params map[string]any) (*Rows, error) {
	body, err := json.Marshal(txRequest{Statements: []txStatement{{Statement: text, Parameters: params}}})
	if err != nil {
		return nil, fmt.Errorf("marshal statement: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if h.username != "" || h.password != "" {
		req.SetBasicAuth(h.username, h.password)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Code: "transport", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxResponseBytes+1))
	if err != nil {
		return nil, &Error{Code: "transport", Err: fmt.Errorf("read response: %w", err)}
	}
	if int64(len(data)) > h.maxResponseBytes {
		return nil, &Error{Code: "transport", Message: fmt.Sprintf("response exceeded limit (%d bytes)", h.maxResponseBytes)}
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{Code: "transport", Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var tr txResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, &Error{Code: "transport", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(tr.Errors) > 0 {
		return nil, &Error{Code: tr.Errors[0].Code, Message: tr.Errors[0].Message}
	}
	rows := &Rows{}
	if len(tr.Results) > 0 {
		res := tr.Results[0]
		rows.Columns = res.Columns
		rows.Data = make([][]any, len(res.Data))
		for i, d := range res.Data {
			rows.Data[i] = d.Row
		}
	}
	return rows, nil
}
