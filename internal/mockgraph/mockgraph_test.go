package mockgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/straja-ai/graphgate/internal/logging"
)

func TestMockGraphCommit(t *testing.T) {
	shutdown, baseURL, err := Start("127.0.0.1:0", logging.Discard())
	if err != nil {
		t.Skipf("start mock graph: %v", err)
	}
	defer shutdown(context.Background())

	payload := []byte(`{"statements":[{"statement":"MATCH (n) RETURN n LIMIT 1","parameters":{"a":1}}]}`)
	resp, err := http.Post(baseURL+"/db/neo4j/tx/commit", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post mock graph: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var body struct {
		Results []struct {
			Columns []string `json:"columns"`
			Data    []struct {
				Row []any `json:"row"`
			} `json:"data"`
		} `json:"results"`
		Errors []struct {
			Code string `json:"code"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Errors) != 0 {
		t.Fatalf("expected no errors, got %v", body.Errors)
	}
	if len(body.Results) != 1 || len(body.Results[0].Data) != 1 {
		t.Fatalf("expected one result row, got %+v", body.Results)
	}
	if got := body.Results[0].Data[0].Row[0]; got != "MATCH (n) RETURN n LIMIT 1" {
		t.Fatalf("unexpected row %v", got)
	}
}

func TestMockGraphFailure(t *testing.T) {
	shutdown, baseURL, err := Start("127.0.0.1:0", logging.Discard())
	if err != nil {
		t.Skipf("start mock graph: %v", err)
	}
	defer shutdown(context.Background())

	payload := []byte(`{"statements":[{"statement":"RETURN ` + FailMarker + `"}]}`)
	resp, err := http.Post(baseURL+"/db/neo4j/tx/commit", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post mock graph: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Errors []struct {
			Code string `json:"code"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Errors) != 1 || body.Errors[0].Code != "Neo.ClientError.Statement.SyntaxError" {
		t.Fatalf("expected syntax error, got %+v", body.Errors)
	}
}

func TestMockGraphNotFound(t *testing.T) {
	shutdown, baseURL, err := Start("127.0.0.1:0", logging.Discard())
	if err != nil {
		t.Skipf("start mock graph: %v", err)
	}
	defer shutdown(context.Background())

	resp, err := http.Get(baseURL + "/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
