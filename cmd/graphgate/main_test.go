package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straja-ai/graphgate/internal/audit"
	"github.com/straja-ai/graphgate/internal/config"
	"github.com/straja-ai/graphgate/internal/gateway"
	"github.com/straja-ai/graphgate/internal/sanitizer"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// writeConfig writes a config whose audit trail goes to a JSONL file and sets
// the HMAC key in the environment.
func writeConfig(t *testing.T) (cfgPath, auditPath string) {
	t.Helper()
	dir := t.TempDir()
	auditPath = filepath.Join(dir, "audit.jsonl")
	cfgPath = filepath.Join(dir, "graphgate.yaml")
	yaml := "audit:\n  sinks:\n    - type: file_jsonl\n      path: " + auditPath + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))
	t.Setenv("GRAPHGATE_AUDIT_KEY", hex.EncodeToString(bytes.Repeat([]byte{3}, audit.KeySize)))
	return cfgPath, auditPath
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailed
}

func TestCheck_Allowed(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	out, _, err := execute(t, "check", "--config", cfgPath, "MATCH (n:Person) RETURN n.name LIMIT 5")
	require.NoError(t, err)

	var res gateway.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Allowed)
	assert.Equal(t, audit.OutcomeAllowed, res.Outcome)
	require.NotNil(t, res.Complexity)
}

func TestCheck_RejectedExitsWithFindings(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	out, _, err := execute(t, "check", "--config", cfgPath, "--compact",
		"MATCH (n) RETURN n; MATCH (m) DETACH DELETE m")
	assert.Equal(t, exitFindings, exitCode(err))

	var res gateway.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Allowed)
	assert.Equal(t, audit.OutcomeSanitizerBlocked, res.Outcome)
	assert.Equal(t, "statement_chaining", res.Code)
}

func TestCheck_Params(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, _, err := execute(t, "check", "--config", cfgPath, "--params", `{"name":"Ada"}`,
		"MATCH (n:Person {name: $name}) RETURN n LIMIT 1")
	require.NoError(t, err)

	_, _, err = execute(t, "check", "--config", cfgPath, "--params", `{not json`, "MATCH (n) RETURN n LIMIT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--params")
}

func TestAuditVerify_CheckTrail(t *testing.T) {
	cfgPath, auditPath := writeConfig(t)
	for _, q := range []string{
		"MATCH (n) RETURN n LIMIT 1",
		"MATCH (n) RETURN n; MATCH (m) RETURN m",
	} {
		_, _, _ = execute(t, "check", "--config", cfgPath, q)
	}

	out, _, err := execute(t, "audit", "verify", "--file", auditPath)
	require.NoError(t, err)
	// Every CLI invocation starts a new chain segment.
	assert.Contains(t, out, "chain intact (2 events)")

	out, _, err = execute(t, "audit", "verify", "--file", auditPath, "--json")
	require.NoError(t, err)
	var res AuditVerifyResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Valid)
	assert.Equal(t, 2, res.Events)
}

func TestAuditVerify_Tampered(t *testing.T) {
	cfgPath, auditPath := writeConfig(t)
	_, _, err := execute(t, "check", "--config", cfgPath, "MATCH (n) RETURN n LIMIT 1")
	require.NoError(t, err)

	data, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	require.Contains(t, string(data), `"outcome":"allowed"`)
	tampered := strings.Replace(string(data), `"outcome":"allowed"`, `"outcome":"success"`, 1)
	require.NoError(t, os.WriteFile(auditPath, []byte(tampered), 0o600))

	out, _, err := execute(t, "audit", "verify", "--file", auditPath)
	assert.Equal(t, exitFindings, exitCode(err))
	assert.Contains(t, out, "chain broken")
}

func TestAuditVerify_Flags(t *testing.T) {
	t.Setenv("GRAPHGATE_AUDIT_KEY", hex.EncodeToString(bytes.Repeat([]byte{3}, audit.KeySize)))
	_, _, err := execute(t, "audit", "verify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of")

	_, _, err = execute(t, "audit", "verify", "--file", "a.jsonl", "--badger", "db")
	require.Error(t, err)

	_, _, err = execute(t, "audit", "verify", "--file", "a.jsonl", "--key-env", "GRAPHGATE_TEST_UNSET_KEY")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not set")

	_, _, err = execute(t, "audit", "verify", "--badger", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestRules(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "missing.yaml")
	out, _, err := execute(t, "rules", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "sha256:")
	assert.Contains(t, out, "statement_chaining")

	out, _, err = execute(t, "rules", "--config", cfgPath, "--json")
	require.NoError(t, err)
	var res RulesResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, res.Fingerprint, sanitizer.Fingerprint())
	assert.NotEmpty(t, res.Rules)
}

func TestNewRuntime_StdoutAudit(t *testing.T) {
	cfg := config.Default()
	var auditOut bytes.Buffer
	rt, err := newRuntime(context.Background(), cfg, &auditOut, io.Discard)
	require.NoError(t, err)

	res, err := rt.gw.Evaluate(context.Background(), "MATCH (n) RETURN n LIMIT 1", nil, "alice", time.Time{})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	require.NoError(t, rt.Close(context.Background()))

	var ev audit.Event
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(auditOut.Bytes()), &ev))
	assert.Equal(t, res.RequestID, ev.RequestID)
	assert.Equal(t, uint64(1), ev.Chain.Seq)
	assert.Equal(t, []string{"stdout"}, rt.audit.Sinks())
}

func TestServe_RejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  burst: -1\n"), 0o600))
	_, _, err := execute(t, "serve", "--config", path)
	require.Error(t, err)
	assert.True(t, config.IsConfigError(err))
}
