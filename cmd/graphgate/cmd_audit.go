package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/straja-ai/graphgate/internal/audit"
	"github.com/straja-ai/graphgate/internal/logging"
)

// AuditVerifyResult is the JSON form of "graphgate audit verify".
type AuditVerifyResult struct {
	Source string `json:"source"`
	Valid  bool   `json:"valid"`
	Events int    `json:"events"`
	Error  string `json:"error,omitempty"`
}

func newAuditVerifyCmd() *cobra.Command {
	var (
		file     string
		badgerDB string
		keyEnv   string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain of an audit trail",
		Long: `verify recomputes the HMAC chain of a file_jsonl or badger audit trail.
The key is read hex-encoded from --key-env. It exits 1 when the chain is broken.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (badgerDB == "") {
				return errors.New("exactly one of --file or --badger is required")
			}
			v := strings.TrimSpace(os.Getenv(keyEnv))
			if v == "" {
				return fmt.Errorf("%s is not set", keyEnv)
			}
			key, err := audit.ParseKey(v)
			if err != nil {
				return fmt.Errorf("%s: %w", keyEnv, err)
			}

			res := AuditVerifyResult{Source: file}
			var n int
			if file != "" {
				n, err = audit.VerifyFile(file, key)
			} else {
				res.Source = "badger:" + badgerDB
				n, err = verifyBadger(cmd, badgerDB, key)
			}
			res.Events = n
			if err != nil && !errors.Is(err, audit.ErrChainBroken) {
				return err
			}
			res.Valid = err == nil
			if err != nil {
				res.Error = err.Error()
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := outputJSON(out, res, false); err != nil {
					return err
				}
			} else if res.Valid {
				fmt.Fprintf(out, "%s: chain intact (%d events)\n", res.Source, res.Events)
			} else {
				fmt.Fprintf(out, "%s: chain broken after %d events: %s\n", res.Source, res.Events, res.Error)
			}
			if !res.Valid {
				return findings()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Path to a file_jsonl audit trail")
	cmd.Flags().StringVar(&badgerDB, "badger", "", "Path to a badger audit store")
	cmd.Flags().StringVar(&keyEnv, "key-env", "GRAPHGATE_AUDIT_KEY", "Environment variable holding the hex HMAC key")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func verifyBadger(cmd *cobra.Command, path string, key []byte) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	s, err := audit.OpenBadgerSink(path, false, logging.Discard())
	if err != nil {
		return 0, err
	}
	defer s.Close(cmd.Context())
	events, err := s.Events(cmd.Context())
	if err != nil {
		return 0, err
	}
	return audit.VerifySegments(events, key)
}
