package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var (
		caller  string
		params  string
		compact bool
	)
	cmd := &cobra.Command{
		Use:   "check QUERY",
		Short: "Evaluate a query against the gates without executing it",
		Long: `check runs the sanitizer, rate limit, complexity and access gates on
QUERY and prints the result as JSON. It exits 1 when the query is rejected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p map[string]any
			if params != "" {
				if err := json.Unmarshal([]byte(params), &p); err != nil {
					return fmt.Errorf("--params: %w", err)
				}
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// Audit records go to stderr so stdout carries only the result.
			rt, err := newRuntime(cmd.Context(), cfg, cmd.ErrOrStderr(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			res, err := rt.gw.Evaluate(cmd.Context(), args[0], p, caller, time.Time{})
			if err != nil {
				return err
			}
			if err := outputJSON(cmd.OutOrStdout(), res, compact); err != nil {
				return err
			}
			if !res.Allowed {
				return findings()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&caller, "caller", "cli", "Caller id used for rate limiting and audit")
	cmd.Flags().StringVar(&params, "params", "", "Query parameters as a JSON object")
	cmd.Flags().BoolVar(&compact, "compact", false, "Print compact JSON")
	return cmd
}
