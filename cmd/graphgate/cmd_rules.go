package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/straja-ai/graphgate/internal/sanitizer"
)

// RulesResult is the JSON form of "graphgate rules".
type RulesResult struct {
	Fingerprint string         `json:"fingerprint"`
	Rules       []RuleListItem `json:"rules"`
}

type RuleListItem struct {
	ID       string   `json:"id"`
	Source   string   `json:"source"`
	Matchers []string `json:"matchers"`
	Params   bool     `json:"params"`
	Message  string   `json:"message"`
}

// newRulesCmd lists the rules compiled from the embedded table and the config,
// with the sha256 fingerprint of the embedded table.
func newRulesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the compiled sanitizer rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := sanitizer.New(cfg)
			if err != nil {
				return err
			}

			res := RulesResult{Fingerprint: sanitizer.Fingerprint()}
			for _, r := range s.Rules() {
				res.Rules = append(res.Rules, RuleListItem{
					ID:       string(r.ID),
					Source:   r.Source,
					Matchers: r.Matchers,
					Params:   r.Params,
					Message:  r.Message,
				})
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return outputJSON(out, res, false)
			}
			fmt.Fprintf(out, "Embedded rule table: %s\n\n", res.Fingerprint)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSOURCE\tMATCHERS\tPARAMS")
			for _, r := range res.Rules {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", r.ID, r.Source, strings.Join(r.Matchers, ","), r.Params)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print rules as JSON")
	return cmd
}
