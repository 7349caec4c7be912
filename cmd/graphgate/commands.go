package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "graphgate",
		Short: "A safety gateway for graph database queries",
		Long: `graphgate sanitizes, scores, rate limits and audits graph queries
before they reach the database.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "graphgate.yaml", "Path to the graphgate config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newRulesCmd())

	audit := &cobra.Command{
		Use:   "audit",
		Short: "Inspect audit trails",
	}
	audit.AddCommand(newAuditVerifyCmd())
	root.AddCommand(audit)
	return root
}
