package cmd

import (
	"github.com/spf13/cobra"

	"github.com/isometry/ldapaugment/internal/stream"
)

func newTestConnectionCmd(root *rootOptions, deps *Dependencies) *cobra.Command {
	var domain string

	cmd := &cobra.Command{
		Use:   "testconnection",
		Short: "Bind to every server of a domain and read its base entry",
		Long: `testconnection connects to each server of the domain on its own connection,
binds, and reads the domain's base entry. It emits one record per server when all of
them answer and fails, listing every failing server, otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, err := loadDomains(cmd, root, deps)
			if err != nil {
				return err
			}
			return writeRecords(cmd, deps, stream.TestConnection(cmd.Context(), source, stream.TestConnectionOptions{
				Domain: domain,
				Probe:  deps.Probe,
				Now:    deps.Now,
			}))
		},
	}

	cmd.Flags().StringVar(&domain, "domain", stream.DefaultDomain, "Configured domain name or alias")

	return cmd
}
