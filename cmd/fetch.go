package cmd

import (
	"context"
	"iter"

	"github.com/spf13/cobra"

	"github.com/isometry/ldapaugment/internal/stream"
)

func newFetchCmd(root *rootOptions, deps *Dependencies) *cobra.Command {
	var (
		common  commandOptions
		dnField string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Add the attributes of the entry named by each input record",
		Long: `fetch reads the directory entry whose DN is held in a field of each input record
and adds the requested attributes to the record. A field holding several DNs yields one
record per DN. Records whose entry cannot be read are emitted with the attributes set
to null.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := stream.FetchOptions{
				Domain:     common.domain,
				DNField:    dnField,
				Attributes: common.attributes,
				Decode:     common.decodeOverride(cmd),
			}
			return runSelected(cmd, root, deps, func(ctx context.Context, domains stream.Domains) iter.Seq2[*stream.Record, error] {
				return stream.Fetch(ctx, domains, opts, stream.ReadRecords(stdin(deps)))
			})
		},
	}

	common.register(cmd)
	cmd.Flags().StringVar(&dnField, "dn", stream.DefaultDNField, "Field holding the DN of the entry to read")

	return cmd
}
