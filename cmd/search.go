package cmd

import (
	"context"
	"iter"

	"github.com/spf13/cobra"

	"github.com/isometry/ldapaugment/internal/stream"
)

func newSearchCmd(root *rootOptions, deps *Dependencies) *cobra.Command {
	var (
		common commandOptions
		search searchOptions
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Generate one record per directory entry matching a search",
		Long: `search runs a single search and emits one record per matching entry, carrying
_serial, _time, _raw, host and dn followed by the entry's attributes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, err := search.parseScope()
			if err != nil {
				return err
			}
			opts := stream.SearchOptions{
				Domain:     common.domain,
				Filter:     search.filter,
				Attributes: common.attributes,
				BaseDN:     search.baseDN,
				Scope:      scope,
				Limit:      search.limit,
				Decode:     common.decodeOverride(cmd),
				Now:        deps.Now,
			}
			return runSelected(cmd, root, deps, func(ctx context.Context, domains stream.Domains) iter.Seq2[*stream.Record, error] {
				return stream.Search(ctx, domains, opts)
			})
		},
	}

	common.register(cmd)
	search.register(cmd,
		"Search filter (default "+stream.DefaultFilter+")",
		"Search base (default: the domain's basedn)")

	return cmd
}
