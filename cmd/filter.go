package cmd

import (
	"context"
	"iter"

	"github.com/spf13/cobra"

	"github.com/isometry/ldapaugment/internal/ldap"
	"github.com/isometry/ldapaugment/internal/stream"
)

// searchOptions are the flags of commands that issue a search of their own.
type searchOptions struct {
	filter string
	baseDN string
	scope  string
	limit  int
}

func (o *searchOptions) register(cmd *cobra.Command, filterUsage, baseUsage string) {
	cmd.Flags().StringVar(&o.filter, "search", "", filterUsage)
	cmd.Flags().StringVar(&o.baseDN, "basedn", "", baseUsage)
	cmd.Flags().StringVar(&o.scope, "scope", "sub", "Search scope: base, one or sub")
	cmd.Flags().IntVar(&o.limit, "limit", 0, "Maximum number of entries to return; 0 is unlimited")
}

func (o *searchOptions) parseScope() (ldap.SearchScope, error) {
	return ldap.ParseSearchScope(o.scope)
}

func newFilterCmd(root *rootOptions, deps *Dependencies) *cobra.Command {
	var (
		common commandOptions
		search searchOptions
	)

	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Search the directory once per input record",
		Long: `filter builds a search from each input record by substituting $field$ references
with the record's values, and emits a copy of the record for every matching entry with
the entry's attributes added. Records that match nothing are dropped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, err := search.parseScope()
			if err != nil {
				return err
			}
			opts := stream.FilterOptions{
				Domain:     common.domain,
				Filter:     search.filter,
				Attributes: common.attributes,
				BaseDN:     search.baseDN,
				Scope:      scope,
				Limit:      search.limit,
				Decode:     common.decodeOverride(cmd),
			}
			return runSelected(cmd, root, deps, func(ctx context.Context, domains stream.Domains) iter.Seq2[*stream.Record, error] {
				return stream.Filter(ctx, domains, opts, stream.ReadRecords(stdin(deps)))
			})
		},
	}

	common.register(cmd)
	search.register(cmd,
		"Search filter; $field$ references are replaced by escaped record values",
		"Search base; $field$ references are replaced by escaped record values (default: the domain's basedn)")
	_ = cmd.MarkFlagRequired("search")

	return cmd
}
