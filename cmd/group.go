package cmd

import (
	"context"
	"iter"
	"strings"

	"github.com/spf13/cobra"

	"github.com/isometry/ldapaugment/internal/membership"
	"github.com/isometry/ldapaugment/internal/stream"
)

func newGroupCmd(root *rootOptions, deps *Dependencies) *cobra.Command {
	var (
		common     commandOptions
		groupField string
	)

	cmd := &cobra.Command{
		Use:   "group",
		Short: "Add the transitive membership of each input group",
		Long: `group expands the membership of the group named in each input record, following
nested groups and primary group membership, and adds member_* fields listing every
member found. Each group is expanded once per run; records naming an already expanded
group, or a group that cannot be found, pass through unchanged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := stream.GroupOptions{
				Domain:     common.domain,
				GroupField: groupField,
				Decode:     common.decodeOverride(cmd),
				Attributes: common.attributes,
			}
			return runSelected(cmd, root, deps, func(ctx context.Context, domains stream.Domains) iter.Seq2[*stream.Record, error] {
				return stream.Group(ctx, domains, opts, stream.ReadRecords(stdin(deps)))
			})
		},
	}

	common.register(cmd)
	cmd.Flags().StringVar(&groupField, "groupdn", stream.DefaultGroupField,
		"Field naming the group: a DN, GUID, SID, UPN or DOMAIN\\name")
	cmd.Flags().Lookup("attrs").Usage = "Member attributes to retrieve (comma-separated); default " +
		strings.Join(membership.DefaultMemberAttributes, ",")

	return cmd
}
