package stream

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/isometry/ldapaugment/internal/ldap"
	"github.com/isometry/ldapaugment/internal/membership"
)

// DefaultGroupField holds the root group identity when GroupOptions.GroupField is empty.
const DefaultGroupField = "distinguishedName"

// GroupOptions configures Group.
type GroupOptions struct {
	Domain     string   // Domain template, DefaultDomain when empty
	GroupField string   // Field holding the DN or other identifier of the root group
	Decode     *bool    // Overrides the stanza's decode setting
	Attributes []string // Member attributes, membership.DefaultMemberAttributes when empty
}

// Group augments every record naming a group with that group's membership closure. Records
// that cannot be resolved pass through unchanged with a warning, so exactly one record is
// emitted per input. Roots are resolved once per stream; later records naming the same
// group pass through.
func Group(ctx context.Context, domains Domains, opts GroupOptions, records iter.Seq2[*Record, error]) iter.Seq2[*Record, error] {
	field := opts.GroupField
	if field == "" {
		field = DefaultGroupField
	}
	domainTmpl := domainTemplate(opts.Domain)

	return func(yield func(*Record, error) bool) {
		logger := ldap.NewLogger(ctx, "stream")
		resolver := membership.NewResolver(ldap.NewLogger(ctx, "membership"))
		resolver.Begin()
		defer resolver.End()

		var in, augmented int
		defer func() {
			logger.Debug("Group stream finished", map[string]any{
				"records":   in,
				"augmented": augmented,
			})
		}()

		for rec, err := range records {
			if err != nil {
				yield(nil, err)
				return
			}
			in++

			ok, err := augmentGroup(ctx, domains, resolver, logger, rec, field, domainTmpl, opts)
			if err != nil {
				yield(nil, err)
				return
			}
			if ok {
				augmented++
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// augmentGroup resolves the root named by rec and augments rec in place. It reports false
// when rec was left unchanged; an error aborts the stream.
func augmentGroup(ctx context.Context, domains Domains, resolver *membership.Resolver, logger ldap.Logger, rec *Record, field string, domainTmpl *Template, opts GroupOptions) (bool, error) {
	name, ok := FieldText(rec, field)
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		logger.Warn("Record has no group identity, passing it through", map[string]any{
			"field": field,
		})
		return false, nil
	}

	if resolver.Processed(name) {
		logger.Debug("Group already resolved in this stream, passing record through", map[string]any{
			"group": name,
		})
		return false, nil
	}

	domain, ok := domainTmpl.Expand(rec, nil)
	if !ok {
		logger.Warn("Record has no domain, passing it through", map[string]any{
			"group":  name,
			"domain": domainTmpl.String(),
		})
		return false, nil
	}

	conn, err := domains.Select(ctx, domain)
	if errors.Is(err, ldap.ErrDomainNotConfigured) {
		logger.Warn("Domain is not configured, passing record through", map[string]any{
			"field":  field,
			"group":  name,
			"domain": domain,
		})
		return false, nil
	}
	if err != nil {
		return false, err
	}

	dir := membership.DirectoryFor(conn, decodeFor(opts.Decode, conn.Config))

	root, err := resolver.LookupGroup(ctx, dir, name)
	switch {
	case err == nil:
	case ldap.IsNotFoundError(err), errors.Is(err, membership.ErrNotAGroup), ldap.IsCommunicationError(err):
		ldap.LogLDAPError(logger, "Group lookup failed, passing record through", "lookup_group", err, map[string]any{
			"field":  field,
			"group":  name,
			"domain": domain,
		})
		return false, nil
	default:
		return false, err
	}

	res, err := resolver.Resolve(ctx, dir, *root, opts.Attributes)
	if err != nil {
		return false, err
	}

	membership.Augment(rec, *root, res, logger)
	resolver.MarkProcessed(name)
	if !ldap.EqualDN(root.DN, name) {
		resolver.MarkProcessed(root.DN)
	}

	return true, nil
}
