package stream

import (
	"context"
	"errors"
	"iter"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldapaugment/internal/ldap"
)

// FilterOptions configures Filter.
type FilterOptions struct {
	Domain     string
	Filter     string // Template; expanded field values are filter-escaped
	Attributes []string
	BaseDN     string // Template; expanded field values are DN-escaped. Defaults to the stanza's basedn
	Scope      ldap.SearchScope
	Limit      int // Per input record; zero is unbounded
	Decode     *bool
}

// Filter runs a search built from each record and emits a copy of the record per matching
// entry, with the entry's attributes merged in. Records that produce no search are dropped
// with a warning.
func Filter(ctx context.Context, domains Domains, opts FilterOptions, records iter.Seq2[*Record, error]) iter.Seq2[*Record, error] {
	attrs := attributeList(opts.Attributes)
	domainTmpl := domainTemplate(opts.Domain)
	filterTmpl := ParseTemplate(opts.Filter)
	baseTmpl := ParseTemplate(opts.BaseDN)

	return func(yield func(*Record, error) bool) {
		logger := ldap.NewLogger(ctx, "stream")

		for rec, err := range records {
			if err != nil {
				yield(nil, err)
				return
			}

			domain, ok := domainTmpl.Expand(rec, nil)
			if !ok {
				logger.Warn("Record has no domain, skipping it", map[string]any{
					"domain": domainTmpl.String(),
				})
				continue
			}

			filter, ok := filterTmpl.Expand(rec, goldap.EscapeFilter)
			if !ok {
				logger.Warn("Search filter expanded to nothing, skipping record", map[string]any{
					"search": filterTmpl.String(),
				})
				continue
			}

			conn, err := domains.Select(ctx, domain)
			if errors.Is(err, ldap.ErrDomainNotConfigured) {
				logger.Warn("Domain is not configured, skipping record", map[string]any{
					"search": filter,
					"domain": domain,
				})
				continue
			}
			if err != nil {
				yield(nil, err)
				return
			}

			baseDN := conn.Config.BaseDN
			if opts.BaseDN != "" {
				baseDN, _ = baseTmpl.Expand(rec, ldap.EscapeDNValue)
			}
			if baseDN == "" {
				logger.Warn("Search base is empty, skipping record", map[string]any{
					"search": filter,
					"domain": domain,
				})
				continue
			}

			req := &ldap.SearchRequest{
				BaseDN:     baseDN,
				Scope:      opts.Scope,
				Filter:     filter,
				Attributes: attrs,
				SizeLimit:  opts.Limit,
			}
			decode := decodeFor(opts.Decode, conn.Config)

			for entry, err := range ldap.PagedSearch(ctx, conn, req, conn.Config.PageSize) {
				if ldap.IsNotFoundError(err) {
					logger.Warn("Search base does not exist, skipping record", map[string]any{
						"search": filter,
						"domain": domain,
						"basedn": baseDN,
					})
					break
				}
				if err != nil {
					yield(nil, err)
					return
				}

				out := rec.Copy()
				if setAttributes(out, entry, decode, attrs, "") == 0 {
					continue
				}
				if !yield(out, nil) {
					return
				}
			}
		}
	}
}
