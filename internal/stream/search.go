package stream

import (
	"context"
	"iter"
	"time"

	"github.com/isometry/ldapaugment/internal/ldap"
)

// DefaultFilter matches every entry.
const DefaultFilter = "(objectClass=*)"

// SearchOptions configures Search.
type SearchOptions struct {
	Domain     string
	Filter     string
	Attributes []string
	BaseDN     string // Defaults to the stanza's basedn
	Scope      ldap.SearchScope
	Limit      int // Zero is unbounded
	Decode     *bool
	Now        func() time.Time
}

// Search generates one record per entry matching the filter. Each record starts with
// _serial, _time, _raw, host and dn, followed by the decoded attributes; _raw holds those
// attributes as JSON. Entries without any attribute value are skipped.
func Search(ctx context.Context, domains Domains, opts SearchOptions) iter.Seq2[*Record, error] {
	filter := opts.Filter
	if filter == "" {
		filter = DefaultFilter
	}
	attrs := attributeList(opts.Attributes)
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(yield func(*Record, error) bool) {
		domain, _ := domainTemplate(opts.Domain).Expand(nil, nil)
		conn, err := domains.Select(ctx, domain)
		if err != nil {
			yield(nil, err)
			return
		}

		baseDN := opts.BaseDN
		if baseDN == "" {
			baseDN = conn.Config.BaseDN
		}
		if baseDN == "" {
			yield(nil, ldap.ErrEmptyBaseDN)
			return
		}

		decode := decodeFor(opts.Decode, conn.Config)
		req := &ldap.SearchRequest{
			BaseDN:     baseDN,
			Scope:      opts.Scope,
			Filter:     filter,
			Attributes: attrs,
			SizeLimit:  opts.Limit,
		}

		stamp := timestamp(now())
		serial := 0
		for entry, err := range ldap.PagedSearch(ctx, conn, req, conn.Config.PageSize) {
			if err != nil {
				yield(nil, err)
				return
			}

			attributes := NewRecord()
			if setAttributes(attributes, entry, decode, attrs, "") == 0 {
				continue
			}

			raw, err := attributes.MarshalJSON()
			if err != nil {
				yield(nil, err)
				return
			}

			rec := NewRecord()
			rec.Set("_serial", serial)
			rec.Set("_time", stamp)
			rec.Set("_raw", string(raw))
			rec.Set("host", conn.Host)
			rec.Set("dn", entry.DN)
			for _, name := range attributes.Names() {
				v, _ := attributes.Get(name)
				rec.Set(name, v)
			}
			serial++

			if !yield(rec, nil) {
				return
			}
		}
	}
}
