package stream

import (
	"context"
	"errors"
	"iter"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldapaugment/internal/ldap"
)

// DefaultDNField holds the DN to fetch when FetchOptions.DNField is empty.
const DefaultDNField = "distinguishedName"

// FetchOptions configures Fetch.
type FetchOptions struct {
	Domain     string
	DNField    string
	Attributes []string
	Decode     *bool
}

// Fetch reads the entry named by each record's DN field and merges its attributes into the
// record. A list-valued DN field yields one record per value. Records whose entry cannot be
// read are still emitted, with every requested attribute set to null.
func Fetch(ctx context.Context, domains Domains, opts FetchOptions, records iter.Seq2[*Record, error]) iter.Seq2[*Record, error] {
	field := opts.DNField
	if field == "" {
		field = DefaultDNField
	}
	attrs := attributeList(opts.Attributes)
	domainTmpl := domainTemplate(opts.Domain)

	return func(yield func(*Record, error) bool) {
		logger := ldap.NewLogger(ctx, "stream")

		// unresolved emits rec with the requested attributes cleared.
		unresolved := func(rec *Record, msg string, fields map[string]any) bool {
			fields["dn_field"] = field
			logger.Warn(msg, fields)
			setAttributes(rec, nil, false, attrs, nil)
			return yield(rec, nil)
		}

		for rec, err := range records {
			if err != nil {
				yield(nil, err)
				return
			}

			dns := FieldValues(rec, field)
			if len(dns) == 0 || (len(dns) == 1 && strings.TrimSpace(dns[0]) == "") {
				if !unresolved(rec, "Record has no DN, emitting it without attributes", map[string]any{}) {
					return
				}
				continue
			}

			domain, ok := domainTmpl.Expand(rec, nil)
			if !ok {
				if !unresolved(rec, "Record has no domain, emitting it without attributes", map[string]any{}) {
					return
				}
				continue
			}

			conn, err := domains.Select(ctx, domain)
			if errors.Is(err, ldap.ErrDomainNotConfigured) {
				if !unresolved(rec, "Domain is not configured, emitting record without attributes", map[string]any{
					"domain": domain,
				}) {
					return
				}
				continue
			}
			if err != nil {
				yield(nil, err)
				return
			}
			decode := decodeFor(opts.Decode, conn.Config)

			for _, dn := range dns {
				out := rec
				if len(dns) > 1 {
					out = rec.Copy()
				}

				dn = strings.TrimSpace(dn)
				if dn == "" {
					if !unresolved(out, "Empty DN value, emitting record without attributes", map[string]any{
						"domain": domain,
					}) {
						return
					}
					continue
				}

				entry, err := fetchEntry(ctx, conn, dn, attrs)
				if ldap.IsNotFoundError(err) {
					if !unresolved(out, "Entry does not exist, emitting record without attributes", map[string]any{
						"domain": domain,
						"dn":     dn,
					}) {
						return
					}
					continue
				}
				if err != nil {
					yield(nil, err)
					return
				}

				out.Set(field, entry.DN)
				setAttributes(out, entry, decode, attrs, nil)
				if !yield(out, nil) {
					return
				}
			}
		}
	}
}

// fetchEntry reads one entry by DN. A DN that names nothing yields a not-found error.
func fetchEntry(ctx context.Context, conn *ldap.Connection, dn string, attrs []string) (*goldap.Entry, error) {
	req := &ldap.SearchRequest{
		BaseDN:     dn,
		Scope:      ldap.ScopeBaseObject,
		Filter:     DefaultFilter,
		Attributes: attrs,
	}
	for entry, err := range ldap.PagedSearch(ctx, conn, req, conn.Config.PageSize) {
		return entry, err
	}
	return nil, &ldap.LDAPError{
		Operation: "fetch",
		Category:  ldap.ErrorCategoryNotFound,
		Message:   "no entry returned",
		DN:        dn,
	}
}
