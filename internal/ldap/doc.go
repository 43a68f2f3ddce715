/*
Package ldap provides the Active Directory access layer used to augment record streams.

# Architecture Overview

The package is organized into a few components:

  - Conn: one bound connection with retry, reconnect and StartTLS support
  - Selector: lazily opened connections keyed by configured domain
  - PagedSearch: lazy, page-by-page iteration over search results
  - Decoding: attribute values turned into transport-safe text (SID, GUID, FILETIME)
  - Identifiers: DN, GUID, SID, UPN and SAM account name detection and lookup

# Connection Management

Servers come from configuration or, when none are listed, from DNS SRV records:

  - _ldaps._tcp, then _ldap._tcp, then _gc._tcp
  - Retry with exponential backoff for transport failures
  - Password, anonymous and Kerberos (GSSAPI) authentication

A Conn carries one outstanding request at a time. Selector hands out the same Conn
for every record of a domain and is not safe for concurrent use.

# Paged Searches

PagedSearch requests the next page only once the consumer has taken every entry of
the current one, so a slow consumer paces directory round trips. Stopping early
releases the server-side cursor.

# Identity Comparison

CanonicalDN is the comparison key for distinguished names: attribute types are
lower-cased, values case-folded and re-escaped, and multi-valued RDNs sorted.

# Error Handling

The package provides structured error handling through LDAPError:

  - Categorized errors (connection, authentication, not found, filter, etc.)
  - Retryable error classification
  - Operator-facing bind failure messages for AD sub-codes

# Example Usage

	cfg := ldap.DefaultConfig()
	cfg.Name = "example.com"
	cfg.BaseDN = "DC=example,DC=com"
	cfg.BindDN = "svc-ldap@example.com"
	cfg.Password = password

	conn, err := ldap.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := &ldap.SearchRequest{
		BaseDN: cfg.BaseDN,
		Scope:  ldap.ScopeWholeSubtree,
		Filter: "(objectClass=group)",
	}
	for entry, err := range ldap.PagedSearch(ctx, conn, req, cfg.PageSize) {
		if err != nil {
			return err
		}
		fmt.Println(entry.DN)
	}
*/
package ldap
