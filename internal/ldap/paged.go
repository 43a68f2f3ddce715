package ldap

import (
	"context"
	"iter"

	"github.com/go-ldap/ldap/v3"
)

// DefaultPageSize is used when a caller passes a zero page size.
const DefaultPageSize = 1000

// PagedSearch runs req over s with the simple paged results control. Entries are yielded
// in server order; the next page is requested only after the consumer has taken every
// entry of the current one. A failed round trip yields (nil, err) and ends the sequence,
// so a base that does not exist surfaces as an error satisfying IsNotFoundError rather
// than as an empty result. The sequence issues the search anew each time it is ranged.
func PagedSearch(ctx context.Context, s Searcher, req *SearchRequest, pageSize uint32) iter.Seq2[*ldap.Entry, error] {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}

	return func(yield func(*ldap.Entry, error) bool) {
		logger := NewLogger(ctx, "ldap")

		ldapReq := req.toLDAP()
		paging := ldap.NewControlPaging(pageSize)
		ldapReq.Controls = append(ldapReq.Controls, paging)

		var pages, total, referrals int
		for {
			pages++
			logger.Trace("Requesting page", map[string]any{
				"page":      pages,
				"base_dn":   req.BaseDN,
				"filter":    req.Filter,
				"page_size": pageSize,
			})

			res, err := s.Search(ctx, ldapReq)
			if err != nil {
				yield(nil, WrapError("search", err))
				return
			}
			referrals += len(res.Referrals)

			cookie := responseCookie(res)

			for _, entry := range res.Entries {
				total++
				if !yield(entry, nil) {
					abandonPagedSearch(ctx, s, ldapReq, paging, cookie)
					return
				}
				if req.SizeLimit > 0 && total >= req.SizeLimit {
					abandonPagedSearch(ctx, s, ldapReq, paging, cookie)
					return
				}
			}

			if len(cookie) == 0 {
				break
			}
			paging.SetCookie(cookie)
		}

		logger.Debug("Paged search completed", map[string]any{
			"base_dn":           req.BaseDN,
			"filter":            req.Filter,
			"pages":             pages,
			"entries":           total,
			"referrals_skipped": referrals,
		})
	}
}

// responseCookie returns the paging cookie of a response, nil when the search is complete.
func responseCookie(res *ldap.SearchResult) []byte {
	ctrl, ok := ldap.FindControl(res.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
	if !ok {
		return nil
	}
	return ctrl.Cookie
}

// abandonPagedSearch releases server-side paging state with a zero-size request (RFC 2696).
func abandonPagedSearch(ctx context.Context, s Searcher, req *ldap.SearchRequest, paging *ldap.ControlPaging, cookie []byte) {
	if len(cookie) == 0 {
		return
	}
	paging.PagingSize = 0
	paging.SetCookie(cookie)
	if _, err := s.Search(ctx, req); err != nil {
		NewLogger(ctx, "ldap").Debug("Abandoning paged search failed", map[string]any{
			"error": err.Error(),
		})
	}
}
