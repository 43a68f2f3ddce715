// Package ldaptest provides in-memory directories for tests. It does not import the
// client package so that package's own tests can use it.
package ldaptest

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
)

// Request is a search as seen by a Searcher.
type Request struct {
	BaseDN     string
	Scope      int
	Filter     string
	Attributes []string
	PageSize   uint32
	Cookie     string
}

// Searcher answers searches from Handler, splitting each answer into pages as a server
// honoring the paged results control does. Cookies are the decimal offset of the next entry.
type Searcher struct {
	Handler func(req *ldap.SearchRequest) ([]*ldap.Entry, error)

	mu        sync.Mutex
	requests  []Request
	abandoned int
	closed    bool
}

// Search implements the client package's Searcher.
func (s *Searcher) Search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var pageSize uint32
	var cookie string
	paging, _ := ldap.FindControl(req.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
	if paging != nil {
		pageSize = paging.PagingSize
		cookie = string(paging.Cookie)
	}

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		BaseDN:     req.BaseDN,
		Scope:      req.Scope,
		Filter:     req.Filter,
		Attributes: req.Attributes,
		PageSize:   pageSize,
		Cookie:     cookie,
	})
	if paging != nil && pageSize == 0 {
		s.abandoned++
		s.mu.Unlock()
		return &ldap.SearchResult{}, nil
	}
	s.mu.Unlock()

	entries, err := s.Handler(req)
	if err != nil {
		return nil, err
	}

	if paging == nil {
		return &ldap.SearchResult{Entries: entries}, nil
	}

	offset := 0
	if cookie != "" {
		if offset, err = strconv.Atoi(cookie); err != nil {
			return nil, ldap.NewError(ldap.LDAPResultUnwillingToPerform, err)
		}
	}
	end := min(offset+int(pageSize), len(entries))
	offset = min(offset, end)

	ctrl := ldap.NewControlPaging(pageSize)
	if end < len(entries) {
		ctrl.SetCookie([]byte(strconv.Itoa(end)))
	}

	return &ldap.SearchResult{
		Entries:  entries[offset:end],
		Controls: []ldap.Control{ctrl},
	}, nil
}

// Close marks the searcher closed.
func (s *Searcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Searcher) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Requests returns every search received so far, abandon requests included.
func (s *Searcher) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Filters returns the filters of received searches that started a new result set.
func (s *Searcher) Filters() []string {
	var out []string
	for _, r := range s.Requests() {
		if r.Cookie == "" {
			out = append(out, r.Filter)
		}
	}
	return out
}

// Abandoned counts zero-size requests releasing a paged search.
func (s *Searcher) Abandoned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abandoned
}

// Entries returns a Searcher that answers every search with entries.
func Entries(entries ...*ldap.Entry) *Searcher {
	return &Searcher{
		Handler: func(*ldap.SearchRequest) ([]*ldap.Entry, error) {
			return entries, nil
		},
	}
}

// Failing returns a Searcher that answers every search with err.
func Failing(err error) *Searcher {
	return &Searcher{
		Handler: func(*ldap.SearchRequest) ([]*ldap.Entry, error) {
			return nil, err
		},
	}
}

// Entry builds an entry from name/value pairs; repeated names add values.
func Entry(dn string, attrs ...string) *ldap.Entry {
	e := &ldap.Entry{DN: dn}
	for i := 0; i+1 < len(attrs); i += 2 {
		addValue(e, attrs[i], []byte(attrs[i+1]))
	}
	return e
}

func addValue(e *ldap.Entry, name string, value []byte) {
	for _, a := range e.Attributes {
		if strings.EqualFold(a.Name, name) {
			a.Values = append(a.Values, string(value))
			a.ByteValues = append(a.ByteValues, value)
			return
		}
	}
	e.Attributes = append(e.Attributes, &ldap.EntryAttribute{
		Name:       name,
		Values:     []string{string(value)},
		ByteValues: [][]byte{value},
	})
}
