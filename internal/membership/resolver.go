package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldapaugment/internal/ldap"
)

// DefaultMemberAttributes are requested for every entry found through memberOf.
var DefaultMemberAttributes = []string{
	"groupType",
	"msDS-PrincipalName",
	"objectSid",
	"primaryGroupID",
	"sAMAccountName",
}

// ErrNotAGroup is returned by LookupGroup when the root entry exists but is not a group.
var ErrNotAGroup = errors.New("entry is not a group")

// Directory is the view of one domain connection the resolver searches through.
type Directory struct {
	Searcher ldap.Searcher
	BaseDN   string
	PageSize uint32
	Decode   bool
}

// DirectoryFor builds the Directory for a selected connection.
func DirectoryFor(conn *ldap.Connection, decode bool) Directory {
	return Directory{
		Searcher: conn,
		BaseDN:   conn.Config.BaseDN,
		PageSize: conn.Config.PageSize,
		Decode:   decode,
	}
}

// FilterError is a malformed member filter. It aborts resolution.
type FilterError struct {
	Filter string
	Err    error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Filter)
}

func (e *FilterError) Unwrap() error {
	return e.Err
}

// Resolver expands group membership breadth first. It also remembers which root groups
// have been processed during the current record stream; Begin and End bound that state.
type Resolver struct {
	logger    ldap.Logger
	processed map[string]struct{}
}

// NewResolver creates a resolver logging through logger.
func NewResolver(logger ldap.Logger) *Resolver {
	return &Resolver{
		logger:    logger,
		processed: make(map[string]struct{}),
	}
}

// Begin starts a record stream with an empty processed set.
func (r *Resolver) Begin() {
	r.processed = make(map[string]struct{})
}

// End discards the processed set of the finished stream.
func (r *Resolver) End() {
	clear(r.processed)
}

// Processed reports whether root name was already resolved in this stream.
func (r *Resolver) Processed(name string) bool {
	_, ok := r.processed[processedKey(name)]
	return ok
}

// MarkProcessed records root name as resolved.
func (r *Resolver) MarkProcessed(name string) {
	r.processed[processedKey(name)] = struct{}{}
}

func processedKey(name string) string {
	return ldap.CanonicalDN(name)
}

// LookupGroup finds the root group named by identity, which may be a DN or any identifier
// ldap.ResolveDN accepts. A missing entry yields an error satisfying ldap.IsNotFoundError;
// an entry that is not a group yields ErrNotAGroup.
func (r *Resolver) LookupGroup(ctx context.Context, dir Directory, identity string) (*Group, error) {
	dn, err := ldap.ResolveDN(ctx, dir.Searcher, dir.BaseDN, identity)
	if err != nil {
		return nil, err
	}

	req := &ldap.SearchRequest{
		BaseDN:     dn,
		Scope:      ldap.ScopeBaseObject,
		Filter:     "(objectCategory=group)",
		Attributes: []string{"objectSid"},
	}

	for entry, err := range ldap.PagedSearch(ctx, dir.Searcher, req, dir.PageSize) {
		if err != nil {
			return nil, err
		}

		// The RID is always needed in text form, whatever the caller's decode setting.
		sid, _ := ldap.AttributeValue(ldap.DecodeEntry(entry, true), "objectSid")
		return &Group{DN: entry.DN, SecurityID: textOf(sid)}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrNotAGroup, dn)
}

// Resolve discovers the direct and transitively nested members of root.
//
// Groups are expanded level by level in discovery order. A group is expanded at most
// once per Resolve; meeting an already-registered group again records a back-edge against
// the group being expanded and does not query it a second time. Attributes defaults to
// DefaultMemberAttributes.
func (r *Resolver) Resolve(ctx context.Context, dir Directory, root Group, attributes []string) (*Result, error) {
	if len(attributes) == 0 {
		attributes = DefaultMemberAttributes
	}

	res := newResult()

	if err := r.expandDirect(ctx, dir, root.DN, attributes, res, &res.Direct); err != nil {
		return nil, err
	}

	frontier := groupsOf(res.Direct)
	for level := 1; len(frontier) > 0; level++ {
		start := len(res.Nested)
		for _, group := range frontier {
			if err := r.expandDirect(ctx, dir, group.DN, attributes, res, &res.Nested); err != nil {
				return nil, err
			}
		}

		r.logger.Trace("Expanded nesting level", map[string]any{
			"root":    root.DN,
			"level":   level,
			"groups":  len(frontier),
			"members": len(res.Nested) - start,
		})
		frontier = groupsOf(res.Nested[start:])
	}

	r.logger.Debug("Resolved group membership", map[string]any{
		"root":   root.DN,
		"direct": len(res.Direct),
		"nested": len(res.Nested),
		"groups": len(res.Cycles),
		"cycles": len(res.Errors()),
	})

	return res, nil
}

// expandDirect appends the members of group to out.
func (r *Resolver) expandDirect(ctx context.Context, dir Directory, group string, attributes []string, res *Result, out *[]Member) error {
	if res.Visited(group) {
		return nil
	}
	idx := res.register(group)

	filter := fmt.Sprintf("(memberOf=%s)", goldap.EscapeFilter(group))
	req := &ldap.SearchRequest{
		BaseDN:     dir.BaseDN,
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     filter,
		Attributes: attributes,
	}

	for entry, err := range ldap.PagedSearch(ctx, dir.Searcher, req, dir.PageSize) {
		if err != nil {
			switch {
			case ldap.IsFilterError(err):
				return &FilterError{Filter: filter, Err: err}
			case ldap.IsNotFoundError(err), ldap.IsCommunicationError(err):
				ldap.LogLDAPError(r.logger, "Group expansion failed, continuing without its members", "expand_group", err, map[string]any{
					"group":  group,
					"filter": filter,
				})
				return nil
			default:
				return err
			}
		}

		m, ok := memberFromEntry(entry, dir.Decode)
		if !ok {
			continue
		}
		if m.IsGroup && res.Visited(m.DN) {
			res.addBackEdge(idx, m.DN)
		}
		*out = append(*out, m)
	}

	return nil
}

// memberFromEntry reports false for entries without any usable attribute.
func memberFromEntry(entry *goldap.Entry, decode bool) (Member, bool) {
	attrs := ldap.DecodeEntry(entry, decode)
	if attrs == nil {
		return Member{}, false
	}

	m := Member{
		DN:          entry.DN,
		AccountName: "",
	}

	_, m.IsGroup = ldap.AttributeValue(attrs, "groupType")
	if v, _ := ldap.AttributeValue(attrs, "msDS-PrincipalName"); v != nil {
		if principal, ok := v.(string); ok {
			m.DomainLabel, _, _ = strings.Cut(principal, `\`)
		}
	}
	sid, _ := ldap.AttributeValue(attrs, "objectSid")
	m.SecurityID = textOf(sid)
	pgid, _ := ldap.AttributeValue(attrs, "primaryGroupID")
	m.PrimaryGroupID = textOf(pgid)
	if name, ok := ldap.AttributeValue(attrs, "sAMAccountName"); ok {
		m.AccountName = name
	}

	return m, true
}

func textOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func groupsOf(members []Member) []Member {
	var groups []Member
	for _, m := range members {
		if m.IsGroup {
			groups = append(groups, m)
		}
	}
	return groups
}
