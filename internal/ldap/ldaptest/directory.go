package ldaptest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Directory is a small AD-like tree supporting the searches membership resolution issues:
// base-object reads, memberOf equality and single-attribute equality lookups.
type Directory struct {
	entries  []*ldap.Entry
	memberOf map[string][]string
	failures map[string]error
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		memberOf: make(map[string][]string),
		failures: make(map[string]error),
	}
}

// AddGroup adds a group entry with the given objectSid that is a member of memberOf.
func (d *Directory) AddGroup(dn, sid, name, domain string, memberOf ...string) *ldap.Entry {
	e := Entry(dn,
		"objectClass", "group",
		"objectCategory", "group",
		"groupType", "-2147483646",
		"sAMAccountName", name,
		"msDS-PrincipalName", domain+`\`+name,
	)
	addValue(e, "objectSid", EncodeSID(sid))
	d.add(e, memberOf)
	return e
}

// AddUser adds a user entry whose primary group RID is primaryGroupID.
func (d *Directory) AddUser(dn, sid, name, domain, primaryGroupID string, memberOf ...string) *ldap.Entry {
	e := Entry(dn,
		"objectClass", "user",
		"objectCategory", "person",
		"sAMAccountName", name,
		"msDS-PrincipalName", domain+`\`+name,
		"primaryGroupID", primaryGroupID,
	)
	addValue(e, "objectSid", EncodeSID(sid))
	d.add(e, memberOf)
	return e
}

// Add adds an arbitrary entry.
func (d *Directory) Add(e *ldap.Entry, memberOf ...string) {
	d.add(e, memberOf)
}

func (d *Directory) add(e *ldap.Entry, memberOf []string) {
	d.entries = append(d.entries, e)
	key := strings.ToLower(e.DN)
	d.memberOf[key] = append(d.memberOf[key], memberOf...)
}

// Fail makes every search with filter answer err.
func (d *Directory) Fail(filter string, err error) {
	d.failures[filter] = err
}

// Searcher returns a paging Searcher over the directory.
func (d *Directory) Searcher() *Searcher {
	return &Searcher{Handler: d.search}
}

func (d *Directory) search(req *ldap.SearchRequest) ([]*ldap.Entry, error) {
	if err, ok := d.failures[req.Filter]; ok {
		return nil, err
	}

	var candidates []*ldap.Entry
	switch req.Scope {
	case ldap.ScopeBaseObject:
		e := d.lookup(req.BaseDN)
		if e == nil {
			return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("0000208D: NameErr: DSID-03100241, problem 2001 (NO_OBJECT), best match of: %q", req.BaseDN))
		}
		candidates = []*ldap.Entry{e}
	default:
		for _, e := range d.entries {
			if dnWithin(e.DN, req.BaseDN) {
				candidates = append(candidates, e)
			}
		}
	}

	attr, value, err := parseEquality(req.Filter)
	if err != nil {
		return nil, ldap.NewError(ldap.LDAPResultFilterError, err)
	}

	var out []*ldap.Entry
	for _, e := range candidates {
		if d.matches(e, attr, value) {
			out = append(out, project(e, req.Attributes))
		}
	}
	return out, nil
}

func (d *Directory) lookup(dn string) *ldap.Entry {
	for _, e := range d.entries {
		if strings.EqualFold(e.DN, dn) {
			return e
		}
	}
	return nil
}

func (d *Directory) matches(e *ldap.Entry, attr, value string) bool {
	switch {
	case value == "*" && strings.EqualFold(attr, "objectClass"):
		return true
	case strings.EqualFold(attr, "memberOf"):
		for _, g := range d.memberOf[strings.ToLower(e.DN)] {
			if strings.EqualFold(g, value) {
				return true
			}
		}
		return false
	case strings.EqualFold(attr, "distinguishedName"):
		return strings.EqualFold(e.DN, value)
	}

	for _, a := range e.Attributes {
		if !strings.EqualFold(a.Name, attr) {
			continue
		}
		for _, v := range a.Values {
			if value == "*" || strings.EqualFold(v, value) {
				return true
			}
		}
	}
	return false
}

// parseEquality understands (attr=value) with filter escapes undone.
func parseEquality(filter string) (string, string, error) {
	if !strings.HasPrefix(filter, "(") || !strings.HasSuffix(filter, ")") {
		return "", "", errors.New("unbalanced parentheses")
	}
	attr, value, ok := strings.Cut(filter[1:len(filter)-1], "=")
	if !ok || attr == "" {
		return "", "", errors.New("missing equality")
	}
	if value == "*" {
		return attr, value, nil
	}
	return attr, unescapeFilter(value), nil
}

func unescapeFilter(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+2 < len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(n))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func dnWithin(dn, base string) bool {
	if base == "" {
		return true
	}
	dn, base = strings.ToLower(dn), strings.ToLower(base)
	return dn == base || strings.HasSuffix(dn, ","+base)
}

// project keeps the requested attributes; none or "*" keeps them all.
func project(e *ldap.Entry, attributes []string) *ldap.Entry {
	if len(attributes) == 0 {
		return e
	}
	out := &ldap.Entry{DN: e.DN}
	for _, want := range attributes {
		if want == "*" {
			return e
		}
		for _, a := range e.Attributes {
			if strings.EqualFold(a.Name, want) {
				out.Attributes = append(out.Attributes, a)
			}
		}
	}
	return out
}

// EncodeSID renders an S-1-... string in the binary objectSid layout.
func EncodeSID(sid string) []byte {
	parts := strings.Split(sid, "-")
	if len(parts) < 3 || parts[0] != "S" {
		return []byte(sid)
	}

	revision, _ := strconv.ParseUint(parts[1], 10, 8)
	authority, _ := strconv.ParseUint(parts[2], 10, 48)
	subs := parts[3:]

	b := make([]byte, 8+4*len(subs))
	b[0] = byte(revision)
	b[1] = byte(len(subs))
	for i := 0; i < 6; i++ {
		b[7-i] = byte(authority >> (8 * i))
	}
	for i, s := range subs {
		n, _ := strconv.ParseUint(s, 10, 32)
		binary.LittleEndian.PutUint32(b[8+4*i:], uint32(n))
	}
	return b
}
