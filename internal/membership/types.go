package membership

import (
	"encoding/json"

	"github.com/isometry/ldapaugment/internal/ldap"
)

// Group is a root group whose membership is being resolved.
type Group struct {
	DN         string
	SecurityID string // objectSid in S-1-5-... form
}

// RID returns the group's relative identifier, the value members carry in primaryGroupID.
func (g Group) RID() string {
	return ldap.RelativeID(g.SecurityID)
}

// Member is one entry found through the memberOf relation.
type Member struct {
	DN             string
	IsGroup        bool
	DomainLabel    string // NetBIOS domain from msDS-PrincipalName
	SecurityID     string
	PrimaryGroupID string
	AccountName    any // sAMAccountName as decoded; a list if the directory returned several values
}

// CycleEntry lists the back-edges found while expanding one group.
type CycleEntry struct {
	Group   string
	Targets []string
}

// MarshalJSON renders the entry as a [group, [targets...]] pair.
func (c CycleEntry) MarshalJSON() ([]byte, error) {
	targets := c.Targets
	if targets == nil {
		targets = []string{}
	}
	return json.Marshal([]any{c.Group, targets})
}

// Result is the membership closure of one root group.
//
// Cycles doubles as the visited set: every group entered during expansion is registered
// before its members are queried, in expansion order, with an empty target list unless a
// back-edge is found. Identities are compared by ldap.CanonicalDN.
type Result struct {
	Cycles []CycleEntry
	Direct []Member
	Nested []Member

	index map[string]int
}

func newResult() *Result {
	return &Result{
		Direct: []Member{},
		Nested: []Member{},
		index:  make(map[string]int),
	}
}

// Visited reports whether the group dn has already been expanded or is being expanded.
func (r *Result) Visited(dn string) bool {
	_, ok := r.index[ldap.CanonicalDN(dn)]
	return ok
}

// CyclesFor returns the back-edges recorded against group dn.
func (r *Result) CyclesFor(dn string) ([]string, bool) {
	i, ok := r.index[ldap.CanonicalDN(dn)]
	if !ok {
		return nil, false
	}
	return r.Cycles[i].Targets, true
}

// Errors returns the entries of Cycles that recorded at least one back-edge.
func (r *Result) Errors() []CycleEntry {
	out := []CycleEntry{}
	for _, c := range r.Cycles {
		if len(c.Targets) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// All returns direct members followed by nested members.
func (r *Result) All() []Member {
	all := make([]Member, 0, len(r.Direct)+len(r.Nested))
	all = append(all, r.Direct...)
	return append(all, r.Nested...)
}

func (r *Result) register(dn string) int {
	r.Cycles = append(r.Cycles, CycleEntry{Group: dn, Targets: []string{}})
	i := len(r.Cycles) - 1
	r.index[ldap.CanonicalDN(dn)] = i
	return i
}

func (r *Result) addBackEdge(i int, target string) {
	r.Cycles[i].Targets = append(r.Cycles[i].Targets, target)
}
