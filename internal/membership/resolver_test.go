package membership

import (
	"context"
	"errors"
	"testing"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldapaugment/internal/ldap"
	"github.com/isometry/ldapaugment/internal/ldap/ldaptest"
)

const (
	groupG  = "CN=G,OU=Groups,DC=example,DC=com"
	groupG2 = "CN=G2,OU=Groups,DC=example,DC=com"
	userU   = "CN=U,OU=Users,DC=example,DC=com"
	userU2  = "CN=U2,OU=Users,DC=example,DC=com"
)

func TestResolve_EmptyMembership(t *testing.T) {
	d := ldaptest.NewDirectory()
	d.AddGroup(groupG, sid("1100"), "G", "EXAMPLE")

	r := NewResolver(quietLogger())
	res, err := r.Resolve(context.Background(), dirFor(d.Searcher(), 10), Group{DN: groupG, SecurityID: sid("1100")}, nil)
	require.NoError(t, err)

	assert.Empty(t, res.Direct)
	assert.Empty(t, res.Nested)
	assert.Equal(t, []CycleEntry{{Group: groupG, Targets: []string{}}}, res.Cycles)
	assert.Empty(t, res.Errors())
	assert.True(t, res.Visited(groupG))
}

func TestResolve_DirectMembership(t *testing.T) {
	d := ldaptest.NewDirectory()
	d.AddGroup(groupG, sid("1100"), "G", "EXAMPLE")
	d.AddUser(userU, sid("1200"), "u", "EXAMPLE", "513", groupG)

	r := NewResolver(quietLogger())
	res, err := r.Resolve(context.Background(), dirFor(d.Searcher(), 10), Group{DN: groupG, SecurityID: sid("1100")}, nil)
	require.NoError(t, err)

	require.Len(t, res.Direct, 1)
	assert.Empty(t, res.Nested)

	u := res.Direct[0]
	assert.Equal(t, userU, u.DN)
	assert.False(t, u.IsGroup)
	assert.Equal(t, "EXAMPLE", u.DomainLabel)
	assert.Equal(t, sid("1200"), u.SecurityID)
	assert.Equal(t, "513", u.PrimaryGroupID)
	assert.Equal(t, "u", u.AccountName)
}

func TestResolve_SkipsMembersWithoutAttributes(t *testing.T) {
	hidden := "CN=Hidden,OU=Users,DC=example,DC=com"
	d := ldaptest.NewDirectory()
	d.AddGroup(groupG, sid("1100"), "G", "EXAMPLE")
	d.Add(ldaptest.Entry(hidden, "description", "no readable member attributes"), groupG)
	d.AddUser(userU, sid("1200"), "u", "EXAMPLE", "513", groupG)

	r := NewResolver(quietLogger())
	res, err := r.Resolve(context.Background(), dirFor(d.Searcher(), 10), Group{DN: groupG, SecurityID: sid("1100")}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{userU}, dns(res.Direct))
	assert.Empty(t, res.Nested)
}

func TestResolve_OneLevelOfNesting(t *testing.T) {
	d := ldaptest.NewDirectory()
	d.AddGroup(groupG, sid("1100"), "G", "EXAMPLE")
	d.AddGroup(groupG2, sid("1101"), "G2", "EXAMPLE", groupG)
	d.AddUser(userU2, sid("1201"), "u2", "EXAMPLE", "513", groupG2)

	r := NewResolver(quietLogger())
	res, err := r.Resolve(context.Background(), dirFor(d.Searcher(), 10), Group{DN: groupG, SecurityID: sid("1100")}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{groupG2}, dns(res.Direct))
	assert.True(t, res.Direct[0].IsGroup)
	assert.Equal(t, []string{userU2}, dns(res.Nested))
	assert.Empty(t, res.Errors())
	assert.Len(t, res.Cycles, 2)
}

func TestResolve_CycleTerminates(t *testing.T) {
	d := ldaptest.NewDirectory()
	d.AddGroup(groupG, sid("1100"), "G", "EXAMPLE", groupG2)
	d.AddGroup(groupG2, sid("1101"), "G2", "EXAMPLE", groupG)
	s := d.Searcher()

	r := NewResolver(quietLogger())
	res, err := r.Resolve(context.Background(), dirFor(s, 10), Group{DN: groupG, SecurityID: sid("1100")}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{groupG2}, dns(res.Direct))
	assert.Equal(t, []string{groupG}, dns(res.Nested), "a cyclic member is recorded once")

	targets, ok := res.CyclesFor(groupG2)
	require.True(t, ok)
	assert.Equal(t, []string{groupG}, targets)

	targets, ok = res.CyclesFor(groupG)
	require.True(t, ok)
	assert.Empty(t, targets)

	assert.Equal(t, []CycleEntry{{Group: groupG2, Targets: []string{groupG}}}, res.Errors())

	// each group's members are queried exactly once
	assert.Equal(t, []string{
		"(memberOf=" + groupG + ")",
		"(memberOf=" + groupG2 + ")",
	}, s.Filters())
}

func TestResolve_ConvergingPathsAreMarked(t *testing.T) {
	var (
		a = "CN=A,OU=Groups,DC=example,DC=com"
		b = "CN=B,OU=Groups,DC=example,DC=com"
		c = "CN=C,OU=Groups,DC=example,DC=com"
		x = "CN=X,OU=Groups,DC=example,DC=com"
	)

	// G -> B -> C and G -> A -> X -> C: C is expanded via B before X reaches it.
	d := ldaptest.NewDirectory()
	d.AddGroup(groupG, sid("1100"), "G", "EXAMPLE")
	d.AddGroup(b, sid("1102"), "B", "EXAMPLE", groupG)
	d.AddGroup(a, sid("1103"), "A", "EXAMPLE", groupG)
	d.AddGroup(c, sid("1104"), "C", "EXAMPLE", b, x)
	d.AddGroup(x, sid("1105"), "X", "EXAMPLE", a)
	s := d.Searcher()

	r := NewResolver(quietLogger())
	res, err := r.Resolve(context.Background(), dirFor(s, 10), Group{DN: groupG, SecurityID: sid("1100")}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{b, a}, dns(res.Direct))
	assert.Equal(t, []string{c, x, c}, dns(res.Nested))
	assert.Equal(t, []CycleEntry{{Group: x, Targets: []string{c}}}, res.Errors())
	assert.Len(t, s.Filters(), 5)
}

func TestResolve_IdentityIgnoresCase(t *testing.T) {
	d := ldaptest.NewDirectory()
	d.AddGroup(groupG, sid("1100"), "G", "EXAMPLE", groupG2)
	d.AddGroup(groupG2, sid("1101"), "G2", "EXAMPLE", groupG)

	root := Group{DN: "cn=g,ou=groups,dc=example,dc=com", SecurityID: sid("1100")}

	r := NewResolver(quietLogger())
	res, err := r.Resolve(context.Background(), dirFor(d.Searcher(), 10), root, nil)
	require.NoError(t, err)

	assert.Equal(t, []CycleEntry{{Group: groupG2, Targets: []string{groupG}}}, res.Errors())
	assert.True(t, res.Visited("CN=G,OU=GROUPS,DC=Example,DC=COM"))
}

func TestResolve_Idempotent(t *testing.T) {
	d := ldaptest.NewDirectory()
	d.AddGroup(groupG, sid("1100"), "G", "EXAMPLE", groupG2)
	d.AddGroup(groupG2, sid("1101"), "G2", "EXAMPLE", groupG)
	d.AddUser(userU, sid("1200"), "u", "EXAMPLE", "1100", groupG)
	d.AddUser(userU2, sid("1201"), "u2", "EXAMPLE", "513", groupG2)

	r := NewResolver(quietLogger())
	root := Group{DN: groupG, SecurityID: sid("1100")}

	first, err := r.Resolve(context.Background(), dirFor(d.Searcher(), 1), root, nil)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), dirFor(d.Searcher(), 1), root, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestResolve_PageSizeDoesNotChangeResult(t *testing.T) {
	d := ldaptest.NewDirectory()
	d.AddGroup(groupG, sid("1100"), "G", "EXAMPLE")
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		d.AddUser("CN="+name+",OU=Users,DC=example,DC=com", sid("2000"), name, "EXAMPLE", "513", groupG)
	}

	root := Group{DN: groupG, SecurityID: sid("1100")}
	want, err := NewResolver(quietLogger()).Resolve(context.Background(), dirFor(d.Searcher(), 1000), root, nil)
	require.NoError(t, err)
	require.Len(t, want.Direct, 5)

	for _, size := range []uint32{1, 2, 5, 6} {
		got, err := NewResolver(quietLogger()).Resolve(context.Background(), dirFor(d.Searcher(), size), root, nil)
		require.NoError(t, err)
		assert.Equal(t, want, got, "page size %d", size)
	}
}

func TestResolve_FilterErrorIsFatal(t *testing.T) {
	d := ldaptest.NewDirectory()
	d.AddGroup(groupG, sid("1100"), "G", "EXAMPLE")
	filter := "(memberOf=" + groupG + ")"
	d.Fail(filter, goldap.NewError(goldap.LDAPResultFilterError, errors.New("bad filter")))

	r := NewResolver(quietLogger())
	_, err := r.Resolve(context.Background(), dirFor(d.Searcher(), 10), Group{DN: groupG}, nil)
	require.Error(t, err)

	var filterErr *FilterError
	require.ErrorAs(t, err, &filterErr)
	assert.Equal(t, filter, filterErr.Filter)
	assert.Contains(t, err.Error(), filter)
	assert.True(t, ldap.IsFilterError(err))
}

func TestResolve_RecoverableExpansionFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "no such object",
			err:  goldap.NewError(goldap.LDAPResultNoSuchObject, errors.New("gone")),
		},
		{
			name: "server busy",
			err:  goldap.NewError(goldap.LDAPResultBusy, errors.New("busy")),
		},
		{
			name: "network",
			err:  goldap.NewError(goldap.ErrorNetwork, errors.New("connection reset")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := "CN=Other,OU=Groups,DC=example,DC=com"
			d := ldaptest.NewDirectory()
			d.AddGroup(groupG, sid("1100"), "G", "EXAMPLE")
			d.AddGroup(groupG2, sid("1101"), "G2", "EXAMPLE", groupG)
			d.AddGroup(other, sid("1102"), "Other", "EXAMPLE", groupG)
			d.AddUser(userU, sid("1200"), "u", "EXAMPLE", "513", other)
			d.Fail("(memberOf="+groupG2+")", tt.err)

			logger := &recordingLogger{}
			r := NewResolver(logger)
			res, err := r.Resolve(context.Background(), dirFor(d.Searcher(), 10), Group{DN: groupG}, nil)
			require.NoError(t, err)

			assert.Equal(t, []string{groupG2, other}, dns(res.Direct))
			assert.Equal(t, []string{userU}, dns(res.Nested), "sibling groups are still expanded")
			assert.Equal(t, 1, logger.count("warn"))
		})
	}
}

func TestResolve_OtherErrorsAreFatal(t *testing.T) {
	d := ldaptest.NewDirectory()
	d.AddGroup(groupG, sid("1100"), "G", "EXAMPLE")
	d.Fail("(memberOf="+groupG+")", goldap.NewError(goldap.LDAPResultInsufficientAccessRights, errors.New("denied")))

	r := NewResolver(quietLogger())
	_, err := r.Resolve(context.Background(), dirFor(d.Searcher(), 10), Group{DN: groupG}, nil)
	require.Error(t, err)
	assert.True(t, ldap.IsPermissionError(err))
}

func TestResolve_EscapesGroupDN(t *testing.T) {
	root := `CN=R\2C D (ops),OU=Groups,DC=example,DC=com`
	s := ldaptest.Entries()

	r := NewResolver(quietLogger())
	_, err := r.Resolve(context.Background(), dirFor(s, 10), Group{DN: root}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{`(memberOf=CN=R\5c2C D \28ops\29,OU=Groups,DC=example,DC=com)`}, s.Filters())
}

func TestLookupGroup(t *testing.T) {
	d := ldaptest.NewDirectory()
	d.AddGroup(groupG, sid("1100"), "G", "EXAMPLE")
	d.AddUser(userU, sid("1200"), "u", "EXAMPLE", "513")

	r := NewResolver(quietLogger())
	dir := dirFor(d.Searcher(), 10)
	dir.Decode = false

	t.Run("by DN", func(t *testing.T) {
		g, err := r.LookupGroup(context.Background(), dir, groupG)
		require.NoError(t, err)
		assert.Equal(t, groupG, g.DN)
		assert.Equal(t, sid("1100"), g.SecurityID)
		assert.Equal(t, "1100", g.RID())
	})

	t.Run("by account name", func(t *testing.T) {
		g, err := r.LookupGroup(context.Background(), dir, `EXAMPLE\G`)
		require.NoError(t, err)
		assert.Equal(t, groupG, g.DN)
	})

	t.Run("not a group", func(t *testing.T) {
		_, err := r.LookupGroup(context.Background(), dir, userU)
		assert.ErrorIs(t, err, ErrNotAGroup)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := r.LookupGroup(context.Background(), dir, "CN=Nope,OU=Groups,DC=example,DC=com")
		require.Error(t, err)
		assert.True(t, ldap.IsNotFoundError(err))
	})
}

func TestResolver_ProcessedLifecycle(t *testing.T) {
	r := NewResolver(quietLogger())
	r.Begin()

	assert.False(t, r.Processed(groupG))
	r.MarkProcessed(groupG)
	assert.True(t, r.Processed("cn=g,ou=groups,dc=example,dc=com"))

	r.End()
	assert.False(t, r.Processed(groupG))
}
