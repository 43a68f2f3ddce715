package membership

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAugment_EmptyMembership(t *testing.T) {
	res := newResult()
	res.register(groupG)

	rec := record{}
	Augment(rec, Group{DN: groupG, SecurityID: sid("1100")}, res, quietLogger())

	assert.Equal(t, []CycleEntry{}, rec[FieldErrors])
	assert.Equal(t, []string{}, rec[FieldMemberDN])
	assert.Equal(t, []string{}, rec[FieldMemberDomain])
	assert.Equal(t, []any{}, rec[FieldMemberName])
	assert.Equal(t, []string{}, rec[FieldMemberType])
	assert.Equal(t, "#########", rec[FieldCombo])
}

func TestAugment_MemberTypes(t *testing.T) {
	tests := []struct {
		name      string
		direct    []Member
		nested    []Member
		rootSID   string
		wantTypes []string
	}{
		{
			name:      "direct",
			direct:    []Member{{DN: userU, PrimaryGroupID: "513"}},
			rootSID:   sid("1100"),
			wantTypes: []string{TypeDirect},
		},
		{
			name:      "primary",
			direct:    []Member{{DN: userU, PrimaryGroupID: "1100"}},
			rootSID:   sid("1100"),
			wantTypes: []string{TypePrimary},
		},
		{
			name:      "nested",
			direct:    []Member{{DN: groupG2, IsGroup: true}},
			nested:    []Member{{DN: userU2, PrimaryGroupID: "513"}},
			rootSID:   sid("1100"),
			wantTypes: []string{TypeDirect, TypeNested},
		},
		{
			name:      "nested member with the root as primary group",
			direct:    []Member{{DN: groupG2, IsGroup: true}},
			nested:    []Member{{DN: userU2, PrimaryGroupID: "1100"}},
			rootSID:   sid("1100"),
			wantTypes: []string{TypeDirect, TypePrimary},
		},
		{
			name:      "root without a SID never matches",
			direct:    []Member{{DN: userU}},
			wantTypes: []string{TypeDirect},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newResult()
			res.register(groupG)
			res.Direct = append(res.Direct, tt.direct...)
			res.Nested = append(res.Nested, tt.nested...)

			rec := record{}
			Augment(rec, Group{DN: groupG, SecurityID: tt.rootSID}, res, quietLogger())
			assert.Equal(t, tt.wantTypes, rec[FieldMemberType])
		})
	}
}

func TestAugment_ListsAreAligned(t *testing.T) {
	res := newResult()
	res.register(groupG)
	res.Direct = []Member{
		{DN: groupG2, IsGroup: true, DomainLabel: "EXAMPLE", AccountName: "G2"},
		{DN: userU, DomainLabel: "EXAMPLE", AccountName: "u", PrimaryGroupID: "1100"},
	}
	res.Nested = []Member{
		{DN: userU2, DomainLabel: "OTHER", AccountName: "u2", PrimaryGroupID: "513"},
	}

	rec := record{}
	Augment(rec, Group{DN: groupG, SecurityID: sid("1100")}, res, quietLogger())

	assert.Equal(t, []string{groupG2, userU, userU2}, rec[FieldMemberDN])
	assert.Equal(t, []string{"EXAMPLE", "EXAMPLE", "OTHER"}, rec[FieldMemberDomain])
	assert.Equal(t, []any{"G2", "u", "u2"}, rec[FieldMemberName])
	assert.Equal(t, []string{TypeDirect, TypePrimary, TypeNested}, rec[FieldMemberType])

	want := groupG2 + "," + userU + "," + userU2 +
		"###G2,u,u2" +
		"###EXAMPLE,EXAMPLE,OTHER" +
		"###DIRECT,PRIMARY,NESTED"
	assert.Equal(t, want, rec[FieldCombo])
}

func TestAugment_ComboFlattensOneLevel(t *testing.T) {
	res := newResult()
	res.register(groupG)
	res.Direct = []Member{
		{DN: "CN=a", AccountName: []any{"a1", "a2", []any{"deep"}}},
		{DN: "CN=b", AccountName: "b"},
	}

	logger := &recordingLogger{}
	rec := record{}
	Augment(rec, Group{DN: groupG}, res, logger)

	assert.Equal(t, "CN=a,CN=b###a1,a2,b###,###DIRECT,DIRECT", rec[FieldCombo])
	assert.Zero(t, logger.count("warn"))
}

func TestAugment_ComboCoercesUnexpectedValues(t *testing.T) {
	res := newResult()
	res.register(groupG)
	res.Direct = []Member{
		{DN: "CN=a", AccountName: 42},
		{DN: "CN=b", AccountName: []any{"b", true}},
	}

	logger := &recordingLogger{}
	rec := record{}
	Augment(rec, Group{DN: groupG}, res, logger)

	assert.Equal(t, "CN=a,CN=b###42,b,true###,###DIRECT,DIRECT", rec[FieldCombo])
	assert.Equal(t, 2, logger.count("warn"))
}

func TestAugment_MissingAccountNameIsEmpty(t *testing.T) {
	res := newResult()
	res.register(groupG)
	res.Direct = []Member{{DN: "CN=a", AccountName: nil}}

	logger := &recordingLogger{}
	rec := record{}
	Augment(rec, Group{DN: groupG}, res, logger)

	assert.Equal(t, "CN=a#########DIRECT", rec[FieldCombo])
	assert.Zero(t, logger.count("warn"))
}

func TestAugment_ErrorsField(t *testing.T) {
	res := newResult()
	res.register(groupG)
	i := res.register(groupG2)
	res.addBackEdge(i, groupG)

	rec := record{}
	Augment(rec, Group{DN: groupG}, res, quietLogger())

	b, err := json.Marshal(rec[FieldErrors])
	require.NoError(t, err)
	assert.JSONEq(t, `[["`+groupG2+`", ["`+groupG+`"]]]`, string(b))
}
