package membership

import (
	"strings"

	"github.com/isometry/ldapaugment/internal/ldap"
)

// Separators of the mv_combo summary field.
const (
	ValueSeparator = ","
	FieldSeparator = "###"
)

// Member relationship to the root group.
const (
	TypePrimary = "PRIMARY"
	TypeDirect  = "DIRECT"
	TypeNested  = "NESTED"
)

// Output field names.
const (
	FieldErrors       = "errors"
	FieldMemberDN     = "member_dn"
	FieldMemberDomain = "member_domain"
	FieldMemberName   = "member_name"
	FieldMemberType   = "member_type"
	FieldCombo        = "mv_combo"
)

// Record is the row being augmented.
type Record interface {
	Set(name string, value any)
}

// Augment writes the membership of root into rec. The member_* lists are index aligned:
// direct members first, then nested members in level order.
func Augment(rec Record, root Group, res *Result, logger ldap.Logger) {
	all := res.All()
	rid := root.RID()

	dns := make([]string, len(all))
	domains := make([]string, len(all))
	names := make([]any, len(all))
	types := make([]string, len(all))

	for i, m := range all {
		dns[i] = m.DN
		domains[i] = m.DomainLabel
		names[i] = m.AccountName

		switch {
		case rid != "" && m.PrimaryGroupID == rid:
			types[i] = TypePrimary
		case i < len(res.Direct):
			types[i] = TypeDirect
		default:
			types[i] = TypeNested
		}
	}

	rec.Set(FieldErrors, res.Errors())
	rec.Set(FieldMemberDN, dns)
	rec.Set(FieldMemberDomain, domains)
	rec.Set(FieldMemberName, names)
	rec.Set(FieldMemberType, types)

	combo := []string{
		joinField(anySlice(dns), FieldMemberDN, root, logger),
		joinField(names, FieldMemberName, root, logger),
		joinField(anySlice(domains), FieldMemberDomain, root, logger),
		joinField(anySlice(types), FieldMemberType, root, logger),
	}
	rec.Set(FieldCombo, strings.Join(combo, FieldSeparator))
}

// joinField flattens each value one level and joins the scalars with ValueSeparator.
func joinField(values []any, field string, root Group, logger ldap.Logger) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		fv := ClassifyValue(v)
		if fv.Coerced || hasCoercedItem(fv) {
			logger.Warn("Unexpected value type in summary field, using its text form", map[string]any{
				"group": root.DN,
				"field": field,
			})
		}
		parts = append(parts, fv.Flatten()...)
	}
	return strings.Join(parts, ValueSeparator)
}

func hasCoercedItem(v FieldValue) bool {
	for _, item := range v.Items {
		if item.Coerced && item.Kind == ScalarValue {
			return true
		}
	}
	return false
}

func anySlice[T any](s []T) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
