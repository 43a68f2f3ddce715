package membership

import (
	"fmt"
)

// ValueKind tags the shape of a summary field value.
type ValueKind int

const (
	ScalarValue ValueKind = iota
	SequenceValue
	NestedSequenceValue
)

// FieldValue is one element of a member_* list as it may come back from the directory:
// a scalar, a list of scalars, or a list that itself contains lists.
type FieldValue struct {
	Kind    ValueKind
	Scalar  string
	Items   []FieldValue
	Coerced bool // the source was not text and was formatted with %v
}

// ClassifyValue tags v. Strings are scalars; slices are sequences, nested when any element
// is itself a slice. A nil value is an empty scalar. Anything else is formatted as text
// and marked Coerced.
func ClassifyValue(v any) FieldValue {
	switch x := v.(type) {
	case string:
		return FieldValue{Kind: ScalarValue, Scalar: x}
	case []string:
		items := make([]FieldValue, len(x))
		for i, s := range x {
			items[i] = FieldValue{Kind: ScalarValue, Scalar: s}
		}
		return FieldValue{Kind: SequenceValue, Items: items}
	case []any:
		kind := SequenceValue
		items := make([]FieldValue, len(x))
		for i, e := range x {
			items[i] = ClassifyValue(e)
			if items[i].Kind != ScalarValue {
				kind = NestedSequenceValue
			}
		}
		return FieldValue{Kind: kind, Items: items}
	case nil:
		return FieldValue{Kind: ScalarValue}
	default:
		return FieldValue{Kind: ScalarValue, Scalar: fmt.Sprint(x), Coerced: true}
	}
}

// Flatten returns the scalars of v one level deep. Lists found inside a list are dropped.
func (v FieldValue) Flatten() []string {
	if v.Kind == ScalarValue {
		return []string{v.Scalar}
	}

	out := make([]string, 0, len(v.Items))
	for _, item := range v.Items {
		if item.Kind == ScalarValue {
			out = append(out, item.Scalar)
		}
	}
	return out
}
