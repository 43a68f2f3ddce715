package stream

import "strings"

// Template is text with $field$ references expanded per record. $$ stands for a literal
// dollar sign and a $ without a closing partner is kept as is.
type Template struct {
	text     string
	segments []segment
}

type segment struct {
	text  string
	field bool
}

// ParseTemplate splits s into literal text and field references.
func ParseTemplate(s string) *Template {
	t := &Template{text: s}

	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(s); {
		if s[i] != '$' {
			lit.WriteByte(s[i])
			i++
			continue
		}

		end := strings.IndexByte(s[i+1:], '$')
		switch {
		case end < 0:
			lit.WriteString(s[i:])
			i = len(s)
		case end == 0:
			lit.WriteByte('$')
			i += 2
		default:
			flush()
			t.segments = append(t.segments, segment{text: s[i+1 : i+1+end], field: true})
			i += end + 2
		}
	}
	flush()

	return t
}

// String returns the unexpanded text.
func (t *Template) String() string {
	return t.text
}

// HasFields reports whether the template references any field.
func (t *Template) HasFields() bool {
	for _, seg := range t.segments {
		if seg.field {
			return true
		}
	}
	return false
}

// Expand substitutes field values from rec, passing each through convert when it is not
// nil. A list field contributes its first element and a missing field the empty string.
// The result is reported absent when it expands to nothing.
func (t *Template) Expand(rec *Record, convert func(string) string) (string, bool) {
	var b strings.Builder
	for _, seg := range t.segments {
		if !seg.field {
			b.WriteString(seg.text)
			continue
		}

		var value string
		if rec != nil {
			value, _ = FieldText(rec, seg.text)
		}
		if convert != nil {
			value = convert(value)
		}
		b.WriteString(value)
	}

	s := b.String()
	return s, s != ""
}
