// Package stream carries records between the host and the directory: JSON-lines framing,
// $field$ templates, and the search commands as lazy record transformers.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Record is one row of the stream. Fields keep the order in which they were first set.
type Record struct {
	names  []string
	fields map[string]any
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{fields: make(map[string]any)}
}

// Get returns the value of field name.
func (r *Record) Get(name string) (any, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Set assigns field name, appending it when new.
func (r *Record) Set(name string, value any) {
	if r.fields == nil {
		r.fields = make(map[string]any)
	}
	if _, ok := r.fields[name]; !ok {
		r.names = append(r.names, name)
	}
	r.fields[name] = value
}

// Names returns the field names in order.
func (r *Record) Names() []string {
	return slices.Clone(r.names)
}

// Len returns the number of fields.
func (r *Record) Len() int {
	return len(r.names)
}

// Copy returns a record with the same fields. Values are shared, not cloned.
func (r *Record) Copy() *Record {
	out := &Record{
		names:  slices.Clone(r.names),
		fields: make(map[string]any, len(r.fields)),
	}
	for k, v := range r.fields {
		out.fields[k] = v
	}
	return out
}

// MarshalJSON encodes the record as an object with fields in record order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	buf.WriteByte('{')
	for i, name := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := enc.Encode(name); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1)
		buf.WriteByte(':')
		if err := enc.Encode(r.fields[name]); err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		buf.Truncate(buf.Len() - 1)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping its field order. Numbers stay json.Number
// so they are written back exactly as read.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record must be a JSON object, got %v", tok)
	}

	r.names = nil
	r.fields = make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)

		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		r.Set(name, value)
	}

	_, err = dec.Token()
	return err
}

// FieldText returns the text of field name. A list yields its first element; absent, null
// and empty values report false.
func FieldText(r *Record, name string) (string, bool) {
	v, ok := r.Get(name)
	if !ok {
		return "", false
	}
	s := textOf(v)
	return s, s != ""
}

// FieldValues returns the text of every element of a list field, or of the scalar itself.
func FieldValues(r *Record, name string) []string {
	v, ok := r.Get(name)
	if !ok || v == nil {
		return nil
	}
	switch x := v.(type) {
	case []any:
		out := make([]string, len(x))
		for i, e := range x {
			out[i] = textOf(e)
		}
		return out
	case []string:
		return slices.Clone(x)
	default:
		return []string{textOf(x)}
	}
}

func textOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case []any:
		if len(x) == 0 {
			return ""
		}
		return textOf(x[0])
	case []string:
		if len(x) == 0 {
			return ""
		}
		return x[0]
	default:
		return fmt.Sprint(x)
	}
}
