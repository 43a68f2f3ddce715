package ldap

import (
	"encoding/base64"
	"time"
)

// TimestampLayout is the canonical text form of timestamp attribute values.
const TimestampLayout = "2006-01-02 15:04:05.999999-07:00"

// NormalizeValue converts a decoded attribute value into a transport-safe form: binary
// becomes standard base64, timestamps become TimestampLayout text, lists are normalized
// element by element in order, and anything else is returned unchanged. Applying it to
// its own output is a no-op.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case time.Time:
		return x.Format(TimestampLayout)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.Format(TimestampLayout)
	case [][]byte:
		out := make([]any, len(x))
		for i, b := range x {
			out[i] = NormalizeValue(b)
		}
		return out
	case []time.Time:
		out := make([]any, len(x))
		for i, t := range x {
			out[i] = NormalizeValue(t)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = NormalizeValue(e)
		}
		return out
	default:
		return v
	}
}
