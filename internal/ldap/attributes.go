package ldap

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-ldap/ldap/v3"
)

// NeverExpires is the text given to FILETIME values that mean "no date".
const NeverExpires = "(never)"

type attributeKind int

const (
	kindText attributeKind = iota
	kindSID
	kindGUID
	kindFileTime
	kindGeneralizedTime
)

// AD attributes that need coercion, keyed by lower-cased name.
var adAttributeKinds = map[string]attributeKind{
	"objectsid":          kindSID,
	"securityidentifier": kindSID,
	"sidhistory":         kindSID,
	"tokengroups":        kindSID,
	"objectguid":         kindGUID,
	"msexchmailboxguid":  kindGUID,
	"accountexpires":     kindFileTime,
	"badpasswordtime":    kindFileTime,
	"lastlogoff":         kindFileTime,
	"lastlogon":          kindFileTime,
	"lastlogontimestamp": kindFileTime,
	"lockouttime":        kindFileTime,
	"pwdlastset":         kindFileTime,
	"whenchanged":        kindGeneralizedTime,
	"whencreated":        kindGeneralizedTime,
}

// Seconds between 1601-01-01 (FILETIME epoch) and 1970-01-01.
const fileTimeEpochOffset = 11644473600

// DecodeEntry maps an entry's attributes to transport-safe values: one value becomes a
// scalar, several become a list. With decode set, AD binary and time syntaxes are
// converted to text first. Returns nil when no attribute carries a value.
func DecodeEntry(entry *ldap.Entry, decode bool) map[string]any {
	if entry == nil {
		return nil
	}

	out := make(map[string]any, len(entry.Attributes))
	for _, attr := range entry.Attributes {
		raw := attributeBytes(attr)
		if len(raw) == 0 {
			continue
		}

		kind := kindText
		if decode {
			kind = adAttributeKinds[strings.ToLower(attr.Name)]
		}

		values := make([]any, len(raw))
		for i, b := range raw {
			values[i] = NormalizeValue(decodeValue(kind, b))
		}

		if len(values) == 1 {
			out[attr.Name] = values[0]
		} else {
			out[attr.Name] = values
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

// attributeBytes prefers the raw wire values; entries built by hand may only carry strings.
func attributeBytes(attr *ldap.EntryAttribute) [][]byte {
	if len(attr.ByteValues) > 0 {
		return attr.ByteValues
	}
	raw := make([][]byte, len(attr.Values))
	for i, v := range attr.Values {
		raw[i] = []byte(v)
	}
	return raw
}

func decodeValue(kind attributeKind, b []byte) any {
	switch kind {
	case kindSID:
		if sid, err := DecodeSID(b); err == nil {
			return sid
		}
		if s := string(b); ValidateSIDString(s) == nil {
			return s
		}
	case kindGUID:
		if len(b) == GUIDBytesLength {
			if guid, err := DecodeGUID(b); err == nil {
				return guid
			}
		}
	case kindFileTime:
		if v, ok := decodeFileTime(string(b)); ok {
			return v
		}
	case kindGeneralizedTime:
		if t, ok := parseGeneralizedTime(string(b)); ok {
			return t
		}
	}

	if utf8.Valid(b) {
		return string(b)
	}
	return b
}

// decodeFileTime converts a FILETIME integer (100ns ticks since 1601) to a time.
func decodeFileTime(s string) (any, bool) {
	ticks, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, false
	}
	if ticks == 0 || ticks == math.MaxInt64 {
		return NeverExpires, true
	}

	secs := ticks/10_000_000 - fileTimeEpochOffset
	nsecs := (ticks % 10_000_000) * 100
	return time.Unix(secs, nsecs).UTC(), true
}

func parseGeneralizedTime(s string) (time.Time, bool) {
	for _, layout := range []string{"20060102150405.0Z07", "20060102150405Z07", "20060102150405.0Z0700", "20060102150405Z0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// AttributeValue looks up a decoded attribute by name, ignoring case as LDAP does.
func AttributeValue(attrs map[string]any, name string) (any, bool) {
	if v, ok := attrs[name]; ok {
		return v, true
	}
	for k, v := range attrs {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}
