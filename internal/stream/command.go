package stream

import (
	"context"
	"strings"
	"time"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldapaugment/internal/ldap"
)

// DefaultDomain names the stanza used when a command is given no domain.
const DefaultDomain = "default"

// AllAttributes requests every attribute an entry carries.
const AllAttributes = "*"

// Domains hands out directory connections by configured domain name or alias.
// *ldap.Selector implements it.
type Domains interface {
	Select(ctx context.Context, domain string) (*ldap.Connection, error)
}

// decodeFor applies a per-command override to the stanza's decode setting.
func decodeFor(override *bool, cfg *ldap.ConnectionConfig) bool {
	if override != nil {
		return *override
	}
	return cfg.Decode
}

func domainTemplate(domain string) *Template {
	if strings.TrimSpace(domain) == "" {
		domain = DefaultDomain
	}
	return ParseTemplate(domain)
}

func attributeList(attrs []string) []string {
	var out []string
	for _, a := range attrs {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return []string{AllAttributes}
	}
	return out
}

func isWildcard(attrs []string) bool {
	for _, a := range attrs {
		if a == AllAttributes {
			return true
		}
	}
	return false
}

// setAttributes copies the decoded attributes of entry into rec. With the wildcard every
// attribute is set in server order; otherwise each requested name is set, to missing when
// entry is nil or lacks it. It returns how many attributes entry supplied.
func setAttributes(rec *Record, entry *goldap.Entry, decode bool, attrs []string, missing any) int {
	var decoded map[string]any
	if entry != nil {
		decoded = ldap.DecodeEntry(entry, decode)
	}

	found := 0
	if isWildcard(attrs) {
		if entry == nil {
			return 0
		}
		for _, a := range entry.Attributes {
			if v, ok := decoded[a.Name]; ok {
				rec.Set(a.Name, v)
				found++
			}
		}
		return found
	}

	for _, name := range attrs {
		v, ok := ldap.AttributeValue(decoded, name)
		if ok {
			found++
		} else {
			v = missing
		}
		rec.Set(name, v)
	}
	return found
}

// timestamp renders t as fractional epoch seconds.
func timestamp(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}
