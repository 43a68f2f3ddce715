package ldap

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"golang.org/x/text/cases"
)

// foldCase applies Unicode case folding; a Caser holds state, so each call gets its own.
func foldCase(s string) string {
	return cases.Fold().String(s)
}

// CanonicalDN returns the comparison key for a distinguished name: attribute types
// lower-cased, values Unicode case-folded and re-escaped, whitespace around separators
// dropped, and multi-valued RDNs sorted. Two DNs the directory treats as equal map to
// the same key. Input that does not parse is folded and trimmed as-is.
func CanonicalDN(dn string) string {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return ""
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return foldCase(dn)
	}

	rdns := make([]string, 0, len(parsed.RDNs))
	for _, rdn := range parsed.RDNs {
		attrs := make([]string, 0, len(rdn.Attributes))
		for _, attr := range rdn.Attributes {
			attrs = append(attrs, strings.ToLower(attr.Type)+"="+EscapeDNValue(foldCase(attr.Value)))
		}
		slices.Sort(attrs)
		rdns = append(rdns, strings.Join(attrs, "+"))
	}

	return strings.Join(rdns, ",")
}

// EqualDN reports whether two DNs name the same entry.
func EqualDN(a, b string) bool {
	return CanonicalDN(a) == CanonicalDN(b)
}

// NormalizeDNCase upper-cases attribute type descriptors, the form AD itself returns,
// leaving values untouched.
//
// Input:  "cn=john,ou=users,dc=example,dc=com"
// Output: "CN=john,OU=users,DC=example,DC=com"
func NormalizeDNCase(dn string) (string, error) {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return "", nil
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	rdns := make([]string, 0, len(parsed.RDNs))
	for _, rdn := range parsed.RDNs {
		attrs := make([]string, 0, len(rdn.Attributes))
		for _, attr := range rdn.Attributes {
			attrs = append(attrs, strings.ToUpper(attr.Type)+"="+EscapeDNValue(attr.Value))
		}
		rdns = append(rdns, strings.Join(attrs, "+"))
	}

	return strings.Join(rdns, ","), nil
}

// ValidateDNSyntax validates that a string is a properly formatted Distinguished Name.
func ValidateDNSyntax(dn string) error {
	if strings.TrimSpace(dn) == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN syntax: %w", err)
	}

	return nil
}
