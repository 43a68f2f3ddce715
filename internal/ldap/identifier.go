package ldap

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// IdentifierType represents the type of identifier detected.
type IdentifierType int

const (
	IdentifierTypeUnknown IdentifierType = iota
	IdentifierTypeDN                     // Distinguished Name
	IdentifierTypeGUID                   // Globally Unique Identifier
	IdentifierTypeSID                    // Security Identifier
	IdentifierTypeUPN                    // User Principal Name
	IdentifierTypeSAM                    // SAM Account Name (DOMAIN\name or name)
)

// String returns the string representation of the identifier type.
func (i IdentifierType) String() string {
	switch i {
	case IdentifierTypeDN:
		return "DN"
	case IdentifierTypeGUID:
		return "GUID"
	case IdentifierTypeSID:
		return "SID"
	case IdentifierTypeUPN:
		return "UPN"
	case IdentifierTypeSAM:
		return "SAM"
	default:
		return "Unknown"
	}
}

var (
	// DN format: CN=Group,OU=Groups,DC=example,DC=com.
	dnRegex = regexp.MustCompile(`^(?i)(CN|OU|DC|O|C|L|ST|UID)\s*=.+`)

	// SID format: S-1-5-21-domain-rid or S-1-5-32-alias.
	sidRegex = regexp.MustCompile(`^S-1-\d+(-\d+)*$`)

	// UPN format: name@domain.com.
	upnRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

	// SAM format: DOMAIN\name or just name; spaces are legal in group names.
	samRegex = regexp.MustCompile(`^([^\\@]+\\)?[^\\@]+$`)
)

// DetectIdentifierType analyzes an identifier string and determines its type.
func DetectIdentifierType(identifier string) IdentifierType {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return IdentifierTypeUnknown
	}

	switch {
	case dnRegex.MatchString(identifier) && ValidateDNSyntax(identifier) == nil:
		return IdentifierTypeDN
	case IsValidGUID(identifier) && !strings.ContainsAny(identifier, `\@`):
		return IdentifierTypeGUID
	case sidRegex.MatchString(identifier):
		return IdentifierTypeSID
	case upnRegex.MatchString(identifier):
		return IdentifierTypeUPN
	case samRegex.MatchString(identifier):
		return IdentifierTypeSAM
	default:
		return IdentifierTypeUnknown
	}
}

// IdentifierFilter builds the equality filter that locates identifier in the directory.
func IdentifierFilter(identifier string) (string, IdentifierType, error) {
	identifier = strings.TrimSpace(identifier)
	idType := DetectIdentifierType(identifier)

	switch idType {
	case IdentifierTypeDN:
		return fmt.Sprintf("(distinguishedName=%s)", ldap.EscapeFilter(identifier)), idType, nil
	case IdentifierTypeGUID:
		filter, err := GUIDToSearchFilter(identifier)
		return filter, idType, err
	case IdentifierTypeSID:
		return fmt.Sprintf("(objectSid=%s)", ldap.EscapeFilter(identifier)), idType, nil
	case IdentifierTypeUPN:
		return fmt.Sprintf("(userPrincipalName=%s)", ldap.EscapeFilter(identifier)), idType, nil
	case IdentifierTypeSAM:
		name := identifier
		if _, after, ok := strings.Cut(identifier, `\`); ok {
			name = after
		}
		return fmt.Sprintf("(sAMAccountName=%s)", ldap.EscapeFilter(name)), idType, nil
	default:
		return "", idType, fmt.Errorf("unable to determine identifier type for: %s", identifier)
	}
}

// ResolveDN returns the DN named by identifier. DNs are returned as given without a round
// trip; other forms are looked up beneath baseDN. An identifier matching nothing yields an
// error satisfying IsNotFoundError.
func ResolveDN(ctx context.Context, s Searcher, baseDN, identifier string) (string, error) {
	filter, idType, err := IdentifierFilter(identifier)
	if err != nil {
		return "", err
	}
	if idType == IdentifierTypeDN {
		return strings.TrimSpace(identifier), nil
	}

	req := &SearchRequest{
		BaseDN:     baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: []string{"distinguishedName"},
		SizeLimit:  1,
	}

	for entry, err := range PagedSearch(ctx, s, req, 1) {
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s identifier %q: %w", idType, identifier, err)
		}
		return entry.DN, nil
	}

	return "", &LDAPError{
		Operation: "resolve",
		Category:  ErrorCategoryNotFound,
		Message:   fmt.Sprintf("no object matches %s identifier %q", idType, identifier),
		Filter:    filter,
	}
}
