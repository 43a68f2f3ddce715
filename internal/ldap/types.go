package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig holds the settings of one configured directory domain.
type ConnectionConfig struct {
	// Identity of the stanza
	Name            string // Stanza name, also the DNS domain used for SRV discovery
	AlternateDomain string // Alias, usually the NetBIOS name

	// Connection settings
	Servers  []string      // Hosts, host:port pairs or ldap(s):// URLs; discovered via SRV when empty
	Port     int           // Port for servers given without one
	UseSSL   bool          // ldaps://
	StartTLS bool          // Upgrade ldap:// with StartTLS
	BaseDN   string        // Base DN for searches
	Timeout  time.Duration // Per-request timeout

	// Authentication settings
	BindDN         string // DN, UPN or DOMAIN\user; anonymous when empty
	Password       string // Password for simple bind authentication
	KerberosRealm  string // Kerberos realm for GSSAPI authentication
	KerberosKeytab string // Path to Kerberos keytab file
	KerberosConfig string // Path to Kerberos config file (krb5.conf)
	KerberosCCache string // Path to Kerberos credential cache

	// TLS settings
	TLSConfig          *tls.Config
	InsecureSkipVerify bool

	// Search settings
	PageSize uint32 // Entries per paged search round trip
	Decode   bool   // Apply AD-specific attribute coercions

	// Retry settings
	MaxRetries     int           // Maximum retry attempts
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Backoff multiplication factor
}

// DefaultConfig returns a secure default configuration.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Timeout:        30 * time.Second,
		PageSize:       1000,
		Decode:         true,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// ServerInfo contains information about an LDAP server.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // "srv", "config", "fallback"
}

// Searcher issues a single search round trip. *Conn implements it over the wire.
type Searcher interface {
	Search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error)
}

// SearchRequest encapsulates LDAP search parameters.
type SearchRequest struct {
	BaseDN     string
	Scope      SearchScope
	Filter     string
	Attributes []string
	SizeLimit  int // Enforced client-side; servers answer sizeLimitExceeded otherwise
	TimeLimit  time.Duration
}

// toLDAP builds the wire request; controls are attached by the caller.
func (r *SearchRequest) toLDAP() *ldap.SearchRequest {
	return ldap.NewSearchRequest(
		r.BaseDN,
		r.Scope.ldapScope(),
		ldap.NeverDerefAliases,
		0,
		int(r.TimeLimit.Seconds()),
		false,
		r.Filter,
		r.Attributes,
		nil,
	)
}

// SearchScope defines LDAP search scope. The zero value searches the whole subtree.
type SearchScope int

const (
	ScopeWholeSubtree SearchScope = iota
	ScopeSingleLevel
	ScopeBaseObject
)

// ParseSearchScope accepts the base|one|sub spellings used on the command line.
func ParseSearchScope(s string) (SearchScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "base":
		return ScopeBaseObject, nil
	case "one", "onelevel":
		return ScopeSingleLevel, nil
	case "sub", "subtree", "":
		return ScopeWholeSubtree, nil
	default:
		return ScopeWholeSubtree, fmt.Errorf("invalid search scope %q: must be one of base, one, sub", s)
	}
}

func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	default:
		return "sub"
	}
}

func (s SearchScope) ldapScope() int {
	switch s {
	case ScopeBaseObject:
		return ldap.ScopeBaseObject
	case ScopeSingleLevel:
		return ldap.ScopeSingleLevel
	default:
		return ldap.ScopeWholeSubtree
	}
}

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota // DN/password authentication
	AuthMethodKerberos                     // GSSAPI/Kerberos authentication
	AuthMethodAnonymous                    // No bind credentials
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	case AuthMethodAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// GetAuthMethod determines the authentication method from the configuration.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	// Kerberos authentication takes precedence
	if c.KerberosRealm != "" || c.KerberosKeytab != "" || c.KerberosCCache != "" {
		return AuthMethodKerberos
	}

	if c.BindDN != "" {
		return AuthMethodSimpleBind
	}

	return AuthMethodAnonymous
}

// RetryableError indicates an error that can be retried.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError represents connection-related errors.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{
		message:   message,
		retryable: retryable,
		cause:     cause,
	}
}
