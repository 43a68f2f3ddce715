// Package config loads the directory domain stanzas ldapaugment connects to.
//
// The configuration is a YAML file with a top-level domains map. A stanza named
// "default" supplies values inherited by every other stanza:
//
//	domains:
//	  default:
//	    alternatedomain: EXAMPLE
//	    basedn: DC=example,DC=com
//	    server: [dc1.example.com, dc2.example.com]
//	    ssl: true
//	  corp.example.com:
//	    alternatedomain: CORP
//	    basedn: DC=corp,DC=example,DC=com
//
// Bind credentials may be kept out of the file: LDAPAUGMENT_BINDDN_<STANZA> and
// LDAPAUGMENT_PASSWORD_<STANZA> are used for stanzas that do not set them.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/isometry/ldapaugment/internal/ldap"
)

// Environment variable names.
const (
	// EnvConfig is the path of the YAML configuration file.
	EnvConfig = "LDAPAUGMENT_CONFIG"

	// EnvEnvFile is the path of the env file loaded before anything else.
	EnvEnvFile = "LDAPAUGMENT_ENV_FILE"

	// EnvLogLevel is the log level (trace, debug, info, warn, error).
	EnvLogLevel = "LDAPAUGMENT_LOG_LEVEL"

	// EnvBindDNPrefix and EnvPasswordPrefix are suffixed with the stanza's env name.
	EnvBindDNPrefix   = "LDAPAUGMENT_BINDDN_"
	EnvPasswordPrefix = "LDAPAUGMENT_PASSWORD_"
)

// Default values.
const (
	DefaultConfigPath = "ldap.yaml"
	DefaultEnvFile    = ".env"
	DefaultLogLevel   = "info"
	DefaultStanza     = "default"
)

// Base64PasswordPrefix marks a password stored base64-encoded.
const Base64PasswordPrefix = "{64}"

// Configuration errors.
var (
	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrConfigInvalid indicates the configuration file is not valid YAML or has the wrong shape.
	ErrConfigInvalid = errors.New("configuration is not valid")

	// ErrNoDomains indicates the configuration defines no stanza at all.
	ErrNoDomains = errors.New("configuration defines no domains")

	// ErrMissingValue indicates a required stanza setting is unset.
	ErrMissingValue = errors.New("missing required value")

	// ErrIllegalValue indicates a stanza setting is out of range or malformed.
	ErrIllegalValue = errors.New("illegal value")

	// ErrNameClash indicates two stanzas answer to the same domain name.
	ErrNameClash = errors.New("domain name clash")
)

// ServerList accepts either a YAML sequence or a comma-separated string.
type ServerList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *ServerList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var servers []string
		for s := range strings.SplitSeq(node.Value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				servers = append(servers, s)
			}
		}
		*l = servers
		return nil
	case yaml.SequenceNode:
		var servers []string
		if err := node.Decode(&servers); err != nil {
			return err
		}
		*l = servers
		return nil
	default:
		return fmt.Errorf("line %d: server must be a string or a list of strings", node.Line)
	}
}

// Stanza holds the settings of one configured domain.
type Stanza struct {
	Name string `yaml:"-"`

	AlternateDomain string     `yaml:"alternatedomain"`
	BaseDN          string     `yaml:"basedn"`
	Servers         ServerList `yaml:"server"`

	SSL                bool `yaml:"ssl"`
	StartTLS           bool `yaml:"starttls"`
	Port               int  `yaml:"port"`
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	BindDN         string `yaml:"binddn"`
	Password       string `yaml:"password"`
	KerberosRealm  string `yaml:"kerberos_realm"`
	KerberosKeytab string `yaml:"kerberos_keytab"`
	KerberosConfig string `yaml:"kerberos_config"`
	KerberosCCache string `yaml:"kerberos_ccache"`

	Decode    *bool         `yaml:"decode" default:"true"`
	PagedSize uint32        `yaml:"paged_size" default:"1000"`
	Timeout   time.Duration `yaml:"timeout" default:"30s"`

	MaxRetries     *int          `yaml:"max_retries" default:"3"`
	InitialBackoff time.Duration `yaml:"initial_backoff" default:"500ms"`
	MaxBackoff     time.Duration `yaml:"max_backoff" default:"30s"`
}

type file struct {
	Domains map[string]yaml.Node `yaml:"domains"`
}

// Config is the loaded set of stanzas. It implements ldap.DomainSource.
type Config struct {
	Stanzas map[string]*Stanza

	index map[string]*ldap.ConnectionConfig
}

// Options controls where Load reads from.
type Options struct {
	Path    string // DefaultConfigPath when empty
	EnvFile string // DefaultEnvFile when empty; a missing default file is ignored
}

// Load reads the env file, then the configuration file.
func Load(opts Options) (*Config, error) {
	if err := LoadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}
	return LoadFile(opts.Path)
}

// LoadFile reads and parses the configuration file at path, DefaultConfigPath when empty.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	return Parse(data)
}

// LoadEnvFile loads path into the process environment without overriding variables that are
// already set. An empty path loads DefaultEnvFile if it exists.
func LoadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(DefaultEnvFile); err != nil {
			return nil
		}
		path = DefaultEnvFile
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Parse builds a Config from YAML.
func Parse(data []byte) (*Config, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	if len(f.Domains) == 0 {
		return nil, ErrNoDomains
	}

	var base Stanza
	if node, ok := f.Domains[DefaultStanza]; ok {
		if err := node.Decode(&base); err != nil {
			return nil, fmt.Errorf("%w: [%s]: %w", ErrConfigInvalid, DefaultStanza, err)
		}
	}

	names := make([]string, 0, len(f.Domains))
	for name := range f.Domains {
		names = append(names, name)
	}
	slices.Sort(names)

	cfg := &Config{Stanzas: make(map[string]*Stanza, len(names))}
	for _, name := range names {
		node := f.Domains[name]
		s, err := buildStanza(name, &node, base)
		if err != nil {
			return nil, err
		}
		cfg.Stanzas[name] = s
	}

	if err := cfg.buildIndex(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildStanza decodes node over the inherited default settings. The alias is the stanza's
// own identity and is never inherited.
func buildStanza(name string, node *yaml.Node, base Stanza) (*Stanza, error) {
	s := base
	s.Decode = clonePtr(base.Decode)
	s.MaxRetries = clonePtr(base.MaxRetries)
	if name != DefaultStanza {
		s.AlternateDomain = ""
		if err := node.Decode(&s); err != nil {
			return nil, fmt.Errorf("%w: [%s]: %w", ErrConfigInvalid, name, err)
		}
	}
	s.Name = name

	if err := defaults.Set(&s); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}

	s.applyEnv()

	if err := s.Validate(); err != nil {
		return nil, err
	}

	baseDN, err := ldap.NormalizeDNCase(s.BaseDN)
	if err != nil {
		return nil, fmt.Errorf("%w for basedn in [%s]: %w", ErrIllegalValue, s.Name, err)
	}
	s.BaseDN = baseDN

	return &s, nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// EnvName is the stanza name as used in environment variable names.
func EnvName(stanza string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, stanza)
}

func (s *Stanza) applyEnv() {
	suffix := EnvName(s.Name)
	s.BindDN = getStringValue(s.BindDN, EnvBindDNPrefix+suffix)
	s.Password = getStringValue(s.Password, EnvPasswordPrefix+suffix)
}

func getStringValue(configValue, envVar string) string {
	if configValue != "" {
		return configValue
	}
	return os.Getenv(envVar)
}

// Validate checks required settings and ranges.
func (s *Stanza) Validate() error {
	if strings.TrimSpace(s.AlternateDomain) == "" {
		return fmt.Errorf("%w for alternatedomain in [%s]", ErrMissingValue, s.Name)
	}
	if strings.TrimSpace(s.BaseDN) == "" {
		return fmt.Errorf("%w for basedn in [%s]", ErrMissingValue, s.Name)
	}
	if err := ldap.ValidateDNSyntax(s.BaseDN); err != nil {
		return fmt.Errorf("%w for basedn in [%s]: %w", ErrIllegalValue, s.Name, err)
	}
	if s.PagedSize < 1 || s.PagedSize > 65535 {
		return fmt.Errorf("%w for paged_size in [%s]: %d is not in range 1..65535", ErrIllegalValue, s.Name, s.PagedSize)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("%w for port in [%s]: %d is not in range 0..65535", ErrIllegalValue, s.Name, s.Port)
	}
	if s.SSL && s.StartTLS {
		return fmt.Errorf("%w for starttls in [%s]: cannot be combined with ssl", ErrIllegalValue, s.Name)
	}
	if s.MaxRetries != nil && *s.MaxRetries < 0 {
		return fmt.Errorf("%w for max_retries in [%s]: %d is negative", ErrIllegalValue, s.Name, *s.MaxRetries)
	}
	if _, err := s.password(); err != nil {
		return fmt.Errorf("%w for password in [%s]: %w", ErrIllegalValue, s.Name, err)
	}
	return nil
}

// password decodes a {64}-prefixed password.
func (s *Stanza) password() (string, error) {
	encoded, ok := strings.CutPrefix(s.Password, Base64PasswordPrefix)
	if !ok {
		return s.Password, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid base64: %w", err)
	}
	return string(decoded), nil
}

// ConnectionConfig converts the stanza into client settings.
func (s *Stanza) ConnectionConfig() *ldap.ConnectionConfig {
	config := ldap.DefaultConfig()

	config.Name = s.Name
	config.AlternateDomain = s.AlternateDomain
	config.BaseDN = s.BaseDN
	config.Servers = slices.Clone(s.Servers)
	config.Port = s.Port
	config.UseSSL = s.SSL
	config.StartTLS = s.StartTLS

	config.BindDN = s.BindDN
	config.Password, _ = s.password()
	config.KerberosRealm = s.KerberosRealm
	config.KerberosKeytab = s.KerberosKeytab
	config.KerberosConfig = s.KerberosConfig
	config.KerberosCCache = s.KerberosCCache

	if s.InsecureSkipVerify {
		config.InsecureSkipVerify = true
		config.TLSConfig.InsecureSkipVerify = true
	}

	config.PageSize = s.PagedSize
	if s.Decode != nil {
		config.Decode = *s.Decode
	}
	if s.Timeout > 0 {
		config.Timeout = s.Timeout
	}

	if s.MaxRetries != nil {
		config.MaxRetries = *s.MaxRetries
	}
	if s.InitialBackoff > 0 {
		config.InitialBackoff = s.InitialBackoff
	}
	if s.MaxBackoff > 0 {
		config.MaxBackoff = s.MaxBackoff
	}

	return config
}

// buildIndex builds the case-insensitive name and alias index, rejecting clashes.
func (c *Config) buildIndex() error {
	c.index = make(map[string]*ldap.ConnectionConfig)
	owner := make(map[string]string)

	names := make([]string, 0, len(c.Stanzas))
	for name := range c.Stanzas {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		s := c.Stanzas[name]
		conn := s.ConnectionConfig()
		for _, key := range []string{s.Name, s.AlternateDomain} {
			folded := strings.ToLower(strings.TrimSpace(key))
			if prev, ok := owner[folded]; ok && prev != name {
				return fmt.Errorf("%w: %q in [%s] is already used by [%s]", ErrNameClash, key, name, prev)
			}
			owner[folded] = name
			c.index[folded] = conn
		}
	}
	return nil
}

// Lookup finds a stanza by name or alternatedomain, case-insensitively.
func (c *Config) Lookup(domain string) (*ldap.ConnectionConfig, bool) {
	cfg, ok := c.index[strings.ToLower(strings.TrimSpace(domain))]
	return cfg, ok
}

var _ ldap.DomainSource = (*Config)(nil)
