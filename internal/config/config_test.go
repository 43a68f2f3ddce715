package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
domains:
  default:
    alternatedomain: EXAMPLE
    basedn: DC=example,DC=com
    server: [dc1.example.com, dc2.example.com]
    ssl: true
    paged_size: 500
  corp.example.com:
    alternatedomain: CORP
    basedn: DC=corp,DC=example,DC=com
    server: dc3.corp.example.com, dc4.corp.example.com:3269
    decode: false
    binddn: CORP\svc-ldap
    password: "{64}czNjcjN0"
    timeout: 5s
    max_retries: 0
`

func TestParse_Inheritance(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	require.Len(t, cfg.Stanzas, 2)

	def := cfg.Stanzas["default"]
	assert.Equal(t, "default", def.Name)
	assert.Equal(t, ServerList{"dc1.example.com", "dc2.example.com"}, def.Servers)
	assert.Equal(t, uint32(500), def.PagedSize)
	require.NotNil(t, def.Decode)
	assert.True(t, *def.Decode)
	assert.Equal(t, 30*time.Second, def.Timeout)
	require.NotNil(t, def.MaxRetries)
	assert.Equal(t, 3, *def.MaxRetries)

	corp := cfg.Stanzas["corp.example.com"]
	assert.Equal(t, "CORP", corp.AlternateDomain)
	assert.True(t, corp.SSL, "inherited from default")
	assert.Equal(t, uint32(500), corp.PagedSize, "inherited from default")
	assert.Equal(t, ServerList{"dc3.corp.example.com", "dc4.corp.example.com:3269"}, corp.Servers)
	require.NotNil(t, corp.Decode)
	assert.False(t, *corp.Decode)
	assert.Equal(t, 5*time.Second, corp.Timeout)
	require.NotNil(t, corp.MaxRetries)
	assert.Equal(t, 0, *corp.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, corp.InitialBackoff)
}

func TestParse_OverridesDoNotLeakIntoDefault(t *testing.T) {
	cfg, err := Parse([]byte(`
domains:
  default:
    alternatedomain: EXAMPLE
    basedn: DC=example,DC=com
    decode: true
  a.example.com:
    alternatedomain: A
    decode: false
  b.example.com:
    alternatedomain: B
`))
	require.NoError(t, err)

	assert.True(t, *cfg.Stanzas["default"].Decode)
	assert.False(t, *cfg.Stanzas["a.example.com"].Decode)
	assert.True(t, *cfg.Stanzas["b.example.com"].Decode)
}

func TestStanza_ConnectionConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	conn := cfg.Stanzas["corp.example.com"].ConnectionConfig()
	assert.Equal(t, "corp.example.com", conn.Name)
	assert.Equal(t, "CORP", conn.AlternateDomain)
	assert.Equal(t, "DC=corp,DC=example,DC=com", conn.BaseDN)
	assert.Equal(t, []string{"dc3.corp.example.com", "dc4.corp.example.com:3269"}, conn.Servers)
	assert.True(t, conn.UseSSL)
	assert.Equal(t, `CORP\svc-ldap`, conn.BindDN)
	assert.Equal(t, "s3cr3t", conn.Password, "{64} passwords are decoded")
	assert.False(t, conn.Decode)
	assert.Equal(t, uint32(500), conn.PageSize)
	assert.Equal(t, 5*time.Second, conn.Timeout)
	assert.Equal(t, 0, conn.MaxRetries)
	assert.Equal(t, 30*time.Second, conn.MaxBackoff)
	assert.False(t, conn.InsecureSkipVerify)
}

func TestConfig_Lookup(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	tests := []struct {
		name   string
		domain string
		want   string
		found  bool
	}{
		{name: "stanza name", domain: "corp.example.com", want: "corp.example.com", found: true},
		{name: "alias", domain: "CORP", want: "corp.example.com", found: true},
		{name: "case-insensitive alias", domain: "corp", want: "corp.example.com", found: true},
		{name: "case-insensitive name", domain: "Corp.Example.COM", want: "corp.example.com", found: true},
		{name: "default", domain: "default", want: "default", found: true},
		{name: "default alias", domain: "example", want: "default", found: true},
		{name: "surrounding space", domain: " CORP ", want: "corp.example.com", found: true},
		{name: "unknown", domain: "other.example.com"},
		{name: "empty", domain: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, ok := cfg.Lookup(tt.domain)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, conn.Name)
			}
		})
	}
}

func TestConfig_LookupReturnsStableConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	byName, _ := cfg.Lookup("corp.example.com")
	byAlias, _ := cfg.Lookup("CORP")
	assert.Same(t, byName, byAlias)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
		message string
	}{
		{
			name:    "not yaml",
			yaml:    "domains: [",
			wantErr: ErrConfigInvalid,
		},
		{
			name:    "no domains",
			yaml:    "domains: {}",
			wantErr: ErrNoDomains,
		},
		{
			name: "missing basedn",
			yaml: `
domains:
  a.example.com:
    alternatedomain: A
`,
			wantErr: ErrMissingValue,
			message: "missing required value for basedn in [a.example.com]",
		},
		{
			name: "missing alternatedomain",
			yaml: `
domains:
  default:
    alternatedomain: EXAMPLE
    basedn: DC=example,DC=com
  a.example.com:
    basedn: DC=a,DC=example,DC=com
`,
			wantErr: ErrMissingValue,
			message: "missing required value for alternatedomain in [a.example.com]",
		},
		{
			name: "malformed basedn",
			yaml: `
domains:
  a.example.com:
    alternatedomain: A
    basedn: not a dn
`,
			wantErr: ErrIllegalValue,
		},
		{
			name: "paged size out of range",
			yaml: `
domains:
  a.example.com:
    alternatedomain: A
    basedn: DC=a,DC=example,DC=com
    paged_size: 70000
`,
			wantErr: ErrIllegalValue,
		},
		{
			name: "port out of range",
			yaml: `
domains:
  a.example.com:
    alternatedomain: A
    basedn: DC=a,DC=example,DC=com
    port: 70000
`,
			wantErr: ErrIllegalValue,
		},
		{
			name: "ssl with starttls",
			yaml: `
domains:
  a.example.com:
    alternatedomain: A
    basedn: DC=a,DC=example,DC=com
    ssl: true
    starttls: true
`,
			wantErr: ErrIllegalValue,
		},
		{
			name: "bad base64 password",
			yaml: `
domains:
  a.example.com:
    alternatedomain: A
    basedn: DC=a,DC=example,DC=com
    password: "{64}not base64!"
`,
			wantErr: ErrIllegalValue,
		},
		{
			name: "server of wrong kind",
			yaml: `
domains:
  a.example.com:
    alternatedomain: A
    basedn: DC=a,DC=example,DC=com
    server: {host: dc1}
`,
			wantErr: ErrConfigInvalid,
		},
		{
			name: "alias clashes with stanza name",
			yaml: `
domains:
  a.example.com:
    alternatedomain: A
    basedn: DC=a,DC=example,DC=com
  b.example.com:
    alternatedomain: A.EXAMPLE.COM
    basedn: DC=b,DC=example,DC=com
`,
			wantErr: ErrNameClash,
		},
		{
			name: "duplicate alias",
			yaml: `
domains:
  a.example.com:
    alternatedomain: SAME
    basedn: DC=a,DC=example,DC=com
  b.example.com:
    alternatedomain: same
    basedn: DC=b,DC=example,DC=com
`,
			wantErr: ErrNameClash,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.message != "" {
				assert.Equal(t, tt.message, err.Error())
			}
		})
	}
}

func TestParse_NormalizesBaseDN(t *testing.T) {
	cfg, err := Parse([]byte(`
domains:
  a.example.com:
    alternatedomain: A
    basedn: ou=Users,dc=a,dc=example,dc=com
`))
	require.NoError(t, err)
	assert.Equal(t, "OU=Users,DC=a,DC=example,DC=com", cfg.Stanzas["a.example.com"].BaseDN)
}

func TestParse_AliasMayEqualOwnName(t *testing.T) {
	_, err := Parse([]byte(`
domains:
  EXAMPLE:
    alternatedomain: example
    basedn: DC=example,DC=com
`))
	assert.NoError(t, err)
}

func TestEnvName(t *testing.T) {
	tests := []struct {
		stanza string
		want   string
	}{
		{stanza: "default", want: "DEFAULT"},
		{stanza: "corp.example.com", want: "CORP_EXAMPLE_COM"},
		{stanza: "eu-west", want: "EU_WEST"},
		{stanza: "Dom2", want: "DOM2"},
	}

	for _, tt := range tests {
		t.Run(tt.stanza, func(t *testing.T) {
			assert.Equal(t, tt.want, EnvName(tt.stanza))
		})
	}
}

func TestParse_CredentialsFromEnvironment(t *testing.T) {
	t.Setenv(EnvBindDNPrefix+"CORP_EXAMPLE_COM", "ignored")
	t.Setenv(EnvPasswordPrefix+"CORP_EXAMPLE_COM", "ignored")
	t.Setenv(EnvBindDNPrefix+"DEFAULT", "CN=svc,DC=example,DC=com")
	t.Setenv(EnvPasswordPrefix+"DEFAULT", "from-env")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	def := cfg.Stanzas["default"].ConnectionConfig()
	assert.Equal(t, "CN=svc,DC=example,DC=com", def.BindDN)
	assert.Equal(t, "from-env", def.Password)

	corp := cfg.Stanzas["corp.example.com"].ConnectionConfig()
	assert.Equal(t, `CORP\svc-ldap`, corp.BindDN, "file values win over the environment")
	assert.Equal(t, "s3cr3t", corp.Password)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "ldap.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(sampleConfig), 0o600))

	envPath := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte("LDAPAUGMENT_PASSWORD_DEFAULT=dotenv-secret\n"), 0o600))
	t.Setenv(EnvPasswordPrefix+"DEFAULT", "")
	require.NoError(t, os.Unsetenv(EnvPasswordPrefix+"DEFAULT"))

	cfg, err := Load(Options{Path: configPath, EnvFile: envPath})
	require.NoError(t, err)

	conn, ok := cfg.Lookup("EXAMPLE")
	require.True(t, ok)
	assert.Equal(t, "dotenv-secret", conn.Password)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing config", func(t *testing.T) {
		_, err := Load(Options{Path: filepath.Join(dir, "nope.yaml"), EnvFile: writeEmptyEnv(t, dir)})
		assert.ErrorIs(t, err, ErrConfigNotFound)
	})

	t.Run("missing explicit env file", func(t *testing.T) {
		_, err := Load(Options{Path: filepath.Join(dir, "nope.yaml"), EnvFile: filepath.Join(dir, "nope.env")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load env file")
	})
}

func TestLoadEnvFile_MissingDefaultIsIgnored(t *testing.T) {
	t.Chdir(t.TempDir())
	assert.NoError(t, LoadEnvFile(""))
}

func writeEmptyEnv(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "empty.env")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	return path
}
