package ldap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionConfig_GetAuthMethod(t *testing.T) {
	tests := []struct {
		name   string
		config *ConnectionConfig
		want   AuthMethod
	}{
		{
			name:   "anonymous",
			config: &ConnectionConfig{},
			want:   AuthMethodAnonymous,
		},
		{
			name:   "simple bind",
			config: &ConnectionConfig{BindDN: "CN=svc,DC=example,DC=com", Password: "secret"},
			want:   AuthMethodSimpleBind,
		},
		{
			name:   "unauthenticated bind",
			config: &ConnectionConfig{BindDN: "CN=svc,DC=example,DC=com"},
			want:   AuthMethodSimpleBind,
		},
		{
			name:   "kerberos by realm",
			config: &ConnectionConfig{BindDN: "svc", Password: "secret", KerberosRealm: "EXAMPLE.COM"},
			want:   AuthMethodKerberos,
		},
		{
			name:   "kerberos by keytab",
			config: &ConnectionConfig{BindDN: "svc", KerberosKeytab: "/etc/svc.keytab"},
			want:   AuthMethodKerberos,
		},
		{
			name:   "kerberos by credential cache",
			config: &ConnectionConfig{KerberosCCache: "/tmp/krb5cc_1000"},
			want:   AuthMethodKerberos,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.GetAuthMethod())
		})
	}
}

func TestAuthMethod_String(t *testing.T) {
	assert.Equal(t, "simple", AuthMethodSimpleBind.String())
	assert.Equal(t, "kerberos", AuthMethodKerberos.String())
	assert.Equal(t, "anonymous", AuthMethodAnonymous.String())
	assert.Equal(t, "unknown", AuthMethod(99).String())
}

func TestParseSearchScope(t *testing.T) {
	tests := []struct {
		input   string
		want    SearchScope
		wantErr bool
	}{
		{input: "base", want: ScopeBaseObject},
		{input: "ONE", want: ScopeSingleLevel},
		{input: "onelevel", want: ScopeSingleLevel},
		{input: "sub", want: ScopeWholeSubtree},
		{input: "", want: ScopeWholeSubtree},
		{input: "children", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSearchScope(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParseScope(t, got.String()))
		})
	}
}

func mustParseScope(t *testing.T, s string) SearchScope {
	t.Helper()
	scope, err := ParseSearchScope(s)
	assert.NoError(t, err)
	return scope
}
