package ldap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// performKerberosAuth performs a GSSAPI bind on conn for the server it is connected to.
func performKerberosAuth(ctx context.Context, conn *ldap.Conn, cfg *ConnectionConfig, server *ServerInfo) error {
	krbCfg, err := prepareKerberosConfig(cfg)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	krb5confPath, cleanup, err := krb5ConfPath(ctx, krbCfg)
	if err != nil {
		return err
	}
	defer cleanup()

	gssapiClient, source, err := createGSSAPIClient(krbCfg, krb5confPath)
	if err != nil {
		LogKerberosEvent(ctx, "ticket_acquisition_failed", map[string]any{
			"realm": krbCfg.KerberosRealm,
			"error": err.Error(),
		})
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	LogKerberosEvent(ctx, "ticket_acquired", map[string]any{
		"realm":  krbCfg.KerberosRealm,
		"source": source,
	})

	spn, err := buildServicePrincipal(server)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		LogKerberosEvent(ctx, "authentication_failed", map[string]any{
			"spn":   spn,
			"error": err.Error(),
		})
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	return nil
}

// createGSSAPIClient builds a GSSAPI client from the first usable credential source.
// Priority order: credential cache, default credential cache, keytab, default keytab, password.
func createGSSAPIClient(cfg *ConnectionConfig, krb5confPath string) (*gssapi.Client, string, error) {
	if cfg.KerberosCCache != "" && fileExists(cfg.KerberosCCache) {
		c, err := gssapi.NewClientFromCCache(cfg.KerberosCCache, krb5confPath, krb5client.DisablePAFXFAST(true))
		return c, "ccache", err
	}

	if ccache := getDefaultCCachePath(); fileExists(ccache) {
		c, err := gssapi.NewClientFromCCache(ccache, krb5confPath, krb5client.DisablePAFXFAST(true))
		return c, "default_ccache", err
	}

	if cfg.BindDN == "" {
		return nil, "", fmt.Errorf("no credential cache found and no principal configured")
	}

	if cfg.KerberosKeytab != "" && fileExists(cfg.KerberosKeytab) {
		c, err := gssapi.NewClientWithKeytab(cfg.BindDN, cfg.KerberosRealm, cfg.KerberosKeytab, krb5confPath, krb5client.DisablePAFXFAST(true))
		return c, "keytab", err
	}

	if keytab := getDefaultKeytabPath(); fileExists(keytab) {
		c, err := gssapi.NewClientWithKeytab(cfg.BindDN, cfg.KerberosRealm, keytab, krb5confPath, krb5client.DisablePAFXFAST(true))
		return c, "default_keytab", err
	}

	if cfg.Password != "" {
		c, err := gssapi.NewClientWithPassword(cfg.BindDN, cfg.KerberosRealm, cfg.Password, krb5confPath, krb5client.DisablePAFXFAST(true))
		return c, "password", err
	}

	return nil, "", fmt.Errorf("no suitable credentials found for Kerberos authentication")
}

// buildServicePrincipal returns the ldap/<host> service principal.
func buildServicePrincipal(server *ServerInfo) (string, error) {
	if server == nil || server.Host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}

	return "ldap/" + server.Host, nil
}

// prepareKerberosConfig returns a copy of cfg with the principal split from its realm.
// Without an explicit realm the upper-cased domain name is used.
func prepareKerberosConfig(cfg *ConnectionConfig) (*ConnectionConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	out := *cfg

	if principal, realm, ok := strings.Cut(out.BindDN, "@"); ok {
		out.BindDN = principal
		if out.KerberosRealm == "" {
			out.KerberosRealm = realm
		}
	}

	if out.KerberosRealm == "" {
		out.KerberosRealm = strings.ToUpper(out.Name)
	}

	if out.KerberosRealm == "" {
		return nil, fmt.Errorf("kerberos realm is required (set kerberos_realm or include realm in binddn)")
	}

	return &out, nil
}

// krb5ConfPath returns the krb5.conf to use. When none exists, a DNS-discovery
// configuration for the realm is written to a temporary file.
func krb5ConfPath(ctx context.Context, cfg *ConnectionConfig) (string, func(), error) {
	path := cfg.KerberosConfig
	if path == "" {
		path = defaultKrb5Conf
	}
	if fileExists(path) {
		return path, func() {}, nil
	}
	if cfg.KerberosConfig != "" {
		return "", nil, fmt.Errorf("kerberos configuration file not found at %s", cfg.KerberosConfig)
	}

	f, err := os.CreateTemp("", "krb5-*.conf")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create runtime krb5.conf: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }

	if _, err := f.WriteString(generateRuntimeKrb5Conf(cfg)); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write runtime krb5.conf: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}

	NewLogger(ctx, "kerberos").Debug("Using runtime krb5.conf with DNS KDC discovery", map[string]any{
		"realm": cfg.KerberosRealm,
		"path":  f.Name(),
	})
	return f.Name(), cleanup, nil
}

// generateRuntimeKrb5Conf renders a minimal krb5.conf that finds KDCs through DNS.
func generateRuntimeKrb5Conf(cfg *ConnectionConfig) string {
	realm := strings.ToUpper(cfg.KerberosRealm)
	domain := strings.ToLower(cfg.KerberosRealm)
	if cfg.Name != "" && cfg.Name != "default" {
		domain = strings.ToLower(cfg.Name)
	}

	return fmt.Sprintf(`[libdefaults]
    default_realm = %s
    dns_lookup_kdc = true
    dns_lookup_realm = false
    rdns = false

[realms]
    %s = {
    }

[domain_realm]
    .%s = %s
    %s = %s
`, realm, realm, domain, realm, domain, realm)
}

// getDefaultCCachePath returns the default credential cache location.
func getDefaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// getDefaultKeytabPath returns the default keytab location.
func getDefaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
