package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Conn is one bound connection to a directory server. Requests are issued strictly
// one at a time; a Conn must not be shared between goroutines.
type Conn struct {
	config *ConnectionConfig
	server *ServerInfo
	conn   *ldap.Conn
}

// Dial connects and binds to the first reachable server of cfg. Servers come from the
// configuration, or from DNS SRV records for cfg.Name when none are configured.
func Dial(ctx context.Context, cfg *ConnectionConfig) (*Conn, error) {
	logger := NewLogger(ctx, "ldap")

	servers, err := ResolveServers(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, server := range servers {
		c, err := DialServer(ctx, cfg, server)
		if err == nil {
			return c, nil
		}
		// Credentials are the same on every server; trying the rest only risks lockout.
		if IsAuthenticationError(err) {
			return nil, err
		}
		logger.Warn("Server unavailable, trying next", map[string]any{
			"domain": cfg.Name,
			"server": ServerInfoToURL(server),
			"error":  err.Error(),
		})
		errs = append(errs, fmt.Errorf("%s: %w", server.Host, err))
	}

	return nil, NewConnectionError(fmt.Sprintf("unable to connect to any server for domain %s", cfg.Name), false, errors.Join(errs...))
}

// ResolveServers lists candidate servers for cfg in preference order.
func ResolveServers(ctx context.Context, cfg *ConnectionConfig) ([]*ServerInfo, error) {
	servers, err := ConfiguredServers(cfg)
	if err != nil {
		return nil, err
	}
	if len(servers) > 0 {
		return servers, nil
	}

	if cfg.Name == "" {
		return nil, ErrNoServers
	}

	servers, err = NewSRVDiscovery(nil).DiscoverServers(ctx, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoServers, err)
	}
	return servers, nil
}

// DialServer connects and binds to one specific server.
func DialServer(ctx context.Context, cfg *ConnectionConfig, server *ServerInfo) (*Conn, error) {
	c := &Conn{config: cfg, server: server}

	if err := c.withRetry(ctx, func() error { return c.connect(ctx) }); err != nil {
		return nil, err
	}

	return c, nil
}

// Server returns the server this connection is bound to.
func (c *Conn) Server() *ServerInfo {
	return c.server
}

// Config returns the settings the connection was opened with.
func (c *Conn) Config() *ConnectionConfig {
	return c.config
}

// Close unbinds and closes the connection.
func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// connect dials, optionally upgrades with StartTLS, and authenticates.
func (c *Conn) connect(ctx context.Context) error {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	serverURL := ServerInfoToURL(c.server)
	fields := map[string]any{
		"domain":      c.config.Name,
		"server":      serverURL,
		"start_tls":   c.config.StartTLS && !c.server.UseTLS,
		"auth_method": c.config.GetAuthMethod().String(),
	}
	LogConnectionEvent(ctx, "connection_attempt", fields)

	start := time.Now()
	dialer := &net.Dialer{Timeout: c.config.Timeout}

	opts := []ldap.DialOpt{ldap.DialWithDialer(dialer)}
	if c.server.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(c.tlsConfig()))
	}

	conn, err := ldap.DialURL(serverURL, opts...)
	if err != nil {
		fields["error"] = err.Error()
		LogConnectionEvent(ctx, "connection_failed", fields)
		return NewConnectionError(fmt.Sprintf("failed to connect to %s", serverURL), true, err)
	}

	if c.config.StartTLS && !c.server.UseTLS {
		if err := conn.StartTLS(c.tlsConfig()); err != nil {
			conn.Close()
			fields["error"] = err.Error()
			LogConnectionEvent(ctx, "connection_failed", fields)
			return NewConnectionError(fmt.Sprintf("StartTLS with %s failed", serverURL), false, err)
		}
	}

	if c.config.Timeout > 0 {
		conn.SetTimeout(c.config.Timeout)
	}

	if err := c.authenticate(ctx, conn); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn

	fields["duration_ms"] = time.Since(start).Milliseconds()
	LogConnectionEvent(ctx, "connection_established", fields)
	return nil
}

func (c *Conn) tlsConfig() *tls.Config {
	var cfg *tls.Config
	if c.config.TLSConfig != nil {
		cfg = c.config.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	cfg.ServerName = c.server.Host
	if c.config.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true
	}
	return cfg
}

// authenticate performs authentication based on the configured method.
func (c *Conn) authenticate(ctx context.Context, conn *ldap.Conn) error {
	authMethod := c.config.GetAuthMethod()
	fields := map[string]any{
		"auth_method": authMethod.String(),
		"bind_dn":     c.config.BindDN,
		"domain":      c.config.Name,
	}

	var err error
	switch authMethod {
	case AuthMethodKerberos:
		err = performKerberosAuth(ctx, conn, c.config, c.server)
	case AuthMethodSimpleBind:
		if c.config.Password == "" {
			err = conn.UnauthenticatedBind(c.config.BindDN)
		} else {
			err = conn.Bind(c.config.BindDN, c.config.Password)
		}
	default:
		err = conn.UnauthenticatedBind("")
	}

	if err != nil {
		LogConnectionEvent(ctx, "authentication_failed", fields)

		ldapErr := NewLDAPError("bind", err)
		if ldapErr.Category == ErrorCategoryUnknown {
			ldapErr.Category = ErrorCategoryAuthentication
		}
		if ldapErr.Category == ErrorCategoryAuthentication {
			ldapErr.Message = DescribeBindError(err, c.config.BindDN, c.config.Name)
			ldapErr.Retryable = false
		}
		return ldapErr
	}

	LogConnectionEvent(ctx, "authentication_success", fields)
	return nil
}

// Search issues a single search round trip. Requests that do not continue a paged search
// are retried with backoff, reconnecting when the connection was lost.
func (c *Conn) Search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := NewLogger(ctx, "ldap")
	logger.Trace("Search request", map[string]any{
		"base_dn":    req.BaseDN,
		"scope":      req.Scope,
		"filter":     req.Filter,
		"attributes": req.Attributes,
	})

	var result *ldap.SearchResult
	op := func() error {
		if c.conn == nil || c.conn.IsClosing() {
			if err := c.connect(ctx); err != nil {
				return err
			}
		}
		var err error
		result, err = c.conn.Search(req)
		return err
	}

	var err error
	if continuesPagedSearch(req) {
		// A paging cookie is bound to the connection that issued it.
		err = op()
	} else {
		err = c.withRetry(ctx, op)
	}
	if err != nil {
		var ldapErr *LDAPError
		if errors.As(err, &ldapErr) {
			return nil, err
		}
		return nil, NewLDAPError("search", err).WithDN(req.BaseDN).WithFilter(req.Filter)
	}

	return result, nil
}

func continuesPagedSearch(req *ldap.SearchRequest) bool {
	paging, ok := ldap.FindControl(req.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
	return ok && len(paging.Cookie) > 0
}

// withRetry executes an operation with retry logic.
func (c *Conn) withRetry(ctx context.Context, operation func() error) error {
	logger := NewLogger(ctx, "ldap")
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Debug("Retrying operation", map[string]any{
				"attempt":    attempt,
				"max_retry":  c.config.MaxRetries,
				"backoff_ms": backoff.Milliseconds(),
				"last_error": lastErr.Error(),
			})
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info("Operation succeeded after retries", map[string]any{
					"total_attempts": attempt + 1,
				})
			}
			return nil
		}

		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if attempt == c.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
		}
	}

	logger.Error("Operation failed after all retries exhausted", map[string]any{
		"total_attempts": c.config.MaxRetries + 1,
		"final_error":    lastErr.Error(),
	})

	return NewConnectionError("operation failed after retries", false, lastErr)
}

// isRetryable limits retries to failures of the transport; directory answers are final.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsAuthenticationError(err) || IsFilterError(err) || IsNotFoundError(err) {
		return false
	}
	if IsRetryableError(err) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection closed")
}
