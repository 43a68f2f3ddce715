package stream

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/isometry/ldapaugment/internal/ldap"
)

// maxProbes bounds how many servers are probed at once.
const maxProbes = 8

// ProbeFunc opens a session to one specific server of a domain.
type ProbeFunc func(ctx context.Context, cfg *ldap.ConnectionConfig, server *ldap.ServerInfo) (ldap.Session, error)

// DialServer is the production ProbeFunc.
func DialServer(ctx context.Context, cfg *ldap.ConnectionConfig, server *ldap.ServerInfo) (ldap.Session, error) {
	c, err := ldap.DialServer(ctx, cfg, server)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// TestConnectionOptions configures TestConnection.
type TestConnectionOptions struct {
	Domain string
	Probe  ProbeFunc // DialServer when nil
	Now    func() time.Time
}

// ServerFailure is one server that failed a connection test.
type ServerFailure struct {
	Host    string
	Message string
}

// ConnectionTestError lists every server that failed a connection test.
type ConnectionTestError struct {
	Domain   string
	Failures []ServerFailure
}

func (e *ConnectionTestError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Host + ": " + strings.ReplaceAll(f.Message, "\x00", "")
	}
	return strings.Join(parts, " # ")
}

type probeResult struct {
	server *ldap.ServerInfo
	dn     string
	err    error
}

// TestConnection binds to every server of one domain, each on its own connection, and
// reads the domain's base entry. It generates one record per server when all succeed and
// fails with a ConnectionTestError naming each failing server otherwise.
func TestConnection(ctx context.Context, source ldap.DomainSource, opts TestConnectionOptions) iter.Seq2[*Record, error] {
	probe := opts.Probe
	if probe == nil {
		probe = DialServer
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(yield func(*Record, error) bool) {
		logger := ldap.NewLogger(ctx, "stream")

		domain, _ := domainTemplate(opts.Domain).Expand(nil, nil)
		cfg, ok := source.Lookup(domain)
		if !ok {
			yield(nil, fmt.Errorf("%w: %q", ldap.ErrDomainNotConfigured, domain))
			return
		}

		servers, err := ldap.ResolveServers(ctx, cfg)
		if err != nil {
			yield(nil, err)
			return
		}

		results := make([]probeResult, len(servers))
		var g errgroup.Group
		g.SetLimit(maxProbes)
		for i, server := range servers {
			g.Go(func() error {
				logger.Debug("Testing connection", map[string]any{
					"domain": cfg.Name,
					"server": ldap.ServerInfoToURL(server),
				})
				dn, err := probeServer(ctx, probe, cfg, server)
				results[i] = probeResult{server: server, dn: dn, err: err}
				return nil
			})
		}
		_ = g.Wait()

		var failures []ServerFailure
		for _, r := range results {
			if r.err != nil {
				failures = append(failures, ServerFailure{Host: r.server.Host, Message: r.err.Error()})
			}
		}
		if len(failures) > 0 {
			yield(nil, &ConnectionTestError{Domain: cfg.Name, Failures: failures})
			return
		}

		stamp := timestamp(now())
		for i, r := range results {
			rec := NewRecord()
			rec.Set("_serial", i)
			rec.Set("_time", stamp)
			rec.Set("host", r.server.Host)
			rec.Set("server", ldap.ServerInfoToURL(r.server))
			rec.Set("status", "ok")
			rec.Set("dn", r.dn)
			rec.Set("distinguishedName", r.dn)
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// probeServer binds to server and reads the base entry, returning its DN.
func probeServer(ctx context.Context, probe ProbeFunc, cfg *ldap.ConnectionConfig, server *ldap.ServerInfo) (string, error) {
	url := ldap.ServerInfoToURL(server)

	session, err := probe(ctx, cfg, server)
	if err != nil {
		return "", fmt.Errorf("could not access the directory service at %s: %w", url, err)
	}
	defer session.Close()

	req := &ldap.SearchRequest{
		BaseDN:     cfg.BaseDN,
		Scope:      ldap.ScopeBaseObject,
		Filter:     DefaultFilter,
		Attributes: []string{"distinguishedName"},
	}
	for entry, err := range ldap.PagedSearch(ctx, session, req, cfg.PageSize) {
		if err != nil {
			return "", fmt.Errorf("could not access the directory service at %s: %w", url, err)
		}
		return entry.DN, nil
	}

	return "", fmt.Errorf("the directory serviced at %s contains no entry for %s", url, cfg.BaseDN)
}
