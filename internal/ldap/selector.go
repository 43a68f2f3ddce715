package ldap

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DomainSource finds the connection settings of a configured domain by name or alias.
type DomainSource interface {
	Lookup(domain string) (*ConnectionConfig, bool)
}

// Session is a bound connection handed out by a Selector.
type Session interface {
	Searcher
	Close() error
}

// DialFunc opens a session for one domain.
type DialFunc func(ctx context.Context, cfg *ConnectionConfig) (Session, error)

// DialSession is the production DialFunc.
func DialSession(ctx context.Context, cfg *ConnectionConfig) (Session, error) {
	c, err := Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Connection is a live session together with the settings of the domain it serves.
type Connection struct {
	Session
	Config *ConnectionConfig
	Host   string
}

// Selector maps domain names to lazily opened connections. Each domain is dialed at most
// once and its connection reused for every later record until Close. Not safe for
// concurrent use.
type Selector struct {
	source DomainSource
	dial   DialFunc
	conns  map[string]*Connection
}

// NewSelector creates a selector; a nil dial uses DialSession.
func NewSelector(source DomainSource, dial DialFunc) *Selector {
	if dial == nil {
		dial = DialSession
	}
	return &Selector{
		source: source,
		dial:   dial,
		conns:  make(map[string]*Connection),
	}
}

// Select returns the connection for domain, dialing it on first use. An unknown domain
// yields ErrDomainNotConfigured; dial and bind failures are returned as-is.
func (s *Selector) Select(ctx context.Context, domain string) (*Connection, error) {
	domain = strings.TrimSpace(domain)
	cfg, ok := s.source.Lookup(domain)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDomainNotConfigured, domain)
	}

	if conn, ok := s.conns[cfg.Name]; ok {
		return conn, nil
	}

	var session Session
	err := LogOperation(ctx, "ldap", "open_domain", map[string]any{
		"domain": cfg.Name,
	}, func() error {
		var err error
		session, err = s.dial(ctx, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		Session: session,
		Config:  cfg,
		Host:    sessionHost(session, cfg),
	}
	s.conns[cfg.Name] = conn
	return conn, nil
}

func sessionHost(session Session, cfg *ConnectionConfig) string {
	if c, ok := session.(interface{ Server() *ServerInfo }); ok && c.Server() != nil {
		return c.Server().Host
	}
	if len(cfg.Servers) > 0 {
		return cfg.Servers[0]
	}
	return cfg.Name
}

// Close closes every opened connection.
func (s *Selector) Close() error {
	var errs []error
	for name, conn := range s.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
		delete(s.conns, name)
	}
	return errors.Join(errs...)
}
