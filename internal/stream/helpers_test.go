package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"strings"
	"testing"
	"time"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldapaugment/internal/ldap"
	"github.com/isometry/ldapaugment/internal/ldap/ldaptest"
)

const (
	baseDN    = "DC=example,DC=com"
	domainSID = "S-1-5-21-1004336348-1177238915-682003330"
)

var fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sid(rid string) string {
	return domainSID + "-" + rid
}

// domains is a static DomainSource keyed by stanza name.
type domains map[string]*ldap.ConnectionConfig

func (d domains) Lookup(name string) (*ldap.ConnectionConfig, bool) {
	for key, cfg := range d {
		if strings.EqualFold(key, name) || (cfg.AlternateDomain != "" && strings.EqualFold(cfg.AlternateDomain, name)) {
			return cfg, true
		}
	}
	return nil, false
}

func exampleConfig() *ldap.ConnectionConfig {
	cfg := ldap.DefaultConfig()
	cfg.Name = "example.com"
	cfg.AlternateDomain = "EXAMPLE"
	cfg.BaseDN = baseDN
	cfg.Servers = []string{"dc1.example.com"}
	cfg.PageSize = 2
	return cfg
}

// exampleDomains registers example.com also as the default stanza.
func exampleDomains() domains {
	cfg := exampleConfig()
	return domains{"example.com": cfg, "default": cfg}
}

// selectorFor serves every domain from s.
func selectorFor(t *testing.T, s *ldaptest.Searcher) *ldap.Selector {
	t.Helper()
	sel := ldap.NewSelector(exampleDomains(), func(context.Context, *ldap.ConnectionConfig) (ldap.Session, error) {
		return s, nil
	})
	t.Cleanup(func() { _ = sel.Close() })
	return sel
}

// captureLogs returns a context whose logger writes JSON lines to the returned buffer.
func captureLogs() (context.Context, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "test",
		Level:      hclog.Trace,
		Output:     &buf,
		JSONFormat: true,
	})
	return ldap.WithLogger(context.Background(), logger), &buf
}

// warnings lists the messages logged at warn level.
func warnings(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		if line["@level"] == "warn" {
			out = append(out, line["@message"].(string))
		}
	}
	return out
}

// rec builds a record from name/value pairs.
func rec(kv ...any) *Record {
	r := NewRecord()
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i].(string), kv[i+1])
	}
	return r
}

func recordsOf(recs ...*Record) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func collect(seq iter.Seq2[*Record, error]) ([]*Record, error) {
	var out []*Record
	for r, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

func get(r *Record, name string) any {
	v, _ := r.Get(name)
	return v
}

func has(r *Record, name string) bool {
	_, ok := r.Get(name)
	return ok
}

func ldapError(code uint16, err error) error {
	return goldap.NewError(code, err)
}
