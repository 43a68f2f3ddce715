package membership

import (
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/isometry/ldapaugment/internal/ldap"
	"github.com/isometry/ldapaugment/internal/ldap/ldaptest"
)

const (
	domainSID = "S-1-5-21-1004336348-1177238915-682003330"
	baseDN    = "DC=example,DC=com"
)

type logEntry struct {
	level  string
	msg    string
	fields map[string]any
}

// recordingLogger keeps every message for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) log(level, msg string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, fields: fields})
}

func (l *recordingLogger) Debug(msg string, fields map[string]any) { l.log("debug", msg, fields) }
func (l *recordingLogger) Info(msg string, fields map[string]any)  { l.log("info", msg, fields) }
func (l *recordingLogger) Warn(msg string, fields map[string]any)  { l.log("warn", msg, fields) }
func (l *recordingLogger) Error(msg string, fields map[string]any) { l.log("error", msg, fields) }
func (l *recordingLogger) Trace(msg string, fields map[string]any) { l.log("trace", msg, fields) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

func quietLogger() ldap.Logger {
	return ldap.NewHCLogger(hclog.NewNullLogger())
}

// record collects the fields Augment sets.
type record map[string]any

func (r record) Set(name string, value any) {
	r[name] = value
}

func sid(rid string) string {
	return domainSID + "-" + rid
}

func dirFor(s *ldaptest.Searcher, pageSize uint32) Directory {
	return Directory{
		Searcher: s,
		BaseDN:   baseDN,
		PageSize: pageSize,
		Decode:   true,
	}
}

func dns(members []Member) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.DN
	}
	return out
}
