package ldap

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"
)

// Logger interface for LDAP operations.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Trace(msg string, fields map[string]any)
}

// HCLogger adapts a named hclog logger to Logger.
type HCLogger struct {
	logger hclog.Logger
}

// NewLogger returns the subsystem logger carried by ctx, falling back to hclog's default logger.
func NewLogger(ctx context.Context, subsystem string) *HCLogger {
	return &HCLogger{logger: subsystemLogger(ctx, subsystem)}
}

// NewHCLogger wraps an existing hclog logger.
func NewHCLogger(logger hclog.Logger) *HCLogger {
	return &HCLogger{logger: logger}
}

func (l *HCLogger) Debug(msg string, fields map[string]any) {
	l.logger.Debug(msg, fieldArgs(fields)...)
}

func (l *HCLogger) Info(msg string, fields map[string]any) {
	l.logger.Info(msg, fieldArgs(fields)...)
}

func (l *HCLogger) Warn(msg string, fields map[string]any) {
	l.logger.Warn(msg, fieldArgs(fields)...)
}

func (l *HCLogger) Error(msg string, fields map[string]any) {
	l.logger.Error(msg, fieldArgs(fields)...)
}

func (l *HCLogger) Trace(msg string, fields map[string]any) {
	l.logger.Trace(msg, fieldArgs(fields)...)
}

// NewRootLogger builds the process logger. Records own stdout, so w is normally stderr.
func NewRootLogger(name, level string, jsonFormat bool, w io.Writer) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      lvl,
		Output:     w,
		JSONFormat: jsonFormat,
	})
}

// WithLogger stores logger in ctx for NewLogger and the Log* helpers.
func WithLogger(ctx context.Context, logger hclog.Logger) context.Context {
	return hclog.WithContext(ctx, logger)
}

func subsystemLogger(ctx context.Context, subsystem string) hclog.Logger {
	return hclog.FromContext(ctx).Named(subsystem)
}

// fieldArgs flattens fields into hclog key/value pairs in key order.
func fieldArgs(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return args
}

// LogOperation is a helper function to log an operation with timing.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	logger := NewLogger(ctx, subsystem)
	start := time.Now()

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation

	logger.Debug("Starting operation", fields)

	err := fn()

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		logger.Error("Operation failed", fields)
	} else {
		logger.Debug("Operation completed successfully", fields)
	}

	return err
}

// LogLDAPError logs a recovered failure at warn level, adding the LDAP result details when err carries them.
func LogLDAPError(logger Logger, message, operation string, err error, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["operation"] = operation
	fields["error"] = err.Error()

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		fields["ldap_result_code"] = resultErr.ResultCode
		if resultErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = resultErr.MatchedDN
		}
		if resultErr.Err != nil {
			fields["ldap_diagnostic_message"] = resultErr.Err.Error()
		}
	}

	logger.Warn(message, fields)
}

// LogConnectionEvent logs connection-related events.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	fields = SanitizeFields(fields)
	fields["event"] = event

	logger := NewLogger(ctx, "ldap")
	switch event {
	case "connection_established", "authentication_success":
		logger.Info("Connection event", fields)
	case "connection_failed", "authentication_failed":
		logger.Error("Connection event", fields)
	default:
		logger.Debug("Connection event", fields)
	}
}

// LogKerberosEvent logs Kerberos-specific events.
func LogKerberosEvent(ctx context.Context, event string, fields map[string]any) {
	fields = SanitizeFields(fields)
	fields["event"] = event

	logger := NewLogger(ctx, "kerberos")
	switch event {
	case "ticket_acquired", "keytab_loaded":
		logger.Info("Kerberos event", fields)
	case "ticket_acquisition_failed", "authentication_failed":
		logger.Error("Kerberos event", fields)
	default:
		logger.Trace("Kerberos event", fields)
	}
}

// SanitizeFields removes sensitive information from log fields.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields)+1)

	sensitiveKeys := map[string]bool{
		"password":    true,
		"passwd":      true,
		"secret":      true,
		"token":       true,
		"key":         true,
		"credential":  true,
		"credentials": true,
	}

	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

func containsSensitivePattern(s string) bool {
	lower := strings.ToLower(s)
	for _, pattern := range []string{"password=", "passwd=", "secret=", "token="} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
