// Package cmd provides the CLI commands for ldapaugment.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/isometry/ldapaugment/internal/config"
	"github.com/isometry/ldapaugment/internal/ldap"
	"github.com/isometry/ldapaugment/internal/stream"
)

// Dependencies holds all injectable dependencies for the commands.
type Dependencies struct {
	// ConfigLoader loads the domain stanzas from the configuration file at path.
	ConfigLoader func(path string) (ldap.DomainSource, error)

	// Dial opens a session for one domain.
	Dial ldap.DialFunc

	// Probe opens a session to one specific server for testconnection.
	Probe stream.ProbeFunc

	// Now stamps generated records.
	Now func() time.Time

	// Stdin carries input records as JSON lines.
	Stdin io.Reader

	// Stdout receives output records as JSON lines.
	Stdout io.Writer

	// Stderr receives logs.
	Stderr io.Writer
}

// defaultDeps holds the production dependencies, set from main via SetDefaultDependencies.
var defaultDeps *Dependencies

// SetDefaultDependencies sets the default dependencies for production use.
// This should be called from main() before Execute().
func SetDefaultDependencies(deps *Dependencies) {
	defaultDeps = deps
}

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
	logJSON    bool
}

// commandOptions are the flags most search commands share.
type commandOptions struct {
	domain     string
	decode     bool
	attributes []string
}

func (o *commandOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.domain, "domain", stream.DefaultDomain,
		"Configured domain name or alias; may reference record fields as $field$")
	cmd.Flags().BoolVar(&o.decode, "decode", true,
		"Apply AD-specific attribute decoding; overrides the domain's decode setting when given")
	cmd.Flags().StringSliceVar(&o.attributes, "attrs", nil,
		"Attributes to retrieve (comma-separated); all attributes when omitted")
}

// decodeOverride is nil unless --decode was given explicitly.
func (o *commandOptions) decodeOverride(cmd *cobra.Command) *bool {
	if !cmd.Flags().Changed("decode") {
		return nil
	}
	decode := o.decode
	return &decode
}

// NewRootCmd creates the root command with the default dependencies.
func NewRootCmd() *cobra.Command {
	return NewRootCmdWithDeps(defaultDeps)
}

// NewRootCmdWithDeps creates the root command with explicit dependencies.
func NewRootCmdWithDeps(deps *Dependencies) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "ldapaugment",
		Short: "Augment JSON-lines records with Active Directory data",
		Long: `ldapaugment reads and writes records as JSON lines and enriches them with data
from one or more configured Active Directory domains.

Records are read from stdin and written to stdout; logs go to stderr.

Examples:
  # Expand the membership of each group named in the input
  ldapaugment group --groupdn distinguishedName < groups.jsonl

  # Look up users by account name
  ldapaugment filter --search '(sAMAccountName=$user$)' --attrs mail,displayName < logins.jsonl

  # Generate records from a search
  ldapaugment search --domain CORP --search '(objectCategory=group)' --attrs cn,member

  # Check every configured server of a domain
  ldapaugment testconnection --domain corp.example.com`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup(cmd, opts, deps)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "",
		fmt.Sprintf("Configuration file (env %s, default %s)", config.EnvConfig, config.DefaultConfigPath))
	flags.StringVar(&opts.envFile, "env-file", "",
		fmt.Sprintf("Env file loaded before the configuration (env %s, default %s when present)", config.EnvEnvFile, config.DefaultEnvFile))
	flags.StringVar(&opts.logLevel, "log-level", "",
		fmt.Sprintf("Log level: trace, debug, info, warn, error (env %s, default %s)", config.EnvLogLevel, config.DefaultLogLevel))
	flags.BoolVar(&opts.logJSON, "log-json", false, "Emit logs as JSON")

	rootCmd.AddCommand(
		newGroupCmd(opts, deps),
		newFetchCmd(opts, deps),
		newFilterCmd(opts, deps),
		newSearchCmd(opts, deps),
		newTestConnectionCmd(opts, deps),
	)

	return rootCmd
}

// setup loads the env file and installs the logger in the command's context.
func setup(cmd *cobra.Command, opts *rootOptions, deps *Dependencies) error {
	if deps == nil {
		return errors.New("dependencies not configured")
	}

	if err := config.LoadEnvFile(flagOrEnv(cmd, "env-file", opts.envFile, config.EnvEnvFile, "")); err != nil {
		return err
	}

	level := flagOrEnv(cmd, "log-level", opts.logLevel, config.EnvLogLevel, config.DefaultLogLevel)
	logger := ldap.NewRootLogger("ldapaugment", level, opts.logJSON, stderr(deps))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(ldap.WithLogger(ctx, logger))
	return nil
}

// flagOrEnv resolves a flag that falls back to an environment variable, then to def.
func flagOrEnv(cmd *cobra.Command, name, value, envVar, def string) string {
	if cmd.Flags().Changed(name) {
		return value
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return def
}

// loadDomains loads the configuration through the injected loader.
func loadDomains(cmd *cobra.Command, opts *rootOptions, deps *Dependencies) (ldap.DomainSource, error) {
	path := flagOrEnv(cmd, "config", opts.configPath, config.EnvConfig, config.DefaultConfigPath)
	source, err := deps.ConfigLoader(path)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return source, nil
}

// runSelected opens a selector over the configured domains, runs build over it and writes
// the resulting records to stdout. Connections are closed once the stream ends.
func runSelected(cmd *cobra.Command, opts *rootOptions, deps *Dependencies,
	build func(ctx context.Context, domains stream.Domains) iter.Seq2[*stream.Record, error],
) error {
	ctx := cmd.Context()
	logger := ldap.NewLogger(ctx, "stream")

	source, err := loadDomains(cmd, opts, deps)
	if err != nil {
		return err
	}

	selector := ldap.NewSelector(source, deps.Dial)
	defer func() {
		if closeErr := selector.Close(); closeErr != nil {
			logger.Warn("Failed to close connections", map[string]any{
				"error": closeErr.Error(),
			})
		}
	}()

	return writeRecords(cmd, deps, build(ctx, selector))
}

func writeRecords(cmd *cobra.Command, deps *Dependencies, records iter.Seq2[*stream.Record, error]) error {
	logger := ldap.NewLogger(cmd.Context(), "stream")
	start := time.Now()

	n, err := stream.WriteRecords(stdout(deps), records)
	if err != nil {
		logger.Error("Command failed", map[string]any{
			"command": cmd.Name(),
			"records": n,
			"error":   err.Error(),
		})
		return err
	}

	logger.Info("Command complete", map[string]any{
		"command":     cmd.Name(),
		"records":     n,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

func stdin(deps *Dependencies) io.Reader {
	if deps.Stdin == nil {
		return os.Stdin
	}
	return deps.Stdin
}

func stdout(deps *Dependencies) io.Writer {
	if deps.Stdout == nil {
		return os.Stdout
	}
	return deps.Stdout
}

func stderr(deps *Dependencies) io.Writer {
	if deps.Stderr == nil {
		return os.Stderr
	}
	return deps.Stderr
}

// Execute runs the root command.
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		writeErrorf(errorOutput(defaultDeps), "Error: %v\n", err)
		os.Exit(1)
	}
}

// errorOutput is where Execute reports a failed command.
func errorOutput(deps *Dependencies) io.Writer {
	var errOut io.Writer = os.Stderr
	if deps != nil && deps.Stderr != nil {
		errOut = deps.Stderr
	}
	return errOut
}

// writeErrorf writes to w, ignoring failures: there is nowhere left to report them.
func writeErrorf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
