// Package main is the entry point for the ldapaugment CLI. ldapaugment reads JSON-lines
// records on stdin, enriches them from Active Directory and writes them to stdout.
package main

import (
	"os"
	"time"

	"github.com/isometry/ldapaugment/cmd"
	"github.com/isometry/ldapaugment/internal/config"
	"github.com/isometry/ldapaugment/internal/ldap"
	"github.com/isometry/ldapaugment/internal/stream"
)

func main() {
	deps := &cmd.Dependencies{
		ConfigLoader: loadConfig,
		Dial:         ldap.DialSession,
		Probe:        stream.DialServer,
		Now:          time.Now,
		Stdin:        os.Stdin,
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
	}

	cmd.SetDefaultDependencies(deps)
	cmd.Execute()
}

// loadConfig reads the domain stanzas. A failed load yields a nil source rather than a
// nil *config.Config wrapped in the interface.
func loadConfig(path string) (ldap.DomainSource, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
