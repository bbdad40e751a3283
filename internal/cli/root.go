// Package cli implements the keel command-line interface: world editing
// verbs on top of the solver, the commit engine and the diagnostic
// reporter.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath  string
	Quiet       bool
	Verbose     bool
	Simulate    bool
	Interactive bool
	NoScripts   bool
	NoNetwork   bool
	Force       bool // commit despite a world referencing unconfigured tags
}

// NewRootCommand creates the root command for the keel CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "keel",
		Short:         "keel - transactional package manager core",
		Long:          "Manages an installed package set against a declared world of constraints.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.ConfigPath, "config", "/etc/keel/keel.yaml", "configuration file")
	pf.BoolVarP(&opts.Quiet, "quiet", "q", false, "print errors only")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.BoolVarP(&opts.Simulate, "simulate", "s", false, "simulate: report what would be done without doing it")
	pf.BoolVarP(&opts.Interactive, "interactive", "i", false, "show the change diff and ask before committing")
	pf.BoolVar(&opts.NoScripts, "no-scripts", false, "do not execute hooks or trigger scripts")
	pf.BoolVar(&opts.NoNetwork, "no-network", false, "use the local package cache only")
	pf.BoolVar(&opts.Force, "force-broken-world", false, "commit even if the world references unconfigured repository tags")

	// Add subcommands
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewDelCommand(opts))
	cmd.AddCommand(NewUpgradeCommand(opts))
	cmd.AddCommand(NewWorldCommand(opts))

	return cmd
}
