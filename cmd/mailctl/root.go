package main

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/matheus3301/mailctl/internal/app"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags of the root command.
type globalOptions struct {
	configPath string
	verbose    bool
	quiet      bool
}

func (o *globalOptions) params() app.Params {
	return app.Params{ConfigPath: o.configPath, Verbose: o.verbose, Quiet: o.quiet}
}

func (o *globalOptions) printer(cmd *cobra.Command) *printer {
	return &printer{out: cmd.OutOrStdout(), quiet: o.quiet}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "mailctl",
		Short: "Fetch Outlook mail into a local store and download attachments",
		Long: `mailctl signs in to Microsoft Graph with the device-code flow, fetches
messages into a local SQLite database and downloads attachments to disk.

Configuration is read from ~/.mailctl/config.toml, MAILCTL_* environment
variables and a .env file in the working directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if opts.verbose && opts.quiet {
				return errors.New("choose only one of --verbose or --quiet")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ~/.mailctl/config.toml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")
	cmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "print only summaries and errors")

	cmd.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newStatusCmd(opts),
		newFetchCmd(opts),
		newListCmd(opts),
		newExportCmd(opts),
		newDownloadCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// printer writes user-facing output. Info lines are dropped with --quiet;
// summaries always print. It is safe for concurrent use so bus progress can
// print while a command runs.
type printer struct {
	mu    sync.Mutex
	out   io.Writer
	quiet bool
}

func (p *printer) Infof(format string, args ...any) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) Summaryf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) Block(s string) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, s)
}
