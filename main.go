// gosh - Go Shell
// POSIX-compatible shell implementation written from scratch in Go.
// Copyright (c) 2025 gosh project - 0BSD License

package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"runtime"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/gosh-project/gosh/internal/config"
	"github.com/gosh-project/gosh/internal/executor"
	"github.com/gosh-project/gosh/internal/jobs"
	"github.com/gosh-project/gosh/internal/process"
	"github.com/gosh-project/gosh/internal/shell"
)

var (
	version   = shell.Version
	buildTime = "unknown"
	gitCommit = "unknown"
)

type options struct {
	command     string
	interactive bool
	readStdin   bool
	login       bool
	noRC        bool
	noProfile   bool
	configFile  string
	debug       bool
	pipefail    bool
	jobControl  string
	version     bool
}

func main() {
	// A child started for a subshell or pipeline stage never returns.
	shell.MaybeRunSubshell()

	status := 0
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "gosh [options] [script] [args...]",
		Short: "Go Shell",
		Long:  `A POSIX-compatible shell with job control.`,
		Example: `  gosh                 # Interactive
  gosh -c "echo hi"    # Execute command
  gosh script.sh       # Run script`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.version {
				fmt.Printf("gosh %s (built %s, commit %s)\n", version, buildTime, gitCommit)
				fmt.Printf("Go version: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
				return nil
			}
			var err error
			status, err = run(cmd, opts, args)
			return err
		},
	}

	flags := rootCmd.Flags()
	// Options after the script name belong to the script.
	flags.SetInterspersed(false)
	flags.StringVarP(&opts.command, "command", "c", "", "execute `cmd` and exit")
	flags.BoolVarP(&opts.interactive, "interactive", "i", false, "force an interactive shell")
	flags.BoolVarP(&opts.readStdin, "stdin", "s", false, "read commands from standard input")
	flags.BoolVarP(&opts.login, "login", "l", false, "act as a login shell")
	flags.BoolVar(&opts.noRC, "norc", false, "skip the rc file")
	flags.BoolVar(&opts.noProfile, "noprofile", false, "skip profile files")
	flags.StringVar(&opts.configFile, "config", "", "config `file` (default $GOSH_CONFIG or the user config dir)")
	flags.BoolVar(&opts.debug, "debug", false, "write debug logs")
	flags.BoolVar(&opts.pipefail, "pipefail", false, "set -o pipefail")
	flags.StringVar(&opts.jobControl, "job-control", "", "job control: auto, on or off")
	flags.BoolVar(&opts.version, "version", false, "show version")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gosh: %v\n", err)
		if status == 0 {
			status = 2
		}
	}
	os.Exit(status)
}

func run(cmd *cobra.Command, opts *options, args []string) (int, error) {
	cfg := config.New()

	path := opts.configFile
	if path == "" {
		path = config.DefaultPath()
	}
	if err := cfg.Load(afero.NewOsFs(), path); err != nil {
		return 2, err
	}
	cfg.ConfigFile = path

	cfg.Command = opts.command
	cfg.Interactive = opts.interactive
	cfg.ReadStdin = opts.readStdin
	cfg.Login = opts.login || len(os.Args[0]) > 0 && os.Args[0][0] == '-'
	cfg.NoRC = opts.noRC
	cfg.NoProfile = opts.noProfile
	cfg.Debug = opts.debug
	if cmd.Flags().Changed("pipefail") {
		cfg.Pipefail = opts.pipefail
	}
	if opts.jobControl != "" {
		cfg.JobControl = opts.jobControl
		if err := cfg.Validate(); err != nil {
			return 2, err
		}
	}

	switch {
	case cmd.Flags().Changed("command"):
		if cfg.Command == "" {
			return 0, nil
		}
		cfg.ScriptArgs = args
	case cfg.ReadStdin || len(args) == 0:
		cfg.ScriptArgs = args
	default:
		cfg.ScriptFile = args[0]
		cfg.ScriptArgs = args
	}

	cfg.Session = uuid.NewString()
	if cfg.Debug {
		closeLog, err := setupDebugLog(cfg)
		if err != nil {
			return 2, err
		}
		defer closeLog()
	}

	return shell.New(cfg).Run(), nil
}

// setupDebugLog points every package logger at the configured debug log,
// or stderr.
func setupDebugLog(cfg *config.Config) (func(), error) {
	var w io.Writer = os.Stderr
	closer := func() {}
	if cfg.DebugLog != "" {
		f, err := os.OpenFile(cfg.DebugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, err
		}
		w = f
		closer = func() { f.Close() }
	}

	prefix := fmt.Sprintf("gosh[%s] ", cfg.Session[:8])
	l := log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
	jobs.SetLogger(l)
	executor.SetLogger(l)
	process.SetLogger(l)
	shell.SetLogger(l)
	return closer, nil
}
