// Command neorun compiles scripts into artifacts and runs them.
//
//	neorun compile greet.neo -o build/greet.nrc
//	neorun exec build/greet.nrc --set who=rex
//	neorun run greet.neo --set who=rex
//	neorun watch greet.neo --exec
//	neorun repl
//	neorun lsp
//
// Results are printed to stdout as JSON with the keys error, exception and
// content or response. The exit code is 0 when error is false, 1 when it is
// true and 2 for usage or setup problems.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iorp/neorun"
	"github.com/iorp/neorun/internal/config"
	"github.com/iorp/neorun/internal/logging"
)

const appName = "neorun"

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

// errFailed marks a command whose result reported error=true. The result
// itself has already been printed.
var errFailed = errors.New("operation failed")

// app holds the state shared by all subcommands of one invocation.
type app struct {
	// Global flags
	cfgPath string
	verbose bool
	pretty  bool

	cfg *config.Config
	log *zap.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one CLI invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if a.log != nil {
		_ = a.log.Sync()
	}
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errFailed):
		return exitFailed
	default:
		fmt.Fprintf(stderr, "%s: %v\n", appName, err)
		return exitUsage
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Compile scripts once, run them many times",
		Long: `neorun turns .neo scripts into checked, versioned artifacts and executes
them inside a caller-supplied scope. The value a script assigns to
__response__ is reported back, even when the script stops early with exit().`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging, a.verbose)
			if err != nil {
				return err
			}
			a.cfg, a.log = cfg, logger
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "neorun.yaml", "path to the YAML config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&a.pretty, "pretty", false, "print a colored status line to stderr")

	root.AddCommand(
		a.compileCmd(),
		a.execCmd(),
		a.runCmd(),
		a.inspectCmd(),
		a.watchCmd(),
		a.replCmd(),
		a.lspCmd(),
		a.versionCmd(),
	)
	return root
}

// pipeline builds a Pipeline from the loaded config. argv becomes sys.argv
// of executed scripts.
func (a *app) pipeline(argv []string) *neorun.Pipeline {
	return neorun.New(
		neorun.WithLogger(a.log),
		neorun.WithConfig(a.cfg),
		neorun.WithStdin(a.stdin),
		neorun.WithStdout(a.stdout),
		neorun.WithArgv(argv),
	)
}
