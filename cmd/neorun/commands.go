package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iorp/neorun"
	"github.com/iorp/neorun/internal/compiler"
	"github.com/iorp/neorun/internal/jsonx"
	"github.com/iorp/neorun/internal/lsp"
	"github.com/iorp/neorun/internal/unit"
)

// scopeFlags are shared by exec and run.
type scopeFlags struct {
	sets      []string
	scopeFile string
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.sets, "set", nil, "bind a scope variable (k=v, v parsed as JSON when possible)")
	cmd.Flags().StringVar(&f.scopeFile, "scope", "", "JSON object file holding the initial scope")
}

// build assembles the initial scope: the --scope file first, then each
// --set in order.
func (f *scopeFlags) build(p *neorun.Pipeline) (neorun.Scope, error) {
	scope := neorun.Scope{}
	if f.scopeFile != "" {
		res := p.ReadStructured(f.scopeFile)
		if res.Error {
			return nil, fmt.Errorf("--scope: %s", res.Exception)
		}
		obj, ok := res.Content.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("--scope: %s must hold a JSON object", f.scopeFile)
		}
		for k, v := range obj {
			scope[k] = v
		}
	}
	for _, kv := range f.sets {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--set %q: want name=value", kv)
		}
		scope[k] = parseValue(v)
	}
	return scope, nil
}

// parseValue reads v as a JSON literal, falling back to the raw string.
func parseValue(v string) any {
	x, err := jsonx.Decode([]byte(v))
	if err != nil {
		return v
	}
	return x
}

// splitArgv separates positional args from the script argv after "--".
func splitArgv(cmd *cobra.Command, args []string) ([]string, []string) {
	if at := cmd.ArgsLenAtDash(); at >= 0 {
		return args[:at], args[at:]
	}
	return args, nil
}

func (a *app) compileCmd() *cobra.Command {
	var (
		out   string
		name  string
		embed bool
	)
	cmd := &cobra.Command{
		Use:   "compile <source>",
		Short: "Compile a source file into an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			if out == "" {
				out = a.cfg.ArtifactPath(src)
			}
			var opts []compiler.CompileOption
			if name != "" {
				opts = append(opts, compiler.WithUnitName(name))
			}
			if cmd.Flags().Changed("embed-source") {
				opts = append(opts, compiler.WithEmbedSource(embed))
			}
			return a.report(a.compile(cmd, a.pipeline(nil), src, out, opts...))
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "artifact path (default <build_dir>/<name><extension>)")
	cmd.Flags().StringVar(&name, "name", "", "unit name used in diagnostics (default: source path)")
	cmd.Flags().BoolVar(&embed, "embed-source", false, "store the source text in the artifact")
	return cmd
}

// compile runs CompileFile and describes the stored unit.
func (a *app) compile(cmd *cobra.Command, p *neorun.Pipeline, src, out string, opts ...compiler.CompileOption) (compileReport, neorun.Status, string) {
	st := p.CompileFile(cmd.Context(), src, out, opts...)
	rep := compileReport{Status: st}
	if !st.Error {
		rep.Artifact = out
		if ins := p.Inspect(out); !ins.Error {
			rep.Unit = ins.Content
		}
	}
	return rep, st, "compile " + src
}

func (a *app) execCmd() *cobra.Command {
	var sf scopeFlags
	cmd := &cobra.Command{
		Use:   "exec <artifact> [-- args...]",
		Short: "Execute a compiled artifact",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, argv := splitArgv(cmd, args)
			if len(pos) != 1 {
				return fmt.Errorf("exec takes exactly one artifact, got %d", len(pos))
			}
			p := a.pipeline(argv)
			scope, err := sf.build(p)
			if err != nil {
				return err
			}
			res := p.Execute(cmd.Context(), pos[0], scope)
			return a.report(res, res.Status, "exec "+pos[0])
		},
	}
	sf.register(cmd)
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	var (
		sf  scopeFlags
		out string
	)
	cmd := &cobra.Command{
		Use:   "run <source> [-- args...]",
		Short: "Compile a source file and execute the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, argv := splitArgv(cmd, args)
			if len(pos) != 1 {
				return fmt.Errorf("run takes exactly one source, got %d", len(pos))
			}
			src := pos[0]
			if out == "" {
				out = a.cfg.ArtifactPath(src)
			}
			p := a.pipeline(argv)
			scope, err := sf.build(p)
			if err != nil {
				return err
			}
			res := p.CompileAndRun(cmd.Context(), src, out, scope)
			return a.report(res, res.Status, "run "+src)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "artifact path (default <build_dir>/<name><extension>)")
	sf.register(cmd)
	return cmd
}

func (a *app) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <artifact>",
		Short: "Describe a compiled artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := a.pipeline(nil).Inspect(args[0])
			return a.report(res, res.Status, "inspect "+args[0])
		},
	}
}

func (a *app) lspCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lsp",
		Short: "Serve diagnostics and symbols to an editor over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := lsp.NewServer(a.stdout, a.log.Named("lsp")).Serve(cmd.Context(), a.stdin)
			if errors.Is(err, lsp.ErrExitWithoutShutdown) {
				return errFailed
			}
			return err
		},
	}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the compiler and artifact format versions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "%s (artifact format %d)\n", unit.CompilerVersion, unit.FormatVersion)
		},
	}
}
