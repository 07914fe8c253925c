package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iorp/neorun"
)

const watchDebounce = 100 * time.Millisecond

func (a *app) watchCmd() *cobra.Command {
	var (
		out  string
		exec bool
		sf   scopeFlags
	)
	cmd := &cobra.Command{
		Use:   "watch <source>",
		Short: "Recompile a source file every time it changes",
		Long: `watch compiles the source once, then again after every write to it,
until interrupted. With --exec each successful build is also executed in a
fresh copy of the initial scope.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			if out == "" {
				out = a.cfg.ArtifactPath(src)
			}
			p := a.pipeline(nil)
			scope, err := sf.build(p)
			if err != nil {
				return err
			}
			w := &watcher{app: a, cmd: cmd, pipe: p, src: src, out: out, exec: exec, scope: scope}
			return w.run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "artifact path (default <build_dir>/<name><extension>)")
	cmd.Flags().BoolVar(&exec, "exec", false, "execute the artifact after each successful build")
	sf.register(cmd)
	return cmd
}

type watcher struct {
	app   *app
	cmd   *cobra.Command
	pipe  *neorun.Pipeline
	src   string
	out   string
	exec  bool
	scope neorun.Scope
}

// run watches the source's directory, since editors often replace files by
// rename, and rebuilds on writes to the source. It returns when ctx ends.
func (w *watcher) run(ctx context.Context) error {
	abs, err := filepath.Abs(w.src)
	if err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.src, err)
	}

	w.rebuild(ctx)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.app.log.Debug("source changed", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.rebuild(ctx)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.app.log.Warn("watch error", zap.Error(err))
		}
	}
}

// rebuild compiles and optionally executes once. Failures are reported and
// watching continues.
func (w *watcher) rebuild(ctx context.Context) {
	rep, st, what := w.app.compile(w.cmd, w.pipe, w.src, w.out)
	_ = w.app.report(rep, st, what)
	if !w.exec || st.Error {
		return
	}
	scope := make(neorun.Scope, len(w.scope))
	for k, v := range w.scope {
		scope[k] = v
	}
	res := w.pipe.Execute(ctx, w.out, scope)
	_ = w.app.report(res, res.Status, "exec "+w.out)
}
