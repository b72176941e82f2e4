package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"solveeverylight/internal/fsutil"
	"solveeverylight/internal/logging"
	"solveeverylight/internal/options"
	"solveeverylight/internal/pipeline"
	"solveeverylight/internal/platesolve"
	"solveeverylight/internal/server"
	"solveeverylight/internal/watch"
)

func newSolveCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solve <file|dir> [file|dir...]",
		Short: "Solve image files as if they were being saved",
		Long: `Run each file through the save hook. Directories are searched for FITS and
XISF files. When a solution is found the WCS header is written to a .wcs
sidecar next to the image.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			args, err := fsutil.ExpandImages(args)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return fmt.Errorf("no FITS or XISF files found")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			pipe := root.app.NewPipeline(ctx)
			defer pipe.Stop()

			var failed int
			for _, path := range args {
				abs, err := filepath.Abs(path)
				if err != nil {
					return err
				}
				res, err := enqueueAndWait(ctx, pipe, pipeline.Job{ID: newJobID(), Path: abs, Source: "cli"})
				switch {
				case err != nil:
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: error: %v\n", path, err)
				case res.Solved():
					fmt.Fprintf(cmd.OutOrStdout(), "%s: solved, %d header entries written to %s\n", path, len(res.Headers), res.Sidecar)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "%s: not solved\n", path)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var dirs []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Solve new image files as they appear",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(dirs) == 0 {
				dirs = root.app.Config.Paths.WatchDirs
			}
			if len(dirs) == 0 {
				return fmt.Errorf("no directories to watch, pass --dir or set paths.watch_dirs")
			}
			ctx := cmd.Context()
			pipe := root.app.NewPipeline(ctx)
			defer pipe.Stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return root.runWatcher(ctx, pipe, dirs) })
			g.Go(func() error { root.logResults(ctx, pipe); return nil })
			return g.Wait()
		},
	}
	cmd.Flags().StringSliceVar(&dirs, "dir", nil, "directory to watch (repeatable)")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr string
		dirs []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP status server",
		Long: `Start an HTTP server exposing solve history, plugin options, live status and
Prometheus metrics. With --watch, new files in those directories are solved too.

Examples:
  solveeverylight serve --addr 127.0.0.1:8765
  solveeverylight serve --watch /data/astro/lights`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = root.app.Config.Server.Addr
			}
			if len(dirs) == 0 {
				dirs = root.app.Config.Paths.WatchDirs
			}

			ctx := cmd.Context()
			pipe := root.app.NewPipeline(ctx)
			defer pipe.Stop()

			srv := server.NewServer(addr, root.app.ServerDeps(pipe), root.log)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(ctx) })
			g.Go(func() error { root.forwardResults(ctx, pipe); return nil })
			if len(dirs) > 0 {
				g.Go(func() error { return root.runWatcher(ctx, pipe, dirs) })
			}
			root.log.Info("server ready", "addr", addr, "watch", dirs,
				"endpoints", []string{"/healthz", "/status", "/history", "/options", "/notifications", "/solve", "/stream", "/metrics", "/ws"})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "server address (host:port), defaults to server.addr")
	cmd.Flags().StringSliceVar(&dirs, "watch", nil, "directories to monitor for new images")
	return cmd
}

// runWatcher submits settled image files until ctx is done.
func (r *Root) runWatcher(ctx context.Context, pipe *pipeline.Pipeline, dirs []string) error {
	fsw, err := watch.NewFileSystemWatcher(dirs, 0, r.log)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Start(); err != nil {
		_ = fsw.Stop()
		return fmt.Errorf("start watcher: %w", err)
	}
	defer fsw.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			job := pipeline.Job{ID: newJobID(), Path: ev.Path, Source: "watch"}
			if err := pipe.Submit(job); err != nil {
				r.log.Warn("failed to queue image", "path", ev.Path, "error", err)
			}
		}
	}
}

func (r *Root) logResults(ctx context.Context, pipe *pipeline.Pipeline) {
	results, unsub := pipe.Subscribe()
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			if res.Solved() {
				r.log.Info("wrote sidecar", "path", res.Job.Path, "sidecar", res.Sidecar)
			}
		}
	}
}

func (r *Root) forwardResults(ctx context.Context, pipe *pipeline.Pipeline) {
	results, unsub := pipe.Subscribe()
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			r.app.Hub.Publish("result", server.ViewOf(res))
		}
	}
}

func newOptionsCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "options",
		Short: "Show or change plugin options of the active profile",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the current options as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(root.app.ActiveOptions().Snapshot())
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one option",
		Long: "Keys: " + strings.Join([]string{
			options.KeyPluginEnabled,
			options.KeySnapshotsEnabled,
			options.KeyNotificationsEnabled,
			options.KeyOptimizedSolverParameterEnabled,
			options.KeyDownSampleFactor,
			options.KeySearchRadius,
			options.KeyMaxObjects,
		}, ", "),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.app.ActiveOptions().Set(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Restore the default options",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := root.app.ActiveOptions()
			return s.Save(s.Defaults())
		},
	}

	cmd.AddCommand(show, set, reset)
	return cmd
}

func newProfileCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the active equipment profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := root.app.Profiles.ActiveProfile()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Profile:     %s (%s)\n", p.Name, p.ID)
			fmt.Fprintf(out, "File type:   %s\n", p.ImageFileSettings.FileType)
			fmt.Fprintf(out, "Solver:      %s\n", p.PlateSolve.SolverType)
			fmt.Fprintf(out, "Search:      %.1f°, %d objects, down sample %d\n",
				p.PlateSolve.SearchRadius, p.PlateSolve.MaxObjects, p.PlateSolve.DownSampleFactor)
			fmt.Fprintf(out, "Focal:       %g mm\n", p.PlateSolve.FocalLength)
			return nil
		},
	}
	return cmd
}

func newHistoryCmd(root *Root) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent solve attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := root.app.Store.RecentSolves(limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTYPE\tOUTCOME\tSOLVER\tRA\tDEC\tSECONDS\tFILE")
			for _, rec := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.4f\t%.4f\t%.2f\t%s\n",
					rec.CreatedAt.Local().Format("2006-01-02 15:04:05"), rec.ImageType, rec.Outcome, rec.Solver,
					rec.RA, rec.Dec, rec.Duration.Seconds(), rec.FilePath)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newToolsCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Check which plate solvers are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			status := root.app.Factory.Status()
			names := make([]string, 0, len(status))
			for t := range status {
				names = append(names, string(t))
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			for _, name := range names {
				st := status[platesolve.SolverType(name)]
				logging.LogToolStatus(root.log, name, st.Available, st.Version, st.Path, st.Error)
				if st.Available {
					fmt.Fprintf(out, "✅ %s: %s (%s)\n", name, st.Path, orUnknown(st.Version))
				} else {
					fmt.Fprintf(out, "❌ %s: %v\n", name, st.Error)
				}
			}
			return nil
		},
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "version unknown"
	}
	return s
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := root.app.Config
			cmd.Printf("%s v%s (N.I.N.A. %s)\n", cfg.Plugin.Name, cfg.Plugin.Version, cfg.Plugin.HostVersion)
			cmd.Printf("Built with Go %s\n", runtime.Version())
		},
	}
}
