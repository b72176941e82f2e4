// Package cli implements the solveeverylight command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"solveeverylight/internal/app"
	"solveeverylight/internal/pipeline"
)

// Root wires CLI commands to the application.
type Root struct {
	app *app.App
	log *slog.Logger
}

// NewRoot constructs the CLI root.
func NewRoot(a *app.App) *Root {
	return &Root{app: a, log: a.Log}
}

// NewRootCmd creates the root Cobra command
func NewRootCmd(a *app.App) *cobra.Command {
	root := NewRoot(a)

	rootCmd := &cobra.Command{
		Use:   "solveeverylight",
		Short: "Plate solve every saved light frame",
		Long: `Solve Every Light plate solves FITS and XISF light frames as they are saved
and writes the WCS solution into the image header or a .wcs sidecar.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newSolveCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newOptionsCmd(root))
	rootCmd.AddCommand(newProfileCmd(root))
	rootCmd.AddCommand(newHistoryCmd(root))
	rootCmd.AddCommand(newToolsCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newJobID() string {
	return uuid.NewString()
}

// enqueueAndWait submits job and blocks until its result arrives.
func enqueueAndWait(ctx context.Context, pipe *pipeline.Pipeline, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := pipe.Subscribe()
	defer unsubscribe()

	if err := pipe.Submit(job); err != nil {
		return pipeline.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		}
	}
}
