package autosolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"solveeverylight/internal/imaging"
	"solveeverylight/internal/mediator"
	"solveeverylight/internal/platesolve"
)

// ErrUnsupportedSolver means the profile selects a solver this plugin does
// not drive.
var ErrUnsupportedSolver = errors.New("unsupported plate solver")

// UnsupportedSolverWarning is shown when the profile's solver is not supported.
const UnsupportedSolverWarning = "Solve Every Light plugin currently supports only ASTAP and All Sky Plate Solver. " +
	"Please configure one of them under Options → Plate Solving."

// StatusSolving is published while a solve runs.
const StatusSolving = "Plate solving"

// Supported reports whether t is a solver the plugin drives.
func Supported(t platesolve.SolverType) bool {
	return t == platesolve.SolverASTAP || t == platesolve.SolverASPS
}

// Invoker runs a single solve attempt with status reporting. It holds one
// status object and is not safe for concurrent solves.
type Invoker struct {
	Factory    platesolve.Factory
	Status     mediator.StatusSink
	Notifier   mediator.Notifier
	Logger     *slog.Logger
	PluginName string

	status mediator.ApplicationStatus
}

// Preflight checks the configured solver and warns the user when it is not
// supported. Nothing else happens on failure.
func (inv *Invoker) Preflight(settings platesolve.ProfileSettings) error {
	if Supported(settings.SolverType) {
		return nil
	}
	if inv.Notifier != nil {
		inv.Notifier.ShowWarning(UnsupportedSolverWarning)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedSolver, settings.SolverType)
}

// Invoke solves image once. A result without Success is returned with
// platesolve.ErrNoSolution. Solver errors and panics are reported to the
// user and returned; they never escape as panics.
func (inv *Invoker) Invoke(ctx context.Context, settings platesolve.ProfileSettings, image *imaging.Frame, req platesolve.Request) (res platesolve.Result, solverName string, err error) {
	if !Supported(settings.SolverType) {
		return platesolve.Result{}, "", fmt.Errorf("%w: %s", ErrUnsupportedSolver, settings.SolverType)
	}

	solver, err := inv.Factory.Solver(settings)
	if err != nil {
		inv.showError(err)
		return platesolve.Result{}, "", err
	}
	solverName = solver.Name()

	inv.status.Source = "Plugin " + inv.PluginName
	inv.status.Status = StatusSolving
	inv.publish()
	defer func() {
		inv.status.Status = ""
		inv.publish()
	}()

	res, err = inv.solve(ctx, solver, image, req)
	if err != nil {
		inv.showError(err)
		return res, solverName, err
	}
	if !res.Success {
		return res, solverName, platesolve.ErrNoSolution
	}
	return res, solverName, nil
}

func (inv *Invoker) solve(ctx context.Context, solver platesolve.Solver, image *imaging.Frame, req platesolve.Request) (res platesolve.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("solver %s panicked: %v", solver.Name(), r)
		}
	}()
	return solver.Solve(ctx, image, req, inv.progress)
}

func (inv *Invoker) progress(message string) {
	if inv.Logger != nil {
		inv.Logger.Debug(message, "source", inv.status.Source)
	}
}

func (inv *Invoker) publish() {
	if inv.Status != nil {
		inv.Status.StatusUpdate(inv.status)
	}
}

func (inv *Invoker) showError(err error) {
	if inv.Notifier != nil {
		inv.Notifier.ShowError("Could not solve image. Error message: " + err.Error())
	}
}
