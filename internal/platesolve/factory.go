package platesolve

import "fmt"

// ExecutableFactory builds solvers that shell out to locally installed
// executables.
type ExecutableFactory struct {
	ASTAPPath string
	ASTAPArgs []string
	ASPSPath  string
	TempDir   string
	Run       Runner
}

// Solver returns the backend configured in settings.
func (f *ExecutableFactory) Solver(settings ProfileSettings) (Solver, error) {
	switch settings.SolverType {
	case SolverASTAP:
		s := NewASTAP(f.ASTAPPath, f.ASTAPArgs)
		if f.TempDir != "" {
			s.TempDir = f.TempDir
		}
		if f.Run != nil {
			s.Run = f.Run
		}
		return s, nil
	case SolverASPS:
		s := NewASPS(f.ASPSPath)
		if f.Run != nil {
			s.Run = f.Run
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrSolverUnavailable, settings.SolverType)
	}
}
