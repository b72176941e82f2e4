package platesolve

import (
	"os/exec"
	"strings"

	"solveeverylight/internal/fsutil"
)

// ToolStatus represents the availability of a solver executable.
type ToolStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     error  `json:"-"`
}

var (
	astapLocations = []string{
		"/opt/astap/astap",
		"/usr/local/bin/astap",
		"/Applications/ASTAP.app/Contents/MacOS/astap",
		`C:\Program Files\astap\astap.exe`,
	}
	aspsLocations = []string{
		`C:\Program Files (x86)\PlateSolver\PlateSolver.exe`,
		`C:\Program Files\PlateSolver\PlateSolver.exe`,
	}
)

// DefaultASTAPPath returns the first standard ASTAP install found, or the
// bare name for a PATH lookup.
func DefaultASTAPPath() string {
	if p := fsutil.FirstExisting(astapLocations...); p != "" {
		return p
	}
	return "astap"
}

// DefaultASPSPath is DefaultASTAPPath for All Sky Plate Solver.
func DefaultASPSPath() string {
	if p := fsutil.FirstExisting(aspsLocations...); p != "" {
		return p
	}
	return "PlateSolver.exe"
}

// CheckTool verifies that the executable for a solver can be found and
// asks it for a version where the solver supports that.
func CheckTool(solver SolverType, binary string) ToolStatus {
	path, err := exec.LookPath(binary)
	if err != nil {
		return ToolStatus{Available: false, Error: err}
	}

	var versionArgs []string
	switch solver {
	case SolverASTAP:
		// astap prints its version in the help banner
		versionArgs = []string{"-h"}
	default:
		return ToolStatus{Available: true, Path: path}
	}

	output, err := exec.Command(path, versionArgs...).CombinedOutput()
	if err != nil {
		// help output usually comes with a non-zero exit code
		if len(output) > 0 {
			return ToolStatus{Available: true, Version: extractVersion(string(output)), Path: path}
		}
		return ToolStatus{Available: false, Path: path, Error: err}
	}
	return ToolStatus{Available: true, Version: extractVersion(string(output)), Path: path}
}

// Status reports every executable the factory knows about.
func (f *ExecutableFactory) Status() map[SolverType]ToolStatus {
	astap := f.ASTAPPath
	if astap == "" {
		astap = DefaultASTAPPath()
	}
	asps := f.ASPSPath
	if asps == "" {
		asps = DefaultASPSPath()
	}
	return map[SolverType]ToolStatus{
		SolverASTAP: CheckTool(SolverASTAP, astap),
		SolverASPS:  CheckTool(SolverASPS, asps),
	}
}

// extractVersion extracts version information from tool output
func extractVersion(output string) string {
	lines := strings.Split(output, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "version") || strings.Contains(line, "Version") {
			return line
		}
	}
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0])
	}
	return "unknown"
}
