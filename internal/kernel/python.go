package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// PythonExecutor runs cell source with `python3 -c`
type PythonExecutor struct {
	interpreter string
	workDir     string
}

// NewPythonExecutor creates an executor running in workDir (empty means the
// process working directory)
func NewPythonExecutor(workDir string) *PythonExecutor {
	return &PythonExecutor{
		interpreter: "python3",
		workDir:     workDir,
	}
}

// Execute implements Executor. Stdout and stderr are combined; a non-zero
// exit status yields an *ExecutionError carrying the output.
func (p *PythonExecutor) Execute(ctx context.Context, source string) (string, error) {
	if _, err := exec.LookPath(p.interpreter); err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", p.interpreter, err)
	}

	//nolint:gosec // G204: executing cell source is the purpose of the kernel
	cmd := exec.CommandContext(ctx, p.interpreter, "-c", source)
	cmd.Dir = p.workDir
	cmd.Env = os.Environ()

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return string(output), ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &ExecutionError{Output: string(output), ExitCode: exitErr.ExitCode()}
		}
		return "", fmt.Errorf("failed to run %s: %w", p.interpreter, err)
	}

	return string(output), nil
}
