// Package command runs the external binaries the pipeline depends on.
package command

import (
	"context"
	"fmt"
	"os/exec"
)

// Runner executes a binary and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs binaries with os/exec.
type ExecRunner struct{}

// Run executes name with args, killing it if ctx is cancelled.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- binaries come from configuration, arguments are built internally
	cmd := exec.CommandContext(ctx, name, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s execution failed: %w - output: %s", name, err, string(output))
	}

	return output, nil
}

// Available reports whether name can be found on PATH.
func Available(name string) error {
	_, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("binary %s not found: %w", name, err)
	}

	return nil
}
