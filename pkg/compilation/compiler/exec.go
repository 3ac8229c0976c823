package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/sirupsen/logrus"
)

// ExecCompiler runs the language compiler installed on the host
type ExecCompiler struct {
	registry *Registry
	timeout  time.Duration
	logger   *logrus.Logger

	// command is replaced in tests
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewExecCompiler creates a host compiler service
func NewExecCompiler(registry *Registry, timeout time.Duration, logger *logrus.Logger) *ExecCompiler {
	if timeout <= 0 {
		timeout = config.DefaultCompilationTimeout
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ExecCompiler{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
		command:  exec.CommandContext,
	}
}

// Compile implements compilation.CompilerService
func (c *ExecCompiler) Compile(ctx context.Context, req *compilation.CompileRequest) (*compilation.CompileResponse, error) {
	spec, err := c.registry.Get(req.Language)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Language, err)
	}

	args := BuildArgs(spec, req, nil)

	execCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var output bytes.Buffer
	cmd := c.command(execCtx, args[0], args[1:]...)
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	runErr := cmd.Run()
	resp := &compilation.CompileResponse{
		Diagnostics: ParseDiagnostics(output.String()),
		Duration:    time.Since(start),
	}

	if execCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		resp.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("failed to run %s: %w", spec.Command, runErr)
	}

	c.logger.WithFields(logrus.Fields{
		"language":    spec.ID,
		"output":      req.OutputPath,
		"exit_code":   resp.ExitCode,
		"diagnostics": len(resp.Diagnostics),
		"duration":    resp.Duration,
	}).Debug("Compiler finished")

	if resp.ExitCode == 0 && !hasErrors(resp.Diagnostics) {
		if _, err := os.Stat(req.OutputPath); err == nil {
			resp.AssemblyPath = req.OutputPath
		}
	}
	if resp.AssemblyPath == "" && resp.ExitCode == 0 {
		resp.ExitCode = 1
		if len(resp.Diagnostics) == 0 {
			resp.Diagnostics = append(resp.Diagnostics, compilation.Diagnostic{
				Severity: compilation.SeverityError,
				Message:  fmt.Sprintf("compiler produced no output: %s", bytes.TrimSpace(output.Bytes())),
			})
		}
	}
	return resp, nil
}
