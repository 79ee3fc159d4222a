package utils

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// CommandResult captures one external process invocation.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// StderrTail returns at most the last n bytes of stderr, trimmed.
func (r CommandResult) StderrTail(n int) string {
	stderr := strings.TrimSpace(r.Stderr)
	if n > 0 && len(stderr) > n {
		stderr = stderr[len(stderr)-n:]
	}
	return stderr
}

// CommandRunner abstracts process execution so ffmpeg and whisper.cpp calls can be faked in tests.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// CommandFunc adapts a function to CommandRunner.
type CommandFunc func(ctx context.Context, name string, args ...string) (CommandResult, error)

func (f CommandFunc) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	return f(ctx, name, args...)
}
