package sandbox

import (
	"context"
	"fmt"
)

// RunSpec describes one isolated execution of submitted code.
type RunSpec struct {
	// Language selects the interpreter. Supported values are "python",
	// "javascript", and "bash".
	Language string `json:"language"`
	// Code is the program source to execute.
	Code string `json:"code"`
	// Files are extra files materialized in the working directory before
	// the run, keyed by relative path.
	Files map[string]string `json:"files,omitempty"`
	// Stdin is piped to the program.
	Stdin string `json:"stdin,omitempty"`
	// TimeoutMs kills the run after this many milliseconds. Zero means the
	// runner's default.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`
	// MemoryMB caps the program's address space. Zero means the runner's
	// default.
	MemoryMB int64 `json:"memory_mb,omitempty"`
	// AllowNetwork leaves network access enabled. Off by default.
	AllowNetwork bool `json:"allow_network,omitempty"`
}

// RunResult is the observed outcome of a sandboxed run.
type RunResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out"`
}

// Runner executes untrusted code under resource limits. Run returns an
// error only when the run could not be attempted at all; a program that
// exits nonzero or times out is a successful Run with the failure recorded
// in the result.
type Runner interface {
	Run(ctx context.Context, spec RunSpec) (*RunResult, error)
}

func validateSpec(spec RunSpec) error {
	if spec.Code == "" {
		return fmt.Errorf("run spec has no code")
	}
	if _, ok := interpreters[spec.Language]; !ok {
		return fmt.Errorf("unsupported language %q", spec.Language)
	}
	return nil
}
