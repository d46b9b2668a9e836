package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultMemoryMB = 256
	maxOutputBytes  = 1 << 20
)

type interpreter struct {
	binary   string
	filename string
}

var interpreters = map[string]interpreter{
	"python":     {binary: "python3", filename: "main.py"},
	"javascript": {binary: "node", filename: "main.js"},
	"bash":       {binary: "bash", filename: "main.sh"},
}

// LocalRunner executes submissions as subprocesses on the worker host.
// Each run gets a throwaway working directory, a cleared environment, an
// address space limit enforced via ulimit, and a hard wall-clock timeout.
// It is suitable for trusted deployments; a container-backed Runner should
// front it anywhere hostile code is expected.
type LocalRunner struct {
	// WorkDir is the parent for per-run temp directories. Empty means the
	// system temp dir.
	WorkDir string
}

func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

func (r *LocalRunner) Run(ctx context.Context, spec RunSpec) (*RunResult, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	interp := interpreters[spec.Language]

	dir, err := os.MkdirTemp(r.WorkDir, "abb-run-")
	if err != nil {
		return nil, fmt.Errorf("failed to create run dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, interp.filename), []byte(spec.Code), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write program: %w", err)
	}
	for name, content := range spec.Files {
		clean := filepath.Clean(name)
		if clean == interp.filename || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
			return nil, fmt.Errorf("invalid file path %q", name)
		}
		path := filepath.Join(dir, clean)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create dir for %q: %w", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return nil, fmt.Errorf("failed to write %q: %w", name, err)
		}
	}

	timeout := defaultTimeout
	if spec.TimeoutMs > 0 {
		timeout = time.Duration(spec.TimeoutMs) * time.Millisecond
	}
	memoryMB := int64(defaultMemoryMB)
	if spec.MemoryMB > 0 {
		memoryMB = spec.MemoryMB
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// ulimit -v is per-shell, so the interpreter is launched through a
	// wrapper shell that sets the limit first.
	wrapper := fmt.Sprintf("ulimit -v %d; exec %s %s", memoryMB*1024, interp.binary, interp.filename)
	cmd := exec.CommandContext(runCtx, "sh", "-c", wrapper)
	cmd.Dir = dir
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"LANG=C.UTF-8",
	}
	cmd.Stdin = strings.NewReader(spec.Stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderr, remaining: maxOutputBytes}

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := &RunResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: elapsed.Milliseconds(),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("failed to run %s: %w", interp.binary, runErr)
	}
	return result, nil
}

// limitedWriter truncates output beyond its budget instead of failing the
// run. A submission that floods stdout still gets judged on what fit.
type limitedWriter struct {
	w         *bytes.Buffer
	remaining int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.remaining <= 0 {
		return len(p), nil
	}
	if len(p) > l.remaining {
		l.w.Write(p[:l.remaining])
		l.remaining = 0
		return len(p), nil
	}
	l.remaining -= len(p)
	return l.w.Write(p)
}
