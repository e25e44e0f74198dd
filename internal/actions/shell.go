package actions

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/obwan02/Actionator/internal/streaming"
	"github.com/obwan02/Actionator/pkg/schema"
)

const defaultShellTimeout = 30 * time.Second

// ShellConfig configures the run action. The action is only registered when
// Enabled is set.
type ShellConfig struct {
	Enabled        bool
	DefaultTimeout time.Duration
	// AllowedCommands restricts the executable name when non-empty.
	AllowedCommands []string
	// WorkDirs confines cwd to these directories (and their children) when
	// non-empty. A run without cwd starts in the first entry.
	WorkDirs []string
}

// RunArgs is the argument record of the run action.
type RunArgs struct {
	Command string            `json:"command"`
	Shell   bool              `json:"shell,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Timeout string            `json:"timeout,omitempty"`
}

// RunResult is returned once the process exits.
type RunResult struct {
	ExitCode   int   `json:"exit_code"`
	DurationMs int64 `json:"duration_ms"`
	Killed     bool  `json:"killed"`
}

type shellRunner struct {
	cfg ShellConfig
}

func newShellRunner(cfg ShellConfig) *shellRunner {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultShellTimeout
	}
	return &shellRunner{cfg: cfg}
}

// Run executes a command with its stdout and stderr piped line by line into
// the invocation's output streams.
func (s *shellRunner) Run(ctx context.Context, args RunArgs, out *streaming.Output) (*RunResult, error) {
	command := strings.TrimSpace(args.Command)
	if command == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "missing command").WithField("command")
	}

	var argv []string
	if args.Shell {
		argv = []string{"/bin/sh", "-c", command}
	} else {
		argv = strings.Fields(command)
	}
	if !s.allowed(argv[0]) && !(args.Shell && s.allowed("sh")) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "command %q is not allowed", argv[0]).WithField("command")
	}

	timeout := s.cfg.DefaultTimeout
	if args.Timeout != "" {
		d, err := time.ParseDuration(args.Timeout)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid timeout %q", args.Timeout).WithField("timeout").WithCause(err)
		}
		timeout = d
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir, err := s.workDir(args.Cwd)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	// Kill on cancellation, then give the pipes a moment to drain.
	cmd.Cancel = func() error { return cmd.Process.Kill() }
	cmd.WaitDelay = 2 * time.Second
	if len(args.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range args.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	cmd.Stdout = out.Stdout
	cmd.Stderr = out.Stderr

	start := time.Now()
	runErr := cmd.Run()
	res := &RunResult{DurationMs: time.Since(start).Milliseconds()}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, runErr
		}
		res.ExitCode = exitErr.ExitCode()
		res.Killed = errors.Is(execCtx.Err(), context.DeadlineExceeded)
	}
	return res, nil
}

func (s *shellRunner) allowed(name string) bool {
	if len(s.cfg.AllowedCommands) == 0 {
		return true
	}
	for _, c := range s.cfg.AllowedCommands {
		if c == name {
			return true
		}
	}
	return false
}

// workDir resolves cwd against WorkDirs. Symlinks are resolved before the
// containment check so a link cannot escape a confined directory.
func (s *shellRunner) workDir(cwd string) (string, error) {
	if len(s.cfg.WorkDirs) == 0 {
		return cwd, nil
	}
	if cwd == "" {
		return s.cfg.WorkDirs[0], nil
	}
	resolved, err := resolvePath(cwd)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid cwd %q", cwd).WithField("cwd").WithCause(err)
	}
	for _, base := range s.cfg.WorkDirs {
		b, err := resolvePath(base)
		if err != nil {
			continue
		}
		if isUnder(resolved, b) {
			return resolved, nil
		}
	}
	return "", schema.NewErrorf(schema.ErrCodeValidation, "cwd %q is outside the allowed directories", cwd).WithField("cwd")
}

func resolvePath(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", errors.New("path contains null byte")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// isUnder reports whether path equals base or lies beneath it.
func isUnder(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
