package cgi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"time"
)

var (
	ErrTimeout     = errors.New("script timed out")
	ErrSpawnFailed = errors.New("script could not be started")
)

// Invocation describes one child process run.
type Invocation struct {
	Executable string
	Dir        string
	Env        map[string]string
	Stdin      []byte
}

// Result is what a finished child produced.
type Result struct {
	Stdout     []byte
	Stderr     []byte
	ExitStatus int
}

// ProcessRunner runs a child process to completion. A non-zero exit is a
// Result, not an error; errors are ErrTimeout, ErrSpawnFailed or a context
// error.
type ProcessRunner interface {
	Run(ctx context.Context, inv *Invocation, timeout time.Duration) (*Result, error)
}

// ExecRunner runs scripts with os/exec.
type ExecRunner struct {
	// WaitDelay bounds how long output pipes are drained after the child
	// exits or is killed. Zero uses one second.
	WaitDelay time.Duration
}

func (r *ExecRunner) Run(ctx context.Context, inv *Invocation, timeout time.Duration) (*Result, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, inv.Executable)
	cmd.Dir = inv.Dir
	cmd.Env = envList(inv.Env)
	// exec copies stdin from a goroutine and ignores EPIPE when the child
	// exits without reading it all.
	cmd.Stdin = bytes.NewReader(inv.Stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = time.Second
	}

	err := cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitStatus = exitErr.ExitCode()
	case errors.Is(err, exec.ErrWaitDelay):
		// Exited cleanly but something else still held the pipes.
	default:
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	return res, nil
}

// envList renders env as sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}
