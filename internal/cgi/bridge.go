// Package cgi runs scripts from the scripts directory and turns their output
// into responses.
package cgi

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/Brownie44l1/cgiserve/internal/logger"
	"github.com/Brownie44l1/cgiserve/internal/request"
	"github.com/Brownie44l1/cgiserve/internal/resolve"
	"github.com/Brownie44l1/cgiserve/internal/response"
)

var (
	ErrScriptFailed     = errors.New("script exited with non-zero status")
	ErrMethodNotAllowed = errors.New("method not allowed for scripts")
)

const (
	EnvMethod      = "Method"
	EnvPath        = "Path"
	EnvQueryPrefix = "Query_"

	// AllowedMethods is the Allow header value for script paths.
	AllowedMethods = "GET, POST"

	defaultTimeout = 30 * time.Second
)

// Config configures a Bridge.
type Config struct {
	ScriptsDir string
	Runner     ProcessRunner
	Timeout    time.Duration
	// InheritEnv names server environment variables passed to every script.
	InheritEnv []string
	Logger     logger.Logger
}

// Bridge executes scripts for requests below the scripts directory.
type Bridge struct {
	scriptsRoot string
	runner      ProcessRunner
	timeout     time.Duration
	inheritEnv  []string
	logger      logger.Logger
}

// NewBridge canonicalizes the scripts directory when it exists. A missing
// directory is not an error; every script lookup then reports not found.
func NewBridge(cfg Config) (*Bridge, error) {
	scriptsRoot, err := resolve.Canonicalize(cfg.ScriptsDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("scripts directory %q: %w", cfg.ScriptsDir, err)
		}
		if scriptsRoot, err = filepath.Abs(cfg.ScriptsDir); err != nil {
			return nil, err
		}
	}

	b := &Bridge{
		scriptsRoot: scriptsRoot,
		runner:      cfg.Runner,
		timeout:     cfg.Timeout,
		inheritEnv:  cfg.InheritEnv,
		logger:      cfg.Logger,
	}
	if b.runner == nil {
		b.runner = &ExecRunner{}
	}
	if b.timeout <= 0 {
		b.timeout = defaultTimeout
	}
	if b.logger == nil {
		b.logger = &logger.NullLogger{}
	}
	return b, nil
}

// ScriptsRoot returns the canonical scripts directory.
func (b *Bridge) ScriptsRoot() string {
	return b.scriptsRoot
}

// Owns reports whether rp lies inside the scripts directory.
func (b *Bridge) Owns(rp resolve.ResolvedPath) bool {
	return resolve.Within(b.scriptsRoot, rp.Path)
}

// Serve runs the script at rp with req's body on stdin.
func (b *Bridge) Serve(ctx context.Context, rp resolve.ResolvedPath, req *request.Request) (*response.Response, error) {
	if req.Method != "GET" && req.Method != "POST" {
		return nil, ErrMethodNotAllowed
	}

	if err := b.checkScript(rp); err != nil {
		return nil, err
	}

	inv := &Invocation{
		Executable: rp.Path,
		Dir:        filepath.Dir(rp.Path),
		Env:        b.BuildEnv(req),
		Stdin:      req.Body,
	}

	start := time.Now()
	res, err := b.runner.Run(ctx, inv, b.timeout)
	if err != nil {
		b.logger.Warn("script run failed",
			logger.F("script", rp.Rel),
			logger.F("error", err),
			logger.F("elapsed", time.Since(start)))
		return nil, err
	}

	if len(res.Stderr) > 0 {
		b.logger.Debug("script stderr", logger.F("script", rp.Rel), logger.F("stderr", string(res.Stderr)))
	}

	if res.ExitStatus != 0 {
		b.logger.Warn("script exited with error",
			logger.F("script", rp.Rel),
			logger.F("status", res.ExitStatus),
			logger.F("stderr", string(res.Stderr)))
		return nil, fmt.Errorf("%w: %s exited %d", ErrScriptFailed, rp.Rel, res.ExitStatus)
	}

	h, body := ParseOutput(res.Stdout)
	return response.New(response.StatusOK, h, body), nil
}

func (b *Bridge) checkScript(rp resolve.ResolvedPath) error {
	info, err := os.Stat(rp.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return resolve.ErrNotFound
		}
		return fmt.Errorf("%w: %v", resolve.ErrForbidden, err)
	}
	if !resolve.Within(b.scriptsRoot, rp.Path) {
		return resolve.ErrForbidden
	}
	if !info.Mode().IsRegular() {
		return resolve.ErrNotFound
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s is not executable", resolve.ErrForbidden, rp.Rel)
	}
	return nil
}

// BuildEnv returns the child environment for req. Inherited variables come
// first, then request headers in order (later duplicates win), then one
// Query_<key> per query parameter, and finally Method and Path.
//
// Headers cannot replace inherited variables, the request variables, or
// dynamic loader settings; names that are not HTTP tokens and values with
// control bytes are dropped.
func (b *Bridge) BuildEnv(req *request.Request) map[string]string {
	env := make(map[string]string)
	inherited := make(map[string]bool, len(b.inheritEnv))
	for _, name := range b.inheritEnv {
		inherited[name] = true
		if v, ok := os.LookupEnv(name); ok {
			env[name] = v
		}
	}

	for _, f := range req.Headers.Fields() {
		if !httpguts.ValidHeaderFieldName(f.Name) || !httpguts.ValidHeaderFieldValue(f.Value) {
			b.logger.Debug("dropping header from script env", logger.F("header", f.Name))
			continue
		}
		if inherited[f.Name] || reservedEnvName(f.Name) {
			b.logger.Debug("header shadows reserved env name", logger.F("header", f.Name))
			continue
		}
		env[f.Name] = f.Value
	}

	for _, q := range req.Query {
		if !validEnvName(q.Key) || strings.IndexByte(q.Value, 0) != -1 {
			continue
		}
		env[EnvQueryPrefix+q.Key] = q.Value
	}

	env[EnvMethod] = req.Method
	env[EnvPath] = req.RawPath
	return env
}

func reservedEnvName(name string) bool {
	switch {
	case name == EnvMethod, name == EnvPath:
		return true
	case strings.HasPrefix(name, EnvQueryPrefix):
		return true
	case strings.HasPrefix(name, "LD_"), strings.HasPrefix(name, "DYLD_"):
		return true
	}
	switch name {
	case "PATH", "IFS", "ENV", "BASH_ENV", "SHELLOPTS":
		return true
	}
	return false
}

func validEnvName(key string) bool {
	return key != "" && !strings.ContainsAny(key, "=\x00")
}
