// Package doctor provides diagnostic checks for ctxpack's cache and
// registry configuration.
//
// This package implements a check framework that validates:
//   - The local cache directory exists and is writable
//   - The configured registry host is reachable
//   - Registry credentials are configured
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rozetyp/ctxpack/internal/auth"
	"github.com/rozetyp/ctxpack/internal/config"
)

// Status represents the result of a diagnostic check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical failure.
	StatusFail
)

// Result holds the outcome of a single check.
type Result struct {
	Name    string
	Status  Status
	Message string
	Detail  string // Optional additional detail
}

// Check is a diagnostic check function.
type Check func(ctx context.Context) Result

// Runner executes diagnostic checks.
type Runner struct {
	checks []namedCheck
}

type namedCheck struct {
	name  string
	check Check
}

// New creates a new diagnostic runner bound to the given configuration.
func New(cfg *config.Config) *Runner {
	r := &Runner{}

	r.AddCheck("Cache Directory", func(ctx context.Context) Result {
		return checkCacheDir(cfg)
	})
	r.AddCheck("Registry Reachability", func(ctx context.Context) Result {
		return checkRegistryReachability(ctx, cfg)
	})
	r.AddCheck("Credentials", func(ctx context.Context) Result {
		return checkCredentials(cfg)
	})

	return r
}

// AddCheck registers a diagnostic check.
func (r *Runner) AddCheck(name string, check Check) {
	r.checks = append(r.checks, namedCheck{name: name, check: check})
}

// Run executes all registered checks and returns the results.
func (r *Runner) Run(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.checks))

	for _, nc := range r.checks {
		result := nc.check(ctx)
		result.Name = nc.name
		results = append(results, result)
	}

	return results
}

// Summary returns counts of passed, failed, and warning checks.
func Summary(results []Result) (passed, failed, warnings int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		case StatusWarn:
			warnings++
		}
	}

	return passed, failed, warnings
}

// checkCacheDir verifies the local cache directory exists (or can be
// created) and accepts a probe write.
func checkCacheDir(cfg *config.Config) Result {
	dir := cfg.CacheDir()
	if dir == "" {
		return Result{
			Status:  StatusFail,
			Message: "cache directory could not be resolved",
			Detail:  "set CTXP_CACHE_DIR explicitly",
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{
			Status:  StatusFail,
			Message: dir,
			Detail:  err.Error(),
		}
	}

	probe := filepath.Join(dir, ".ctxpack-doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s (not writable)", dir),
			Detail:  err.Error(),
		}
	}
	_ = os.Remove(probe)

	return Result{
		Status:  StatusPass,
		Message: dir,
	}
}

// checkRegistryReachability probes the registry's /v2/ base endpoint.
// A 401 or 200 both indicate the host is reachable; only a transport-level
// failure is treated as a hard failure.
func checkRegistryReachability(ctx context.Context, cfg *config.Config) Result {
	host := cfg.RegistryURL()
	url := fmt.Sprintf("https://%s/v2/", host)

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Status: StatusFail, Message: host, Detail: err.Error()}
	}

	start := time.Now()

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{
			Status:  StatusFail,
			Message: host,
			Detail:  err.Error(),
		}
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized {
		return Result{
			Status:  StatusPass,
			Message: fmt.Sprintf("%s (%dms)", host, elapsed.Milliseconds()),
		}
	}

	return Result{
		Status:  StatusWarn,
		Message: fmt.Sprintf("%s responded with unexpected status %d", host, resp.StatusCode),
	}
}

// checkCredentials verifies a registry token and repository are configured.
func checkCredentials(cfg *config.Config) Result {
	source, token := auth.GetToken()
	if token == "" {
		return Result{
			Status:  StatusFail,
			Message: "CTXP_TOKEN not set",
			Detail:  "set CTXP_TOKEN (or run a command that stores it via the keyring)",
		}
	}

	repo := cfg.Repo()
	if strings.TrimSpace(repo) == "" {
		return Result{
			Status:  StatusWarn,
			Message: fmt.Sprintf("token present (via %s), but CTXP_REPO is not set", source),
		}
	}

	return Result{
		Status:  StatusPass,
		Message: fmt.Sprintf("token via %s, repo %s", source, repo),
	}
}

// RenderResults formats diagnostic results to the given output writer.
func RenderResults(results []Result, printFn, successFn, warningFn, failureFn, mutedFn func(format string, args ...any)) {
	maxNameLen := 0
	for _, r := range results {
		if len(r.Name) > maxNameLen {
			maxNameLen = len(r.Name)
		}
	}

	for _, r := range results {
		symbol := r.Status.Symbol()
		padding := maxNameLen - len(r.Name) + 4

		switch r.Status {
		case StatusPass:
			successFn("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
		case StatusWarn:
			warningFn("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
		case StatusFail:
			failureFn("%-*s%s", len(r.Name)+padding, r.Name, r.Message)
		default:
			printFn("%s %-*s%s\n", symbol, len(r.Name)+padding, r.Name, r.Message)
		}

		if r.Detail != "" {
			mutedFn("    %s", r.Detail)
		}
	}
}

// Symbol returns the status symbol for display.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return checkMark
	case StatusWarn:
		return warningMark
	case StatusFail:
		return xMark
	default:
		return "?"
	}
}

const (
	checkMark   = "✓" // ✓
	xMark       = "✗" // ✗
	warningMark = "⚠" // ⚠
)
