package service

import (
	"context"
	"time"

	"labcase/internal/model"
	"labcase/internal/repository"
)

// AutoCloser periodically closes open cases that have outlived the configured
// age threshold, with cause "timeout". It is the only background activity in
// the system; per-case failures are logged and never abort a sweep.
type AutoCloser struct {
	repo     repository.CaseRepository
	maxAge   time.Duration
	interval time.Duration
}

// NewAutoCloser constructs an AutoCloser. maxAge is the open-case age
// threshold; interval is how often the sweep runs.
func NewAutoCloser(repo repository.CaseRepository, maxAge, interval time.Duration) *AutoCloser {
	return &AutoCloser{repo: repo, maxAge: maxAge, interval: interval}
}

// Run sweeps on a fixed interval until ctx is cancelled. It is meant to be
// launched in its own goroutine.
func (a *AutoCloser) Run(ctx context.Context) {
	logJSON(map[string]any{
		"component":        "autoclose",
		"event":            "sweep_started",
		"interval_sec":     a.interval.Seconds(),
		"max_case_age_sec": a.maxAge.Seconds(),
	})

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logJSON(map[string]any{
				"component": "autoclose",
				"event":     "sweep_stopped",
			})
			return
		case <-ticker.C:
			a.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: every open case older than maxAge is closed with cause
// "timeout". Errors are logged per case and swallowed; the sweep never returns
// an error to its caller.
func (a *AutoCloser) Sweep(ctx context.Context) {
	cases, err := a.repo.FindOpenCasesOlderThan(ctx, a.maxAge)
	if err != nil {
		logJSON(map[string]any{
			"component": "autoclose",
			"event":     "sweep_query_failed",
			"level":     "error",
			"error":     err.Error(),
		})
		return
	}
	if len(cases) == 0 {
		return
	}

	logJSON(map[string]any{
		"component":  "autoclose",
		"event":      "sweep_found_stale_cases",
		"case_count": len(cases),
	})

	for _, c := range cases {
		if _, err := a.repo.CloseCase(ctx, c.ID, model.ClosedByTimeout); err != nil {
			// The case may have been closed by a foreground request since the
			// query; either way this sweep moves on.
			logJSON(map[string]any{
				"component": "autoclose",
				"event":     "case_close_failed",
				"level":     "error",
				"case_id":   c.ID,
				"error":     err.Error(),
			})
			continue
		}
		logJSON(map[string]any{
			"component": "autoclose",
			"event":     "case_timed_out",
			"case_id":   c.ID,
		})
	}
}
