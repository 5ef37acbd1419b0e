package health

import (
	"context"
	"fmt"
	"time"

	"yuzu/bargein/internal/auth"
	"yuzu/bargein/internal/config"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// CheckAll runs all readiness checks and returns combined status.
func CheckAll(ctx context.Context, cfg config.Config) HealthStatus {
	checks := []CheckResult{
		checkFloorConfig(ctx, cfg),
		checkWorkerAuth(ctx, cfg),
	}

	allOK := true
	for _, c := range checks {
		if !c.OK {
			allOK = false
		}
	}

	return HealthStatus{
		OK:        allOK,
		Checks:    checks,
		CheckedAt: time.Now().UTC(),
	}
}

func checkFloorConfig(_ context.Context, cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "floor_config"}
	snap, err := cfg.FloorSnapshot()
	result.Latency = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if snap.ConfirmWindow() > 10*time.Second {
		result.Error = fmt.Sprintf("confirmation window %s holds agent audio too long", snap.ConfirmWindow())
		return result
	}
	result.OK = true
	return result
}

// checkWorkerAuth signs and verifies a throwaway token so a bad secret shows
// up before the first worker tries to connect.
func checkWorkerAuth(ctx context.Context, cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "worker_auth"}
	if cfg.Worker.TokenSecret == "" {
		result.Error = "WORKER_TOKEN_SECRET not set"
		result.Latency = time.Since(start)
		return result
	}
	if err := ctx.Err(); err != nil {
		result.Error = err.Error()
		result.Latency = time.Since(start)
		return result
	}
	now := time.Now()
	tok, _, err := auth.MintWorkerToken(cfg.Worker.TokenSecret, "healthcheck", time.Minute, now)
	if err == nil {
		_, _, err = auth.ValidateWorkerToken(cfg.Worker.TokenSecret, tok, "healthcheck", now, cfg.Worker.TokenSkewSecs)
	}
	result.Latency = time.Since(start)
	if err != nil {
		result.Error = fmt.Sprintf("token round trip failed: %v", err)
		return result
	}
	result.OK = true
	return result
}
