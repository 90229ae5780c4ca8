package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func ok(ctx context.Context) CheckResult {
	return CheckResult{Status: StatusHealthy}
}

func failing(ctx context.Context) CheckResult {
	return CheckResult{Status: StatusUnhealthy, Error: errors.New("down").Error()}
}

func TestHealthyAggregate(t *testing.T) {
	c := NewChecker("test")
	c.Register(&Component{Name: "registry", Critical: true, Check: ok})
	c.Register(&Component{Name: "sessions", Check: ok})
	c.SetReady(true)

	rep := c.RunChecks(context.Background())
	if rep.Status != string(StatusHealthy) {
		t.Errorf("status = %q, want healthy", rep.Status)
	}
	if !rep.Ready {
		t.Error("ready = false")
	}
	if rep.Version != "test" {
		t.Errorf("version = %q", rep.Version)
	}
	if len(rep.Components) != 2 {
		t.Errorf("component count = %d, want 2", len(rep.Components))
	}
}

func TestCriticalFailureIsUnhealthy(t *testing.T) {
	c := NewChecker("test")
	c.Register(&Component{Name: "registry", Critical: true, Check: failing})
	rep := c.RunChecks(context.Background())
	if rep.Status != string(StatusUnhealthy) {
		t.Errorf("status = %q, want unhealthy", rep.Status)
	}
}

func TestNonCriticalFailureDegrades(t *testing.T) {
	c := NewChecker("test")
	c.Register(&Component{Name: "registry", Critical: true, Check: ok})
	c.Register(&Component{Name: "audit", Check: failing})
	rep := c.RunChecks(context.Background())
	if rep.Status != string(StatusDegraded) {
		t.Errorf("status = %q, want degraded", rep.Status)
	}
}

func TestCheckTimeout(t *testing.T) {
	c := NewChecker("test")
	c.Register(&Component{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})
	rep := c.RunChecks(context.Background())
	res := rep.Components["slow"]
	if res.Status != StatusUnhealthy || res.Error == "" {
		t.Errorf("slow check result = %+v, want unhealthy timeout", res)
	}
}
