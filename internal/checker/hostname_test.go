package checker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/watchpost/watchpost/internal/logging"
	"github.com/watchpost/watchpost/pkg/models"
)

func hostnameTarget() *models.Target {
	return &models.Target{
		ID:      "t1",
		Name:    "Host: db.internal",
		Address: "db.internal",
		Kind:    models.KindHostname,
	}
}

func TestHostnameCheckerResolutionFailure(t *testing.T) {
	ip := NewIPChecker(logging.GetGlobalLogger(), 5*time.Second)
	c := NewHostnameChecker(logging.GetGlobalLogger(), ip)
	c.resolve = func(ctx context.Context, host string) ([]string, error) {
		return nil, errors.New("no such host")
	}

	result := c.Execute(context.Background(), hostnameTarget())
	if result.Status != models.StatusError {
		t.Fatalf("status = %q, want error", result.Status)
	}
	if result.Metrics["hostname_resolved"] != false {
		t.Errorf("hostname_resolved = %v, want false", result.Metrics["hostname_resolved"])
	}
	if _, ok := result.Metrics["resolution_time_ms"]; !ok {
		t.Error("resolution_time_ms missing from metrics")
	}
}

func TestHostnameCheckerEmptyResolution(t *testing.T) {
	ip := NewIPChecker(logging.GetGlobalLogger(), 5*time.Second)
	c := NewHostnameChecker(logging.GetGlobalLogger(), ip)
	c.resolve = func(ctx context.Context, host string) ([]string, error) {
		return nil, nil
	}

	if result := c.Execute(context.Background(), hostnameTarget()); result.Status != models.StatusError {
		t.Errorf("status = %q, want error for empty resolution", result.Status)
	}
}

func TestHostnameCheckerDelegatesToPing(t *testing.T) {
	p := &stubPinger{stats: stubStats(3, 3, 0, 20*time.Millisecond)}
	ip := newStubIPChecker(p, nil)

	var pinged string
	ip.newPinger = func(address string) (pinger, error) {
		pinged = address
		return p, nil
	}

	c := NewHostnameChecker(logging.GetGlobalLogger(), ip)
	c.resolve = func(ctx context.Context, host string) ([]string, error) {
		return []string{"10.1.2.3", "10.1.2.4"}, nil
	}

	result := c.Execute(context.Background(), hostnameTarget())
	if result.Status != models.StatusOK {
		t.Fatalf("status = %q, want ok", result.Status)
	}
	if pinged != "10.1.2.3" {
		t.Errorf("pinged %q, want first resolved address", pinged)
	}
	if result.Metrics["hostname_resolved"] != true {
		t.Errorf("hostname_resolved = %v, want true", result.Metrics["hostname_resolved"])
	}
	if result.Metrics["resolved_ip"] != "10.1.2.3" {
		t.Errorf("resolved_ip = %v", result.Metrics["resolved_ip"])
	}
	if _, ok := result.Metrics["avg_rtt_ms"]; !ok {
		t.Error("ping metrics missing after delegation")
	}
}

func TestFactoryDispatch(t *testing.T) {
	f := NewFactory(logging.GetGlobalLogger(), 5*time.Second)

	for _, kind := range []models.TargetKind{models.KindAPI, models.KindIP, models.KindHostname} {
		if f.For(kind) == nil {
			t.Errorf("no checker registered for kind %q", kind)
		}
	}
	if f.For("bogus") != nil {
		t.Error("checker returned for unknown kind")
	}

	result := f.Execute(context.Background(), &models.Target{ID: "t1", Kind: "bogus"})
	if result.Status != models.StatusError {
		t.Errorf("status = %q, want error for unknown kind", result.Status)
	}
	if result.Metrics["error"] == nil {
		t.Error("error detail missing for unknown kind")
	}
}
