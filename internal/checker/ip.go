package checker

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/watchpost/watchpost/internal/logging"
	"github.com/watchpost/watchpost/pkg/models"
)

// Default round-trip time thresholds for IP targets, in milliseconds.
// Targets override them via the warning_threshold_ms and
// critical_threshold_ms custom parameters. Loss tiers are fixed.
const (
	ipRTTWarnMs     = 100.0
	ipRTTCriticalMs = 300.0

	packetLossWarnPct     = 10.0
	packetLossCriticalPct = 50.0

	defaultPingCount = 3
)

type pinger interface {
	Run() error
	Stop()
	SetPrivileged(bool)
	SetCount(int)
	SetTimeout(time.Duration)
	Statistics() *probing.Statistics
}

type probingPinger struct {
	*probing.Pinger
}

func (p *probingPinger) SetCount(count int) {
	p.Pinger.Count = count
}

func (p *probingPinger) SetTimeout(timeout time.Duration) {
	p.Pinger.Timeout = timeout
}

func defaultPingerFactory(address string) (pinger, error) {
	p, err := probing.NewPinger(address)
	if err != nil {
		return nil, err
	}
	return &probingPinger{Pinger: p}, nil
}

// IPChecker pings an address and grades the result by round-trip time
// and packet loss. The ping_count custom parameter overrides the number
// of echo requests.
type IPChecker struct {
	defaultTimeout time.Duration
	logger         *logging.Logger
	newPinger      func(string) (pinger, error)
}

// NewIPChecker creates the ICMP strategy.
func NewIPChecker(logger *logging.Logger, defaultTimeout time.Duration) *IPChecker {
	return &IPChecker{
		defaultTimeout: defaultTimeout,
		logger:         logger,
		newPinger:      defaultPingerFactory,
	}
}

func (c *IPChecker) Kind() models.TargetKind { return models.KindIP }

// Execute runs the ping. A host that answers no echo at all is an error
// result; heavy loss or round-trip times past the critical threshold
// degrade to warning, with the breached tier recorded in the
// packet_loss_status and performance_status metrics.
func (c *IPChecker) Execute(ctx context.Context, target *models.Target) *models.CheckResult {
	return c.ping(ctx, target, target.Address)
}

// ping is shared with the hostname strategy, which resolves first and
// then pings the resolved address.
func (c *IPChecker) ping(ctx context.Context, target *models.Target, address string) *models.CheckResult {
	p, err := c.newPinger(address)
	if err != nil {
		return models.ErrorResult(fmt.Sprintf("failed to create pinger: %v", err), nil)
	}

	p.SetCount(target.ParamInt("ping_count", defaultPingCount))
	p.SetTimeout(timeoutFor(target, c.defaultTimeout))

	// Raw ICMP needs privileges; fall back to UDP echo when denied.
	p.SetPrivileged(true)

	if err := c.run(ctx, p); err != nil {
		p.SetPrivileged(false)
		if err := c.run(ctx, p); err != nil {
			return models.ErrorResult(fmt.Sprintf("ping failed: %v", err), nil)
		}
	}

	stats := p.Statistics()
	if stats.PacketsRecv == 0 {
		return models.ErrorResult("host unreachable: no echo reply received", models.MetricsEntry{
			"packets_sent":     stats.PacketsSent,
			"packets_received": 0,
			"packet_loss_pct":  100.0,
		})
	}

	avgMs := float64(stats.AvgRtt.Microseconds()) / 1000.0
	metrics := models.MetricsEntry{
		"packets_sent":     stats.PacketsSent,
		"packets_received": stats.PacketsRecv,
		"packet_loss_pct":  stats.PacketLoss,
		"min_rtt_ms":       float64(stats.MinRtt.Microseconds()) / 1000.0,
		"avg_rtt_ms":       avgMs,
		"max_rtt_ms":       float64(stats.MaxRtt.Microseconds()) / 1000.0,
	}

	// Reachable but degraded caps at warning; only breaching the
	// critical tier of either dimension lifts the status off ok.
	warnMs := target.ParamFloat("warning_threshold_ms", ipRTTWarnMs)
	criticalMs := target.ParamFloat("critical_threshold_ms", ipRTTCriticalMs)

	status := models.StatusOK
	switch {
	case avgMs > criticalMs:
		metrics["performance_status"] = "critical"
		status = models.StatusWarning
	case avgMs > warnMs:
		metrics["performance_status"] = "warning"
	default:
		metrics["performance_status"] = "ok"
	}

	switch {
	case stats.PacketLoss > packetLossCriticalPct:
		metrics["packet_loss_status"] = "critical"
		status = models.StatusWarning
	case stats.PacketLoss > packetLossWarnPct:
		metrics["packet_loss_status"] = "warning"
	default:
		metrics["packet_loss_status"] = "ok"
	}

	return &models.CheckResult{Status: status, Metrics: metrics}
}

func (c *IPChecker) run(ctx context.Context, p pinger) error {
	done := make(chan error, 1)
	go func() {
		done <- p.Run()
	}()

	select {
	case <-ctx.Done():
		p.Stop()
		return ctx.Err()
	case err := <-done:
		return err
	}
}
