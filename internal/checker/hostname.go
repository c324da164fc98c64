package checker

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/watchpost/watchpost/internal/logging"
	"github.com/watchpost/watchpost/pkg/models"
)

// HostnameChecker resolves a DNS name and then pings the first resolved
// address. Resolution failure is terminal; reachability problems after a
// successful resolution carry the resolution metrics alongside the ping
// metrics.
type HostnameChecker struct {
	ip      *IPChecker
	logger  *logging.Logger
	resolve func(ctx context.Context, host string) ([]string, error)
}

// NewHostnameChecker creates the hostname strategy on top of the IP one.
func NewHostnameChecker(logger *logging.Logger, ip *IPChecker) *HostnameChecker {
	return &HostnameChecker{
		ip:     ip,
		logger: logger,
		resolve: func(ctx context.Context, host string) ([]string, error) {
			return net.DefaultResolver.LookupHost(ctx, host)
		},
	}
}

func (c *HostnameChecker) Kind() models.TargetKind { return models.KindHostname }

func (c *HostnameChecker) Execute(ctx context.Context, target *models.Target) *models.CheckResult {
	resolveCtx, cancel := context.WithTimeout(ctx, timeoutFor(target, c.ip.defaultTimeout))
	defer cancel()

	start := time.Now()
	addrs, err := c.resolve(resolveCtx, target.Address)
	resolutionMs := float64(time.Since(start).Milliseconds())

	if err != nil || len(addrs) == 0 {
		msg := fmt.Sprintf("hostname resolution failed: no addresses for %s", target.Address)
		if err != nil {
			msg = fmt.Sprintf("hostname resolution failed: %v", err)
		}
		return models.ErrorResult(msg, models.MetricsEntry{
			"hostname_resolved":  false,
			"resolution_time_ms": resolutionMs,
		})
	}

	result := c.ip.ping(ctx, target, addrs[0])
	result.Metrics["hostname_resolved"] = true
	result.Metrics["resolved_ip"] = addrs[0]
	result.Metrics["resolution_time_ms"] = resolutionMs
	return result
}
