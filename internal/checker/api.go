package checker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/watchpost/watchpost/internal/logging"
	"github.com/watchpost/watchpost/pkg/models"
)

// Default response time thresholds for API targets, in milliseconds.
// Targets override them via the warning_threshold_ms and
// critical_threshold_ms custom parameters.
const (
	apiResponseWarnMs     = 1000.0
	apiResponseCriticalMs = 3000.0
)

const userAgent = "Watchpost/1.0"

// APIChecker probes HTTP and HTTPS endpoints with a GET request. The
// target's headers are sent as-is; the expected_status custom parameter
// accepts a class ("2xx", "3xx", "4xx") or an exact code ("204").
type APIChecker struct {
	client         *http.Client
	defaultTimeout time.Duration
	logger         *logging.Logger
}

// NewAPIChecker creates the API strategy with a shared HTTP client.
func NewAPIChecker(logger *logging.Logger, defaultTimeout time.Duration) *APIChecker {
	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: false},
			MaxIdleConns:      10,
			IdleConnTimeout:   30 * time.Second,
			DisableKeepAlives: false,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	return &APIChecker{
		client:         client,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

func (c *APIChecker) Kind() models.TargetKind { return models.KindAPI }

// Execute performs the GET probe. Connection failures and timeouts map
// to an error result; a response with an unexpected status code is also
// an error result carrying the observed code. A matching response that
// breaches the critical response time threshold degrades to warning;
// the performance_status metric carries the tier that was breached.
func (c *APIChecker) Execute(ctx context.Context, target *models.Target) *models.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeoutFor(target, c.defaultTimeout))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.Address, nil)
	if err != nil {
		return models.ErrorResult(fmt.Sprintf("invalid request: %v", err), nil)
	}

	for key, value := range target.Headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		errType := "connection"
		if ctx.Err() == context.DeadlineExceeded {
			errType = "timeout"
		}
		return models.ErrorResult(err.Error(), models.MetricsEntry{
			"error_type":       errType,
			"response_time_ms": float64(elapsed.Milliseconds()),
		})
	}
	defer resp.Body.Close()

	responseMs := float64(elapsed.Milliseconds())
	metrics := models.MetricsEntry{
		"status_code":      resp.StatusCode,
		"response_time_ms": responseMs,
		"content_length":   resp.ContentLength,
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		metrics["content_type"] = ct
	}
	if srv := resp.Header.Get("Server"); srv != "" {
		metrics["server"] = srv
	}

	expected := target.ParamString("expected_status", "2xx")
	if !statusMatches(resp.StatusCode, expected) {
		metrics["error"] = fmt.Sprintf("unexpected status code: %d (expected %s)", resp.StatusCode, expected)
		return &models.CheckResult{Status: models.StatusError, Metrics: metrics}
	}

	// A slow but correct response degrades to warning at most; critical
	// is reserved for the threshold state machine.
	warnMs := target.ParamFloat("warning_threshold_ms", apiResponseWarnMs)
	criticalMs := target.ParamFloat("critical_threshold_ms", apiResponseCriticalMs)

	status := models.StatusOK
	switch {
	case responseMs > criticalMs:
		status = models.StatusWarning
		metrics["performance_status"] = "critical"
	case responseMs > warnMs:
		metrics["performance_status"] = "warning"
	default:
		metrics["performance_status"] = "ok"
	}

	return &models.CheckResult{Status: status, Metrics: metrics}
}

// statusMatches compares a response code against an expectation that is
// either a class like "2xx" or an exact code.
func statusMatches(code int, expected string) bool {
	expected = strings.ToLower(strings.TrimSpace(expected))
	switch expected {
	case "2xx":
		return code >= 200 && code < 300
	case "3xx":
		return code >= 300 && code < 400
	case "4xx":
		return code >= 400 && code < 500
	case "5xx":
		return code >= 500 && code < 600
	}
	exact, err := strconv.Atoi(expected)
	if err != nil {
		return code >= 200 && code < 300
	}
	return code == exact
}
