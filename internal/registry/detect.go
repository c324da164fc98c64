package registry

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/watchpost/watchpost/pkg/models"
)

// probeTimeout bounds the creation-time detection probe so a slow network
// cannot make an add operation hang.
const probeTimeout = 3 * time.Second

// ProbeFunc classifies an address and records initial reachability info.
// The outcome is diagnostic only; it never gates target creation.
type ProbeFunc func(address string) *models.DetectionInfo

// DetectTarget is the default detection probe. A literal IP is classified
// as kind ip; an address with an explicit URL scheme is kind api and gets
// a short GET probe; everything else is treated as a hostname and gets a
// DNS resolution attempt.
func DetectTarget(address string) *models.DetectionInfo {
	if ip := net.ParseIP(address); ip != nil {
		return &models.DetectionInfo{Kind: models.KindIP, Status: "success"}
	}

	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return probeAPI(address)
	}

	return probeHostname(address)
}

func probeAPI(address string) *models.DetectionInfo {
	info := &models.DetectionInfo{Kind: models.KindAPI}

	client := &http.Client{Timeout: probeTimeout}
	start := time.Now()
	resp, err := client.Get(address)
	if err != nil {
		info.Status = "error"
		info.Info = models.MetricsEntry{"error": err.Error()}
		return info
	}
	defer resp.Body.Close()

	info.Status = "success"
	info.Info = models.MetricsEntry{
		"status_code":      resp.StatusCode,
		"response_time_ms": float64(time.Since(start).Milliseconds()),
		"content_type":     resp.Header.Get("Content-Type"),
	}
	return info
}

func probeHostname(address string) *models.DetectionInfo {
	info := &models.DetectionInfo{Kind: models.KindHostname}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupHost(ctx, address)
	if err != nil || len(addrs) == 0 {
		info.Status = "error"
		msg := "no addresses found"
		if err != nil {
			msg = err.Error()
		}
		info.Info = models.MetricsEntry{"error": msg}
		return info
	}

	info.Status = "success"
	info.Info = models.MetricsEntry{"resolved_ip": addrs[0]}
	return info
}

// inferName derives a display label from the address when none was
// supplied on add.
func inferName(address string, kind models.TargetKind) string {
	switch kind {
	case models.KindAPI:
		if u, err := url.Parse(address); err == nil && u.Host != "" {
			return fmt.Sprintf("API: %s", u.Host)
		}
		return fmt.Sprintf("API: %s", address)
	case models.KindIP:
		return fmt.Sprintf("IP: %s", address)
	default:
		return fmt.Sprintf("Host: %s", address)
	}
}
