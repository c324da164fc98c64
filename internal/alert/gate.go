// Package alert turns state-machine transitions into notifications.
// The gate fires exactly once per critical edge and once per recovery;
// steady states never notify.
package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/watchpost/watchpost/internal/logging"
	"github.com/watchpost/watchpost/internal/metrics"
	"github.com/watchpost/watchpost/internal/notify"
	"github.com/watchpost/watchpost/pkg/models"
)

// Gate consumes transitions and dispatches alert and recovery
// notifications. Delivery failures are logged and swallowed; a broken
// notification channel must not disturb the check pipeline.
type Gate struct {
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

// NewGate wires the alert gate to its notification channel.
func NewGate(notifier notify.Notifier, m *metrics.Metrics, logger *logging.Logger) *Gate {
	if notifier == nil {
		notifier = &notify.NoopNotifier{}
	}
	return &Gate{notifier: notifier, metrics: m, logger: logger}
}

// Process examines one transition and sends at most one notification.
func (g *Gate) Process(tr *models.Transition) {
	if tr == nil {
		return
	}

	switch {
	case tr.EnteredCritical:
		g.fire(tr)
	case tr.Recovered:
		g.recover(tr)
	}
}

func (g *Gate) fire(tr *models.Transition) {
	t := tr.Target
	g.logger.AlertEvent(logging.EventAlertFired, t.ID, t.Name, t.Status.Failures, t.AlertThreshold)
	g.metrics.RecordAlert(t.Name, string(t.Kind), "alert")

	if err := g.notifier.SendAlert(g.alertMessage(t), notify.PriorityHigh); err != nil {
		g.logDeliveryFailure(t, err)
	}
}

func (g *Gate) recover(tr *models.Transition) {
	t := tr.Target
	g.logger.AlertEvent(logging.EventAlertRecovered, t.ID, t.Name, t.Status.Failures, t.AlertThreshold)
	g.metrics.RecordAlert(t.Name, string(t.Kind), "recovery")

	if err := g.notifier.SendAlert(g.recoveryMessage(t), notify.PriorityNormal); err != nil {
		g.logDeliveryFailure(t, err)
	}
}

func (g *Gate) logDeliveryFailure(t *models.Target, err error) {
	g.logger.WithComponent(logging.ComponentAlert).
		WithError(err).
		WithTarget(t.ID, t.Name, string(t.Kind)).
		Warn("Alert notification delivery failed")
}

// alertMessage composes the failure notification. The diagnostic lines
// vary by kind, drawn from the newest recorded metrics entry.
func (g *Gate) alertMessage(t *models.Target) string {
	last := lastMetrics(t)

	var b strings.Builder
	fmt.Fprintf(&b, "ALERT: %s is DOWN\n", t.Name)
	fmt.Fprintf(&b, "%s: %s\n", kindLabel(t.Kind), t.Address)

	switch t.Kind {
	case models.KindAPI:
		fmt.Fprintf(&b, "Status code: %s\n", metricString(last, "status_code"))
		fmt.Fprintf(&b, "Response time: %s ms\n", metricString(last, "response_time_ms"))
	case models.KindIP:
		fmt.Fprintf(&b, "Packet loss: %s%%\n", metricString(last, "packet_loss_pct"))
	case models.KindHostname:
		fmt.Fprintf(&b, "Resolved: %s\n", metricString(last, "hostname_resolved"))
	}

	if msg, ok := last["error"].(string); ok && msg != "" {
		fmt.Fprintf(&b, "Error: %s\n", msg)
	}

	fmt.Fprintf(&b, "Consecutive failures: %d (threshold %d)\n", t.Status.Failures, t.AlertThreshold)
	if t.Status.LastCheck != nil {
		fmt.Fprintf(&b, "Last check: %s", t.Status.LastCheck.Format(time.RFC3339))
	}
	return b.String()
}

func (g *Gate) recoveryMessage(t *models.Target) string {
	var b strings.Builder
	fmt.Fprintf(&b, "RECOVERED: %s is back UP\n", t.Name)
	fmt.Fprintf(&b, "%s: %s\n", kindLabel(t.Kind), t.Address)
	if t.Status.LastSuccess != nil {
		fmt.Fprintf(&b, "Recovered at: %s", t.Status.LastSuccess.Format(time.RFC3339))
	}
	return b.String()
}

func kindLabel(kind models.TargetKind) string {
	switch kind {
	case models.KindAPI:
		return "Endpoint"
	case models.KindIP:
		return "IP address"
	case models.KindHostname:
		return "Hostname"
	}
	return "Address"
}

// lastMetrics returns the newest recorded metrics entry, or an empty
// entry for a target that has never completed a check.
func lastMetrics(t *models.Target) models.MetricsEntry {
	rm := t.Status.RecentMetrics
	if len(rm) == 0 {
		return models.MetricsEntry{}
	}
	return rm[len(rm)-1]
}

func metricString(m models.MetricsEntry, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%v", v)
}
