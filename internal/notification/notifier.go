// Package notification delivers edge alerts to external channels
// (log, webhooks, Telegram) after a sweep.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"

	"signal-edge/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel     `json:"level"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// EdgeAlerts builds one alert per combination whose best advantage ratio
// reaches minAdvantage, in sweep order, plus a warning when combinations
// failed. minAdvantage <= 0 disables edge alerts.
func EdgeAlerts(report *model.Report, minAdvantage float64) []Alert {
	var alerts []Alert
	if minAdvantage > 0 {
		for _, k := range report.Keys() {
			res := report.Results[k]
			adv, n, ok := res.BestAdvantage()
			if !ok || adv < minAdvantage {
				continue
			}
			level := AlertInfo
			if adv >= 2*minAdvantage {
				level = AlertCritical
			}
			alerts = append(alerts, Alert{
				Level: level,
				Title: fmt.Sprintf("%s edge on %s", report.Timeframe, k),
				Message: fmt.Sprintf("advantage %.2fx at %d candle(s): signal %.2f%% vs baseline %.2f%% over %d signals",
					adv, n, res.Signal[n], res.Baseline[n], res.SignalSamples[n]),
				Fields: map[string]any{
					"timeframe": report.Timeframe,
					"combo":     k.String(),
					"horizon":   n,
					"advantage": adv,
				},
			})
		}
	}
	if len(report.Failures) > 0 {
		alerts = append(alerts, Alert{
			Level:   AlertWarning,
			Title:   fmt.Sprintf("%s sweep had failures", report.Timeframe),
			Message: fmt.Sprintf("%d of %d combinations failed", len(report.Failures), len(report.Failures)+len(report.Results)),
			Fields:  map[string]any{"timeframe": report.Timeframe, "failed": len(report.Failures)},
		})
	}
	return alerts
}

// Dispatch sends every alert through every notifier. Delivery failures do
// not stop the remaining sends; they are joined into the returned error.
// onSent, if set, is called after each successful delivery.
func Dispatch(ctx context.Context, notifiers []Notifier, alerts []Alert, onSent func(notifier string)) error {
	var errs []error
	for _, a := range alerts {
		for _, n := range notifiers {
			if err := n.Send(ctx, a); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
				continue
			}
			if onSent != nil {
				onSent(n.Name())
			}
		}
	}
	return errors.Join(errs...)
}
