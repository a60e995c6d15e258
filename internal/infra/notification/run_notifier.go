package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/openctemio/vulnsync/internal/app"
	"github.com/openctemio/vulnsync/internal/metrics"
	"github.com/openctemio/vulnsync/pkg/logger"
)

// RunNotifier implements app.RunNotifier on top of a Client.
type RunNotifier struct {
	client       Client
	onlyOnChange bool
	logger       *logger.Logger
}

// NewRunNotifier creates a RunNotifier. With onlyOnChange set, successful
// runs that neither created nor commented on an issue are not reported.
func NewRunNotifier(client Client, onlyOnChange bool, log *logger.Logger) *RunNotifier {
	return &RunNotifier{
		client:       client,
		onlyOnChange: onlyOnChange,
		logger:       log.With("service", "run_notifier", "provider", client.Provider()),
	}
}

// NotifyRun sends the run summary.
func (n *RunNotifier) NotifyRun(ctx context.Context, report *app.RunReport) error {
	if report == nil {
		return nil
	}
	if n.onlyOnChange && !report.Failed() && !report.Changed() {
		n.logger.Debug("nothing changed, notification skipped", "run_id", report.RunID)
		return nil
	}

	result, err := n.client.Send(ctx, BuildRunMessage(report))
	if err != nil {
		metrics.NotificationsSent.WithLabelValues(n.client.Provider(), "error").Inc()
		return fmt.Errorf("send run notification: %w", err)
	}
	if !result.Success {
		metrics.NotificationsSent.WithLabelValues(n.client.Provider(), "failed").Inc()
		return errors.New(result.Error)
	}

	metrics.NotificationsSent.WithLabelValues(n.client.Provider(), "sent").Inc()
	n.logger.Debug("run notification sent", "run_id", report.RunID)
	return nil
}

// BuildRunMessage renders a run report as a notification message.
func BuildRunMessage(report *app.RunReport) Message {
	msg := Message{
		Title:    "Vulnerability sync completed",
		Severity: SeverityLow,
		Fields: map[string]string{
			"Problems":  strconv.Itoa(report.Problems),
			"Matches":   strconv.Itoa(report.Matches),
			"Created":   strconv.Itoa(report.Created),
			"Commented": strconv.Itoa(report.Commented),
			"Existing":  strconv.Itoa(report.Existing),
			"Ignored":   strconv.Itoa(report.Ignored),
		},
		FooterText: fmt.Sprintf("run %s, took %s", report.RunID, report.Duration.Round(time.Millisecond)),
	}

	switch {
	case report.Failed():
		msg.Title = "Vulnerability sync failed"
		msg.Severity = SeverityHigh
		msg.Body = report.Error
	case report.Changed():
		msg.Severity = SeverityMedium
		msg.Body = fmt.Sprintf("%d issue(s) created, %d commented.", report.Created, report.Commented)
	default:
		msg.Body = "No new issues."
	}

	if report.DryRun {
		msg.Title += " (dry-run)"
	}
	return msg
}
