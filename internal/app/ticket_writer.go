package app

import (
	"context"
	"fmt"

	"github.com/openctemio/vulnsync/internal/metrics"
	"github.com/openctemio/vulnsync/pkg/domain/securitydata"
	"github.com/openctemio/vulnsync/pkg/logger"
)

// TicketAction is what WriteTicket did for one partition.
type TicketAction string

const (
	// TicketCreated means a new issue was filed.
	TicketCreated TicketAction = "created"
	// TicketCommented means the single existing issue got a status comment.
	TicketCommented TicketAction = "commented"
	// TicketExisting means matching issues exist and were left alone.
	TicketExisting TicketAction = "existing"
	// TicketSkipped means nothing was sent, e.g. in dry-run mode.
	TicketSkipped TicketAction = "skipped"
)

// TicketWriter files one issue per partition, or comments on the issue filed
// by an earlier run.
type TicketWriter struct {
	sink   TicketSink
	logger *logger.Logger
}

// NewTicketWriter creates a TicketWriter.
func NewTicketWriter(sink TicketSink, log *logger.Logger) *TicketWriter {
	return &TicketWriter{
		sink:   sink,
		logger: log.With("service", "ticket_writer"),
	}
}

// WriteTicket looks for issues whose summary starts with prefix. If there are
// none a new issue is created. If there is exactly one and addComments is set
// the current affected list is added as a comment.
func (w *TicketWriter) WriteTicket(
	ctx context.Context,
	sd *securitydata.SecurityData,
	prefix string,
	params map[string]string,
	addComments bool,
) (TicketAction, error) {
	log := w.logger.WithContext(ctx)

	keys, err := w.sink.FindIssues(ctx, prefix, params)
	if err != nil {
		return "", fmt.Errorf("find issues %q: %w", prefix, err)
	}

	if len(keys) > 0 {
		log.Info("jira issue exists",
			"problem_id", sd.Identifier(),
			"issues", keys,
			"params", params,
		)
		if len(keys) != 1 || !addComments {
			metrics.Tickets.WithLabelValues(string(TicketExisting)).Inc()
			return TicketExisting, nil
		}

		added, err := w.sink.AddComment(ctx, keys[0], CommentBody(sd))
		if err != nil {
			return "", fmt.Errorf("comment on %s: %w", keys[0], err)
		}
		if !added {
			return TicketSkipped, nil
		}
		log.Info("added comment to jira issue", "issue", keys[0])
		metrics.Tickets.WithLabelValues(string(TicketCommented)).Inc()
		return TicketCommented, nil
	}

	summary := prefix + " " + sd.Title()
	key, err := w.sink.CreateIssue(ctx, summary, IssueDescription(sd), params)
	if err != nil {
		return "", fmt.Errorf("create issue %q: %w", prefix, err)
	}
	if key == "" {
		return TicketSkipped, nil
	}

	log.Info("created jira issue",
		"issue", key,
		"problem_id", sd.Identifier(),
		"params", params,
	)
	metrics.Tickets.WithLabelValues(string(TicketCreated)).Inc()
	return TicketCreated, nil
}
