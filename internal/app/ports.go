package app

import (
	"context"

	"github.com/openctemio/vulnsync/pkg/domain/securitydata"
)

// ProblemSource reads open security problems from the scanning provider.
type ProblemSource interface {
	// ListOpenProblems returns the full details of every open problem.
	ListOpenProblems(ctx context.Context) ([]securitydata.Problem, error)

	// GetEntityDetails looks up display names and tags by entity ID.
	GetEntityDetails(ctx context.Context, ids []string) (map[string]securitydata.EntityDetails, error)
}

// TicketSink files and updates issues in the ticketing system.
// params are merged over the configured defaults by the implementation.
type TicketSink interface {
	// FindIssues returns the keys of issues whose summary starts with summaryPrefix.
	FindIssues(ctx context.Context, summaryPrefix string, params map[string]string) ([]string, error)

	// CreateIssue files a new issue and returns its key. The key is empty in dry-run mode.
	CreateIssue(ctx context.Context, summary, description string, params map[string]string) (string, error)

	// AddComment comments on an existing issue. Returns false when nothing was sent.
	AddComment(ctx context.Context, key, body string) (bool, error)
}

// EntityCache keeps entity details between runs.
type EntityCache interface {
	MGet(ctx context.Context, keys ...string) (map[string]*securitydata.EntityDetails, error)
	MSet(ctx context.Context, items map[string]securitydata.EntityDetails) error
}

// RunNotifier publishes a summary after each run.
type RunNotifier interface {
	NotifyRun(ctx context.Context, report *RunReport) error
}
