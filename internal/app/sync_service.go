package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openctemio/vulnsync/internal/metrics"
	"github.com/openctemio/vulnsync/pkg/domain/rule"
	"github.com/openctemio/vulnsync/pkg/domain/securitydata"
	"github.com/openctemio/vulnsync/pkg/domain/shared"
	"github.com/openctemio/vulnsync/pkg/logger"
)

// ErrNoRules is returned when the remainder is ignored and no rule could
// ever match, so a run would never write anything.
var ErrNoRules = fmt.Errorf("%w: no rules configured and ignore_rest is set", shared.ErrConfig)

// RunOptions configures one reconciliation run.
type RunOptions struct {
	// DryRun logs ticket actions instead of performing them. The ticket sink
	// is expected to be built in dry-run mode as well.
	DryRun bool
	// AddComments comments on the single existing issue of a partition.
	AddComments bool
	// IgnoreRemainder drops whatever no rule matched instead of filing it
	// with the default parameters.
	IgnoreRemainder bool
}

// ProblemOutcome is the result of running one problem through the rules.
type ProblemOutcome struct {
	MatchedRules []string
	Actions      []TicketAction
	Ignored      bool
}

// RunReport summarises a reconciliation run.
type RunReport struct {
	RunID     string         `json:"run_id"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	DryRun    bool           `json:"dry_run"`
	Problems  int            `json:"problems"`
	Matches   int            `json:"matches"`
	Created   int            `json:"created"`
	Commented int            `json:"commented"`
	Existing  int            `json:"existing"`
	Skipped   int            `json:"skipped"`
	Ignored   int            `json:"ignored"`
	RuleHits  map[string]int `json:"rule_hits"`
	Error     string         `json:"error,omitempty"`
}

// Changed reports whether the run created or commented on any issue.
func (r *RunReport) Changed() bool {
	return r.Created > 0 || r.Commented > 0
}

// Failed reports whether the run ended with an error.
func (r *RunReport) Failed() bool {
	return r.Error != ""
}

func (r *RunReport) add(o ProblemOutcome) {
	r.Problems++
	r.Matches += len(o.MatchedRules)
	for _, id := range o.MatchedRules {
		r.RuleHits[id]++
	}
	for _, a := range o.Actions {
		switch a {
		case TicketCreated:
			r.Created++
		case TicketCommented:
			r.Commented++
		case TicketExisting:
			r.Existing++
		case TicketSkipped:
			r.Skipped++
		}
	}
	if o.Ignored {
		r.Ignored++
	}
}

// SyncService runs every open problem through the rule chain and hands each
// matched partition to the ticket writer.
type SyncService struct {
	collector *Collector
	writer    *TicketWriter
	notifier  RunNotifier
	logger    *logger.Logger

	mu    sync.RWMutex
	rules []*rule.Rule
}

// NewSyncService creates a SyncService. notifier may be nil.
func NewSyncService(
	collector *Collector,
	writer *TicketWriter,
	rules []*rule.Rule,
	notifier RunNotifier,
	log *logger.Logger,
) *SyncService {
	return &SyncService{
		collector: collector,
		writer:    writer,
		notifier:  notifier,
		rules:     rules,
		logger:    log.With("service", "sync"),
	}
}

// Rules returns the current rule chain.
func (s *SyncService) Rules() []*rule.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules
}

// SetRules replaces the rule chain used by subsequent runs.
func (s *SyncService) SetRules(rules []*rule.Rule) {
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
	s.logger.Info("rules updated", "count", len(rules))
}

// Run performs one reconciliation. All problem graphs are built before the
// first ticket action so that malformed provider data aborts the run before
// anything is written.
func (s *SyncService) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	return s.RunWith(ctx, s.Rules(), opts)
}

// RunWith performs one reconciliation with the given rule chain instead of
// the service's current one.
func (s *SyncService) RunWith(ctx context.Context, rules []*rule.Rule, opts RunOptions) (*RunReport, error) {
	if opts.IgnoreRemainder && len(rules) == 0 {
		return nil, ErrNoRules
	}

	runID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.ContextKeyRunID, runID)
	log := s.logger.WithContext(ctx)

	report := &RunReport{
		RunID:     runID,
		StartedAt: time.Now(),
		DryRun:    opts.DryRun,
		RuleHits:  make(map[string]int),
	}

	log.Info("reconciliation started",
		"rules", len(rules),
		"dry_run", opts.DryRun,
		"add_comments", opts.AddComments,
		"ignore_rest", opts.IgnoreRemainder,
	)

	err := s.run(ctx, rules, opts, report)
	s.finish(ctx, report, err)
	if err != nil {
		return report, err
	}
	return report, nil
}

func (s *SyncService) run(ctx context.Context, rules []*rule.Rule, opts RunOptions, report *RunReport) error {
	graphs, err := s.collector.Collect(ctx)
	if err != nil {
		return err
	}

	for _, sd := range graphs {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		outcome, err := s.ProcessProblem(ctx, sd, rules, opts)
		report.add(outcome)
		if err != nil {
			return fmt.Errorf("problem %s: %w", sd.DisplayID(), err)
		}
	}
	return nil
}

func (s *SyncService) finish(ctx context.Context, report *RunReport, err error) {
	log := s.logger.WithContext(ctx)
	report.Duration = time.Since(report.StartedAt)
	metrics.RunDuration.Observe(report.Duration.Seconds())

	if err != nil {
		report.Error = err.Error()
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		log.Error("reconciliation failed",
			"error", err,
			"problems", report.Problems,
			"duration", report.Duration,
		)
	} else {
		metrics.RunsTotal.WithLabelValues("success").Inc()
		metrics.LastSuccessfulRun.SetToCurrentTime()
		log.Info("reconciliation completed",
			"problems", report.Problems,
			"matches", report.Matches,
			"created", report.Created,
			"commented", report.Commented,
			"existing", report.Existing,
			"ignored", report.Ignored,
			"duration", report.Duration,
		)
	}

	if s.notifier == nil {
		return
	}
	// The run context may already be cancelled on shutdown.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if nerr := s.notifier.NotifyRun(nctx, report); nerr != nil {
		log.Warn("run notification failed", "error", nerr)
	}
}

// ProcessProblem runs sd through rules in order. Each matching rule gets the
// matched partition filed under its own summary prefix and the remainder
// moves on to the next rule. Whatever is left after the last rule is filed
// with the default parameters unless opts.IgnoreRemainder is set.
func (s *SyncService) ProcessProblem(
	ctx context.Context,
	sd *securitydata.SecurityData,
	rules []*rule.Rule,
	opts RunOptions,
) (ProblemOutcome, error) {
	var outcome ProblemOutcome
	if sd == nil {
		return outcome, errors.New("nil security data")
	}
	log := s.logger.WithContext(ctx).With("problem", sd.DisplayID())
	metrics.ProblemsProcessed.Inc()

	for _, r := range rules {
		if sd == nil {
			break
		}
		match, remainder := r.Match(sd)
		if match != nil {
			log.Info("rule matches", "rule", r.String(), "rule_id", r.ID())
			metrics.RuleMatches.WithLabelValues(r.ID(), string(r.Kind())).Inc()
			outcome.MatchedRules = append(outcome.MatchedRules, r.ID())

			action, err := s.writer.WriteTicket(ctx, match, SummaryPrefix(match, r.ID()), r.Params(), opts.AddComments)
			if err != nil {
				return outcome, err
			}
			outcome.Actions = append(outcome.Actions, action)
		}
		sd = remainder
	}

	if sd == nil || !sd.HasAffectedEntities() {
		return outcome, nil
	}

	if opts.IgnoreRemainder {
		log.Info("ignoring remaining data, as specified in config")
		metrics.RemaindersIgnored.Inc()
		outcome.Ignored = true
		return outcome, nil
	}

	action, err := s.writer.WriteTicket(ctx, sd, SummaryPrefix(sd, DefaultRuleID), map[string]string{}, opts.AddComments)
	if err != nil {
		return outcome, err
	}
	outcome.Actions = append(outcome.Actions, action)
	return outcome, nil
}
