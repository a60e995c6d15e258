// Package jira files and updates vulnerability tickets in Jira.
package jira

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gojira "github.com/andygrunwald/go-jira"

	"github.com/openctemio/vulnsync/internal/metrics"
	"github.com/openctemio/vulnsync/pkg/domain/shared"
	"github.com/openctemio/vulnsync/pkg/logger"
)

const (
	providerName   = "jira"
	searchPageSize = 100
	defaultTimeout = 30 * time.Second
)

// Parameter names understood in issue params.
const (
	ParamProject   = "project"
	ParamIssueType = "issuetype"
	ParamPriority  = "priority"
	ParamAssignee  = "assignee"
	ParamLabel     = "label"
)

// ErrRequestFailed wraps every failed Jira call.
var ErrRequestFailed = errors.New("jira request failed")

// Config holds the configuration for the Jira client.
type Config struct {
	URL      string
	Username string
	Password string

	// Defaults fill in any parameter a rule leaves empty. project,
	// issuetype and priority are required.
	Defaults map[string]string

	// DryRun logs what would be sent instead of sending it.
	DryRun bool

	Timeout time.Duration
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Client implements app.TicketSink on go-jira.
type Client struct {
	jira     *gojira.Client
	defaults map[string]string
	dryRun   bool
	logger   *logger.Logger
}

// NewClient creates a Jira client. No request is made.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	switch {
	case cfg.URL == "":
		return nil, fmt.Errorf("%w: jira url is required", shared.ErrConfig)
	case cfg.Username == "":
		return nil, fmt.Errorf("%w: jira username is required", shared.ErrConfig)
	case cfg.Password == "":
		return nil, fmt.Errorf("%w: jira password is required", shared.ErrConfig)
	}
	for _, k := range []string{ParamProject, ParamIssueType, ParamPriority} {
		if cfg.Defaults[k] == "" {
			return nil, fmt.Errorf("%w: jira default %s is required", shared.ErrConfig, k)
		}
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	tp := gojira.BasicAuthTransport{
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	}
	httpClient := tp.Client()
	httpClient.Timeout = cfg.Timeout

	jc, err := gojira.NewClient(httpClient, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid jira url %q: %w", shared.ErrConfig, cfg.URL, err)
	}

	defaults := make(map[string]string, len(cfg.Defaults))
	for k, v := range cfg.Defaults {
		defaults[k] = v
	}

	if log == nil {
		log = logger.NewNop()
	}

	return &Client{
		jira:     jc,
		defaults: defaults,
		dryRun:   cfg.DryRun,
		logger:   log.With("provider", providerName),
	}, nil
}

// Ping checks the credentials by fetching the current user.
func (c *Client) Ping(ctx context.Context) error {
	if c.dryRun {
		return nil
	}
	_, resp, err := c.jira.User.GetSelfWithContext(ctx)
	observe(resp, err)
	if err != nil {
		return c.wrap(resp, err, "cannot connect to jira, wrong credentials?")
	}
	return nil
}

// Params merges params over the defaults. Empty values never override.
func (c *Client) Params(params map[string]string) map[string]string {
	merged := make(map[string]string, len(c.defaults)+len(params))
	for k, v := range c.defaults {
		merged[k] = v
	}
	for k, v := range params {
		if v != "" {
			merged[k] = v
		}
	}
	return merged
}

// FindIssues returns the keys of issues in the target project whose summary
// starts with summaryPrefix.
func (c *Client) FindIssues(ctx context.Context, summaryPrefix string, params map[string]string) ([]string, error) {
	p := c.Params(params)
	if c.dryRun {
		c.logger.Info("dry-run: would search issues", "prefix", summaryPrefix, "params", p)
		return nil, nil
	}

	jql := fmt.Sprintf(`project=%s AND summary ~ "%s"`, quoteJQL(p[ParamProject]), escapeJQL(summaryPrefix))
	var keys []string
	for startAt := 0; ; {
		issues, resp, err := c.jira.Issue.SearchWithContext(ctx, jql, &gojira.SearchOptions{
			StartAt:    startAt,
			MaxResults: searchPageSize,
			Fields:     []string{"summary"},
		})
		observe(resp, err)
		if err != nil {
			return nil, c.wrap(resp, err, "search issues")
		}

		for _, issue := range issues {
			// summary ~ is a fuzzy text match.
			if issue.Fields != nil && strings.HasPrefix(issue.Fields.Summary, summaryPrefix) {
				keys = append(keys, issue.Key)
			}
		}

		startAt += len(issues)
		if len(issues) == 0 || resp == nil || startAt >= resp.Total {
			break
		}
	}
	return keys, nil
}

// CreateIssue files a new issue and assigns it when an assignee is set.
// Returns an empty key in dry-run mode.
func (c *Client) CreateIssue(ctx context.Context, summary, description string, params map[string]string) (string, error) {
	p := c.Params(params)

	fields := &gojira.IssueFields{
		Project:     gojira.Project{Key: p[ParamProject]},
		Summary:     summary,
		Description: description,
		Type:        gojira.IssueType{Name: p[ParamIssueType]},
		Priority:    &gojira.Priority{Name: p[ParamPriority]},
	}
	if label := p[ParamLabel]; label != "" {
		fields.Labels = []string{label}
	}

	if c.dryRun {
		c.logger.Info("dry-run: would create issue",
			"project", fields.Project.Key,
			"summary", summary,
			"issuetype", fields.Type.Name,
			"priority", fields.Priority.Name,
			"labels", fields.Labels,
			"assignee", p[ParamAssignee],
		)
		return "", nil
	}

	created, resp, err := c.jira.Issue.CreateWithContext(ctx, &gojira.Issue{Fields: fields})
	observe(resp, err)
	if err != nil {
		return "", c.wrap(resp, err, "create issue")
	}

	if assignee := p[ParamAssignee]; assignee != "" {
		resp, err := c.jira.Issue.UpdateAssigneeWithContext(ctx, created.Key, &gojira.User{Name: assignee})
		observe(resp, err)
		if err != nil {
			return created.Key, c.wrap(resp, err, "assign "+created.Key)
		}
	}
	return created.Key, nil
}

// AddComment comments on an issue. An empty body or dry-run mode sends
// nothing and returns false.
func (c *Client) AddComment(ctx context.Context, key, body string) (bool, error) {
	if body == "" {
		return false, nil
	}
	if c.dryRun {
		c.logger.Info("dry-run: would add comment", "issue", key, "comment", body)
		return false, nil
	}

	_, resp, err := c.jira.Issue.AddCommentWithContext(ctx, key, &gojira.Comment{Body: body})
	observe(resp, err)
	if err != nil {
		return false, c.wrap(resp, err, "comment on "+key)
	}
	return true, nil
}

func (c *Client) wrap(resp *gojira.Response, err error, action string) error {
	if resp != nil {
		err = gojira.NewJiraError(resp, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrRequestFailed, action, err)
}

func observe(resp *gojira.Response, err error) {
	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	} else if err == nil {
		status = strconv.Itoa(http.StatusOK)
	}
	metrics.ProviderRequests.WithLabelValues(providerName, status).Inc()
}

func escapeJQL(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// quoteJQL quotes a project key only when it is not a plain word.
func quoteJQL(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r == '_' || r == '-' || r >= '0' && r <= '9' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z')
	}) < 0 {
		return s
	}
	return `"` + escapeJQL(s) + `"`
}
