// Package dynatrace reads open security problems and entity details from the
// Dynatrace environment API v2.
package dynatrace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/openctemio/vulnsync/internal/metrics"
	"github.com/openctemio/vulnsync/pkg/domain/securitydata"
	"github.com/openctemio/vulnsync/pkg/domain/shared"
	"github.com/openctemio/vulnsync/pkg/logger"
)

const (
	providerName = "dynatrace"

	problemFields = "+riskAssessment,+relatedEntities,+affectedEntities,+description,+vulnerableComponents"
	entityFields  = "+tags"
	openSelector  = `status("OPEN")`

	defaultTimeout       = 30 * time.Second
	defaultConcurrency   = 4
	defaultRetryInterval = 500 * time.Millisecond
	maxResponseBytes     = 32 << 20
)

// Config holds the configuration for the Dynatrace client.
type Config struct {
	// BaseURL is the environment API root, e.g. https://abc.live.dynatrace.com/api/v2/
	BaseURL string
	Token   string

	Timeout           time.Duration
	RequestsPerSecond float64 // 0 disables throttling
	MaxRetries        int
	Concurrency       int
	PageSize          int

	// RetryInitialInterval is the first backoff delay. Defaults to 500ms.
	RetryInitialInterval time.Duration
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client implements app.ProblemSource on the Dynatrace API.
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// NewClient creates a Dynatrace client.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: dynatrace url is required", shared.ErrConfig)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: dynatrace token is required", shared.ErrConfig)
	}

	raw := cfg.BaseURL
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid dynatrace url %q", shared.ErrConfig, cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = defaultRetryInterval
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}

	if log == nil {
		log = logger.NewNop()
	}

	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     log.With("provider", providerName),
	}, nil
}

type problemListPage struct {
	TotalCount       int    `json:"totalCount"`
	NextPageKey      string `json:"nextPageKey"`
	SecurityProblems []struct {
		SecurityProblemID string `json:"securityProblemId"`
	} `json:"securityProblems"`
}

type entityResponse struct {
	EntityID    *string     `json:"entityId"`
	DisplayName *string     `json:"displayName"`
	Tags        []entityTag `json:"tags"`
}

type entityTag struct {
	Context              string  `json:"context"`
	Key                  string  `json:"key"`
	Value                string  `json:"value"`
	StringRepresentation *string `json:"stringRepresentation"`
}

// ListOpenProblems lists every open security problem, following pagination,
// and fetches the details of each. The number of details must match the
// totalCount reported by the API.
func (c *Client) ListOpenProblems(ctx context.Context) ([]securitydata.Problem, error) {
	params := url.Values{"securityProblemSelector": {openSelector}}
	if c.cfg.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
	}

	var ids []string
	total := 0
	for {
		var page problemListPage
		if err := c.get(ctx, "securityProblems", params, &page); err != nil {
			return nil, err
		}
		total = page.TotalCount
		for _, sp := range page.SecurityProblems {
			if sp.SecurityProblemID == "" {
				return nil, ErrInconsistent.Wrap(errors.New("security problem without securityProblemId"))
			}
			ids = append(ids, sp.SecurityProblemID)
		}
		if page.NextPageKey == "" {
			break
		}
		// Follow-up pages carry only the page key.
		params = url.Values{"nextPageKey": {page.NextPageKey}}
	}

	c.logger.Info("dynatrace holds security problems", "total", total)

	problems := make([]securitydata.Problem, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			return c.get(gctx, "securityProblems/"+id, url.Values{"fields": {problemFields}}, &problems[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(problems) != total {
		return nil, ErrInconsistent.Wrap(fmt.Errorf("expected %d security problems, got %d", total, len(problems)))
	}
	return problems, nil
}

// GetEntityDetails fetches display name and tags for each id, one request
// per id with bounded parallelism.
func (c *Client) GetEntityDetails(ctx context.Context, ids []string) (map[string]securitydata.EntityDetails, error) {
	result := make(map[string]securitydata.EntityDetails, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			var e entityResponse
			if err := c.get(gctx, "entities/"+id, url.Values{"fields": {entityFields}}, &e); err != nil {
				return err
			}
			details, err := e.toDetails(id)
			if err != nil {
				return err
			}
			mu.Lock()
			result[id] = details
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *entityResponse) toDetails(requested string) (securitydata.EntityDetails, error) {
	switch {
	case e.EntityID == nil:
		return securitydata.EntityDetails{}, fmt.Errorf("%w: entity %s: entityId missing", shared.ErrMissingData, requested)
	case e.DisplayName == nil:
		return securitydata.EntityDetails{}, fmt.Errorf("%w: entity %s: displayName missing", shared.ErrMissingData, requested)
	case e.Tags == nil:
		return securitydata.EntityDetails{}, fmt.Errorf("%w: entity %s: tags missing", shared.ErrMissingData, requested)
	}

	tags := make([]securitydata.Tag, 0, len(e.Tags))
	for i, t := range e.Tags {
		if t.StringRepresentation == nil {
			return securitydata.EntityDetails{}, fmt.Errorf("%w: entity %s: tags[%d].stringRepresentation missing", shared.ErrMissingData, requested, i)
		}
		tags = append(tags, securitydata.Tag{
			Context:              t.Context,
			Key:                  t.Key,
			Value:                t.Value,
			StringRepresentation: *t.StringRepresentation,
		})
	}
	return securitydata.EntityDetails{
		EntityID:    *e.EntityID,
		DisplayName: *e.DisplayName,
		Tags:        tags,
	}, nil
}

// get performs a GET against endpoint relative to the base URL and decodes
// the JSON body into out. endpoint is an unescaped path; ids in it are
// escaped once when the URL is built. 429 and 5xx responses and transport errors are
// retried with exponential backoff.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	u := c.baseURL.ResolveReference(&url.URL{Path: endpoint, RawQuery: params.Encode()})
	reqURL := u.String()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitialInterval

	body, err := backoff.Retry(ctx,
		func() ([]byte, error) { return c.do(ctx, reqURL, endpoint) },
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.ProviderRetries.WithLabelValues(providerName).Inc()
			c.logger.Warn("dynatrace request failed, retrying",
				"endpoint", endpoint,
				"backoff", next,
				"error", err,
			)
		}),
	)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return ErrInconsistent.Wrap(fmt.Errorf("decode %s: %w", endpoint, err))
	}
	return nil
}

func (c *Client) do(ctx context.Context, reqURL, endpoint string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Api-Token "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ProviderRequestDuration.WithLabelValues(providerName).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(providerName, "error").Inc()
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, ErrRequestFailed.Wrap(fmt.Errorf("GET %s: %w", endpoint, err))
	}
	defer resp.Body.Close()

	metrics.ProviderRequests.WithLabelValues(providerName, strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug("dynatrace request", "endpoint", endpoint, "status", resp.StatusCode, "duration", time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, ErrRequestFailed.Wrap(fmt.Errorf("read %s: %w", endpoint, err))
	}

	status := resp.StatusCode
	switch {
	case status == http.StatusOK:
		return body, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, backoff.Permanent(ErrAuthFailed.WithStatus(status).Wrap(fmt.Errorf("GET %s: status %d", endpoint, status)))
	case status == http.StatusTooManyRequests:
		return nil, ErrRateLimited.WithStatus(status).Wrap(fmt.Errorf("GET %s", endpoint))
	case retryable(status):
		return nil, ErrRequestFailed.WithStatus(status).Wrap(fmt.Errorf("GET %s: status %d", endpoint, status))
	default:
		return nil, backoff.Permanent(ErrRequestFailed.WithStatus(status).Wrap(fmt.Errorf("GET %s: status %d", endpoint, status)))
	}
}
