package dynatrace

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/vulnsync/pkg/domain/shared"
	"github.com/openctemio/vulnsync/pkg/logger"
)

func problemBody(id, display string) string {
	return fmt.Sprintf(`{
		"securityProblemId": %q,
		"displayId": %q,
		"title": "Remote Code Execution",
		"url": "https://abc.live.dynatrace.com/#security/problem/%s",
		"description": "A remote code execution vulnerability.",
		"riskAssessment": {"riskScore": 9.2, "riskLevel": "critical", "exposure": "public_network", "dataAssets": "reachable"},
		"vulnerableComponents": [],
		"affectedEntities": ["PGI-1"],
		"relatedEntities": {"hosts": [{"id": "HOST-1", "affectedEntities": ["PGI-1"]}]}
	}`, id, display, id)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := Config{
		BaseURL:              server.URL + "/api/v2",
		Token:                "dt0c01.secret",
		MaxRetries:           2,
		Concurrency:          2,
		RetryInitialInterval: time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewClient(cfg, logger.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid config", cfg: Config{BaseURL: "https://abc.live.dynatrace.com/api/v2/", Token: "t"}},
		{name: "missing url", cfg: Config{Token: "t"}, wantErr: true},
		{name: "missing token", cfg: Config{BaseURL: "https://abc.live.dynatrace.com/api/v2/"}, wantErr: true},
		{name: "url without host", cfg: Config{BaseURL: "not a url", Token: "t"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.cfg, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, shared.ErrConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, defaultConcurrency, c.cfg.Concurrency)
			assert.True(t, strings.HasSuffix(c.baseURL.Path, "/"))
		})
	}
}

func TestClient_ListOpenProblems(t *testing.T) {
	var detailCalls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Api-Token dt0c01.secret", r.Header.Get("Authorization"))
		q := r.URL.Query()

		switch {
		case r.URL.Path == "/api/v2/securityProblems" && q.Get("nextPageKey") == "":
			assert.Equal(t, `status("OPEN")`, q.Get("securityProblemSelector"))
			fmt.Fprint(w, `{"totalCount": 2, "nextPageKey": "page-2", "securityProblems": [{"securityProblemId": "1"}]}`)
		case r.URL.Path == "/api/v2/securityProblems":
			assert.Equal(t, "page-2", q.Get("nextPageKey"))
			assert.Empty(t, q.Get("securityProblemSelector"))
			fmt.Fprint(w, `{"totalCount": 2, "securityProblems": [{"securityProblemId": "2"}]}`)
		case strings.HasPrefix(r.URL.Path, "/api/v2/securityProblems/"):
			detailCalls.Add(1)
			assert.Equal(t, problemFields, q.Get("fields"))
			id := strings.TrimPrefix(r.URL.Path, "/api/v2/securityProblems/")
			fmt.Fprint(w, problemBody(id, "S-"+id))
		default:
			http.NotFound(w, r)
		}
	})

	problems, err := c.ListOpenProblems(context.Background())
	require.NoError(t, err)
	require.Len(t, problems, 2)
	assert.Equal(t, "S-1", *problems[0].DisplayID)
	assert.Equal(t, "S-2", *problems[1].DisplayID)
	assert.Equal(t, int32(2), detailCalls.Load())
}

func TestClient_ListOpenProblems_TotalCountMismatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/securityProblems" {
			fmt.Fprint(w, `{"totalCount": 3, "securityProblems": [{"securityProblemId": "1"}]}`)
			return
		}
		fmt.Fprint(w, problemBody("1", "S-1"))
	})

	_, err := c.ListOpenProblems(context.Background())
	assert.ErrorIs(t, err, ErrInconsistent)
}

func TestClient_RequestErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   error
		wantCalls int32
	}{
		{name: "unauthorized is not retried", status: http.StatusUnauthorized, wantErr: ErrAuthFailed, wantCalls: 1},
		{name: "forbidden is not retried", status: http.StatusForbidden, wantErr: ErrAuthFailed, wantCalls: 1},
		{name: "not found is not retried", status: http.StatusNotFound, wantErr: ErrRequestFailed, wantCalls: 1},
		{name: "server error is retried", status: http.StatusBadGateway, wantErr: ErrRequestFailed, wantCalls: 3},
		{name: "rate limit is retried", status: http.StatusTooManyRequests, wantErr: ErrRateLimited, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			})

			_, err := c.ListOpenProblems(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestClient_RetryRecovers(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"totalCount": 0, "securityProblems": []}`)
	})

	problems, err := c.ListOpenProblems(context.Background())
	require.NoError(t, err)
	assert.Empty(t, problems)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_GetEntityDetails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, entityFields, r.URL.Query().Get("fields"))
		id := strings.TrimPrefix(r.URL.Path, "/api/v2/entities/")
		fmt.Fprintf(w, `{"entityId": %q, "displayName": "name-%s", "tags": [{"context": "CONTEXTLESS", "key": "env", "value": "prod", "stringRepresentation": "env:prod"}]}`, id, id)
	})

	details, err := c.GetEntityDetails(context.Background(), []string{"PGI-1", "HOST-1"})
	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.Equal(t, "name-PGI-1", details["PGI-1"].DisplayName)
	assert.Equal(t, "env:prod", details["HOST-1"].Tags[0].StringRepresentation)
}

func TestClient_GetEntityDetails_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no entityId", body: `{"displayName": "x", "tags": []}`},
		{name: "no displayName", body: `{"entityId": "E-1", "tags": []}`},
		{name: "no tags", body: `{"entityId": "E-1", "displayName": "x"}`},
		{name: "tag without string representation", body: `{"entityId": "E-1", "displayName": "x", "tags": [{"key": "env", "value": "prod"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, tt.body)
			})
			_, err := c.GetEntityDetails(context.Background(), []string{"E-1"})
			assert.ErrorIs(t, err, shared.ErrMissingData)
		})
	}
}

func TestClient_GetEntityDetails_EscapesIDOnce(t *testing.T) {
	var rawPath, path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rawPath, path = r.URL.EscapedPath(), r.URL.Path
		fmt.Fprint(w, `{"entityId": "HOST-50%", "displayName": "x", "tags": []}`)
	})

	details, err := c.GetEntityDetails(context.Background(), []string{"HOST-50%"})
	require.NoError(t, err)
	assert.Equal(t, "/api/v2/entities/HOST-50%", path)
	assert.Equal(t, "/api/v2/entities/HOST-50%25", rawPath)
	assert.Equal(t, "HOST-50%", details["HOST-50%"].EntityID)
}

func TestClient_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetEntityDetails(ctx, []string{"E-1"})
	assert.ErrorIs(t, err, context.Canceled)
}
