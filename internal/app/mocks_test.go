package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/vulnsync/pkg/domain/rule"
	"github.com/openctemio/vulnsync/pkg/domain/securitydata"
)

// =============================================================================
// Mocks
// =============================================================================

type MockProblemSource struct {
	mock.Mock
}

func (m *MockProblemSource) ListOpenProblems(ctx context.Context) ([]securitydata.Problem, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]securitydata.Problem), args.Error(1)
}

func (m *MockProblemSource) GetEntityDetails(ctx context.Context, ids []string) (map[string]securitydata.EntityDetails, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]securitydata.EntityDetails), args.Error(1)
}

type MockTicketSink struct {
	mock.Mock
}

func (m *MockTicketSink) FindIssues(ctx context.Context, summaryPrefix string, params map[string]string) ([]string, error) {
	args := m.Called(ctx, summaryPrefix, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockTicketSink) CreateIssue(ctx context.Context, summary, description string, params map[string]string) (string, error) {
	args := m.Called(ctx, summary, description, params)
	return args.String(0), args.Error(1)
}

func (m *MockTicketSink) AddComment(ctx context.Context, key, body string) (bool, error) {
	args := m.Called(ctx, key, body)
	return args.Bool(0), args.Error(1)
}

type MockEntityCache struct {
	mock.Mock
}

func (m *MockEntityCache) MGet(ctx context.Context, keys ...string) (map[string]*securitydata.EntityDetails, error) {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*securitydata.EntityDetails), args.Error(1)
}

func (m *MockEntityCache) MSet(ctx context.Context, items map[string]securitydata.EntityDetails) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

type MockRunNotifier struct {
	mock.Mock
}

func (m *MockRunNotifier) NotifyRun(ctx context.Context, report *RunReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

// =============================================================================
// Fixtures
// =============================================================================

const problemJSON = `{
	"securityProblemId": "2919200225913269102",
	"displayId": "S-42",
	"title": "Remote Code Execution",
	"url": "https://abc123.live.dynatrace.com/#security/problem/2919200225913269102",
	"status": "OPEN",
	"technology": "java",
	"description": "A remote code execution vulnerability.",
	"riskAssessment": {
		"riskScore": 9.2,
		"riskLevel": "critical",
		"exposure": "public_network",
		"dataAssets": "reachable"
	},
	"vulnerableComponents": [],
	"affectedEntities": ["PGI-1", "PGI-2", "PGI-3"],
	"relatedEntities": {
		"hosts": [
			{"id": "HOST-1", "affectedEntities": ["PGI-1", "PGI-2"]},
			{"id": "HOST-2", "affectedEntities": ["PGI-3"]}
		]
	}
}`

func testProblem(t *testing.T) securitydata.Problem {
	t.Helper()
	var p securitydata.Problem
	require.NoError(t, json.Unmarshal([]byte(problemJSON), &p))
	return p
}

func testEntities() map[string]securitydata.EntityDetails {
	return map[string]securitydata.EntityDetails{
		"PGI-1":  {EntityID: "PGI-1", DisplayName: "process1", Tags: []securitydata.Tag{{StringRepresentation: "env:prod"}}},
		"PGI-2":  {EntityID: "PGI-2", DisplayName: "process2", Tags: []securitydata.Tag{{StringRepresentation: "env:prod"}}},
		"PGI-3":  {EntityID: "PGI-3", DisplayName: "process3", Tags: []securitydata.Tag{{StringRepresentation: "env:dev"}}},
		"HOST-1": {EntityID: "HOST-1", DisplayName: "host1"},
		"HOST-2": {EntityID: "HOST-2", DisplayName: "host2"},
	}
}

func testGraph(t *testing.T) *securitydata.SecurityData {
	t.Helper()
	p := testProblem(t)
	sd, err := securitydata.Create(&p, testEntities(), testEntities())
	require.NoError(t, err)
	return sd
}

func newTestRule(t *testing.T, kind, value, operator string, stop bool, params map[string]string) *rule.Rule {
	t.Helper()
	r, err := rule.New(rule.Config{
		Type:           kind,
		Value:          &value,
		Operator:       operator,
		StopAfterMatch: stop,
		Params:         params,
	})
	require.NoError(t, err)
	return r
}
