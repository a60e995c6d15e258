package securitydata

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/vulnsync/pkg/domain/shared"
)

const problemJSON = `{
	"securityProblemId": "2919200225913269102",
	"displayId": "S-42",
	"title": "Remote Code Execution",
	"url": "https://abc123.live.dynatrace.com/#security/problem/2919200225913269102",
	"status": "OPEN",
	"technology": "java",
	"description": "A remote code execution vulnerability.",
	"riskAssessment": {
		"riskScore": "9.2",
		"riskLevel": "critical",
		"exposure": "public_network",
		"dataAssets": "reachable"
	},
	"vulnerableComponents": [
		{"id": "SOFTWARE_COMPONENT-1", "displayName": "log4j-core-2.14.1.jar"},
		{"id": "SOFTWARE_COMPONENT-2", "displayName": "log4j-core-2.14.1.jar"}
	],
	"affectedEntities": ["PGI-1", "PGI-2", "PGI-3"],
	"relatedEntities": {
		"hosts": [
			{"id": "HOST-1", "affectedEntities": ["PGI-1", "PGI-2"]},
			{"id": "HOST-2", "affectedEntities": ["PGI-3"]}
		]
	}
}`

func affectedLookup() map[string]EntityDetails {
	return map[string]EntityDetails{
		"PGI-1": {EntityID: "PGI-1", DisplayName: "process1", Tags: []Tag{{StringRepresentation: "env:prod"}, {StringRepresentation: "team:a"}}},
		"PGI-2": {EntityID: "PGI-2", DisplayName: "process2", Tags: []Tag{{StringRepresentation: "env:prod"}}},
		"PGI-3": {EntityID: "PGI-3", DisplayName: "process3", Tags: []Tag{{StringRepresentation: "env:dev"}}},
		"PGI-9": {EntityID: "PGI-9", DisplayName: "unused"},
	}
}

func relatedLookup() map[string]EntityDetails {
	return map[string]EntityDetails{
		"HOST-1": {EntityID: "HOST-1", DisplayName: "host1"},
		"HOST-2": {EntityID: "HOST-2", DisplayName: "host2"},
		"HOST-9": {EntityID: "HOST-9", DisplayName: "unused"},
	}
}

func decodeProblem(t *testing.T, raw string) *Problem {
	t.Helper()
	var p Problem
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return &p
}

func newTestGraph(t *testing.T) *SecurityData {
	t.Helper()
	sd, err := Create(decodeProblem(t, problemJSON), affectedLookup(), relatedLookup())
	require.NoError(t, err)
	return sd
}

// assertCascade checks that every host relation is a subset of the affected
// mapping and that no host with an empty relation remains.
func assertCascade(t *testing.T, sd *SecurityData) {
	t.Helper()
	for _, h := range sd.RelatedHosts() {
		ids := h.AffectedIDs()
		assert.NotEmpty(t, ids, "host %s has empty relation", h.Name)
		for _, id := range ids {
			_, ok := sd.AffectedEntity(id)
			assert.True(t, ok, "host %s references removed entity %s", h.Name, id)
		}
	}
}

// =============================================================================
// Create
// =============================================================================

func TestCreate(t *testing.T) {
	sd := newTestGraph(t)

	assert.Equal(t, "2919200225913269102", sd.Identifier())
	assert.Equal(t, "S-42", sd.DisplayID())
	assert.Equal(t, "Remote Code Execution", sd.Title())
	assert.InDelta(t, 9.2, sd.RiskScore(), 1e-9)
	assert.Equal(t, "CRITICAL", sd.RiskLevel())
	assert.Equal(t, "PUBLIC_NETWORK", sd.Exposure())
	assert.Equal(t, "REACHABLE", sd.DataAssets())
	assert.Equal(t, "JAVA", sd.Technology())
	assert.Equal(t, []string{"log4j-core-2.14.1.jar"}, sd.VulnerableComponents())
	assert.Equal(t, []string{"process1", "process2", "process3"}, sd.AffectedEntityNames())
	assert.Equal(t, []string{"env:prod", "team:a", "env:dev"}, sd.AffectedEntityTags())
	assert.Equal(t, []string{"host1", "host2"}, sd.RelatedHostnames())

	hosts := sd.RelatedHosts()
	require.Len(t, hosts, 2)
	assert.Equal(t, []string{"PGI-1", "PGI-2"}, hosts[0].AffectedIDs())
	assert.Equal(t, []string{"PGI-3"}, hosts[1].AffectedIDs())
}

func TestCreate_NumericRiskScore(t *testing.T) {
	p := decodeProblem(t, problemJSON)
	var score Score
	require.NoError(t, json.Unmarshal([]byte(`7.5`), &score))
	p.RiskAssessment.RiskScore = &score

	sd, err := Create(p, affectedLookup(), relatedLookup())
	require.NoError(t, err)
	assert.InDelta(t, 7.5, sd.RiskScore(), 1e-9)
}

func TestCreate_HostRelationIntersectsAffected(t *testing.T) {
	p := decodeProblem(t, problemJSON)
	p.RelatedEntities.Hosts[1].AffectedEntities = []string{"PGI-3", "PGI-OTHER"}

	sd, err := Create(p, affectedLookup(), relatedLookup())
	require.NoError(t, err)
	assert.Equal(t, []string{"PGI-3"}, sd.RelatedHosts()[1].AffectedIDs())
}

func TestCreate_HostWithoutRelationIsHiddenFromView(t *testing.T) {
	p := decodeProblem(t, problemJSON)
	p.RelatedEntities.Hosts[1].AffectedEntities = []string{}

	sd, err := Create(p, affectedLookup(), relatedLookup())
	require.NoError(t, err)
	assert.Len(t, sd.RelatedHosts(), 2)
	assert.Equal(t, []string{"host1"}, sd.RelatedHostnames())
}

func TestCreate_Errors(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(p *Problem)
		affected    map[string]EntityDetails
		related     map[string]EntityDetails
		wantMissing bool
		wantInvalid bool
	}{
		{
			name:        "missing title",
			mutate:      func(p *Problem) { p.Title = nil },
			wantMissing: true,
		},
		{
			name:        "missing risk assessment",
			mutate:      func(p *Problem) { p.RiskAssessment = nil },
			wantMissing: true,
		},
		{
			name:        "missing risk score",
			mutate:      func(p *Problem) { p.RiskAssessment.RiskScore = nil },
			wantMissing: true,
		},
		{
			name:        "missing affected entities",
			mutate:      func(p *Problem) { p.AffectedEntities = nil },
			wantMissing: true,
		},
		{
			name:        "missing related hosts",
			mutate:      func(p *Problem) { p.RelatedEntities.Hosts = nil },
			wantMissing: true,
		},
		{
			name:        "missing vulnerable components",
			mutate:      func(p *Problem) { p.VulnerableComponents = nil },
			wantMissing: true,
		},
		{
			name: "affected entity not in lookup",
			affected: map[string]EntityDetails{
				"PGI-1": {EntityID: "PGI-1", DisplayName: "process1"},
			},
			wantMissing: true,
		},
		{
			name:        "host not in lookup",
			related:     map[string]EntityDetails{"HOST-1": {EntityID: "HOST-1", DisplayName: "host1"}},
			wantMissing: true,
		},
		{
			name: "risk score above range",
			mutate: func(p *Problem) {
				s := Score(10.5)
				p.RiskAssessment.RiskScore = &s
			},
			wantInvalid: true,
		},
		{
			name: "risk score below range",
			mutate: func(p *Problem) {
				s := Score(-1)
				p.RiskAssessment.RiskScore = &s
			},
			wantInvalid: true,
		},
		{
			name: "relative url",
			mutate: func(p *Problem) {
				u := "/security/problem/1"
				p.URL = &u
			},
			wantInvalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := decodeProblem(t, problemJSON)
			if tt.mutate != nil {
				tt.mutate(p)
			}
			affected := tt.affected
			if affected == nil {
				affected = affectedLookup()
			}
			related := tt.related
			if related == nil {
				related = relatedLookup()
			}

			sd, err := Create(p, affected, related)
			require.Error(t, err)
			assert.Nil(t, sd)
			assert.Equal(t, tt.wantMissing, shared.IsMissingData(err), "missing data: %v", err)
			assert.Equal(t, tt.wantInvalid, shared.IsValidation(err), "validation: %v", err)
		})
	}
}

func TestScore_UnmarshalInvalid(t *testing.T) {
	var s Score
	assert.Error(t, json.Unmarshal([]byte(`"high"`), &s))
}

// =============================================================================
// Removal
// =============================================================================

func TestRemoveAffectedByName(t *testing.T) {
	tests := []struct {
		name          string
		names         []string
		removeMatches bool
		wantNames     []string
		wantHosts     []string
	}{
		{
			name:          "remove matches",
			names:         []string{"process1", "process2"},
			removeMatches: true,
			wantNames:     []string{"process3"},
			wantHosts:     []string{"host2"},
		},
		{
			name:          "keep matches",
			names:         []string{"process1"},
			removeMatches: false,
			wantNames:     []string{"process1"},
			wantHosts:     []string{"host1"},
		},
		{
			name:          "unknown name removes nothing",
			names:         []string{"nope"},
			removeMatches: true,
			wantNames:     []string{"process1", "process2", "process3"},
			wantHosts:     []string{"host1", "host2"},
		},
		{
			name:          "unknown name keeps nothing",
			names:         []string{"nope"},
			removeMatches: false,
			wantNames:     []string{},
			wantHosts:     []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sd := newTestGraph(t)
			sd.RemoveAffectedByName(tt.names, tt.removeMatches)
			assert.Equal(t, tt.wantNames, sd.AffectedEntityNames())
			assert.Equal(t, tt.wantHosts, sd.RelatedHostnames())
			assert.Len(t, sd.RelatedHosts(), len(tt.wantHosts))
			assertCascade(t, sd)
		})
	}
}

func TestRemoveAffectedByTag(t *testing.T) {
	sd := newTestGraph(t)
	sd.RemoveAffectedByTag([]string{"env:prod"}, true)
	assert.Equal(t, []string{"process3"}, sd.AffectedEntityNames())
	assert.Equal(t, []string{"env:dev"}, sd.AffectedEntityTags())
	assert.Equal(t, []string{"host2"}, sd.RelatedHostnames())
	assertCascade(t, sd)

	sd = newTestGraph(t)
	sd.RemoveAffectedByTag([]string{"team:a", "env:dev"}, false)
	assert.Equal(t, []string{"process1", "process3"}, sd.AffectedEntityNames())
	assert.Equal(t, []string{"PGI-1"}, sd.RelatedHosts()[0].AffectedIDs())
	assertCascade(t, sd)
}

func TestRemoveAffectedByRelatedHostname(t *testing.T) {
	sd := newTestGraph(t)
	sd.RemoveAffectedByRelatedHostname([]string{"host1"}, false)
	assert.Equal(t, []string{"process1", "process2"}, sd.AffectedEntityNames())
	assert.Equal(t, []string{"host1"}, sd.RelatedHostnames())
	assertCascade(t, sd)

	sd = newTestGraph(t)
	sd.RemoveAffectedByRelatedHostname([]string{"host1"}, true)
	assert.Equal(t, []string{"process3"}, sd.AffectedEntityNames())
	assert.Equal(t, []string{"host2"}, sd.RelatedHostnames())
	assertCascade(t, sd)
}

func TestRemoval_ComplementLaw(t *testing.T) {
	names := []string{"process2", "unknown"}
	sd := newTestGraph(t)
	sd.RemoveAffectedByName(names, true)
	sd.RemoveAffectedByName(names, false)
	assert.False(t, sd.HasAffectedEntities())
	assert.Empty(t, sd.RelatedHosts())
}

// =============================================================================
// Clone
// =============================================================================

func TestClone_Independence(t *testing.T) {
	sd := newTestGraph(t)
	c := sd.Clone()

	c.RemoveAffectedByRelatedHostname([]string{"host1"}, true)
	assert.Equal(t, []string{"process1", "process2", "process3"}, sd.AffectedEntityNames())
	assert.Equal(t, []string{"PGI-1", "PGI-2"}, sd.RelatedHosts()[0].AffectedIDs())
	assert.Equal(t, []string{"process3"}, c.AffectedEntityNames())

	sd.RemoveAffectedByName([]string{"process3"}, true)
	assert.Equal(t, []string{"process3"}, c.AffectedEntityNames())
	assert.Equal(t, []string{"host2"}, c.RelatedHostnames())

	src := newTestGraph(t)
	dup := src.Clone()
	e, ok := dup.AffectedEntity("PGI-1")
	require.True(t, ok)
	e.Tags[0].StringRepresentation = "changed"
	assert.Equal(t, []string{"env:prod", "team:a", "env:dev"}, src.AffectedEntityTags())
}

func TestClone_Nil(t *testing.T) {
	var sd *SecurityData
	assert.Nil(t, sd.Clone())
}

// =============================================================================
// Unique IDs
// =============================================================================

func TestUniqueIDs(t *testing.T) {
	p1 := decodeProblem(t, problemJSON)
	p2 := decodeProblem(t, problemJSON)
	p2.AffectedEntities = []string{"PGI-3", "PGI-4"}
	h := "HOST-3"
	p2.RelatedEntities.Hosts = append(p2.RelatedEntities.Hosts, RelatedHostRecord{ID: &h, AffectedEntities: []string{"PGI-4"}})

	affected, err := UniqueAffectedEntityIDs([]Problem{*p1, *p2})
	require.NoError(t, err)
	assert.Equal(t, []string{"PGI-1", "PGI-2", "PGI-3", "PGI-4"}, affected)

	hosts, err := UniqueRelatedHostIDs([]Problem{*p1, *p2})
	require.NoError(t, err)
	assert.Equal(t, []string{"HOST-1", "HOST-2", "HOST-3"}, hosts)

	p2.RelatedEntities.Hosts[0].AffectedEntities = nil
	_, err = UniqueRelatedHostIDs([]Problem{*p1, *p2})
	assert.True(t, shared.IsMissingData(err))

	p2.AffectedEntities = nil
	_, err = UniqueAffectedEntityIDs([]Problem{*p1, *p2})
	assert.True(t, shared.IsMissingData(err))
}
