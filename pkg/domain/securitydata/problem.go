package securitydata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Problem is a security problem record as returned by the provider's
// details endpoint. Required fields are pointers (or nil slices) so that a
// missing field can be told apart from an empty one.
type Problem struct {
	SecurityProblemID    *string                `json:"securityProblemId"`
	DisplayID            *string                `json:"displayId"`
	Title                *string                `json:"title"`
	URL                  *string                `json:"url"`
	Status               string                 `json:"status,omitempty"`
	RiskAssessment       *RiskAssessment        `json:"riskAssessment"`
	Description          *string                `json:"description"`
	Technology           *string                `json:"technology"`
	VulnerableComponents []VulnerableComponent  `json:"vulnerableComponents"`
	AffectedEntities     []string               `json:"affectedEntities"`
	RelatedEntities      *RelatedEntitiesRecord `json:"relatedEntities"`
}

// RiskAssessment is the risk block of a security problem.
type RiskAssessment struct {
	RiskScore  *Score  `json:"riskScore"`
	RiskLevel  *string `json:"riskLevel"`
	Exposure   *string `json:"exposure"`
	DataAssets *string `json:"dataAssets"`
}

// VulnerableComponent is a vulnerable library or package.
type VulnerableComponent struct {
	ID          string  `json:"id,omitempty"`
	DisplayName *string `json:"displayName"`
}

// RelatedEntitiesRecord groups the entities related to a security problem.
// Only hosts are used.
type RelatedEntitiesRecord struct {
	Hosts []RelatedHostRecord `json:"hosts"`
}

// RelatedHostRecord is a related host with the IDs of the affected entities
// running on it.
type RelatedHostRecord struct {
	ID               *string  `json:"id"`
	AffectedEntities []string `json:"affectedEntities"`
}

// EntityDetails is one row of an entity lookup table.
type EntityDetails struct {
	EntityID    string `json:"entityId"`
	DisplayName string `json:"displayName"`
	Tags        []Tag  `json:"tags"`
}

// Score is a risk score. The provider sends it either as a JSON number or as
// a numeric string.
type Score float64

// UnmarshalJSON accepts both 9.2 and "9.2".
func (s *Score) UnmarshalJSON(data []byte) error {
	raw := bytes.Trim(data, `"`)
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid risk score %s: %w", data, err)
	}
	*s = Score(v)
	return nil
}

// MarshalJSON writes the score as a JSON number.
func (s Score) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(s))
}

// ID returns the problem identifier, or "" if absent.
func (p *Problem) ID() string {
	if p.SecurityProblemID == nil {
		return ""
	}
	return *p.SecurityProblemID
}

// UniqueAffectedEntityIDs collects the distinct affected entity IDs across
// problems, in first-seen order. Every problem must list its affected
// entities.
func UniqueAffectedEntityIDs(problems []Problem) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	for i := range problems {
		if problems[i].AffectedEntities == nil {
			return nil, missing("affectedEntities", problems[i].ID())
		}
		for _, id := range problems[i].AffectedEntities {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// UniqueRelatedHostIDs collects the distinct related host IDs across
// problems, in first-seen order. Every problem must carry relatedEntities
// with hosts, and every host must list its affected entities.
func UniqueRelatedHostIDs(problems []Problem) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	for i := range problems {
		p := &problems[i]
		if p.RelatedEntities == nil {
			return nil, missing("relatedEntities", p.ID())
		}
		if p.RelatedEntities.Hosts == nil {
			return nil, missing("relatedEntities.hosts", p.ID())
		}
		for _, h := range p.RelatedEntities.Hosts {
			if h.ID == nil {
				return nil, missing("relatedEntities.hosts[].id", p.ID())
			}
			if h.AffectedEntities == nil {
				return nil, missing("relatedEntities.hosts[].affectedEntities", p.ID())
			}
			if _, ok := seen[*h.ID]; ok {
				continue
			}
			seen[*h.ID] = struct{}{}
			ids = append(ids, *h.ID)
		}
	}
	return ids, nil
}
