package securitydata

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/openctemio/vulnsync/pkg/domain/shared"
)

// Risk score bounds.
const (
	MinRiskScore = 0.0
	MaxRiskScore = 10.0
)

// Create builds a SecurityData from a raw problem and two lookup tables
// keyed by entity ID. The tables may hold more entries than the problem
// needs; every ID the problem references must be present.
//
// A host's relation is the set of its listed affected IDs that are also
// affected entities of the problem.
func Create(p *Problem, affectedLookup, relatedLookup map[string]EntityDetails) (*SecurityData, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: problem is nil", shared.ErrMissingData)
	}
	pid := p.ID()

	if p.AffectedEntities == nil {
		return nil, missing("affectedEntities", pid)
	}
	affected := make(map[string]*AffectedEntity, len(p.AffectedEntities))
	order := make([]string, 0, len(p.AffectedEntities))
	for _, id := range p.AffectedEntities {
		details, ok := affectedLookup[id]
		if !ok {
			return nil, fmt.Errorf("%w: affected entity %s of problem %s not found", shared.ErrMissingData, id, pid)
		}
		if _, dup := affected[id]; dup {
			continue
		}
		affected[id] = &AffectedEntity{
			ID:   id,
			Name: details.DisplayName,
			Tags: append([]Tag(nil), details.Tags...),
		}
		order = append(order, id)
	}

	if p.RelatedEntities == nil {
		return nil, missing("relatedEntities", pid)
	}
	if p.RelatedEntities.Hosts == nil {
		return nil, missing("relatedEntities.hosts", pid)
	}
	hosts := make([]*RelatedEntity, 0, len(p.RelatedEntities.Hosts))
	for _, h := range p.RelatedEntities.Hosts {
		if h.ID == nil {
			return nil, missing("relatedEntities.hosts[].id", pid)
		}
		if h.AffectedEntities == nil {
			return nil, missing("relatedEntities.hosts[].affectedEntities", pid)
		}
		details, ok := relatedLookup[*h.ID]
		if !ok {
			return nil, fmt.Errorf("%w: related host %s of problem %s not found", shared.ErrMissingData, *h.ID, pid)
		}
		rel := make(map[string]struct{}, len(h.AffectedEntities))
		for _, id := range h.AffectedEntities {
			if _, ok := affected[id]; ok {
				rel[id] = struct{}{}
			}
		}
		hosts = append(hosts, &RelatedEntity{ID: *h.ID, Name: details.DisplayName, affected: rel})
	}

	sd := &SecurityData{
		affected:      affected,
		affectedOrder: order,
		relatedHosts:  hosts,
	}

	var err error
	if sd.identifier, err = required(p.SecurityProblemID, "securityProblemId", pid); err != nil {
		return nil, err
	}
	if sd.displayID, err = required(p.DisplayID, "displayId", pid); err != nil {
		return nil, err
	}
	if sd.title, err = required(p.Title, "title", pid); err != nil {
		return nil, err
	}
	if sd.url, err = required(p.URL, "url", pid); err != nil {
		return nil, err
	}
	if sd.description, err = required(p.Description, "description", pid); err != nil {
		return nil, err
	}
	technology, err := required(p.Technology, "technology", pid)
	if err != nil {
		return nil, err
	}
	sd.technology = strings.ToUpper(technology)

	ra := p.RiskAssessment
	if ra == nil {
		return nil, missing("riskAssessment", pid)
	}
	if ra.RiskScore == nil {
		return nil, missing("riskAssessment.riskScore", pid)
	}
	sd.riskScore = float64(*ra.RiskScore)
	riskLevel, err := required(ra.RiskLevel, "riskAssessment.riskLevel", pid)
	if err != nil {
		return nil, err
	}
	exposure, err := required(ra.Exposure, "riskAssessment.exposure", pid)
	if err != nil {
		return nil, err
	}
	dataAssets, err := required(ra.DataAssets, "riskAssessment.dataAssets", pid)
	if err != nil {
		return nil, err
	}
	sd.riskLevel = strings.ToUpper(riskLevel)
	sd.exposure = strings.ToUpper(exposure)
	sd.dataAssets = strings.ToUpper(dataAssets)

	if p.VulnerableComponents == nil {
		return nil, missing("vulnerableComponents", pid)
	}
	seen := make(map[string]struct{}, len(p.VulnerableComponents))
	for _, vc := range p.VulnerableComponents {
		if vc.DisplayName == nil {
			return nil, missing("vulnerableComponents[].displayName", pid)
		}
		if _, ok := seen[*vc.DisplayName]; ok {
			continue
		}
		seen[*vc.DisplayName] = struct{}{}
		sd.vulnerableComponents = append(sd.vulnerableComponents, *vc.DisplayName)
	}

	if err := sd.validate(); err != nil {
		return nil, err
	}
	return sd, nil
}

func (sd *SecurityData) validate() error {
	if sd.riskScore < MinRiskScore || sd.riskScore > MaxRiskScore {
		return fmt.Errorf("%w: problem %s: risk score %v out of range [0,10]", shared.ErrValidation, sd.identifier, sd.riskScore)
	}
	u, err := url.Parse(sd.url)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: problem %s: invalid url %q", shared.ErrValidation, sd.identifier, sd.url)
	}
	return nil
}

func required(v *string, field, problemID string) (string, error) {
	if v == nil {
		return "", missing(field, problemID)
	}
	return *v, nil
}

func missing(field, problemID string) error {
	if problemID == "" {
		return fmt.Errorf("%w: %s", shared.ErrMissingData, field)
	}
	return fmt.Errorf("%w: %s (problem %s)", shared.ErrMissingData, field, problemID)
}
