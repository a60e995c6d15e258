// Package securitydata models a single vulnerability record together with the
// entities it affects and the hosts those entities run on.
package securitydata

import (
	"slices"
	"strings"
)

// Tag is an entity tag as reported by the scanning provider.
type Tag struct {
	Context              string `json:"context,omitempty"`
	Key                  string `json:"key,omitempty"`
	Value                string `json:"value,omitempty"`
	StringRepresentation string `json:"stringRepresentation"`
}

// AffectedEntity is an entity directly affected by a vulnerability,
// e.g. a vulnerable process group.
type AffectedEntity struct {
	ID   string
	Name string
	Tags []Tag
}

// TagStrings returns the string representations of the entity tags.
func (e *AffectedEntity) TagStrings() []string {
	out := make([]string, 0, len(e.Tags))
	for _, t := range e.Tags {
		out = append(out, t.StringRepresentation)
	}
	return out
}

// HasAnyTag reports whether the entity carries at least one of the given tags.
func (e *AffectedEntity) HasAnyTag(tags map[string]struct{}) bool {
	for _, t := range e.Tags {
		if _, ok := tags[t.StringRepresentation]; ok {
			return true
		}
	}
	return false
}

func (e *AffectedEntity) clone() *AffectedEntity {
	return &AffectedEntity{
		ID:   e.ID,
		Name: e.Name,
		Tags: slices.Clone(e.Tags),
	}
}

// RelatedEntity is a host related to a vulnerability. It references the
// affected entities running on it by ID; the IDs are resolved against the
// owning SecurityData.
type RelatedEntity struct {
	ID   string
	Name string

	affected map[string]struct{}
}

// AffectedIDs returns the IDs of the affected entities related to the host,
// sorted.
func (r *RelatedEntity) AffectedIDs() []string {
	ids := make([]string, 0, len(r.affected))
	for id := range r.affected {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Relates reports whether the host relates to the affected entity id.
func (r *RelatedEntity) Relates(id string) bool {
	_, ok := r.affected[id]
	return ok
}

func (r *RelatedEntity) clone() *RelatedEntity {
	affected := make(map[string]struct{}, len(r.affected))
	for id := range r.affected {
		affected[id] = struct{}{}
	}
	return &RelatedEntity{ID: r.ID, Name: r.Name, affected: affected}
}

// SecurityData is the vulnerability graph for one security problem.
type SecurityData struct {
	identifier           string
	displayID            string
	title                string
	url                  string
	riskScore            float64
	riskLevel            string
	exposure             string
	dataAssets           string
	technology           string
	description          string
	vulnerableComponents []string

	affected      map[string]*AffectedEntity
	affectedOrder []string
	relatedHosts  []*RelatedEntity
}

// Getters

func (sd *SecurityData) Identifier() string             { return sd.identifier }
func (sd *SecurityData) DisplayID() string              { return sd.displayID }
func (sd *SecurityData) Title() string                  { return sd.title }
func (sd *SecurityData) URL() string                    { return sd.url }
func (sd *SecurityData) RiskScore() float64             { return sd.riskScore }
func (sd *SecurityData) RiskLevel() string              { return sd.riskLevel }
func (sd *SecurityData) Exposure() string               { return sd.exposure }
func (sd *SecurityData) DataAssets() string             { return sd.dataAssets }
func (sd *SecurityData) Technology() string             { return sd.technology }
func (sd *SecurityData) Description() string            { return sd.description }
func (sd *SecurityData) VulnerableComponents() []string { return slices.Clone(sd.vulnerableComponents) }

// AffectedEntity returns the affected entity with the given id.
func (sd *SecurityData) AffectedEntity(id string) (*AffectedEntity, bool) {
	e, ok := sd.affected[id]
	return e, ok
}

// AffectedEntityIDs returns the affected entity IDs in insertion order.
func (sd *SecurityData) AffectedEntityIDs() []string {
	return slices.Clone(sd.affectedOrder)
}

// AffectedCount returns the number of affected entities.
func (sd *SecurityData) AffectedCount() int {
	return len(sd.affected)
}

// HasAffectedEntities reports whether anything is left in the graph.
func (sd *SecurityData) HasAffectedEntities() bool {
	return len(sd.affected) > 0
}

// RelatedHosts returns the related hosts, including those whose relation
// became empty before any removal pruned them.
func (sd *SecurityData) RelatedHosts() []*RelatedEntity {
	return slices.Clone(sd.relatedHosts)
}

// AffectedEntityNames returns the names of the affected entities in
// insertion order.
func (sd *SecurityData) AffectedEntityNames() []string {
	names := make([]string, 0, len(sd.affectedOrder))
	for _, id := range sd.affectedOrder {
		names = append(names, sd.affected[id].Name)
	}
	return names
}

// AffectedEntityTags returns the distinct tag strings over all affected
// entities, in first-seen order.
func (sd *SecurityData) AffectedEntityTags() []string {
	seen := make(map[string]struct{})
	var tags []string
	for _, id := range sd.affectedOrder {
		for _, t := range sd.affected[id].Tags {
			if _, ok := seen[t.StringRepresentation]; ok {
				continue
			}
			seen[t.StringRepresentation] = struct{}{}
			tags = append(tags, t.StringRepresentation)
		}
	}
	return tags
}

// RelatedHostnames returns the names of hosts that still relate to at least
// one affected entity.
func (sd *SecurityData) RelatedHostnames() []string {
	names := make([]string, 0, len(sd.relatedHosts))
	for _, h := range sd.relatedHosts {
		if len(h.affected) > 0 {
			names = append(names, h.Name)
		}
	}
	return names
}

// Clone returns a deep copy. Mutating the copy never affects the original.
func (sd *SecurityData) Clone() *SecurityData {
	if sd == nil {
		return nil
	}
	c := *sd
	c.vulnerableComponents = slices.Clone(sd.vulnerableComponents)
	c.affectedOrder = slices.Clone(sd.affectedOrder)
	c.affected = make(map[string]*AffectedEntity, len(sd.affected))
	for id, e := range sd.affected {
		c.affected[id] = e.clone()
	}
	c.relatedHosts = make([]*RelatedEntity, 0, len(sd.relatedHosts))
	for _, h := range sd.relatedHosts {
		c.relatedHosts = append(c.relatedHosts, h.clone())
	}
	return &c
}

// String returns a short label for logging.
func (sd *SecurityData) String() string {
	var b strings.Builder
	b.WriteString(sd.displayID)
	b.WriteString(" (")
	b.WriteString(sd.identifier)
	b.WriteString(")")
	return b.String()
}
