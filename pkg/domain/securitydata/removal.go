package securitydata

// RemoveAffectedByName removes the affected entities whose name is in names
// (removeMatches=true) or every entity whose name is not (removeMatches=false).
func (sd *SecurityData) RemoveAffectedByName(names []string, removeMatches bool) {
	want := toSet(names)
	seed := make(map[string]struct{})
	for _, id := range sd.affectedOrder {
		if _, ok := want[sd.affected[id].Name]; ok {
			seed[id] = struct{}{}
		}
	}
	sd.removeSeed(seed, removeMatches)
}

// RemoveAffectedByTag removes the affected entities that carry at least one
// of tags (removeMatches=true) or every entity that carries none of them
// (removeMatches=false).
func (sd *SecurityData) RemoveAffectedByTag(tags []string, removeMatches bool) {
	want := toSet(tags)
	seed := make(map[string]struct{})
	for _, id := range sd.affectedOrder {
		if sd.affected[id].HasAnyTag(want) {
			seed[id] = struct{}{}
		}
	}
	sd.removeSeed(seed, removeMatches)
}

// RemoveAffectedByRelatedHostname removes the affected entities related to a
// host whose name is in hostnames (removeMatches=true) or every entity not
// related to such a host (removeMatches=false).
func (sd *SecurityData) RemoveAffectedByRelatedHostname(hostnames []string, removeMatches bool) {
	want := toSet(hostnames)
	seed := make(map[string]struct{})
	for _, h := range sd.relatedHosts {
		if _, ok := want[h.Name]; !ok {
			continue
		}
		for id := range h.affected {
			seed[id] = struct{}{}
		}
	}
	sd.removeSeed(seed, removeMatches)
}

// removeSeed deletes the seed (removeMatches) or its complement, then prunes
// host relations and drops hosts left without any affected entity.
func (sd *SecurityData) removeSeed(seed map[string]struct{}, removeMatches bool) {
	kept := make([]string, 0, len(sd.affectedOrder))
	for _, id := range sd.affectedOrder {
		_, inSeed := seed[id]
		if inSeed == removeMatches {
			delete(sd.affected, id)
			continue
		}
		kept = append(kept, id)
	}
	sd.affectedOrder = kept
	sd.pruneHosts()
}

func (sd *SecurityData) pruneHosts() {
	hosts := make([]*RelatedEntity, 0, len(sd.relatedHosts))
	for _, h := range sd.relatedHosts {
		for id := range h.affected {
			if _, ok := sd.affected[id]; !ok {
				delete(h.affected, id)
			}
		}
		if len(h.affected) > 0 {
			hosts = append(hosts, h)
		}
	}
	sd.relatedHosts = hosts
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
