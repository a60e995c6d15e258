package app

import (
	"context"
	"fmt"
	"slices"

	"github.com/openctemio/vulnsync/pkg/domain/securitydata"
	"github.com/openctemio/vulnsync/pkg/logger"
)

// Collector fetches all open problems and builds their entity graphs.
// Entity details are looked up once per unique ID across all problems.
type Collector struct {
	source ProblemSource
	cache  EntityCache
	logger *logger.Logger
}

// NewCollector creates a Collector. cache may be nil.
func NewCollector(source ProblemSource, cache EntityCache, log *logger.Logger) *Collector {
	return &Collector{
		source: source,
		cache:  cache,
		logger: log.With("service", "collector"),
	}
}

// Collect returns one graph per open problem. Any malformed record fails the
// whole collection so that nothing is written from a partial view.
func (c *Collector) Collect(ctx context.Context) ([]*securitydata.SecurityData, error) {
	problems, err := c.source.ListOpenProblems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open problems: %w", err)
	}
	if len(problems) == 0 {
		c.logger.Info("no open security problems")
		return nil, nil
	}

	affectedIDs, err := securitydata.UniqueAffectedEntityIDs(problems)
	if err != nil {
		return nil, err
	}
	hostIDs, err := securitydata.UniqueRelatedHostIDs(problems)
	if err != nil {
		return nil, err
	}

	c.logger.Info("collected open security problems",
		"problems", len(problems),
		"affected_entities", len(affectedIDs),
		"related_hosts", len(hostIDs),
	)

	affected, err := c.entityDetails(ctx, affectedIDs)
	if err != nil {
		return nil, fmt.Errorf("affected entity details: %w", err)
	}
	hosts, err := c.entityDetails(ctx, hostIDs)
	if err != nil {
		return nil, fmt.Errorf("related host details: %w", err)
	}

	graphs := make([]*securitydata.SecurityData, 0, len(problems))
	for i := range problems {
		sd, err := securitydata.Create(&problems[i], affected, hosts)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, sd)
	}
	return graphs, nil
}

// entityDetails serves ids from the cache where possible and fetches the
// rest from the source. Cache failures are logged and never fail the run.
func (c *Collector) entityDetails(ctx context.Context, ids []string) (map[string]securitydata.EntityDetails, error) {
	if len(ids) == 0 {
		return map[string]securitydata.EntityDetails{}, nil
	}

	result := make(map[string]securitydata.EntityDetails, len(ids))
	missing := ids

	if c.cache != nil {
		cached, err := c.cache.MGet(ctx, ids...)
		if err != nil {
			c.logger.Warn("entity cache read failed", "error", err)
		} else {
			missing = make([]string, 0, len(ids))
			for _, id := range ids {
				if d, ok := cached[id]; ok && d != nil {
					result[id] = *d
					continue
				}
				missing = append(missing, id)
			}
			c.logger.Debug("entity cache lookup",
				"hits", len(result),
				"misses", len(missing),
			)
		}
	}

	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := c.source.GetEntityDetails(ctx, slices.Clone(missing))
	if err != nil {
		return nil, err
	}
	for id, d := range fetched {
		result[id] = d
	}

	if c.cache != nil && len(fetched) > 0 {
		if err := c.cache.MSet(ctx, fetched); err != nil {
			c.logger.Warn("entity cache write failed", "error", err)
		}
	}
	return result, nil
}
