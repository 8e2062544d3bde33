package evalset

import "sort"

// GroupResult is one group's slice of the realized Subset: the accepted
// documents in acceptance order, plus the bookkeeping the run summary
// reports.
type GroupResult struct {
	Key string
	// Quota is the configured token quota for this group; zero when the
	// strategy does not budget per group.
	Quota int
	// Tokens is the realized token total of the accepted documents.
	Tokens int
	// Shortfall is quota minus available tokens when the group could not
	// cover its quota. A shortfall is reported, never an error.
	Shortfall int
	// Considered counts documents assigned to this group that passed the
	// filter, whether or not they were selected.
	Considered int
	Selected   int
	// SkippedOversized counts documents rejected at the quota boundary
	// under the reject policy, including any single document larger than
	// the entire remaining quota.
	SkippedOversized int

	Documents []Document
}

// Subset is the durable artifact of a run: the selected documents
// partitioned by group, with realized totals against configured quotas.
type Subset struct {
	Strategy Strategy
	Seed     int64

	Groups map[string]*GroupResult

	// TotalTokens is the realized token total across all groups.
	TotalTokens int
	// GlobalQuota is the single token target for token_budget runs.
	GlobalQuota int
	// GlobalShortfall is GlobalQuota minus available tokens when the
	// corpus cannot cover the target. A shortfall is reported, never an
	// error.
	GlobalShortfall int

	// SkippedRecords counts malformed input records the reader dropped.
	SkippedRecords int
	// FilteredOut counts documents excluded by the document filter.
	FilteredOut int
}

func newSubset(plan *SamplingPlan) *Subset {
	return &Subset{
		Strategy: plan.Strategy,
		Seed:     plan.Seed,
		Groups:   make(map[string]*GroupResult),
	}
}

func (s *Subset) group(key string) *GroupResult {
	g, ok := s.Groups[key]
	if !ok {
		g = &GroupResult{Key: key}
		s.Groups[key] = g
	}
	return g
}

// GroupKeys returns the group keys in sorted order. Iteration over the
// Groups map must never drive an order-sensitive operation directly.
func (s *Subset) GroupKeys() []string {
	keys := make([]string, 0, len(s.Groups))
	for key := range s.Groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// TotalSelected returns the number of selected documents across groups.
func (s *Subset) TotalSelected() int {
	total := 0
	for _, g := range s.Groups {
		total += g.Selected
	}
	return total
}

// TotalConsidered returns the number of considered documents across groups.
func (s *Subset) TotalConsidered() int {
	total := 0
	for _, g := range s.Groups {
		total += g.Considered
	}
	return total
}
