package evalset

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
)

// Sampler selects a token-budgeted subset of a corpus under a SamplingPlan.
// It makes two passes over the iterator: the first assigns groups and
// gathers token counts into a compact index, the second re-reads only to
// serialize the selected documents, so the corpus never has to fit in
// memory.
type Sampler struct {
	Assigner GroupAssigner
	// Counter is required for token_budget and per_group_quota plans.
	Counter TokenCounter
	// Filter optionally excludes documents from consideration. Excluded
	// documents are counted, never silently dropped.
	Filter DocumentFilter
}

// docEntry is the per-document index record kept between the two passes.
type docEntry struct {
	ord    int
	tokens int
	group  string
	file   string
}

// placement records where a selected document lands in the Subset.
type placement struct {
	group *GroupResult
	rank  int
}

var ErrCorpusChanged = errors.New(
	"corpus changed between sampling passes")

// Select runs the plan against the corpus and returns the realized Subset.
// Identical (corpus, plan) pairs produce identical Subsets: all randomness
// comes from the plan's seed via Rng, and group order is fixed by sorted
// keys rather than traversal or completion order.
func (s *Sampler) Select(it DocumentIterator, plan SamplingPlan) (
	*Subset, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if s.Assigner == nil {
		return nil, errors.New("sampler requires a group assigner")
	}
	if plan.NeedsTokenCounts() && s.Counter == nil {
		return nil, fmt.Errorf(
			"strategy %s requires a token counter", plan.Strategy)
	}

	subset := newSubset(&plan)
	entries, err := s.indexCorpus(it, &plan, subset)
	if err != nil {
		return nil, err
	}

	rng := NewRng(plan.Seed)
	var selection map[int]placement
	switch plan.Strategy {
	case StrategyEvenByFile:
		selection = selectEvenByFile(entries, &plan, rng, subset)
	case StrategyTokenBudget:
		selection = selectTokenBudget(entries, &plan, rng, subset)
	case StrategyPerGroupQuota:
		selection = selectPerGroupQuota(entries, &plan, rng, subset)
	}

	for _, g := range subset.Groups {
		g.Documents = make([]Document, g.Selected)
	}
	if err := s.fillDocuments(it, selection); err != nil {
		return nil, err
	}
	return subset, nil
}

// indexCorpus is the first pass: stamp groups, count tokens, and build the
// in-memory index of participating documents. Ordinals cover every document
// the iterator yields, filtered or not, so the second pass can line up
// again.
func (s *Sampler) indexCorpus(it DocumentIterator, plan *SamplingPlan,
	subset *Subset) ([]docEntry, error) {
	entries := make([]docEntry, 0, 4096)
	ord := 0
	for {
		doc, err := it.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		if s.Filter != nil && !s.Filter(doc) {
			subset.FilteredOut++
			ord++
			continue
		}
		key := s.Assigner.Assign(doc)
		tokens := 0
		if plan.NeedsTokenCounts() {
			if tokens, err = doc.TokenCount(s.Counter); err != nil {
				return nil, fmt.Errorf(
					"counting tokens in %s: %w", doc.SourceFile, err)
			}
		}
		subset.group(key).Considered++
		entries = append(entries, docEntry{
			ord:    ord,
			tokens: tokens,
			group:  key,
			file:   doc.SourceFile,
		})
		ord++
	}
	if sk, ok := it.(interface{ Skipped() int }); ok {
		subset.SkippedRecords = sk.Skipped()
	}
	return entries, nil
}

// fillDocuments is the second pass: rewind the iterator and copy the text
// of each selected document into its acceptance-order slot.
func (s *Sampler) fillDocuments(it DocumentIterator,
	selection map[int]placement) error {
	if len(selection) == 0 {
		return nil
	}
	if err := it.Reset(); err != nil {
		return err
	}
	filled := 0
	ord := 0
	for filled < len(selection) {
		doc, err := it.Next()
		if err == io.EOF {
			return ErrCorpusChanged
		} else if err != nil {
			return err
		}
		if p, ok := selection[ord]; ok {
			d := *doc
			d.GroupKey = p.group.Key
			p.group.Documents[p.rank] = d
			filled++
		}
		ord++
	}
	return nil
}

// selectEvenByFile draws a seeded permutation prefix from each file so the
// output mirrors the relative sizes of the inputs: small files are not
// starved, large files are not over-represented.
func selectEvenByFile(entries []docEntry, plan *SamplingPlan, rng *Rng,
	subset *Subset) map[int]placement {
	byFile := bucketBy(entries, func(e *docEntry) string { return e.file })
	files := sortedKeys(byFile)

	ratio := plan.Ratio
	if ratio == 0 && len(entries) > 0 {
		ratio = float64(plan.TargetCount) / float64(len(entries))
	}

	selection := make(map[int]placement)
	for _, file := range files {
		idxes := byFile[file]
		target := int(math.Round(float64(len(idxes)) * ratio))
		if target > len(idxes) {
			target = len(idxes)
		}
		perm := rng.GroupPerm(file, len(idxes))
		for _, pi := range perm[:target] {
			accept(selection, subset, &entries[idxes[pi]])
		}
	}
	return selection
}

// selectTokenBudget walks one global seeded permutation, accumulating
// toward the single token target.
func selectTokenBudget(entries []docEntry, plan *SamplingPlan, rng *Rng,
	subset *Subset) map[int]placement {
	counts := make([]int, len(entries))
	available := 0
	for i := range entries {
		counts[i] = entries[i].tokens
		available += entries[i].tokens
	}
	perm := rng.Perm(len(entries))
	accepted, total, rejected := takeBudget(
		perm, counts, plan.TokenTarget, plan.Overshoot)

	subset.GlobalQuota = plan.TokenTarget
	subset.TotalTokens = total
	if available < plan.TokenTarget {
		subset.GlobalShortfall = plan.TokenTarget - available
	}
	selection := make(map[int]placement, len(accepted))
	for _, i := range accepted {
		accept(selection, subset, &entries[i])
	}
	for _, i := range rejected {
		subset.group(entries[i].group).SkippedOversized++
	}
	return selection
}

// selectPerGroupQuota runs the budget walk independently within each group.
// Each group's permutation derives from the global seed and the group key
// alone, so adding or removing an unrelated group never perturbs another
// group's selection.
func selectPerGroupQuota(entries []docEntry, plan *SamplingPlan, rng *Rng,
	subset *Subset) map[int]placement {
	byGroup := bucketBy(entries, func(e *docEntry) string { return e.group })

	selection := make(map[int]placement)
	for _, key := range sortedKeys(byGroup) {
		idxes := byGroup[key]
		counts := make([]int, len(idxes))
		available := 0
		for i, ei := range idxes {
			counts[i] = entries[ei].tokens
			available += entries[ei].tokens
		}
		perm := rng.GroupPerm(key, len(idxes))
		accepted, total, rejected := takeBudget(
			perm, counts, plan.TokensPerGroup, plan.Overshoot)

		g := subset.group(key)
		g.Quota = plan.TokensPerGroup
		if available < plan.TokensPerGroup {
			g.Shortfall = plan.TokensPerGroup - available
		}
		g.SkippedOversized = len(rejected)
		for _, pi := range accepted {
			accept(selection, subset, &entries[idxes[pi]])
		}
		subset.TotalTokens += total
	}
	return selection
}

// takeBudget is the boundary policy in one place: given a permutation over
// token counts and a target, it decides exactly which positions are
// accepted, in what order, and what happens at the edge. Positions are
// returned in acceptance order; rejected holds the positions turned away
// at the boundary under the reject policy.
func takeBudget(perm []int, counts []int, target int,
	policy OvershootPolicy) (accepted []int, total int, rejected []int) {
	for _, p := range perm {
		if total >= target {
			break
		}
		c := counts[p]
		switch policy {
		case OvershootGreedy:
			accepted = append(accepted, p)
			total += c
		default:
			if total+c <= target {
				accepted = append(accepted, p)
				total += c
			} else {
				// Too big for what remains; keep scanning for a
				// smaller document that still fits.
				rejected = append(rejected, p)
			}
		}
	}
	return accepted, total, rejected
}

func accept(selection map[int]placement, subset *Subset, e *docEntry) {
	g := subset.group(e.group)
	selection[e.ord] = placement{group: g, rank: g.Selected}
	g.Selected++
	g.Tokens += e.tokens
}

func bucketBy(entries []docEntry,
	key func(*docEntry) string) map[string][]int {
	buckets := make(map[string][]int)
	for i := range entries {
		k := key(&entries[i])
		buckets[k] = append(buckets[k], i)
	}
	return buckets
}

func sortedKeys(m map[string][]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
