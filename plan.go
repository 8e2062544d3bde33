package evalset

import (
	"errors"
	"fmt"
)

// Strategy selects which allocation policy the Sampler applies.
type Strategy int

const (
	// StrategyEvenByFile draws round(count * ratio) documents from each
	// source file, using a per-file seeded permutation.
	StrategyEvenByFile Strategy = iota
	// StrategyTokenBudget accumulates documents in one seeded global
	// permutation until a single token target is reached.
	StrategyTokenBudget
	// StrategyPerGroupQuota applies the token budget walk independently
	// within each group, each with its own quota and sub-seed.
	StrategyPerGroupQuota
)

func (s Strategy) String() string {
	switch s {
	case StrategyEvenByFile:
		return "even_by_file"
	case StrategyTokenBudget:
		return "token_budget"
	case StrategyPerGroupQuota:
		return "per_group_quota"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// OvershootPolicy fixes the behavior at the quota boundary. It is part of
// the reproducibility contract: changing it changes which documents are
// selected.
type OvershootPolicy int

const (
	// OvershootReject skips any document whose acceptance would push the
	// running total past the target and keeps scanning for smaller
	// documents that still fit. The realized total never exceeds the
	// quota. A document larger than the entire remaining quota is skipped
	// and counted, never silently dropped.
	OvershootReject OvershootPolicy = iota
	// OvershootGreedy accepts the first document that reaches or exceeds
	// the target and stops. The realized total may exceed the quota by at
	// most one document's count.
	OvershootGreedy
)

func (p OvershootPolicy) String() string {
	if p == OvershootGreedy {
		return "greedy"
	}
	return "reject"
}

// ParseOvershootPolicy maps the CLI spelling to a policy.
func ParseOvershootPolicy(s string) (OvershootPolicy, error) {
	switch s {
	case "reject", "":
		return OvershootReject, nil
	case "greedy":
		return OvershootGreedy, nil
	}
	return 0, fmt.Errorf("invalid overshoot policy: %q", s)
}

// SamplingPlan fully determines a Subset given a corpus. Identical plan and
// identical corpus must produce byte-identical output.
type SamplingPlan struct {
	Strategy Strategy
	Seed     int64
	// Ratio is the even_by_file sampling ratio. When zero, it is derived
	// as TargetCount divided by the corpus document count.
	Ratio float64
	// TargetCount is the even_by_file target total document count, used
	// only when Ratio is zero.
	TargetCount int
	// TokenTarget is the single global budget for token_budget runs.
	TokenTarget int
	// TokensPerGroup is the per-group quota for per_group_quota runs.
	TokensPerGroup int
	Overshoot      OvershootPolicy
}

var (
	errNoBudget  = errors.New("sampling plan has no budget parameter")
	errBadRatio  = errors.New("even_by_file ratio must be in (0, 1]")
	errBadPolicy = errors.New("unknown overshoot policy")
)

// Validate checks that the plan's budget parameters match its strategy.
func (p *SamplingPlan) Validate() error {
	if p.Overshoot != OvershootReject && p.Overshoot != OvershootGreedy {
		return errBadPolicy
	}
	switch p.Strategy {
	case StrategyEvenByFile:
		if p.Ratio == 0 && p.TargetCount <= 0 {
			return errNoBudget
		}
		if p.Ratio < 0 || p.Ratio > 1 {
			return errBadRatio
		}
	case StrategyTokenBudget:
		if p.TokenTarget <= 0 {
			return errNoBudget
		}
	case StrategyPerGroupQuota:
		if p.TokensPerGroup <= 0 {
			return errNoBudget
		}
	default:
		return fmt.Errorf("unknown strategy: %d", int(p.Strategy))
	}
	return nil
}

// NeedsTokenCounts reports whether the plan's arithmetic depends on a
// tokenizer. Even-by-file selection counts documents, not tokens.
func (p *SamplingPlan) NeedsTokenCounts() bool {
	return p.Strategy != StrategyEvenByFile
}
