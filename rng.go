package evalset

import (
	"hash/fnv"
	"math/rand"
)

// Rng owns the single seed for a run and derives every permutation the
// Sampler consumes. Each permutation comes from a fresh rand.Source, so the
// result depends only on (seed, key, n) and never on how many permutations
// were drawn before it or on which goroutine asked.
type Rng struct {
	seed int64
}

func NewRng(seed int64) *Rng {
	return &Rng{seed: seed}
}

func (r *Rng) Seed() int64 {
	return r.seed
}

// SubSeed derives the deterministic per-group seed for a group key.
func (r *Rng) SubSeed(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return r.seed ^ int64(h.Sum64())
}

// Perm returns the global-seed permutation of [0, n).
func (r *Rng) Perm(n int) []int {
	return rand.New(rand.NewSource(r.seed)).Perm(n)
}

// GroupPerm returns the permutation of [0, n) for one group. Permutations
// for distinct keys are independent: adding or removing an unrelated group
// never perturbs another group's order.
func (r *Rng) GroupPerm(key string, n int) []int {
	return rand.New(rand.NewSource(r.SubSeed(key))).Perm(n)
}
