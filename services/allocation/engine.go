package allocation

import (
	"hash/fnv"
	"sort"
)

const (
	// DefaultRecentWindow is how many past allocation events feed the
	// round-robin counts.
	DefaultRecentWindow = 200

	minWeight = 1
	maxWeight = 100
)

type PickInput struct {
	CreatorID string
	ViewerID  string
	Targets   []*BookingTarget
	Config    *RoutingConfig
	// Recent holds the target ids of the latest allocation events, newest
	// first. Ids outside the pool are ignored.
	Recent []string
}

// Decision describes how a pick was made. Effective differs from Requested
// when sticky routing had no viewer id and fell back to round robin.
type Decision struct {
	Requested Mode
	Effective Mode
	PoolSize  int
}

// Pick chooses one active target. It returns nil only when no target is
// active.
func Pick(in PickInput) (*BookingTarget, Decision) {
	pool := activePool(in.Targets)

	mode := ModeSingle
	if in.Config != nil {
		if m, ok := ParseMode(string(in.Config.Mode)); ok {
			mode = m
		}
	}

	d := Decision{Requested: mode, Effective: mode, PoolSize: len(pool)}
	if len(pool) == 0 {
		return nil, d
	}

	if mode == ModeSticky && in.ViewerID == "" {
		d.Effective = ModeRoundRobin
	}

	switch d.Effective {
	case ModeSticky:
		return pool[StickyIndex(in.ViewerID, len(pool))], d
	case ModeWeighted:
		return pickWeighted(pool, recentCounts(in.Recent)), d
	case ModeRoundRobin:
		return pickLeastRecent(pool, recentCounts(in.Recent)), d
	default:
		return pickSingle(pool, in.Config), d
	}
}

// activePool returns the active targets in the fixed pool order (by id).
func activePool(targets []*BookingTarget) []*BookingTarget {
	pool := make([]*BookingTarget, 0, len(targets))
	for _, t := range targets {
		if t != nil && t.Active {
			pool = append(pool, t)
		}
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })
	return pool
}

func pickSingle(pool []*BookingTarget, cfg *RoutingConfig) *BookingTarget {
	if cfg != nil && cfg.DefaultTargetID != nil {
		for _, t := range pool {
			if t.ID == *cfg.DefaultTargetID {
				return t
			}
		}
	}

	first := pool[0]
	for _, t := range pool[1:] {
		if t.Name < first.Name || (t.Name == first.Name && t.ID < first.ID) {
			first = t
		}
	}
	return first
}

// StickyIndex maps a viewer onto a pool slot with 32-bit FNV-1a, so the
// mapping is stable across restarts for an unchanged pool.
func StickyIndex(viewerID string, poolSize int) int {
	if poolSize <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(viewerID))
	return int(h.Sum32() % uint32(poolSize))
}

func recentCounts(recent []string) map[string]int {
	counts := make(map[string]int, len(recent))
	for _, id := range recent {
		counts[id]++
	}
	return counts
}

func pickLeastRecent(pool []*BookingTarget, counts map[string]int) *BookingTarget {
	best := pool[0]
	for _, t := range pool[1:] {
		if counts[t.ID] < counts[best.ID] {
			best = t
		}
	}
	return best
}

func clampWeight(w int) int {
	if w < minWeight {
		return minWeight
	}
	if w > maxWeight {
		return maxWeight
	}
	return w
}

// pickWeighted runs the least-recent rule over the pool expanded to one
// slot per unit of weight. A target's recent picks are spread over its
// slots, earlier slots first, and the emptiest slot wins.
func pickWeighted(pool []*BookingTarget, counts map[string]int) *BookingTarget {
	var best *BookingTarget
	bestLoad := 0

	for _, t := range pool {
		w := clampWeight(t.Weight)
		c := counts[t.ID]
		for k := 0; k < w; k++ {
			load := c / w
			if k < c%w {
				load++
			}
			if best == nil || load < bestLoad {
				best, bestLoad = t, load
			}
		}
	}
	return best
}
