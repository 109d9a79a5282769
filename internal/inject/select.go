// Package inject picks a usage-weighted subset of known sobriquets and
// renders them into the short block spliced into reply prompts.
package inject

import (
	"math"
	"math/rand"
	"sort"
)

// NameCount is one (nickname, usage count) pair for the current group.
type NameCount struct {
	Name  string
	Count int64
}

// User carries one in-context user's nickname data keyed by person id.
type User struct {
	PersonID   string
	Sobriquets []NameCount
}

// Candidate is one selected sobriquet, attributed back to its user.
type Candidate struct {
	DisplayName string
	PersonID    string
	Name        string
	Count       int64
}

type Selector struct {
	MaxSelect int
	Smoothing float64
	rng       *rand.Rand
}

// NewSelector builds a selector. rng may be nil; tests pass a seeded
// source to make sampling reproducible.
func NewSelector(maxSelect int, smoothing float64, rng *rand.Rand) *Selector {
	if smoothing < 0 {
		smoothing = 0
	}
	return &Selector{MaxSelect: maxSelect, Smoothing: smoothing, rng: rng}
}

// Select performs weighted sampling without replacement over every
// (user, sobriquet) candidate. Each candidate draws an exponential clock
// key -ln(U)/weight and the k smallest keys win, so higher weights are
// favored but nothing is guaranteed a slot. Degenerate weights sit out
// the draw; any unfilled slots are topped up deterministically with the
// highest-count leftovers. The returned list is sorted by count
// descending with insertion-order tie-break, so presentation is stable
// for a given selected set.
func (s *Selector) Select(byDisplayName map[string]User) []Candidate {
	if s.MaxSelect < 1 || len(byDisplayName) == 0 {
		return nil
	}

	displayNames := make([]string, 0, len(byDisplayName))
	for name := range byDisplayName {
		displayNames = append(displayNames, name)
	}
	sort.Strings(displayNames)

	var candidates []Candidate
	var weights []float64
	for _, displayName := range displayNames {
		user := byDisplayName[displayName]
		if user.PersonID == "" {
			continue
		}
		for _, entry := range user.Sobriquets {
			if entry.Name == "" || entry.Count < 1 {
				continue
			}
			candidates = append(candidates, Candidate{
				DisplayName: displayName,
				PersonID:    user.PersonID,
				Name:        entry.Name,
				Count:       entry.Count,
			})
			weights = append(weights, float64(entry.Count)+s.Smoothing)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	target := s.MaxSelect
	if target > len(candidates) {
		target = len(candidates)
	}

	type keyed struct {
		key   float64
		index int
	}
	keys := make([]keyed, len(candidates))
	for i, weight := range weights {
		if weight <= 0 {
			keys[i] = keyed{key: math.Inf(1), index: i}
			continue
		}
		keys[i] = keyed{key: s.exp() / weight, index: i}
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a].key < keys[b].key })

	picked := make(map[int]bool, target)
	selected := make([]int, 0, target)
	for _, entry := range keys {
		if len(selected) == target {
			break
		}
		if math.IsInf(entry.key, 1) {
			break
		}
		picked[entry.index] = true
		selected = append(selected, entry.index)
	}

	if len(selected) < target {
		remaining := make([]int, 0, len(candidates)-len(selected))
		for i := range candidates {
			if !picked[i] {
				remaining = append(remaining, i)
			}
		}
		sort.SliceStable(remaining, func(a, b int) bool {
			return candidates[remaining[a]].Count > candidates[remaining[b]].Count
		})
		for _, index := range remaining {
			if len(selected) == target {
				break
			}
			selected = append(selected, index)
		}
	}

	sort.SliceStable(selected, func(a, b int) bool {
		if candidates[selected[a]].Count != candidates[selected[b]].Count {
			return candidates[selected[a]].Count > candidates[selected[b]].Count
		}
		return selected[a] < selected[b]
	})

	result := make([]Candidate, 0, len(selected))
	for _, index := range selected {
		result = append(result, candidates[index])
	}
	return result
}

func (s *Selector) exp() float64 {
	if s.rng != nil {
		return s.rng.ExpFloat64()
	}
	return rand.ExpFloat64()
}
