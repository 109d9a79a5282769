package inject

import (
	"math/rand"
	"strings"
	"testing"
)

func testUsers() map[string]User {
	return map[string]User{
		"Zhang San": {PersonID: "pid-zhang", Sobriquets: []NameCount{
			{Name: "Old Zhang", Count: 9},
			{Name: "Zhang Ge", Count: 3},
		}},
		"Li Si": {PersonID: "pid-li", Sobriquets: []NameCount{
			{Name: "Little Li", Count: 1},
		}},
	}
}

func TestSelectReturnsExactlyKFromLargerPool(t *testing.T) {
	selector := NewSelector(2, 1.0, rand.New(rand.NewSource(1)))
	selected := selector.Select(testUsers())
	if len(selected) != 2 {
		t.Fatalf("expected 2 selections from 3 candidates, got %d", len(selected))
	}
	seen := map[string]bool{}
	for _, candidate := range selected {
		key := candidate.PersonID + "/" + candidate.Name
		if seen[key] {
			t.Fatalf("duplicate selection %q", key)
		}
		seen[key] = true
	}
}

func TestSelectReturnsAllWhenPoolSmaller(t *testing.T) {
	selector := NewSelector(10, 1.0, rand.New(rand.NewSource(1)))
	selected := selector.Select(testUsers())
	if len(selected) != 3 {
		t.Fatalf("expected all 3 candidates, got %d", len(selected))
	}
}

func TestSelectSortsByCountDescending(t *testing.T) {
	selector := NewSelector(3, 1.0, rand.New(rand.NewSource(7)))
	selected := selector.Select(testUsers())
	for i := 1; i < len(selected); i++ {
		if selected[i].Count > selected[i-1].Count {
			t.Fatalf("selection not sorted by count: %+v", selected)
		}
	}
}

func TestSelectSkipsInvalidEntries(t *testing.T) {
	users := map[string]User{
		"Ghost":   {PersonID: "", Sobriquets: []NameCount{{Name: "x", Count: 5}}},
		"Wang Wu": {PersonID: "pid-wang", Sobriquets: []NameCount{
			{Name: "", Count: 5},
			{Name: "Lao Wang", Count: 0},
			{Name: "Wang Zi", Count: 2},
		}},
	}
	selected := NewSelector(5, 1.0, rand.New(rand.NewSource(3))).Select(users)
	if len(selected) != 1 || selected[0].Name != "Wang Zi" {
		t.Fatalf("expected only the valid candidate, got %+v", selected)
	}
}

func TestSelectBackfillsWhenWeightsDegenerate(t *testing.T) {
	// A negative smoothing constant can push weights to zero or below;
	// those candidates sit out the randomized draw and the remaining
	// slots are filled deterministically by highest count.
	users := map[string]User{
		"A": {PersonID: "pa", Sobriquets: []NameCount{{Name: "alpha", Count: 4}}},
		"B": {PersonID: "pb", Sobriquets: []NameCount{{Name: "beta", Count: 2}}},
	}
	selector := &Selector{MaxSelect: 2, Smoothing: -10}
	selected := selector.Select(users)
	if len(selected) != 2 {
		t.Fatalf("expected backfill to reach 2 selections, got %+v", selected)
	}
	if selected[0].Name != "alpha" || selected[1].Name != "beta" {
		t.Fatalf("expected count-descending backfill order, got %+v", selected)
	}
}

func TestSelectEmptyInputs(t *testing.T) {
	selector := NewSelector(3, 1.0, rand.New(rand.NewSource(1)))
	if got := selector.Select(nil); got != nil {
		t.Fatalf("nil input should select nothing, got %+v", got)
	}
	if got := NewSelector(0, 1.0, nil).Select(testUsers()); got != nil {
		t.Fatalf("zero target should select nothing, got %+v", got)
	}
}

func TestSelectFavorsHigherCountsOverManyTrials(t *testing.T) {
	users := map[string]User{
		"Zhang San": {PersonID: "pid-zhang", Sobriquets: []NameCount{
			{Name: "heavy", Count: 20},
			{Name: "light", Count: 1},
		}},
	}
	rng := rand.New(rand.NewSource(42))
	selector := NewSelector(1, 1.0, rng)

	const trials = 3000
	heavy := 0
	for i := 0; i < trials; i++ {
		selected := selector.Select(users)
		if len(selected) != 1 {
			t.Fatalf("expected single selection, got %+v", selected)
		}
		if selected[0].Name == "heavy" {
			heavy++
		}
	}
	// Expected inclusion ratio is 21/23; leave a generous margin so the
	// test only fails when the weighting is genuinely broken.
	if heavy < trials*3/4 {
		t.Fatalf("high-weight candidate selected only %d/%d times", heavy, trials)
	}
	if heavy == trials {
		t.Fatal("low-weight candidate was never selected; sampling looks deterministic")
	}
}

func TestFormatGroupsByUser(t *testing.T) {
	selected := []Candidate{
		{DisplayName: "Zhang San", PersonID: "pid-zhang", Name: "Old Zhang", Count: 9},
		{DisplayName: "Li Si", PersonID: "pid-li", Name: "Little Li", Count: 4},
		{DisplayName: "Zhang San", PersonID: "pid-zhang", Name: "Zhang Ge", Count: 3},
	}
	got := Format(selected)

	if !strings.Contains(got, "- Zhang San(pid-zhang), may be called: “Old Zhang”、“Zhang Ge”") {
		t.Fatalf("grouped line missing or malformed:\n%s", got)
	}
	if !strings.Contains(got, "- Li Si(pid-li), may be called: “Little Li”") {
		t.Fatalf("single-entry line missing:\n%s", got)
	}
	if !strings.HasSuffix(got, "\n") {
		t.Fatal("formatted block should end with a newline")
	}
	if strings.Count(got, "\n") != 3 {
		t.Fatalf("expected header plus two lines:\n%q", got)
	}
}

func TestFormatEmptySelection(t *testing.T) {
	if got := Format(nil); got != "" {
		t.Fatalf("empty selection must render nothing, got %q", got)
	}
}
