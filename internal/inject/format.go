package inject

import (
	"fmt"
	"strings"
)

const header = "Known sobriquets of members in this group (most used first), with their ids, for reference:"

// Format renders the selected sobriquets, one line per user, preserving
// selection order within each line. An empty selection renders nothing
// at all so callers can splice the result unconditionally.
func Format(selected []Candidate) string {
	if len(selected) == 0 {
		return ""
	}

	type userKey struct {
		displayName string
		personID    string
	}
	order := make([]userKey, 0, len(selected))
	grouped := map[userKey][]string{}
	for _, candidate := range selected {
		key := userKey{candidate.DisplayName, candidate.PersonID}
		if _, seen := grouped[key]; !seen {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], fmt.Sprintf("“%s”", candidate.Name))
	}

	lines := make([]string, 0, len(order)+1)
	lines = append(lines, header)
	for _, key := range order {
		lines = append(lines, fmt.Sprintf("- %s(%s), may be called: %s", key.displayName, key.personID, strings.Join(grouped[key], "、")))
	}
	return strings.Join(lines, "\n") + "\n"
}
