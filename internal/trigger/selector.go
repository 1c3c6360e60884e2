// Package trigger picks the flow a contact's first message starts.
package trigger

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/aretw0/parley/pkg/domain"
)

// Match is the outcome of a successful selection.
type Match struct {
	FlowID  string
	Trigger string
}

// Select returns the flow whose trigger is contained in text.
// Only active flows of connectionID are candidates. Matching uses Unicode case
// folding. Ties are broken by ascending Priority, then CreatedAt, then ID.
func Select(flows []domain.Flow, connectionID, text string) (Match, bool) {
	folder := cases.Fold()
	haystack := folder.String(strings.TrimSpace(text))
	if haystack == "" {
		return Match{}, false
	}

	candidates := make([]domain.Flow, 0, len(flows))
	for _, f := range flows {
		if f.Active && f.ConnectionID == connectionID {
			candidates = append(candidates, f)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return less(candidates[i], candidates[j])
	})

	for _, f := range candidates {
		for _, trig := range f.Triggers {
			needle := folder.String(strings.TrimSpace(trig))
			if needle == "" {
				continue
			}
			if strings.Contains(haystack, needle) {
				return Match{FlowID: f.ID, Trigger: trig}, true
			}
		}
	}
	return Match{}, false
}

func less(a, b domain.Flow) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
