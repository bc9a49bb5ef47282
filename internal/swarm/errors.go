package swarm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mtzanidakis/quorum/internal/llm"
)

// AllAgentsError is returned when every agent across all pools and the
// fallback cascade failed. Counts groups the failures by classified kind so a
// caller can tell a fleet-wide rate limit from a misconfigured credential.
type AllAgentsError struct {
	Attempted int
	Counts    map[llm.ErrorKind]int
}

func NewAllAgentsError(results []Result) *AllAgentsError {
	e := &AllAgentsError{Counts: make(map[llm.ErrorKind]int)}
	for _, r := range results {
		if r.Completed() {
			continue
		}
		e.Attempted++
		kind := llm.ErrorKindUnknown
		if r.Err != nil {
			kind = r.Err.Kind
		}
		e.Counts[kind]++
	}
	return e
}

func (e *AllAgentsError) Error() string {
	kinds := make([]string, 0, len(e.Counts))
	for k := range e.Counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, e.Counts[llm.ErrorKind(k)]))
	}
	return fmt.Sprintf("all %d agents failed (%s)", e.Attempted, strings.Join(parts, ", "))
}
