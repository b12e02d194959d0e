// Package composer assembles retrieved policy sections into a prompt context
// block that fits a token budget.
package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/policyguard/internal/retrieval"
)

const defaultMaxContextTokens = 4000

const contextHeader = "[Policy Sections]\n"

// Composer formats policy matches for the compliance prompt.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose builds the policy context block from matches, respecting the token
// budget by dropping the lowest-scoring matches first. It returns the block
// and the matches that made it in, highest score first. Sentinel matches are
// formatted like any other so the model sees that nothing was found.
func (c *Composer) Compose(matches []retrieval.Match) (string, []retrieval.Match) {
	if len(matches) == 0 {
		return "", nil
	}

	// Sort matches by score descending.
	sorted := make([]retrieval.Match, len(matches))
	copy(sorted, matches)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	remaining := c.MaxContextTokens - EstimateTokens(contextHeader)

	var sb strings.Builder
	var used []retrieval.Match
	for _, m := range sorted {
		entry := formatMatch(m)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		sb.WriteString(entry)
		used = append(used, m)
		remaining -= tokens
	}

	if len(used) == 0 {
		return "", nil
	}
	return contextHeader + sb.String(), used
}

func formatMatch(m retrieval.Match) string {
	if m.Sentinel {
		return fmt.Sprintf("### %s\n%s\n\n", m.Section, m.Content)
	}
	return fmt.Sprintf("### %s (Source: %s, Similarity: %.2f)\n%s\n\n", m.Section, m.DocumentName, m.Score, m.Content)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
