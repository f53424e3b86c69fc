package vectordb

import (
	"fmt"
	"strings"
)

// FilterRelevant keeps results with distance <= cutoff, nearest first, at
// most limit of them. A non-positive limit keeps every relevant result.
func FilterRelevant(results []RetrievalResult, cutoff float32, limit int) []RetrievalResult {
	kept := make([]RetrievalResult, 0, len(results))
	for _, r := range results {
		if r.Distance <= cutoff {
			kept = append(kept, r)
		}
	}
	sortByDistance(kept)
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

// FormatTraining renders stored training items as human-readable text.
func FormatTraining(items []TrainingItem) string {
	if len(items) == 0 {
		return "No training data found."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d item(s):\n\n", len(items)))

	for _, item := range items {
		sb.WriteString(fmt.Sprintf("--- %s (%s) ---\n", item.ID, item.Kind))
		if item.Question != "" {
			sb.WriteString(fmt.Sprintf("Question: %s\n", item.Question))
		}
		sb.WriteString(item.Content)
		sb.WriteString("\n\n")
	}

	return sb.String()
}
