package learning

import (
	"strings"

	"conveyor/internal/queue"
	"conveyor/internal/textutil"
)

// MergeOptions controls rule deduplication.
type MergeOptions struct {
	// SimilarityThreshold is the minimum token cosine similarity for two
	// rules of the same type to be treated as one.
	SimilarityThreshold float64
	MaxExamples         int
}

// MergeStats reports what a merge changed.
type MergeStats struct {
	RulesAdded  int
	RulesMerged int
	AvoidAdded  int
	PreferAdded int
}

// Merge folds extracted patterns into profile in place.
func Merge(profile *queue.WritingProfile, incoming queue.ExtractedPatterns, opts MergeOptions) MergeStats {
	var stats MergeStats
	profile.Avoid, stats.AvoidAdded = mergeSet(profile.Avoid, incoming.Avoid)
	profile.Prefer, stats.PreferAdded = mergeSet(profile.Prefer, incoming.Prefer)
	for _, rule := range incoming.Rules {
		if idx := findRule(profile.Rules, rule, opts.SimilarityThreshold); idx >= 0 {
			existing := &profile.Rules[idx]
			existing.Weight += rule.Weight
			existing.OccurrenceCount++
			existing.Examples = mergeExamples(existing.Examples, rule.Examples, opts.MaxExamples)
			stats.RulesMerged++
			continue
		}
		rule.Rule = strings.TrimSpace(rule.Rule)
		rule.OccurrenceCount = 1
		rule.Examples = mergeExamples(nil, rule.Examples, opts.MaxExamples)
		profile.Rules = append(profile.Rules, rule)
		stats.RulesAdded++
	}
	return stats
}

// findRule returns the index of the rule that incoming duplicates, or -1.
// An exact normalized match wins over the most similar near-duplicate.
func findRule(rules []queue.WritingRule, incoming queue.WritingRule, threshold float64) int {
	key := textutil.NormalizeRule(incoming.Rule)
	for i, rule := range rules {
		if rule.Type == incoming.Type && textutil.NormalizeRule(rule.Rule) == key {
			return i
		}
	}
	if threshold <= 0 {
		return -1
	}
	best, bestScore := -1, 0.0
	target := textutil.NewFingerprint(incoming.Rule)
	for i, rule := range rules {
		if rule.Type != incoming.Type {
			continue
		}
		score := target.Cosine(textutil.NewFingerprint(rule.Rule))
		if score >= threshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

func mergeSet(existing, incoming []string) ([]string, int) {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, value := range existing {
		seen[textutil.NormalizeRule(value)] = struct{}{}
	}
	added := 0
	for _, value := range incoming {
		value = strings.TrimSpace(value)
		key := textutil.NormalizeRule(value)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		existing = append(existing, value)
		added++
	}
	return existing, added
}

func mergeExamples(existing, incoming []string, limit int) []string {
	merged, _ := mergeSet(existing, incoming)
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
