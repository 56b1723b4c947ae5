package leaderboard

import (
	"sort"

	"github.com/cam3ron2/org-pulse/internal/activity"
	"github.com/cam3ron2/org-pulse/internal/config"
)

// Entry is one ranked leaderboard row.
type Entry struct {
	Rank     int                 `json:"rank"`
	Username string              `json:"username"`
	Score    float64             `json:"score"`
	Totals   activity.UserTotals `json:"totals"`
}

// Scorer computes weighted min-max scores over per-user totals.
type Scorer struct {
	weights config.ScoreConfig
}

// NewScorer creates a scorer with the configured metric weights.
func NewScorer(weights config.ScoreConfig) *Scorer {
	return &Scorer{weights: weights}
}

// metric extracts one scoring dimension from a user's totals.
type metric struct {
	weight float64
	value  func(activity.UserTotals) float64
}

func (s *Scorer) metrics() []metric {
	return []metric{
		{s.weights.WeightIssuesClosed, func(t activity.UserTotals) float64 { return float64(t.IssuesClosed) }},
		{s.weights.WeightCommitCount, func(t activity.UserTotals) float64 { return float64(t.CommitCount) }},
		{s.weights.WeightTotalAdditions, func(t activity.UserTotals) float64 { return float64(t.TotalAdditions) }},
		{s.weights.WeightTotalDeletions, func(t activity.UserTotals) float64 { return float64(t.TotalDeletions) }},
	}
}

// Score computes each user's weighted score. Per metric, values are min-max
// normalized across the batch. A metric with no variance contributes nothing
// when everyone sits at zero, but full weight credit to everyone when the
// shared value is non-zero; a tie at a real number is an achievement, not an
// absence. Single-user batches have no variance anywhere and score 0.
func (s *Scorer) Score(totals map[string]activity.UserTotals) map[string]float64 {
	scores := make(map[string]float64, len(totals))
	for username := range totals {
		scores[username] = 0
	}
	if len(totals) < 2 {
		return scores
	}

	for _, m := range s.metrics() {
		minV, maxV := metricRange(totals, m.value)
		for username, t := range totals {
			value := m.value(t)
			if maxV == minV {
				if maxV != 0 {
					scores[username] += m.weight
				}
				continue
			}
			scores[username] += m.weight * (value - minV) / (maxV - minV)
		}
	}
	return scores
}

// Rank orders users descending by score. Ties keep the input slice's relative
// order and share a rank number; the next distinct score resumes at its
// one-based position.
func (s *Scorer) Rank(usernames []string, totals map[string]activity.UserTotals) []Entry {
	scores := s.Score(totals)

	entries := make([]Entry, 0, len(usernames))
	for _, username := range usernames {
		t, ok := totals[username]
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			Username: username,
			Score:    scores[username],
			Totals:   t,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	for i := range entries {
		if i > 0 && entries[i].Score == entries[i-1].Score {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
	return entries
}

func metricRange(totals map[string]activity.UserTotals, value func(activity.UserTotals) float64) (float64, float64) {
	first := true
	var minV, maxV float64
	for _, t := range totals {
		v := value(t)
		if first {
			minV, maxV = v, v
			first = false
			continue
		}
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	return minV, maxV
}
