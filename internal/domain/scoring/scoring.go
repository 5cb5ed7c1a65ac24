// Package scoring computes competition leaderboards from persisted
// submissions. It is a pure, read-only projection: it can be recomputed at
// any time from the mirror and always produces the same ranking for the
// same inputs.
package scoring

import (
	"sort"

	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/types"
)

// Leaderboard ranks the competition's participants over the qualifying
// submissions. Participants with zero qualifying rows appear with score 0;
// callers decide whether to display them. Submissions from non-participants,
// flagged rows, activity mismatches, and rows outside the inclusive window
// are ignored even if the storage query was broader.
//
// Ranking is descending by score with ties broken by ascending pubkey, a
// stable content-derived order that keeps repeated computations identical.
func Leaderboard(comp *model.Competition, participants []string, subs []model.Submission) []types.Entry {
	totals := make(map[string]*types.Entry, len(participants))
	for _, pk := range participants {
		if _, dup := totals[pk]; dup {
			continue
		}
		totals[pk] = &types.Entry{PubKey: pk}
	}

	for i := range subs {
		s := &subs[i]
		entry, member := totals[s.PubKey]
		if !member || !qualifies(comp, s) {
			continue
		}
		entry.WorkoutCount += s.CountWeight()
		entry.Score += score(comp.Method, s)
	}

	out := make([]types.Entry, 0, len(totals))
	for _, e := range totals {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].PubKey < out[j].PubKey
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func qualifies(comp *model.Competition, s *model.Submission) bool {
	if s.Flagged {
		return false
	}
	if s.Activity != comp.Activity {
		return false
	}
	return s.CreatedAt >= comp.StartTS && s.CreatedAt <= comp.EndTS
}

func score(method model.ScoringMethod, s *model.Submission) float64 {
	switch method {
	case model.ScoreTotalDistance:
		if s.DistanceM != nil {
			return *s.DistanceM
		}
	case model.ScoreTotalDuration:
		if s.DurationS != nil {
			return float64(*s.DurationS)
		}
	case model.ScoreWorkoutCount:
		return float64(s.CountWeight())
	}
	return 0
}
