// Package scoring computes the base workout score and the composite ranking
// score. All arithmetic is unsigned integer with truncating division, in the
// exact order the deployed contracts use, so results match bit for bit.
package scoring

import (
	"sort"

	"github.com/imperfect-abs/abshub/internal/domain"
)

const (
	// BonusPerChainBps is the multi-chain bonus per additional active chain.
	BonusPerChainBps = 1000
	// BpsDenominator is 100% in basis points.
	BpsDenominator = 10000
)

// BaseScore is reps*10 + (accuracy*reps)/10 + streak*25.
func BaseScore(reps, accuracy, streak uint64) uint64 {
	return reps*10 + (accuracy*reps)/10 + streak*25
}

// LocalScore is the base score of an aggregated ledger entry.
func LocalScore(s domain.LocalAbsScore) uint64 {
	return BaseScore(s.TotalReps, s.AverageFormAccuracy, s.BestStreak)
}

// Breakdown is the itemized composite score.
type Breakdown struct {
	Local        uint64 `json:"local"`
	CrossChain   uint64 `json:"cross_chain"`
	ActiveChains uint64 `json:"active_chains"`
	BonusBps     uint64 `json:"bonus_bps"`
	Total        uint64 `json:"total"`
}

// Composite combines the local score with the cross-chain slots:
//
//	sum   = local + Σ slots
//	total = sum + sum*bonusBps/10000
//
// where bonusBps is 1000 per active chain beyond the first, and a chain is
// active when its slot (or the local score) is nonzero.
func Composite(local uint64, slots map[domain.ChainSelector]uint64) Breakdown {
	b := Breakdown{Local: local}

	if local > 0 {
		b.ActiveChains++
	}
	for _, v := range slots {
		b.CrossChain += v
		if v > 0 {
			b.ActiveChains++
		}
	}

	if b.ActiveChains > 1 {
		b.BonusBps = (b.ActiveChains - 1) * BonusPerChainBps
	}

	sum := b.Local + b.CrossChain
	b.Total = sum + sum*b.BonusBps/BpsDenominator
	return b
}

// RunningAverage folds a new value into an average over count samples:
// (avg*count + value) / (count+1), truncating. This is the on-chain update
// rule; it can drift below the exact floor mean because every step truncates.
func RunningAverage(avg, count, value uint64) uint64 {
	return (avg*count + value) / (count + 1)
}

// Rank orders entries by total score, highest first. Equal totals keep
// leaderboard order (earlier position first). Entries with a zero total are
// dropped. When n > 0 at most n entries are returned.
func Rank(entries []domain.LeaderboardEntry, n int) []domain.LeaderboardEntry {
	ranked := make([]domain.LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		if e.TotalScore > 0 {
			ranked = append(ranked, e)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].TotalScore != ranked[j].TotalScore {
			return ranked[i].TotalScore > ranked[j].TotalScore
		}
		return ranked[i].Position < ranked[j].Position
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
