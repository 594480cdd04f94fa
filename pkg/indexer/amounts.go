package indexer

import (
	"math"
	"sort"

	"github.com/verus-network/vrscx/pkg/rpc"
)

const (
	// SatsPerCoin converts whole coins to smallest units.
	SatsPerCoin = 100_000_000
	// coinUnitThreshold: values above it are assumed to already be in
	// smallest units; at or below, in whole coins.
	coinUnitThreshold = 1000
	// AmountCeiling clamps implausible magnitudes produced by known
	// upstream data corruption. Clamped, not rejected: the indexer must
	// make forward progress over an entire history even if one record
	// is suspect.
	AmountCeiling = 100_000_000_000
)

// NormalizeAmount converts a fetched output value to smallest units.
func NormalizeAmount(v float64) uint64 {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	var sats float64
	if v > coinUnitThreshold {
		sats = math.Round(v)
	} else {
		sats = math.Round(v * SatsPerCoin)
	}
	if sats > AmountCeiling {
		return AmountCeiling
	}
	return uint64(sats)
}

// RewardPolicy picks which output of a reward-producing transaction
// counts as income. The default below is an observed daemon behavior,
// not a protocol guarantee, so it stays overridable.
type RewardPolicy func(outputs []rpc.Vout) (rpc.Vout, bool)

// SmallestOutputReward keeps only the smallest output paying the target
// address: reward transactions return the original stake plus the
// reward in the same transaction, and the stake-return output must not
// be counted as income.
func SmallestOutputReward(outputs []rpc.Vout) (rpc.Vout, bool) {
	if len(outputs) == 0 {
		return rpc.Vout{}, false
	}
	sorted := make([]rpc.Vout, len(outputs))
	copy(sorted, outputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })
	return sorted[0], true
}
