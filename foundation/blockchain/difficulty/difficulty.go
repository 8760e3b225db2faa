// Package difficulty implements the proof of work target arithmetic: the
// compact bits representation, the work a block represents, and the clamped
// retargeting rule. Everything in here is pure integer arithmetic so any
// two nodes given the same timestamp history compute the identical target.
package difficulty

import (
	"math/big"
	"sort"
)

// MedianTimeBlocks is the number of previous blocks the timestamp median
// is computed over when validating a block's timestamp.
const MedianTimeBlocks = 11

// retargetClamp bounds the adjustment factor per retarget period to
// [1/retargetClamp, retargetClamp] so a single outlier timestamp cannot
// swing the target.
const retargetClamp = 4

// oneLsh256 is 1 shifted left 256 bits, used for work calculation.
var oneLsh256 = new(big.Int).Lsh(big.NewInt(1), 256)

// =============================================================================

// CompactToBig converts the compact representation used in block headers to
// the full 256 bit target it represents. The compact format is the one the
// Bitcoin lineage uses: a mantissa in the low 23 bits and an exponent in
// the high byte.
func CompactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	isNegative := compact&0x00800000 != 0
	exponent := uint(compact >> 24)

	var n *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		n = big.NewInt(int64(mantissa))
	} else {
		n = big.NewInt(int64(mantissa))
		n.Lsh(n, 8*(exponent-3))
	}

	if isNegative {
		n = n.Neg(n)
	}

	return n
}

// BigToCompact converts a 256 bit target to its compact representation.
// The conversion is lossy in the low bits, which is fine: only the compact
// form is consensus-relevant.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	var mantissa uint32
	exponent := uint(len(n.Bytes()))
	if exponent <= 3 {
		mantissa = uint32(n.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		tn := new(big.Int).Set(n)
		mantissa = uint32(tn.Rsh(tn, 8*(exponent-3)).Bits()[0])
	}

	// A mantissa with the sign bit set must be shifted down a byte with
	// the exponent bumped to compensate.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := uint32(exponent<<24) | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}

	return compact
}

// CalcWork returns the chain work a block with the specified compact target
// represents: 2^256 / (target + 1). A lower target is harder to hit and
// therefore represents more work.
func CalcWork(compact uint32) *big.Int {
	target := CompactToBig(compact)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}

	denominator := new(big.Int).Add(target, big.NewInt(1))
	return new(big.Int).Div(oneLsh256, denominator)
}

// HashMeetsTarget reports whether the hex encoded block hash, interpreted
// as a 256 bit integer, satisfies the compact target.
func HashMeetsTarget(hexHash string, compact uint32) bool {
	hashInt, ok := new(big.Int).SetString(trimHexPrefix(hexHash), 16)
	if !ok {
		return false
	}

	return hashInt.Cmp(CompactToBig(compact)) <= 0
}

// =============================================================================

// Retarget computes the compact target for the next retarget period from
// the actual elapsed seconds over the closing window versus the expected
// seconds. The adjustment factor is clamped to [1/4, 4] and the result
// never exceeds limitBits, the easiest target the chain allows.
func Retarget(currentBits uint32, actualSeconds int64, expectedSeconds int64, limitBits uint32) uint32 {
	if expectedSeconds <= 0 {
		return currentBits
	}

	// Clamp the elapsed time so one bad timestamp can't swing the target.
	minSeconds := expectedSeconds / retargetClamp
	maxSeconds := expectedSeconds * retargetClamp
	if actualSeconds < minSeconds {
		actualSeconds = minSeconds
	}
	if actualSeconds > maxSeconds {
		actualSeconds = maxSeconds
	}

	// newTarget = oldTarget * actual / expected. Blocks coming too fast
	// shrink the target (harder), too slow grows it (easier).
	newTarget := CompactToBig(currentBits)
	newTarget.Mul(newTarget, big.NewInt(actualSeconds))
	newTarget.Div(newTarget, big.NewInt(expectedSeconds))

	limit := CompactToBig(limitBits)
	if newTarget.Cmp(limit) > 0 {
		newTarget.Set(limit)
	}

	return BigToCompact(newTarget)
}

// MedianTimePast returns the median of the specified timestamps, which are
// expected to be the timestamps of the blocks preceding the one being
// validated, newest last. An empty slice returns zero.
func MedianTimePast(timestamps []uint64) uint64 {
	if len(timestamps) == 0 {
		return 0
	}

	sorted := make([]uint64, len(timestamps))
	copy(sorted, timestamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return sorted[len(sorted)/2]
}

// =============================================================================

func trimHexPrefix(h string) string {
	if len(h) >= 2 && h[0] == '0' && (h[1] == 'x' || h[1] == 'X') {
		return h[2:]
	}

	return h
}
