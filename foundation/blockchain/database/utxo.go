package database

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/argonchain/argon/foundation/blockchain/signature"
)

// ErrMissingOutpoint is returned when a transaction spends an output that
// does not exist or is already spent. It signals a double spend or an
// ordering bug.
var ErrMissingOutpoint = errors.New("outpoint does not exist or is already spent")

// ErrAmountOverflow is returned when value arithmetic would overflow. The
// ledger fails closed rather than wrapping.
var ErrAmountOverflow = errors.New("amount overflow")

// =============================================================================

// UnspentOutput represents a spendable output owned exclusively by the
// ledger. It is created when a transaction confirms and destroyed when a
// later confirmed transaction consumes it.
type UnspentOutput struct {
	OwnerID   AccountID `json:"owner"`
	Value     uint64    `json:"value"`
	CreatedAt uint64    `json:"created_at"` // Block height the output was confirmed at.
}

// GenesisOutpoint derives the outpoint of a genesis allocation for the
// specified owner and allocation index. The id hashes only the owner, so
// every node computes the identical seeded output set regardless of map
// iteration order.
func GenesisOutpoint(ownerID AccountID, index uint32) Outpoint {
	txID := signature.Hash(struct {
		Genesis bool      `json:"genesis"`
		Owner   AccountID `json:"owner"`
	}{Genesis: true, Owner: ownerID})

	return Outpoint{TxID: txID, Index: index}
}

// =============================================================================

// safeAdd adds two amounts with overflow detection.
func safeAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrAmountOverflow
	}

	return sum, nil
}

// safeMul multiplies two amounts with overflow detection.
func safeMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrAmountOverflow
	}

	return lo, nil
}

// sumOutputs totals the output values of a transaction with overflow
// detection.
func sumOutputs(outputs []TxOutput) (uint64, error) {
	var total uint64
	for _, out := range outputs {
		var err error
		if total, err = safeAdd(total, out.Value); err != nil {
			return 0, fmt.Errorf("summing outputs: %w", err)
		}
	}

	return total, nil
}
