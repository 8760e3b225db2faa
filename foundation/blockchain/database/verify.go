package database

import (
	"fmt"
)

// Set of statuses a stateful verification can produce.
const (
	StatusValid       = "valid"        // The transaction can be mined against the current state.
	StatusInvalid     = "invalid"      // The transaction can never become valid from here.
	StatusFutureNonce = "future-nonce" // The transaction may become valid once earlier nonces confirm.
)

// VerifyResult is the typed outcome of stateful transaction verification.
type VerifyResult struct {
	Status string
	Fee    uint64 // The fee the miner would collect. Set only for StatusValid.
	Err    error  // The reason. Set for StatusInvalid and StatusFutureNonce.
}

// invalid constructs an invalid result with a formatted reason.
func invalid(format string, args ...any) VerifyResult {
	return VerifyResult{Status: StatusInvalid, Err: fmt.Errorf(format, args...)}
}

// =============================================================================

// VerifyTransaction performs the stateful checks for a transaction against
// the current ledger snapshot: referenced outputs exist and are unspent,
// the signer owns what it spends, amounts balance, and account nonces are
// sequential. Nothing is mutated. An account nonce ahead of the expected
// one by no more than nonceGapWindow reports StatusFutureNonce so the
// caller can queue rather than reject.
func (db *Database) VerifyTransaction(tx BlockTx, nonceGapWindow uint16) VerifyResult {
	db.mu.RLock()
	defer db.mu.RUnlock()

	fromID, err := tx.FromAccount()
	if err != nil {
		return invalid("invalid signature, %s", err)
	}

	if tx.ChainID != db.genesis.ChainID {
		return invalid("wrong chain id, got %d, exp %d", tx.ChainID, db.genesis.ChainID)
	}

	gasFee, err := tx.GasFee()
	if err != nil {
		return invalid("gas fee: %s", err)
	}

	switch tx.Kind {
	case KindAccount:
		return db.verifyAccountTransfer(tx, fromID, gasFee, nonceGapWindow)
	case KindUTXO:
		return db.verifyUTXOTransfer(tx, fromID, gasFee)
	default:
		return invalid("unknown transaction kind %q", tx.Kind)
	}
}

// verifyAccountTransfer checks balance sufficiency and nonce sequencing for
// an account style transaction. Callers must hold at least the read lock.
func (db *Database) verifyAccountTransfer(tx BlockTx, fromID AccountID, gasFee uint64, nonceGapWindow uint16) VerifyResult {
	if fromID == tx.ToID {
		return invalid("sending money to yourself, from %s, to %s", fromID, tx.ToID)
	}

	from := db.accounts[fromID]

	expected := from.Nonce + 1
	switch {
	case tx.Nonce < expected:
		return invalid("nonce already used, current %d, provided %d", from.Nonce, tx.Nonce)

	case tx.Nonce > expected:
		if tx.Nonce-expected > uint64(nonceGapWindow) {
			return invalid("nonce too far in the future, expected %d, provided %d, window %d", expected, tx.Nonce, nonceGapWindow)
		}
		return VerifyResult{
			Status: StatusFutureNonce,
			Err:    fmt.Errorf("nonce ahead of expected, expected %d, provided %d", expected, tx.Nonce),
		}
	}

	total, err := safeAdd(tx.Value, tx.Tip)
	if err != nil {
		return invalid("amount: %s", err)
	}
	if total, err = safeAdd(total, gasFee); err != nil {
		return invalid("amount: %s", err)
	}

	if from.Balance < total {
		return invalid("insufficient funds, bal %d, needed %d", from.Balance, total)
	}

	return VerifyResult{Status: StatusValid, Fee: tx.Tip + gasFee}
}

// verifyUTXOTransfer checks input existence, ownership, and value balance
// for a UTXO style transaction. Callers must hold at least the read lock.
func (db *Database) verifyUTXOTransfer(tx BlockTx, fromID AccountID, gasFee uint64) VerifyResult {
	var sumIn uint64

	for _, op := range tx.Inputs {
		utxo, exists := db.utxos[op]
		if !exists {
			return VerifyResult{Status: StatusInvalid, Err: fmt.Errorf("input %s: %w", op, ErrMissingOutpoint)}
		}

		if utxo.OwnerID != fromID {
			return invalid("input %s is not owned by signer %s", op, fromID)
		}

		var err error
		if sumIn, err = safeAdd(sumIn, utxo.Value); err != nil {
			return invalid("amount: %s", err)
		}
	}

	sumOut, err := sumOutputs(tx.Outputs)
	if err != nil {
		return invalid("amount: %s", err)
	}

	if sumIn < sumOut {
		return invalid("outputs exceed inputs, in %d, out %d", sumIn, sumOut)
	}

	fee := sumIn - sumOut
	if fee < gasFee {
		return invalid("fee does not cover gas, fee %d, gas %d", fee, gasFee)
	}

	return VerifyResult{Status: StatusValid, Fee: fee}
}
