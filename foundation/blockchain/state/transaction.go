package state

import (
	"fmt"

	"github.com/argonchain/argon/foundation/blockchain/database"
	"github.com/argonchain/argon/foundation/blockchain/peer"
)

// SubmitWalletTransaction accepts a signed transaction from a wallet for
// mempool inclusion, shares it with the network, and pokes the miner.
func (s *State) SubmitWalletTransaction(signedTx database.SignedTx) error {
	s.evHandler("state: SubmitWalletTransaction: started: tx[%s]", signedTx)
	defer s.evHandler("state: SubmitWalletTransaction: completed")

	tx := database.NewBlockTx(signedTx, s.genesis.GasPrice, gasUnits(signedTx))

	if err := s.admitTransaction(tx, ""); err != nil {
		return err
	}

	if s.Worker != nil {
		s.Worker.SignalShareTx(tx)
		s.Worker.SignalStartMining()
	}

	return nil
}

// SubmitNodeTransaction accepts a transaction relayed by a peer for
// mempool inclusion. The source attributes invalid submissions for
// reputation scoring.
func (s *State) SubmitNodeTransaction(tx database.BlockTx, source string) error {
	s.evHandler("state: SubmitNodeTransaction: started: tx[%s]", tx)
	defer s.evHandler("state: SubmitNodeTransaction: completed")

	if err := s.admitTransaction(tx, source); err != nil {
		return err
	}

	if s.Worker != nil {
		s.Worker.SignalStartMining()
	}

	return nil
}

// =============================================================================

// admitTransaction runs the stateless and stateful checks and, when they
// pass, places the transaction in the mempool. Invalid submissions count
// against the sender and, when relayed, against the relaying peer.
func (s *State) admitTransaction(tx database.BlockTx, source string) error {

	// Stateless checks: signature, chain id, structure. These need no
	// ledger state and fail fast.
	if err := tx.Validate(s.genesis.ChainID); err != nil {
		s.reportPeer(source, peer.PenaltyInvalidTrans)
		return err
	}

	sender, err := tx.FromAccount()
	if err != nil {
		return err
	}

	if s.mempool.IsBanned(sender) {
		return fmt.Errorf("sender %s is in an invalid-transaction cool-down", sender)
	}

	// Stateful checks against the current ledger snapshot.
	vr := s.db.VerifyTransaction(tx, s.genesis.NonceGapWindow)

	switch vr.Status {
	case database.StatusValid:
		if _, err := s.mempool.Upsert(tx, vr.Fee, s.db.StateVersion(), false); err != nil {
			return err
		}
		return nil

	case database.StatusFutureNonce:
		s.evHandler("state: admitTransaction: HOLD: tx[%s]: %s", tx, vr.Err)
		if _, err := s.mempool.Upsert(tx, estimateFee(tx), s.db.StateVersion(), true); err != nil {
			return err
		}
		return nil

	default:
		s.mempool.RegisterInvalid(sender)
		s.reportPeer(source, peer.PenaltyInvalidTrans)
		return vr.Err
	}
}

// gasUnits prices a transaction by its serialized size so bigger
// transactions pay proportionally more gas.
func gasUnits(signedTx database.SignedTx) uint64 {
	tx := database.BlockTx{SignedTx: signedTx}
	return uint64(tx.Size())
}

// estimateFee computes the fee a held future-nonce transaction would pay
// once it becomes minable, for mempool ordering purposes.
func estimateFee(tx database.BlockTx) uint64 {
	gasFee, err := tx.GasFee()
	if err != nil {
		return 0
	}

	return tx.Tip + gasFee
}
