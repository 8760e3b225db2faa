package state

import (
	"fmt"
	"math/big"

	"github.com/argonchain/argon/foundation/blockchain/database"
	"github.com/argonchain/argon/foundation/blockchain/signature"
)

// performReorg switches the canonical chain to the branch ending at the
// specified record. Reverts run strictly before any new-branch apply, the
// whole operation is bounded by the reorg depth limit and the checkpoint
// floor, and a failure to apply the new branch rolls the old one back.
// Transactions mined only on the old branch go back to the mempool.
// Callers must hold the chain lock.
func (s *State) performReorg(tipRec *branchRecord) (int, error) {
	newBlocks, ancestorHeight, err := s.findBranchPoint(tipRec.block)
	if err != nil {
		return 0, err
	}

	tipHeight := s.db.LatestBlock().Header.Height
	depth := int(tipHeight - ancestorHeight)

	s.evHandler("state: performReorg: depth[%d] ancestor[%d] newTip[%s]", depth, ancestorHeight, tipRec.block.Hash())

	if depth > int(s.genesis.MaxReorgDepth) {
		return 0, fmt.Errorf("%w: depth %d, max %d", ErrReorgTooDeep, depth, s.genesis.MaxReorgDepth)
	}

	if ancestorHeight < s.checkpoints.Floor() {
		return 0, fmt.Errorf("%w: ancestor %d, floor %d", ErrBelowCheckpoint, ancestorHeight, s.checkpoints.Floor())
	}

	// Collect the canonical blocks to revert, tip first, and refuse the
	// whole reorg up front if any of them is missing revert data.
	oldBlocks, err := s.revertList(ancestorHeight)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrReorgTooDeep, err)
	}

	// Revert strictly before any new-branch apply.
	var revertedTxs []database.BlockTx
	for _, rec := range oldBlocks {
		if err := s.db.RevertBlock(rec.block, rec.delta); err != nil {
			return 0, fmt.Errorf("revert block %d: %w", rec.block.Header.Height, err)
		}
		rec.delta = nil
		revertedTxs = append(revertedTxs, rec.block.Trans.Values()...)

		s.canonicalTip = rec.block.Header.PrevBlockHash
	}

	if err := s.db.Truncate(ancestorHeight + 1); err != nil {
		return 0, fmt.Errorf("truncate storage: %w", err)
	}
	s.resetLatestBlock(ancestorHeight)

	// Apply the new branch in chain order. Stateful transaction validation
	// happens here: a block that passed structural checks as a side block
	// can still carry a double spend.
	for i, block := range newBlocks {
		rec := s.recordFor(block, tipRec)

		if err := s.extendCanonical(rec); err != nil {
			s.rollbackReorg(newBlocks[:i], oldBlocks, ancestorHeight)
			return 0, fmt.Errorf("new branch block %d: %w", block.Header.Height, err)
		}
	}

	s.reinjectTransactions(revertedTxs)

	return depth, nil
}

// findBranchPoint walks the new branch back to the first block that is on
// the canonical chain, returning the new-branch blocks in chain order and
// the common ancestor height. Callers must hold the chain lock.
func (s *State) findBranchPoint(tip database.Block) ([]database.Block, uint64, error) {
	newBlocks := []database.Block{tip}

	cursor := tip.Header.PrevBlockHash
	for {
		if cursor == signature.ZeroHash {
			return newBlocks, 0, nil
		}

		rec, exists := s.index[cursor]
		if !exists {
			return nil, 0, fmt.Errorf("branch block %s is not indexed", cursor)
		}

		// On the canonical chain the stored block at this height has this
		// exact hash.
		stored, err := s.db.GetBlock(rec.block.Header.Height)
		if err == nil && stored.Hash() == cursor {
			return newBlocks, rec.block.Header.Height, nil
		}

		newBlocks = append([]database.Block{rec.block}, newBlocks...)
		cursor = rec.block.Header.PrevBlockHash
	}
}

// revertList returns the canonical records above the ancestor height, tip
// first, verifying each carries revert data. Callers must hold the chain
// lock.
func (s *State) revertList(ancestorHeight uint64) ([]*branchRecord, error) {
	var records []*branchRecord

	cursor := s.canonicalTip
	for cursor != signature.ZeroHash {
		rec, exists := s.index[cursor]
		if !exists || rec.block.Header.Height <= ancestorHeight {
			break
		}

		if rec.delta == nil {
			return nil, fmt.Errorf("no revert data for block %d", rec.block.Header.Height)
		}

		records = append(records, rec)
		cursor = rec.block.Header.PrevBlockHash
	}

	return records, nil
}

// recordFor returns the index record for a new-branch block, reusing the
// record built during side-block acceptance when one exists. Callers must
// hold the chain lock.
func (s *State) recordFor(block database.Block, tipRec *branchRecord) *branchRecord {
	blockHash := block.Hash()

	if blockHash == tipRec.block.Hash() {
		return tipRec
	}
	if rec, exists := s.index[blockHash]; exists {
		return rec
	}

	parentWork := big.NewInt(0)
	if parentRec, exists := s.lookupRecord(block.Header.PrevBlockHash); exists {
		parentWork = parentRec.cumWork
	}

	return &branchRecord{
		block:   block,
		cumWork: new(big.Int).Add(parentWork, block.Work()),
	}
}

// rollbackReorg restores the old canonical branch after the new branch
// failed to apply. The old blocks validated once already, so a failure
// here means the ledger or store is corrupt and panicking beats running a
// node with a broken chain. Callers must hold the chain lock.
func (s *State) rollbackReorg(applied []database.Block, oldBlocks []*branchRecord, ancestorHeight uint64) {
	s.evHandler("state: rollbackReorg: restoring %d blocks above height %d", len(oldBlocks), ancestorHeight)

	// Undo whatever part of the new branch made it in, newest first.
	for i := len(applied) - 1; i >= 0; i-- {
		rec, exists := s.index[applied[i].Hash()]
		if !exists || rec.delta == nil {
			panic(fmt.Sprintf("reorg rollback: no revert data for applied block %d", applied[i].Header.Height))
		}
		if err := s.db.RevertBlock(rec.block, rec.delta); err != nil {
			panic(fmt.Sprintf("reorg rollback: revert block %d: %s", rec.block.Header.Height, err))
		}
		rec.delta = nil
	}

	if err := s.db.Truncate(ancestorHeight + 1); err != nil {
		panic(fmt.Sprintf("reorg rollback: truncate: %s", err))
	}
	s.resetLatestBlock(ancestorHeight)
	s.canonicalTip = s.hashAtCanonicalHeight(ancestorHeight)

	// Re-apply the old branch in chain order. oldBlocks is tip first.
	for i := len(oldBlocks) - 1; i >= 0; i-- {
		rec := oldBlocks[i]

		delta, err := s.db.ApplyBlock(rec.block)
		if err != nil {
			panic(fmt.Sprintf("reorg rollback: re-apply block %d: %s", rec.block.Header.Height, err))
		}
		rec.delta = delta

		if err := s.db.Write(rec.block); err != nil {
			panic(fmt.Sprintf("reorg rollback: re-write block %d: %s", rec.block.Header.Height, err))
		}

		s.db.UpdateLatestBlock(rec.block)
		s.canonicalTip = rec.block.Hash()
	}
}

// resetLatestBlock points the ledger's latest block at the canonical block
// for the specified height after a truncate. Callers must hold the chain
// lock.
func (s *State) resetLatestBlock(height uint64) {
	if height == 0 {
		s.db.UpdateLatestBlock(database.Block{})
		return
	}

	if block, err := s.db.GetBlock(height); err == nil {
		s.db.UpdateLatestBlock(block)
	}
}

// hashAtCanonicalHeight returns the canonical block hash at a height, or
// the zero hash for height 0.
func (s *State) hashAtCanonicalHeight(height uint64) string {
	if height == 0 {
		return signature.ZeroHash
	}

	block, err := s.db.GetBlock(height)
	if err != nil {
		return signature.ZeroHash
	}

	return block.Hash()
}

// reinjectTransactions returns transactions mined only on the abandoned
// branch to the mempool so they are not lost. Transactions also mined on
// the new branch were already removed during apply. Callers must hold the
// chain lock.
func (s *State) reinjectTransactions(revertedTxs []database.BlockTx) {
	version := s.db.StateVersion()

	for _, tx := range revertedTxs {
		vr := s.db.VerifyTransaction(tx, s.genesis.NonceGapWindow)

		switch vr.Status {
		case database.StatusValid:
			if _, err := s.mempool.Upsert(tx, vr.Fee, version, false); err != nil {
				s.evHandler("state: reinjectTransactions: WARNING: tx[%s]: %s", tx, err)
			}
		case database.StatusFutureNonce:
			if _, err := s.mempool.Upsert(tx, estimateFee(tx), version, true); err != nil {
				s.evHandler("state: reinjectTransactions: WARNING: tx[%s]: %s", tx, err)
			}
		}
	}
}
