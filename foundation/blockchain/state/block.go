package state

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/argonchain/argon/foundation/blockchain/database"
	"github.com/argonchain/argon/foundation/blockchain/peer"
)

// Set of tip change outcomes block processing can produce.
const (
	TipExtended  = "extended"   // The block extended the canonical chain.
	TipSideBlock = "side-block" // The block was stored on a losing branch.
	TipReorged   = "reorged"    // The block made a competing branch canonical.
)

// TipChange reports what accepting a block did to the canonical chain.
type TipChange struct {
	Status     string
	OldTip     string
	NewTip     string
	ReorgDepth int // Canonical blocks reverted. Zero unless Status is TipReorged.
}

// =============================================================================

// ProcessProposedBlock takes a block received from a peer, validates it
// against the consensus rules, and runs fork choice. The source attributes
// orphans and invalid blocks for reputation scoring.
func (s *State) ProcessProposedBlock(block database.Block, source string) (TipChange, error) {
	s.evHandler("state: ProcessProposedBlock: started: prevBlk[%s]: newBlk[%s]", block.Header.PrevBlockHash, block.Hash())
	defer s.evHandler("state: ProcessProposedBlock: completed: newBlk[%s]", block.Hash())

	change, err := s.acceptBlock(block, source)
	if err != nil {
		return change, err
	}

	// This block may be the missing parent of orphans received earlier.
	s.promoteOrphans(block.Hash())

	// The mined set and possibly the nonce assumptions changed, so mining
	// against the old template must stop before a new operation starts.
	if s.Worker != nil && change.Status != TipSideBlock {
		done := s.Worker.SignalCancelMining()
		done()
	}

	return change, nil
}

// acceptBlock runs validation and fork choice under the chain lock.
func (s *State) acceptBlock(block database.Block, source string) (TipChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blockHash := block.Hash()

	if _, known := s.index[blockHash]; known {
		return TipChange{}, ErrKnownBlock
	}

	// A block whose parent we have never seen cannot be validated yet.
	// Hold it and wait for the parent.
	parentRec, haveParent := s.lookupRecord(block.Header.PrevBlockHash)
	if !haveParent {
		s.orphans.Add(block, source)
		s.evHandler("state: acceptBlock: ORPHAN: blk[%s] waiting on parent[%s]", blockHash, block.Header.PrevBlockHash)
		return TipChange{}, ErrOrphanBlock
	}

	// Validate against the parent's branch, not the canonical chain: a
	// side branch block is held to the same rules.
	if err := s.validateAgainstBranch(block, parentRec.block); err != nil {
		s.reportPeer(source, peer.PenaltyInvalidBlock)
		return TipChange{}, err
	}

	cumWork := new(big.Int).Add(parentRec.cumWork, block.Work())
	rec := &branchRecord{block: block, cumWork: cumWork}

	oldTip := s.canonicalTip

	// Fork choice: most cumulative work wins, lowest hash breaks ties.
	switch {
	case block.Header.PrevBlockHash == s.canonicalTip:
		if err := s.extendCanonical(rec); err != nil {
			s.reportPeer(source, peer.PenaltyInvalidBlock)
			return TipChange{}, err
		}
		return TipChange{Status: TipExtended, OldTip: oldTip, NewTip: blockHash}, nil

	case s.outranksCanonical(cumWork, blockHash):
		depth, err := s.performReorg(rec)
		if err != nil {

			// A valid block refused only by reorg policy stays indexed:
			// a descendant may still win within the bound later.
			if errors.Is(err, ErrReorgTooDeep) || errors.Is(err, ErrBelowCheckpoint) {
				s.index[blockHash] = rec
			}
			return TipChange{}, err
		}
		return TipChange{Status: TipReorged, OldTip: oldTip, NewTip: blockHash, ReorgDepth: depth}, nil

	default:
		s.index[blockHash] = rec
		s.evHandler("state: acceptBlock: SIDE BLOCK: blk[%s] work[%s] canonical[%s]", blockHash, cumWork, s.canonicalWork())
		return TipChange{Status: TipSideBlock, OldTip: oldTip, NewTip: oldTip}, nil
	}
}

// outranksCanonical reports whether a branch with the specified cumulative
// work should replace the canonical chain. Callers must hold the chain
// lock.
func (s *State) outranksCanonical(cumWork *big.Int, blockHash string) bool {
	switch cumWork.Cmp(s.canonicalWork()) {
	case 1:
		return true
	case 0:
		// Equal work: the lexically lowest tip hash wins so every node
		// makes the same choice without coordination.
		return blockHash < s.canonicalTip
	default:
		return false
	}
}

// validateAgainstBranch checks a block against the chain facts of its own
// parent branch. Callers must hold the chain lock.
func (s *State) validateAgainstBranch(block database.Block, parent database.Block) error {
	expectedBits, err := s.requiredBits(parent)
	if err != nil {
		return err
	}

	return block.ValidateBlock(database.ValidateArgs{
		PrevBlock:      parent,
		ExpectedBits:   expectedBits,
		ExpectedReward: s.genesis.BlockReward(block.Header.Height),
		MedianTimePast: s.medianTimePast(parent),
		LocalTime:      uint64(time.Now().UTC().Unix()),
		MaxFutureDrift: s.genesis.MaxFutureDriftSeconds,
		TransPerBlock:  s.genesis.TransPerBlock,
	}, s.evHandler)
}

// extendCanonical applies a block on top of the current canonical tip:
// ledger apply, persist, mempool reconcile, checkpoint if due. Callers
// must hold the chain lock.
func (s *State) extendCanonical(rec *branchRecord) error {
	block := rec.block
	blockHash := block.Hash()

	s.evHandler("state: extendCanonical: blk[%d] hash[%s]", block.Header.Height, blockHash)

	// Stateful validation of every transaction happens inside the apply,
	// all or nothing.
	delta, err := s.db.ApplyBlock(block)
	if err != nil {
		return fmt.Errorf("apply block %d: %w", block.Header.Height, err)
	}
	rec.delta = delta

	if err := s.db.Write(block); err != nil {

		// The ledger moved but the disk write failed. Put the ledger
		// back so memory and disk agree on the chain.
		if revertErr := s.db.RevertBlock(block, delta); revertErr != nil {
			return fmt.Errorf("write failed and revert failed: %v: %w", revertErr, err)
		}
		return err
	}

	s.db.UpdateLatestBlock(block)
	s.index[blockHash] = rec
	s.canonicalTip = blockHash

	s.reconcileMempool(block)

	if s.checkpoints.Due(block.Header.Height) {
		if _, err := s.checkpoints.Snapshot(s.db, block.Header.Height, blockHash); err != nil {
			s.evHandler("state: extendCanonical: WARNING: checkpoint at %d: %s", block.Header.Height, err)
		}
	}

	return nil
}

// reconcileMempool removes the block's transactions from the pool and
// revalidates what is left against the new ledger state. Callers must hold
// the chain lock.
func (s *State) reconcileMempool(block database.Block) {
	for _, tx := range block.Trans.Values() {
		s.mempool.Delete(tx)
	}

	version := s.db.StateVersion()
	s.mempool.Revalidate(version, func(tx database.BlockTx) database.VerifyResult {
		return s.db.VerifyTransaction(tx, s.genesis.NonceGapWindow)
	})
}

// =============================================================================

// promoteOrphans feeds every orphan waiting on the specified block back
// through normal validation. Promotion can cascade when an orphan's child
// is itself orphaned.
func (s *State) promoteOrphans(parentHash string) {
	for _, entry := range s.orphans.TakeChildren(parentHash) {
		s.evHandler("state: promoteOrphans: blk[%s] parent arrived", entry.Block.Hash())

		if _, err := s.ProcessProposedBlock(entry.Block, entry.Source); err != nil {
			s.evHandler("state: promoteOrphans: WARNING: blk[%s]: %s", entry.Block.Hash(), err)
		}
	}
}

// EvictStaleOrphans drops expired orphans and reports repeat senders of
// unconnectable blocks for reputation scoring. Called on a timer by the
// worker.
func (s *State) EvictStaleOrphans() {
	for _, expired := range s.orphans.Expire(time.Now()) {
		s.evHandler("state: EvictStaleOrphans: blk[%s] from[%s] receipts[%d]", expired.BlockHash, expired.Source, expired.Receipts)

		if expired.Receipts > 1 {
			s.reportPeer(expired.Source, peer.PenaltyStaleOrphan)
		}
	}
}

// reportPeer applies a reputation penalty when the source is a known peer.
func (s *State) reportPeer(source string, penalty int) {
	if source == "" || s.knownPeers == nil {
		return
	}

	score := s.knownPeers.Report(peer.New(source), penalty)
	s.evHandler("state: reportPeer: host[%s] penalty[%d] score[%d]", source, penalty, score)
}
