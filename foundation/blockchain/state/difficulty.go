package state

import (
	"fmt"

	"github.com/argonchain/argon/foundation/blockchain/database"
	"github.com/argonchain/argon/foundation/blockchain/difficulty"
)

// branchAncestors returns up to count blocks ending at the specified block,
// newest last, following parent hashes on that block's own branch. Callers
// must hold the chain lock.
func (s *State) branchAncestors(tip database.Block, count int) []database.Block {
	blocks := make([]database.Block, 0, count)

	current := tip
	for len(blocks) < count && current.Header.Height > 0 {
		blocks = append(blocks, current)

		rec, exists := s.lookupRecord(current.Header.PrevBlockHash)
		if !exists {
			break
		}
		current = rec.block
	}

	// Reverse into chain order, oldest first.
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}

	return blocks
}

// requiredBits computes the difficulty target required for the block that
// would follow the specified parent on the parent's branch. Deterministic:
// identical timestamp history yields the identical target on every node.
// Callers must hold the chain lock.
func (s *State) requiredBits(parent database.Block) (uint32, error) {
	window := uint64(s.genesis.RetargetWindow)
	nextHeight := parent.Header.Height + 1

	if window == 0 {
		return s.genesis.StartingBits, nil
	}

	parentBits := parent.Header.Bits
	if parent.Header.Height == 0 {
		parentBits = s.genesis.StartingBits
	}

	// Retarget only on window boundaries. Off-boundary blocks carry the
	// parent's target forward.
	if nextHeight <= window || nextHeight%window != 0 {
		return parentBits, nil
	}

	blocks := s.branchAncestors(parent, int(window))
	if len(blocks) < int(window) {
		return 0, fmt.Errorf("branch too short for retarget at height %d", nextHeight)
	}

	actualSeconds := int64(blocks[len(blocks)-1].Header.TimeStamp) - int64(blocks[0].Header.TimeStamp)
	expectedSeconds := int64(window) * int64(s.genesis.TargetBlockTime)

	return difficulty.Retarget(parentBits, actualSeconds, expectedSeconds, s.genesis.StartingBits), nil
}

// medianTimePast computes the median timestamp of the blocks ending at the
// specified parent on its branch. A new block's timestamp must land after
// this value. Callers must hold the chain lock.
func (s *State) medianTimePast(parent database.Block) uint64 {
	blocks := s.branchAncestors(parent, difficulty.MedianTimeBlocks)
	if len(blocks) == 0 {
		return 0
	}

	timestamps := make([]uint64, len(blocks))
	for i, block := range blocks {
		timestamps[i] = block.Header.TimeStamp
	}

	return difficulty.MedianTimePast(timestamps)
}
