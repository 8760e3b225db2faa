package state

import (
	"context"

	"github.com/argonchain/argon/foundation/blockchain/database"
)

// Template carries everything an external miner needs to assemble and
// solve the next block.
type Template struct {
	PrevBlockHash string             `json:"prev_block_hash"`
	Height        uint64             `json:"height"`
	Bits          uint32             `json:"bits"`
	MiningReward  uint64             `json:"mining_reward"`
	Trans         []database.BlockTx `json:"trans"`
}

// GetBlockTemplate returns the parent hash, required difficulty, scheduled
// reward, and the best mempool transactions for the next block.
func (s *State) GetBlockTemplate() (Template, error) {
	prevBlock, bits, reward, err := s.mineContext()
	if err != nil {
		return Template{}, err
	}

	return Template{
		PrevBlockHash: prevBlock.Hash(),
		Height:        prevBlock.Header.Height + 1,
		Bits:          bits,
		MiningReward:  reward,
		Trans:         s.mempool.PickBest(int(s.genesis.TransPerBlock)),
	}, nil
}

// SubmitMinedBlock accepts a block solved by an external miner and runs it
// through the same acceptance path as a peer block.
func (s *State) SubmitMinedBlock(block database.Block) (TipChange, error) {
	return s.ProcessProposedBlock(block, "")
}

// =============================================================================

// MineNewBlock attempts to create a new block with a proper hash that can
// become the next block in the chain.
func (s *State) MineNewBlock(ctx context.Context) (database.Block, error) {
	s.evHandler("state: MineNewBlock: MINING: check mempool count")

	// Are there enough transactions in the pool.
	if s.mempool.Count() == 0 {
		return database.Block{}, ErrNoTransactions
	}

	trans := s.mempool.PickBest(int(s.genesis.TransPerBlock))

	prevBlock, bits, reward, err := s.mineContext()
	if err != nil {
		return database.Block{}, err
	}

	s.evHandler("state: MineNewBlock: MINING: perform POW")

	// Attempt to create a new block by solving the POW puzzle. This can be
	// cancelled.
	block, err := database.POW(ctx, database.POWArgs{
		BeneficiaryID: s.beneficiaryID,
		Bits:          bits,
		MiningReward:  reward,
		PrevBlock:     prevBlock,
		Trans:         trans,
		EvHandler:     s.evHandler,
	})
	if err != nil {
		return database.Block{}, err
	}

	// Just check one more time we were not cancelled.
	if ctx.Err() != nil {
		return database.Block{}, ctx.Err()
	}

	s.evHandler("state: MineNewBlock: MINING: accept mined block")

	// Run our own block through the same acceptance path a peer block
	// takes. Another node may have won the race while we were hashing.
	if _, err := s.ProcessProposedBlock(block, ""); err != nil {
		return database.Block{}, err
	}

	return block, nil
}

// mineContext captures the point-in-time chain facts for the next block
// under the chain lock.
func (s *State) mineContext() (database.Block, uint32, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevBlock := s.db.LatestBlock()

	bits, err := s.requiredBits(prevBlock)
	if err != nil {
		return database.Block{}, 0, 0, err
	}

	return prevBlock, bits, s.genesis.BlockReward(prevBlock.Header.Height + 1), nil
}
