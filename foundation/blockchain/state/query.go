package state

import (
	"errors"
	"fmt"

	"github.com/argonchain/argon/foundation/blockchain/database"
	"github.com/argonchain/argon/foundation/blockchain/mempool"
)

// QueryLatest represents to query the latest block in the chain.
const QueryLatest = ^uint64(0) >> 1

// =============================================================================

// QueryAccount returns a copy of the account from the database.
func (s *State) QueryAccount(accountID database.AccountID) (database.Account, error) {
	return s.db.Query(accountID)
}

// QueryBalance returns the total spendable value for an account: its
// account balance plus the sum of the unspent outputs it owns.
func (s *State) QueryBalance(accountID database.AccountID) (uint64, error) {
	return s.db.Balance(accountID)
}

// QueryUnspentOutputs returns the unspent outputs owned by an account.
func (s *State) QueryUnspentOutputs(accountID database.AccountID) map[database.Outpoint]database.UnspentOutput {
	return s.db.UnspentOutputs(accountID)
}

// QueryMempool returns a copy of the mempool entries.
func (s *State) QueryMempool() []mempool.Entry {
	return s.mempool.Copy()
}

// QueryMempoolLength returns the current length of the mempool.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Count()
}

// =============================================================================

// QueryBlocksByHeight returns the set of canonical blocks based on block
// heights. This function reads the blockchain from disk first.
func (s *State) QueryBlocksByHeight(from uint64, to uint64) []database.Block {
	if from == QueryLatest {
		from = s.db.LatestBlock().Header.Height
		to = from
	}
	if to == QueryLatest {
		to = s.db.LatestBlock().Header.Height
	}

	var out []database.Block
	for i := from; i <= to; i++ {
		block, err := s.db.GetBlock(i)
		if err != nil {
			s.evHandler("state: QueryBlocksByHeight: ERROR: %s", err)
			return nil
		}
		out = append(out, block)
	}

	return out
}

// QueryBlockByHash returns any known block by hash, canonical or not.
func (s *State) QueryBlockByHash(blockHash string) (database.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.index[blockHash]
	if !exists {
		return database.Block{}, errors.New("block not found")
	}

	return rec.block, nil
}

// QueryHeaders returns the canonical block headers for the specified
// height range, for light clients that chain-check headers alone.
func (s *State) QueryHeaders(from uint64, to uint64) ([]database.BlockHeader, error) {
	if to < from {
		return nil, fmt.Errorf("invalid range, from %d, to %d", from, to)
	}

	headers := make([]database.BlockHeader, 0, to-from+1)
	for i := from; i <= to; i++ {
		block, err := s.db.GetBlock(i)
		if err != nil {
			return nil, err
		}
		headers = append(headers, block.Header)
	}

	return headers, nil
}

// MerkleProof is the inclusion proof a light client checks against a
// block header's transaction root.
type MerkleProof struct {
	BlockHash string   `json:"block_hash"`
	TransRoot string   `json:"trans_root"`
	Proof     [][]byte `json:"proof"`
	Order     []int64  `json:"order"`
}

// QueryMerkleProof produces a proof that the specified transaction is
// included in the specified block.
func (s *State) QueryMerkleProof(txID string, blockHash string) (MerkleProof, error) {
	block, err := s.QueryBlockByHash(blockHash)
	if err != nil {
		return MerkleProof{}, err
	}

	for _, tx := range block.Trans.Values() {
		if tx.TxID() != txID {
			continue
		}

		proof, order, err := block.Trans.Proof(tx)
		if err != nil {
			return MerkleProof{}, err
		}

		return MerkleProof{
			BlockHash: blockHash,
			TransRoot: block.Header.TransRoot,
			Proof:     proof,
			Order:     order,
		}, nil
	}

	return MerkleProof{}, fmt.Errorf("transaction %s not in block %s", txID, blockHash)
}

// =============================================================================

// Status is a point-in-time summary of the node's chain view.
type Status struct {
	LatestBlockHash string `json:"latest_block_hash"`
	LatestHeight    uint64 `json:"latest_height"`
	CumulativeWork  string `json:"cumulative_work"`
	KnownBlocks     int    `json:"known_blocks"`
	MempoolCount    int    `json:"mempool_count"`
	OrphanCount     int    `json:"orphan_count"`
	CheckpointFloor uint64 `json:"checkpoint_floor"`
	TotalIssued     uint64 `json:"total_issued"`
}

// QueryStatus returns the chain status for RPC and peer sync.
func (s *State) QueryStatus() Status {
	s.mu.Lock()
	latestHash := s.canonicalTip
	work := s.canonicalWork().String()
	known := len(s.index)
	s.mu.Unlock()

	return Status{
		LatestBlockHash: latestHash,
		LatestHeight:    s.db.LatestBlock().Header.Height,
		CumulativeWork:  work,
		KnownBlocks:     known,
		MempoolCount:    s.mempool.Count(),
		OrphanCount:     s.orphans.Count(),
		CheckpointFloor: s.checkpoints.Floor(),
		TotalIssued:     s.db.TotalIssued(),
	}
}
