// Package genesis maintains access to the genesis file and the chain
// parameters it carries.
package genesis

import (
	"encoding/json"
	"os"
	"time"
)

// Genesis represents the genesis file. Everything in here is consensus
// policy: two nodes must load the identical file to agree on the chain.
type Genesis struct {
	Date            time.Time         `json:"date"`
	ChainID         uint16            `json:"chain_id"`          // Unique id for this chain, signed into every transaction.
	TransPerBlock   uint16            `json:"trans_per_block"`   // Maximum number of transactions that can be in a block.
	StartingBits    uint32            `json:"starting_bits"`     // Compact representation of the initial difficulty target.
	TargetBlockTime uint32            `json:"target_block_time"` // Seconds the network aims for between blocks.
	RetargetWindow  uint16            `json:"retarget_window"`   // Number of blocks between difficulty retargets. 1 retargets continuously.
	MiningReward    uint64            `json:"mining_reward"`     // Base reward for mining a block, halved every HalvingInterval blocks.
	HalvingInterval uint64            `json:"halving_interval"`  // Blocks between reward halvings. 0 disables halving.
	GasPrice        uint64            `json:"gas_price"`         // Fee paid for each unit of gas consumed by a transaction.
	Balances        map[string]uint64 `json:"balances"`          // Starting account balances for founders of the chain.

	// Starting unspent outputs per owner, one output for each listed
	// value. Seeded under deterministic genesis outpoints at height 0.
	UTXOBalances map[string][]uint64 `json:"utxo_balances,omitempty"`

	// Policy knobs. These bound the cost of adversarial input and are
	// tunable, not derived from an invariant.
	MaxFutureDriftSeconds uint32 `json:"max_future_drift_seconds"` // How far ahead of local time a block timestamp may be.
	MaxReorgDepth         uint16 `json:"max_reorg_depth"`          // Deepest reorganization this node will perform.
	CheckpointInterval    uint64 `json:"checkpoint_interval"`      // Blocks between ledger snapshots.
	OrphanTTLSeconds      uint32 `json:"orphan_ttl_seconds"`       // How long an orphan block is held waiting for its parent.
	OrphanPoolSize        uint16 `json:"orphan_pool_size"`         // Maximum orphan blocks held at once.

	// Mempool admission policy.
	MinFeeRate       uint64 `json:"min_fee_rate"`         // Floor in fee units per byte for mempool admission.
	PoolMaxTrans     uint32 `json:"pool_max_trans"`       // Maximum entries in the mempool.
	PoolMaxPerSender uint16 `json:"pool_max_per_sender"`  // Maximum pending entries per sender.
	NonceGapWindow   uint16 `json:"nonce_gap_window"`     // How far ahead of the expected nonce a transaction may be queued.
	BanCooldownSecs  uint32 `json:"ban_cooldown_seconds"` // Cool-down applied to senders of repeated invalid transactions.
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// Save writes the genesis file to the specified path. This is used by
// tooling that bootstraps a new chain.
func (g Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// BlockReward returns the mining reward scheduled for the specified block
// height, applying the halving schedule.
func (g Genesis) BlockReward(height uint64) uint64 {
	if g.HalvingInterval == 0 {
		return g.MiningReward
	}

	halvings := height / g.HalvingInterval
	if halvings >= 64 {
		return 0
	}

	return g.MiningReward >> halvings
}
