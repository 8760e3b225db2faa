// Package state is the core API for the blockchain node and implements
// the consensus rules: block acceptance, fork choice, reorganizations,
// and transaction admission. Everything that decides what the canonical
// chain looks like runs through the single chain lock owned here.
package state

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/argonchain/argon/foundation/blockchain/checkpoint"
	"github.com/argonchain/argon/foundation/blockchain/database"
	"github.com/argonchain/argon/foundation/blockchain/genesis"
	"github.com/argonchain/argon/foundation/blockchain/mempool"
	"github.com/argonchain/argon/foundation/blockchain/orphan"
	"github.com/argonchain/argon/foundation/blockchain/peer"
	"github.com/argonchain/argon/foundation/blockchain/signature"
)

// Set of errors the consensus layer reports to its callers.
var (
	ErrKnownBlock      = errors.New("block is already known")
	ErrOrphanBlock     = errors.New("block parent is unknown, held as orphan")
	ErrReorgTooDeep    = errors.New("reorganization exceeds the maximum depth")
	ErrBelowCheckpoint = errors.New("reorganization would revert a checkpointed block")
	ErrNoTransactions  = errors.New("no transactions in mempool")
)

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of persisting blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for mining, peer updates, and transaction sharing.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalCancelMining() (done func())
	SignalShareTx(blockTx database.BlockTx)
}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	BeneficiaryID  database.AccountID
	Host           string
	Genesis        genesis.Genesis
	Storage        database.Storage
	CheckpointPath string
	SelectStrategy string
	KnownPeers     *peer.PeerSet
	EvHandler      EventHandler
}

// branchRecord is one entry in the block index: every block this node has
// validated, canonical or not, keyed by hash in the State. Blocks are
// connected by parent hash lookups into this index, never by pointers.
type branchRecord struct {
	block   database.Block
	cumWork *big.Int

	// delta holds the revert data while the block is canonical. Nil for
	// side blocks and for blocks replayed from storage at startup, which
	// sit below the checkpoint floor and are never reverted.
	delta *database.BlockDelta
}

// State manages the blockchain database and the consensus rules around it.
type State struct {
	mu sync.Mutex

	beneficiaryID database.AccountID
	host          string
	evHandler     EventHandler

	genesis     genesis.Genesis
	db          *database.Database
	mempool     *mempool.Mempool
	orphans     *orphan.Pool
	checkpoints *checkpoint.Manager
	knownPeers  *peer.PeerSet

	index        map[string]*branchRecord
	canonicalTip string

	Worker Worker
}

// New constructs a new blockchain node state for data management.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	// Access the ledger database, replaying any persisted chain.
	db, err := database.New(cfg.Genesis, cfg.Storage, ev)
	if err != nil {
		return nil, err
	}

	// Construct a mempool with the admission policy from genesis.
	mpool, err := mempool.New(mempool.Config{
		MaxTrans:     cfg.Genesis.PoolMaxTrans,
		MaxPerSender: cfg.Genesis.PoolMaxPerSender,
		MinFeeRate:   cfg.Genesis.MinFeeRate,
		BanCooldown:  time.Duration(cfg.Genesis.BanCooldownSecs) * time.Second,
		Strategy:     cfg.SelectStrategy,
	})
	if err != nil {
		return nil, err
	}

	checkpoints, err := checkpoint.New(cfg.CheckpointPath, cfg.Genesis.CheckpointInterval)
	if err != nil {
		return nil, err
	}

	state := State{
		beneficiaryID: cfg.BeneficiaryID,
		host:          cfg.Host,
		evHandler:     ev,

		genesis:     cfg.Genesis,
		db:          db,
		mempool:     mpool,
		orphans:     orphan.New(int(cfg.Genesis.OrphanPoolSize), time.Duration(cfg.Genesis.OrphanTTLSeconds)*time.Second),
		checkpoints: checkpoints,
		knownPeers:  cfg.KnownPeers,

		index:        make(map[string]*branchRecord),
		canonicalTip: signature.ZeroHash,
	}

	// Rebuild the block index from the persisted canonical chain. These
	// records carry no revert data: a restarted node will not reorganize
	// below what it already persisted and checkpointed.
	if err := state.rebuildIndex(); err != nil {
		return nil, err
	}

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &state, nil
}

// rebuildIndex walks the persisted chain and indexes every block with its
// cumulative work so fork choice has a complete view from the start.
func (s *State) rebuildIndex() error {
	cumWork := big.NewInt(0)

	iter := s.db.ForEach()
	for block, err := iter.Next(); !iter.Done(); block, err = iter.Next() {
		if err != nil {
			return err
		}

		cumWork = new(big.Int).Add(cumWork, block.Work())
		s.index[block.Hash()] = &branchRecord{
			block:   block,
			cumWork: cumWork,
		}
		s.canonicalTip = block.Hash()
	}

	return nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {

	// Make sure the database file is properly closed.
	defer func() {
		s.db.Close()
	}()

	// Stop all blockchain writing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	return nil
}

// =============================================================================

// lookupRecord finds a block record in the index. The zero hash resolves to
// the genesis record so height 1 blocks connect like any other. Callers
// must hold the chain lock.
func (s *State) lookupRecord(blockHash string) (*branchRecord, bool) {
	if blockHash == signature.ZeroHash {
		return &branchRecord{cumWork: big.NewInt(0)}, true
	}

	rec, exists := s.index[blockHash]
	return rec, exists
}

// canonicalWork returns the cumulative work of the current canonical tip.
// Callers must hold the chain lock.
func (s *State) canonicalWork() *big.Int {
	rec, exists := s.lookupRecord(s.canonicalTip)
	if !exists {
		return big.NewInt(0)
	}

	return rec.cumWork
}
