// Package database handles the authoritative ledger state for the
// blockchain: account balances and nonces, the set of unspent outputs, and
// the persisted chain of blocks. Block application is atomic and every
// apply has an exact revert.
package database

import (
	"errors"
	"fmt"
	"sync"

	"github.com/argonchain/argon/foundation/blockchain/genesis"
)

// Database manages the account and UTXO state for everyone who has
// transacted on the blockchain. It is the only owner of that state: the
// mempool and fork-choice layers mutate it exclusively through
// ApplyBlock/RevertBlock.
type Database struct {
	mu sync.RWMutex

	genesis     genesis.Genesis
	latestBlock Block
	accounts    map[AccountID]Account
	utxos       map[Outpoint]UnspentOutput
	issued      uint64 // Total supply issued so far: genesis allocations plus mining rewards.
	version     uint64 // Bumped on every apply/revert so the mempool can detect stale validation.

	storage Storage
}

// New constructs a new database, seeds it from the genesis allocations, and
// replays any blocks found in storage.
func New(genesis genesis.Genesis, storage Storage, evHandler func(v string, args ...any)) (*Database, error) {
	db := Database{
		genesis:  genesis,
		accounts: make(map[AccountID]Account),
		utxos:    make(map[Outpoint]UnspentOutput),
		storage:  storage,
	}

	if err := db.seedGenesis(); err != nil {
		return nil, err
	}

	// Replay the persisted chain to rebuild the in-memory ledger. A block
	// on our own disk that fails to apply means the store is corrupt, which
	// is fatal: consensus state must never be partially reconstructed.
	iter := db.storage.ForEach()
	for blockData, err := iter.Next(); !iter.Done(); blockData, err = iter.Next() {
		if err != nil {
			return nil, err
		}

		block, err := ToBlock(blockData)
		if err != nil {
			return nil, err
		}

		evHandler("database: New: replay: blk[%d]", block.Header.Height)

		if _, err := db.ApplyBlock(block); err != nil {
			return nil, fmt.Errorf("corrupt block store at height %d: %w", block.Header.Height, err)
		}

		db.UpdateLatestBlock(block)
	}

	return &db, nil
}

// seedGenesis initializes the account set and the unspent output set from
// the genesis allocations.
func (db *Database) seedGenesis() error {
	var issued uint64

	for accountStr, balance := range db.genesis.Balances {
		accountID, err := ToAccountID(accountStr)
		if err != nil {
			return err
		}
		db.accounts[accountID] = newAccount(accountID, balance)

		if issued, err = safeAdd(issued, balance); err != nil {
			return err
		}
	}

	for ownerStr, values := range db.genesis.UTXOBalances {
		ownerID, err := ToAccountID(ownerStr)
		if err != nil {
			return err
		}

		for i, value := range values {
			db.utxos[GenesisOutpoint(ownerID, uint32(i))] = UnspentOutput{
				OwnerID:   ownerID,
				Value:     value,
				CreatedAt: 0,
			}

			if issued, err = safeAdd(issued, value); err != nil {
				return err
			}
		}
	}

	db.issued = issued
	return nil
}

// Close closes the open block storage.
func (db *Database) Close() {
	db.storage.Close()
}

// Reset re-initializes the database back to the genesis state.
func (db *Database) Reset() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.storage.Reset(); err != nil {
		return err
	}

	db.latestBlock = Block{}
	db.accounts = make(map[AccountID]Account)
	db.utxos = make(map[Outpoint]UnspentOutput)
	db.version++

	return db.seedGenesis()
}

// =============================================================================

// BlockDelta captures everything an applied block changed so the block can
// be reverted exactly. Deltas are held by the fork-choice layer, keyed by
// block hash, for as long as a reorg could need them.
type BlockDelta struct {
	blockHash    string
	spent        map[Outpoint]UnspentOutput
	created      []Outpoint
	accounts     map[AccountID]accountUndo
	issuedBefore uint64
}

// BlockHash returns the hash of the block this delta belongs to.
func (d *BlockDelta) BlockHash() string {
	return d.blockHash
}

// accountUndo records the prior state of a touched account.
type accountUndo struct {
	account Account
	existed bool
}

// newBlockDelta constructs an empty delta for the specified block.
func newBlockDelta(blockHash string, issued uint64) *BlockDelta {
	return &BlockDelta{
		blockHash:    blockHash,
		spent:        make(map[Outpoint]UnspentOutput),
		accounts:     make(map[AccountID]accountUndo),
		issuedBefore: issued,
	}
}

// touchAccount records the prior state of an account the first time the
// block touches it.
func (db *Database) touchAccount(delta *BlockDelta, accountID AccountID) {
	if _, recorded := delta.accounts[accountID]; recorded {
		return
	}

	account, existed := db.accounts[accountID]
	delta.accounts[accountID] = accountUndo{account: account, existed: existed}
}

// =============================================================================

// ApplyBlock consumes the outputs referenced by the block's transactions
// and creates the new ones, updating account balances and nonces, all or
// nothing. The transactions validate and apply sequentially in the order
// the block's author placed them, so a later transaction may spend an
// output created earlier in the same block, and two transactions in one
// block can never spend the same output.
func (db *Database) ApplyBlock(block Block) (*BlockDelta, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	delta := newBlockDelta(block.Hash(), db.issued)

	for _, tx := range block.Trans.Values() {
		if err := db.applyTransaction(block, tx, delta); err != nil {
			db.rollback(delta)
			return nil, fmt.Errorf("tx[%s]: %w", tx, err)
		}
	}

	if err := db.applyMiningReward(block, delta); err != nil {
		db.rollback(delta)
		return nil, err
	}

	db.version++
	return delta, nil
}

// RevertBlock restores the ledger to the state observationally identical to
// the one before the block was applied.
func (db *Database) RevertBlock(block Block, delta *BlockDelta) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if delta == nil || delta.blockHash != block.Hash() {
		return errors.New("delta does not belong to this block")
	}

	db.rollback(delta)
	db.version++

	return nil
}

// rollback undoes every change recorded in the delta. Callers must hold
// the write lock.
func (db *Database) rollback(delta *BlockDelta) {

	// Remove the outputs the block created.
	for _, op := range delta.created {
		delete(db.utxos, op)
	}

	// Restore the outputs the block consumed.
	for op, utxo := range delta.spent {
		db.utxos[op] = utxo
	}

	// Restore the accounts the block touched.
	for accountID, undo := range delta.accounts {
		if undo.existed {
			db.accounts[accountID] = undo.account
			continue
		}
		delete(db.accounts, accountID)
	}

	db.issued = delta.issuedBefore
}

// applyTransaction performs the business logic for applying a single
// transaction to the ledger, recording undo information in the delta.
// Callers must hold the write lock.
func (db *Database) applyTransaction(block Block, tx BlockTx, delta *BlockDelta) error {

	// Capture the from address from the signature of the transaction.
	fromID, err := tx.FromAccount()
	if err != nil {
		return fmt.Errorf("invalid signature, %w", err)
	}

	if tx.ChainID != db.genesis.ChainID {
		return fmt.Errorf("wrong chain id, got %d, exp %d", tx.ChainID, db.genesis.ChainID)
	}

	gasFee, err := tx.GasFee()
	if err != nil {
		return err
	}

	switch tx.Kind {
	case KindAccount:
		return db.applyAccountTransfer(block, tx, fromID, gasFee, delta)
	case KindUTXO:
		return db.applyUTXOTransfer(block, tx, fromID, gasFee, delta)
	default:
		return fmt.Errorf("unknown transaction kind %q", tx.Kind)
	}
}

// applyAccountTransfer moves value between account balances under the
// sender's sequential nonce.
func (db *Database) applyAccountTransfer(block Block, tx BlockTx, fromID AccountID, gasFee uint64, delta *BlockDelta) error {
	if fromID == tx.ToID {
		return fmt.Errorf("sending money to yourself, from %s, to %s", fromID, tx.ToID)
	}

	db.touchAccount(delta, fromID)
	db.touchAccount(delta, tx.ToID)
	db.touchAccount(delta, block.Header.BeneficiaryID)

	from := db.accounts[fromID]
	to := db.accounts[tx.ToID]
	bnfc := db.accounts[block.Header.BeneficiaryID]

	if tx.Nonce != from.Nonce+1 {
		return fmt.Errorf("nonce out of sequence, current %d, provided %d", from.Nonce, tx.Nonce)
	}

	total, err := safeAdd(tx.Value, tx.Tip)
	if err != nil {
		return err
	}
	if total, err = safeAdd(total, gasFee); err != nil {
		return err
	}

	if from.Balance < total {
		return fmt.Errorf("insufficient funds, bal %d, needed %d", from.Balance, total)
	}

	from.Balance -= total

	if to.Balance, err = safeAdd(to.Balance, tx.Value); err != nil {
		return err
	}
	if bnfc.Balance, err = safeAdd(bnfc.Balance, tx.Tip+gasFee); err != nil {
		return err
	}

	// Update the nonce for the next transaction check.
	from.Nonce = tx.Nonce

	from.AccountID = fromID
	to.AccountID = tx.ToID
	bnfc.AccountID = block.Header.BeneficiaryID

	db.accounts[fromID] = from
	db.accounts[tx.ToID] = to
	db.accounts[block.Header.BeneficiaryID] = bnfc

	return nil
}

// applyUTXOTransfer consumes the transaction's input outpoints and creates
// its outputs. The fee, sum(inputs) - sum(outputs), goes to the block's
// beneficiary and is never negative.
func (db *Database) applyUTXOTransfer(block Block, tx BlockTx, fromID AccountID, gasFee uint64, delta *BlockDelta) error {
	var sumIn uint64

	for _, op := range tx.Inputs {
		utxo, exists := db.utxos[op]
		if !exists {
			return fmt.Errorf("input %s: %w", op, ErrMissingOutpoint)
		}

		if utxo.OwnerID != fromID {
			return fmt.Errorf("input %s is not owned by signer %s", op, fromID)
		}

		var err error
		if sumIn, err = safeAdd(sumIn, utxo.Value); err != nil {
			return err
		}

		delta.spent[op] = utxo
		delete(db.utxos, op)
	}

	sumOut, err := sumOutputs(tx.Outputs)
	if err != nil {
		return err
	}

	if sumIn < sumOut {
		return fmt.Errorf("outputs exceed inputs, in %d, out %d", sumIn, sumOut)
	}
	fee := sumIn - sumOut

	if fee < gasFee {
		return fmt.Errorf("fee does not cover gas, fee %d, gas %d", fee, gasFee)
	}

	txID := tx.TxID()
	for i, out := range tx.Outputs {
		op := Outpoint{TxID: txID, Index: uint32(i)}
		db.utxos[op] = UnspentOutput{
			OwnerID:   out.OwnerID,
			Value:     out.Value,
			CreatedAt: block.Header.Height,
		}
		delta.created = append(delta.created, op)
	}

	db.touchAccount(delta, block.Header.BeneficiaryID)
	bnfc := db.accounts[block.Header.BeneficiaryID]
	if bnfc.Balance, err = safeAdd(bnfc.Balance, fee); err != nil {
		return err
	}
	bnfc.AccountID = block.Header.BeneficiaryID
	db.accounts[block.Header.BeneficiaryID] = bnfc

	return nil
}

// applyMiningReward gives the beneficiary the scheduled reward and accounts
// for the newly issued supply. Callers must hold the write lock.
func (db *Database) applyMiningReward(block Block, delta *BlockDelta) error {
	db.touchAccount(delta, block.Header.BeneficiaryID)

	account := db.accounts[block.Header.BeneficiaryID]

	var err error
	if account.Balance, err = safeAdd(account.Balance, block.Header.MiningReward); err != nil {
		return err
	}
	if db.issued, err = safeAdd(db.issued, block.Header.MiningReward); err != nil {
		return err
	}

	account.AccountID = block.Header.BeneficiaryID
	db.accounts[block.Header.BeneficiaryID] = account

	return nil
}

// =============================================================================

// Query retrieves an account from the database.
func (db *Database) Query(accountID AccountID) (Account, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	account, exists := db.accounts[accountID]
	if !exists {
		return Account{}, errors.New("account does not exist")
	}

	return account, nil
}

// CopyAccounts makes a copy of the current accounts in the database.
func (db *Database) CopyAccounts() map[AccountID]Account {
	db.mu.RLock()
	defer db.mu.RUnlock()

	accounts := make(map[AccountID]Account, len(db.accounts))
	for accountID, account := range db.accounts {
		accounts[accountID] = account
	}

	return accounts
}

// Balance aggregates everything spendable by an address: the account
// balance plus the sum of unspent outputs it owns.
func (db *Database) Balance(accountID AccountID) (uint64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	total := db.accounts[accountID].Balance

	var err error
	for _, utxo := range db.utxos {
		if utxo.OwnerID != accountID {
			continue
		}
		if total, err = safeAdd(total, utxo.Value); err != nil {
			return 0, err
		}
	}

	return total, nil
}

// UnspentOutputs returns the outpoints owned by an address.
func (db *Database) UnspentOutputs(accountID AccountID) map[Outpoint]UnspentOutput {
	db.mu.RLock()
	defer db.mu.RUnlock()

	outputs := make(map[Outpoint]UnspentOutput)
	for op, utxo := range db.utxos {
		if utxo.OwnerID == accountID {
			outputs[op] = utxo
		}
	}

	return outputs
}

// GetUTXO retrieves a single unspent output if it exists.
func (db *Database) GetUTXO(op Outpoint) (UnspentOutput, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	utxo, exists := db.utxos[op]
	return utxo, exists
}

// CopyUTXOs makes a copy of the current unspent output set.
func (db *Database) CopyUTXOs() map[Outpoint]UnspentOutput {
	db.mu.RLock()
	defer db.mu.RUnlock()

	utxos := make(map[Outpoint]UnspentOutput, len(db.utxos))
	for op, utxo := range db.utxos {
		utxos[op] = utxo
	}

	return utxos
}

// TotalIssued returns the total supply issued so far.
func (db *Database) TotalIssued() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.issued
}

// TotalSpendable sums every account balance and every unspent output. The
// supply invariant requires this to equal TotalIssued at all times.
func (db *Database) TotalSpendable() (uint64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var total uint64
	var err error

	for _, account := range db.accounts {
		if total, err = safeAdd(total, account.Balance); err != nil {
			return 0, err
		}
	}
	for _, utxo := range db.utxos {
		if total, err = safeAdd(total, utxo.Value); err != nil {
			return 0, err
		}
	}

	return total, nil
}

// StateVersion returns the version counter that is bumped on every block
// apply and revert. The mempool uses it to invalidate stale entries.
func (db *Database) StateVersion() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.version
}

// =============================================================================

// UpdateLatestBlock provides safe access to update the latest block.
func (db *Database) UpdateLatestBlock(block Block) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.latestBlock = block
}

// LatestBlock returns the latest block.
func (db *Database) LatestBlock() Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.latestBlock
}

// Write adds a new block to the persisted chain.
func (db *Database) Write(block Block) error {
	return db.storage.Write(NewBlockData(block))
}

// Truncate removes persisted blocks from the specified height upward. This
// happens only inside a reorganization, after the blocks have been
// reverted from the ledger.
func (db *Database) Truncate(fromHeight uint64) error {
	return db.storage.Truncate(fromHeight)
}

// ForEach returns an iterator to walk through all the blocks starting with
// block height 1.
func (db *Database) ForEach() DatabaseIterator {
	return DatabaseIterator{iterator: db.storage.ForEach()}
}

// GetBlock searches the persisted chain to locate and return the block at
// the specified height.
func (db *Database) GetBlock(height uint64) (Block, error) {
	blockData, err := db.storage.GetBlock(height)
	if err != nil {
		return Block{}, err
	}

	return ToBlock(blockData)
}
