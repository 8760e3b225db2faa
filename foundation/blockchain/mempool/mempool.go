// Package mempool maintains the admission-controlled pool of valid, not
// yet mined transactions. Admission enforces a fee-rate floor, per-sender
// caps, and cool-downs for repeat offenders; capacity pressure evicts the
// lowest fee-rate entries first.
package mempool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/argonchain/argon/foundation/blockchain/database"
	"github.com/argonchain/argon/foundation/blockchain/mempool/selector"
)

// Set of mempool admission errors.
var (
	ErrFeeTooLow    = errors.New("fee rate below the configured floor")
	ErrSenderLimit  = errors.New("sender has too many pending transactions")
	ErrSenderBanned = errors.New("sender is in an invalid-transaction cool-down")
	ErrPoolFull     = errors.New("mempool is full and the transaction does not pay enough to displace an entry")
)

// banStrikes is how many invalid submissions trigger the cool-down.
const banStrikes = 3

// =============================================================================

// Config represents the policy knobs for the pool.
type Config struct {
	MaxTrans     uint32        // Maximum entries held. 0 means unbounded.
	MaxPerSender uint16        // Maximum pending entries per sender. 0 means unbounded.
	MinFeeRate   uint64        // Admission floor in fee units per byte.
	BanCooldown  time.Duration // Cool-down applied after repeated invalid submissions.
	Strategy     string        // Selection strategy name.
}

// Entry represents a transaction held by the pool together with the facts
// admission and selection need.
type Entry struct {
	Tx        database.BlockTx
	Sender    database.AccountID
	Fee       uint64
	FeeRate   uint64 // Fee units per byte of serialized transaction.
	Arrived   time.Time
	Future    bool   // Held for a future nonce, not selectable until the gap closes.
	Version   uint64 // Ledger state version the entry was validated against.
	seq       uint64
}

// Mempool represents a cache of transactions organized by sender with
// admission control and fee-rate ordering.
type Mempool struct {
	mu       sync.RWMutex
	pool     map[string]Entry
	reserved map[database.Outpoint]string // Input outpoints of held entries, by pool key.
	bans     map[database.AccountID]ban
	seq      uint64
	cfg      Config
	selectFn selector.Func
}

// ban tracks repeated invalid submissions from a sender.
type ban struct {
	strikes int
	until   time.Time
}

// New constructs a new mempool using the default selection strategy.
func New(cfg Config) (*Mempool, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = selector.StrategyFeeRate
	}

	selectFn, err := selector.Retrieve(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	mp := Mempool{
		pool:     make(map[string]Entry),
		reserved: make(map[database.Outpoint]string),
		bans:     make(map[database.AccountID]ban),
		cfg:      cfg,
		selectFn: selectFn,
	}

	return &mp, nil
}

// Count returns the current number of selectable transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	var count int
	for _, entry := range mp.pool {
		if !entry.Future {
			count++
		}
	}

	return count
}

// CountAll returns every held entry including future-nonce ones.
func (mp *Mempool) CountAll() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// =============================================================================

// Upsert adds or replaces a transaction in the mempool after checking the
// admission policy. The fee is the miner fee reported by stateful
// verification; version is the ledger state version it was verified
// against; future marks a nonce-gapped entry held for later. An input
// outpoint already reserved by a different held transaction is refused,
// so the pool never holds two conflicting spends and selection is
// conflict-free.
func (mp *Mempool) Upsert(tx database.BlockTx, fee uint64, version uint64, future bool) (int, error) {
	sender, err := tx.FromAccount()
	if err != nil {
		return 0, err
	}

	size := tx.Size()
	if size == 0 {
		return 0, errors.New("transaction has no serializable form")
	}
	feeRate := fee / uint64(size)

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if b, exists := mp.bans[sender]; exists && time.Now().Before(b.until) {
		return 0, ErrSenderBanned
	}

	if feeRate < mp.cfg.MinFeeRate {
		return 0, fmt.Errorf("%w: rate %d, floor %d", ErrFeeTooLow, feeRate, mp.cfg.MinFeeRate)
	}

	key := mapKey(tx, sender)
	_, replacing := mp.pool[key]

	for _, op := range tx.Inputs {
		if holder, exists := mp.reserved[op]; exists && holder != key {
			return 0, fmt.Errorf("input %s is spent by a pending transaction: %w", op, database.ErrMissingOutpoint)
		}
	}

	if !replacing && mp.cfg.MaxPerSender > 0 && mp.senderCount(sender) >= int(mp.cfg.MaxPerSender) {
		return 0, ErrSenderLimit
	}

	// Under capacity pressure evict the globally lowest fee-rate entry,
	// and with it any entries that depend on it for nonce ordering. If the
	// newcomer itself is the lowest bidder, it is the one rejected.
	if !replacing && mp.cfg.MaxTrans > 0 {
		for len(mp.pool) >= int(mp.cfg.MaxTrans) {
			victim, ok := mp.lowestFeeRate()
			if !ok || victim.FeeRate >= feeRate {
				return 0, ErrPoolFull
			}
			mp.evict(victim)
		}
	}

	mp.seq++
	mp.pool[key] = Entry{
		Tx:      tx,
		Sender:  sender,
		Fee:     fee,
		FeeRate: feeRate,
		Arrived: time.Now(),
		Future:  future,
		Version: version,
		seq:     mp.seq,
	}

	for _, op := range tx.Inputs {
		mp.reserved[op] = key
	}

	return len(mp.pool), nil
}

// Delete removes a transaction from the mempool.
func (mp *Mempool) Delete(tx database.BlockTx) error {
	sender, err := tx.FromAccount()
	if err != nil {
		return err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	key := mapKey(tx, sender)
	if entry, exists := mp.pool[key]; exists {
		mp.release(entry)
		delete(mp.pool, key)
	}

	return nil
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]Entry)
	mp.reserved = make(map[database.Outpoint]string)
}

// =============================================================================

// PickBest uses the configured selection strategy to return the next set
// of transactions for a block template. Future-nonce entries are never
// selected. Passing -1 returns everything selectable.
func (mp *Mempool) PickBest(howMany int) []database.BlockTx {
	grouped := make(map[database.AccountID][]selector.Entry)

	mp.mu.RLock()
	{
		for _, entry := range mp.pool {
			if entry.Future {
				continue
			}
			grouped[entry.Sender] = append(grouped[entry.Sender], selector.Entry{
				Tx:      entry.Tx,
				FeeRate: entry.FeeRate,
				Seq:     entry.seq,
			})
		}
	}
	mp.mu.RUnlock()

	return mp.selectFn(grouped, howMany)
}

// Copy returns every entry currently held, for inspection APIs.
func (mp *Mempool) Copy() []Entry {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	entries := make([]Entry, 0, len(mp.pool))
	for _, entry := range mp.pool {
		entries = append(entries, entry)
	}

	return entries
}

// =============================================================================

// Revalidate runs the specified verification function over every entry and
// reconciles the pool with the result: invalid entries are dropped, future
// entries whose gap has closed become selectable, and entries that fell
// back into a gap are re-flagged. Called after every applied or reverted
// block since nonce assumptions may have changed.
func (mp *Mempool) Revalidate(version uint64, verify func(tx database.BlockTx) database.VerifyResult) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for key, entry := range mp.pool {
		vr := verify(entry.Tx)

		switch vr.Status {
		case database.StatusValid:
			entry.Future = false
			entry.Fee = vr.Fee
			entry.Version = version
			mp.pool[key] = entry

		case database.StatusFutureNonce:
			entry.Future = true
			entry.Version = version
			mp.pool[key] = entry

		default:
			mp.release(entry)
			delete(mp.pool, key)
		}
	}
}

// RegisterInvalid records an invalid submission from a sender. Repeat
// offenders earn a cool-down during which their submissions are refused.
func (mp *Mempool) RegisterInvalid(sender database.AccountID) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	b := mp.bans[sender]
	b.strikes++
	if b.strikes >= banStrikes {
		b.until = time.Now().Add(mp.cfg.BanCooldown)
		b.strikes = 0
	}
	mp.bans[sender] = b
}

// IsBanned reports whether a sender is inside the cool-down window.
func (mp *Mempool) IsBanned(sender database.AccountID) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	b, exists := mp.bans[sender]
	return exists && time.Now().Before(b.until)
}

// =============================================================================

// senderCount returns the pending entries for a sender. Callers must hold
// at least the read lock.
func (mp *Mempool) senderCount(sender database.AccountID) int {
	var count int
	for _, entry := range mp.pool {
		if entry.Sender == sender {
			count++
		}
	}

	return count
}

// lowestFeeRate finds the entry paying the lowest fee rate, preferring the
// youngest of equals so older entries keep their place. Callers must hold
// the write lock.
func (mp *Mempool) lowestFeeRate() (Entry, bool) {
	var victim Entry
	var found bool

	for _, entry := range mp.pool {
		if !found || entry.FeeRate < victim.FeeRate ||
			(entry.FeeRate == victim.FeeRate && entry.seq > victim.seq) {
			victim = entry
			found = true
		}
	}

	return victim, found
}

// evict removes an entry and, for account senders, every entry of the same
// sender with a higher nonce: those depend on the victim for nonce
// ordering and could never be mined without it. Callers must hold the
// write lock.
func (mp *Mempool) evict(victim Entry) {
	mp.release(victim)
	delete(mp.pool, mapKey(victim.Tx, victim.Sender))

	if victim.Tx.Kind != database.KindAccount {
		return
	}

	for key, entry := range mp.pool {
		if entry.Sender == victim.Sender &&
			entry.Tx.Kind == database.KindAccount &&
			entry.Tx.Nonce > victim.Tx.Nonce {
			delete(mp.pool, key)
		}
	}
}

// release frees the input outpoints a removed entry had reserved. Callers
// must hold the write lock.
func (mp *Mempool) release(entry Entry) {
	for _, op := range entry.Tx.Inputs {
		delete(mp.reserved, op)
	}
}

// mapKey is used to generate the map key: sender and nonce for account
// transactions so a resubmission replaces, transaction id for the rest.
func mapKey(tx database.BlockTx, sender database.AccountID) string {
	if tx.Kind == database.KindAccount {
		return fmt.Sprintf("%s:%d", sender, tx.Nonce)
	}

	return tx.TxID()
}
