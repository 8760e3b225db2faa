// Package orphan maintains the pool of blocks whose parent is not yet
// known. Orphans wait for their parent to arrive, get promoted back into
// normal validation when it does, and expire on a TTL so a flood of
// unconnectable blocks can't pin memory.
package orphan

import (
	"sync"
	"time"

	"github.com/argonchain/argon/foundation/blockchain/database"
)

// Entry represents an orphaned block waiting on its parent, with the
// source it came from for reputation attribution.
type Entry struct {
	Block    database.Block
	Source   string
	Received time.Time
	Receipts int // How many times this same block was submitted.

	seq uint64
}

// Expired represents an orphan that timed out without its parent showing
// up. Repeated receipts of the same unconnectable block are a signal the
// source is misbehaving.
type Expired struct {
	BlockHash string
	Source    string
	Receipts  int
}

// Pool holds orphan blocks keyed by block hash with a parent hash reverse
// index for fast promotion.
type Pool struct {
	mu       sync.Mutex
	byHash   map[string]Entry
	byParent map[string][]string
	maxSize  int
	ttl      time.Duration
	seq      uint64
}

// New constructs an orphan pool with the specified capacity and TTL.
func New(maxSize int, ttl time.Duration) *Pool {
	return &Pool{
		byHash:   make(map[string]Entry),
		byParent: make(map[string][]string),
		maxSize:  maxSize,
		ttl:      ttl,
	}
}

// Add stores a block whose parent is unknown. A resubmission of a block
// already held bumps its receipt count instead of duplicating it. When the
// pool is at capacity the oldest orphan is dropped to make room.
func (p *Pool) Add(block database.Block, source string) {
	hash := block.Hash()

	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, exists := p.byHash[hash]; exists {
		entry.Receipts++
		p.byHash[hash] = entry
		return
	}

	if p.maxSize > 0 && len(p.byHash) >= p.maxSize {
		p.dropOldest()
	}

	p.seq++
	p.byHash[hash] = Entry{
		Block:    block,
		Source:   source,
		Received: time.Now(),
		Receipts: 1,
		seq:      p.seq,
	}
	p.byParent[block.Header.PrevBlockHash] = append(p.byParent[block.Header.PrevBlockHash], hash)
}

// Contains reports whether the specified block is already held.
func (p *Pool) Contains(blockHash string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, exists := p.byHash[blockHash]
	return exists
}

// Count returns the number of orphans held.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.byHash)
}

// TakeChildren removes and returns every orphan whose parent is the
// specified block. The caller feeds them back through normal validation;
// any of those can in turn unlock further descendants.
func (p *Pool) TakeChildren(parentHash string) []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	hashes := p.byParent[parentHash]
	if len(hashes) == 0 {
		return nil
	}
	delete(p.byParent, parentHash)

	entries := make([]Entry, 0, len(hashes))
	for _, hash := range hashes {
		entry, exists := p.byHash[hash]
		if !exists {
			continue
		}
		delete(p.byHash, hash)
		entries = append(entries, entry)
	}

	return entries
}

// Expire drops every orphan older than the TTL and returns the expirations
// so the caller can report repeat offenders for reputation scoring.
func (p *Pool) Expire(now time.Time) []Expired {
	p.mu.Lock()
	defer p.mu.Unlock()

	var expired []Expired
	for hash, entry := range p.byHash {
		if now.Sub(entry.Received) < p.ttl {
			continue
		}

		p.remove(hash, entry)
		expired = append(expired, Expired{
			BlockHash: hash,
			Source:    entry.Source,
			Receipts:  entry.Receipts,
		})
	}

	return expired
}

// dropOldest removes the orphan that has been waiting the longest. Callers
// must hold the lock.
func (p *Pool) dropOldest() {
	var oldestHash string
	var oldest Entry

	for hash, entry := range p.byHash {
		if oldestHash == "" || entry.seq < oldest.seq {
			oldestHash = hash
			oldest = entry
		}
	}

	if oldestHash != "" {
		p.remove(oldestHash, oldest)
	}
}

// remove deletes an orphan from both indexes. Callers must hold the lock.
func (p *Pool) remove(hash string, entry Entry) {
	delete(p.byHash, hash)

	parent := entry.Block.Header.PrevBlockHash
	siblings := p.byParent[parent]
	for i, sibling := range siblings {
		if sibling == hash {
			p.byParent[parent] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(p.byParent[parent]) == 0 {
		delete(p.byParent, parent)
	}
}
