// Package memory implements the database.Storage interface with an
// in-memory store. It exists for tests and for running ephemeral nodes.
package memory

import (
	"errors"
	"sync"

	"github.com/argonchain/argon/foundation/blockchain/database"
)

// Memory represents the in-memory storage implementation.
type Memory struct {
	mu     sync.RWMutex
	blocks []database.BlockData
}

// New constructs an in-memory block store.
func New() (*Memory, error) {
	return &Memory{}, nil
}

// Close in this implementation has nothing to do.
func (m *Memory) Close() error {
	return nil
}

// Write appends the specified block to the chain.
func (m *Memory) Write(blockData database.BlockData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if blockData.Header.Height != uint64(len(m.blocks))+1 {
		return errors.New("block height out of sequence")
	}

	m.blocks = append(m.blocks, blockData)
	return nil
}

// GetBlock returns the block at the specified height.
func (m *Memory) GetBlock(height uint64) (database.BlockData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if height == 0 || height > uint64(len(m.blocks)) {
		return database.BlockData{}, errors.New("block does not exist")
	}

	return m.blocks[height-1], nil
}

// Truncate removes blocks from the specified height upward.
func (m *Memory) Truncate(fromHeight uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fromHeight == 0 {
		return errors.New("cannot truncate height 0")
	}

	if fromHeight <= uint64(len(m.blocks)) {
		m.blocks = m.blocks[:fromHeight-1]
	}

	return nil
}

// ForEach returns an iterator to walk through all the blocks starting with
// block height 1.
func (m *Memory) ForEach() database.Iterator {
	return &iterator{memory: m}
}

// Reset clears the store back to empty.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = nil
	return nil
}

// =============================================================================

// iterator represents the iteration implementation for walking through the
// in-memory blocks. This implements the database.Iterator interface.
type iterator struct {
	memory  *Memory
	current uint64
	eoc     bool
}

// Next retrieves the next block in the chain.
func (it *iterator) Next() (database.BlockData, error) {
	if it.eoc {
		return database.BlockData{}, errors.New("end of chain")
	}

	it.current++
	blockData, err := it.memory.GetBlock(it.current)
	if err != nil {
		it.eoc = true
	}

	return blockData, err
}

// Done returns the end of chain value.
func (it *iterator) Done() bool {
	return it.eoc
}
