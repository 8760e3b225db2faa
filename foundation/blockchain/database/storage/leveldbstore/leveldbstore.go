// Package leveldbstore implements the database.Storage interface on top of
// LevelDB. This is the production backend: a single compacted store
// instead of one file per block.
package leveldbstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/argonchain/argon/foundation/blockchain/database"
)

// blockPrefix namespaces the block records inside the store.
const blockPrefix = "b:"

// LevelDB represents the storage implementation backed by a LevelDB store.
type LevelDB struct {
	db *leveldb.DB
}

// New constructs a LevelDB block store rooted at the specified path.
func New(dbPath string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, err
	}

	return &LevelDB{db: db}, nil
}

// Close releases the underlying store.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

// Write stores the specified block keyed by its height.
func (l *LevelDB) Write(blockData database.BlockData) error {
	data, err := json.Marshal(blockData)
	if err != nil {
		return err
	}

	return l.db.Put(blockKey(blockData.Header.Height), data, nil)
}

// GetBlock returns the block stored at the specified height.
func (l *LevelDB) GetBlock(height uint64) (database.BlockData, error) {
	data, err := l.db.Get(blockKey(height), nil)
	if err != nil {
		return database.BlockData{}, err
	}

	var blockData database.BlockData
	if err := json.Unmarshal(data, &blockData); err != nil {
		return database.BlockData{}, err
	}

	return blockData, nil
}

// Truncate removes block records from the specified height upward. Used by
// a reorganization after the blocks have been reverted from the ledger.
func (l *LevelDB) Truncate(fromHeight uint64) error {
	if fromHeight == 0 {
		return errors.New("cannot truncate height 0")
	}

	batch := new(leveldb.Batch)

	iter := l.db.NewIterator(&util.Range{Start: blockKey(fromHeight)}, nil)
	defer iter.Release()

	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	if err := iter.Error(); err != nil {
		return err
	}

	return l.db.Write(batch, nil)
}

// ForEach returns an iterator to walk through all the blocks starting with
// block height 1.
func (l *LevelDB) ForEach() database.Iterator {
	return &iterator{store: l}
}

// Reset clears every block record from the store.
func (l *LevelDB) Reset() error {
	return l.Truncate(1)
}

// blockKey forms the big-endian height key so lexicographic iteration is
// height order.
func blockKey(height uint64) []byte {
	key := make([]byte, len(blockPrefix)+8)
	copy(key, blockPrefix)
	binary.BigEndian.PutUint64(key[len(blockPrefix):], height)

	return key
}

// =============================================================================

// iterator represents the iteration implementation for walking through the
// stored blocks. This implements the database.Iterator interface.
type iterator struct {
	store   *LevelDB
	current uint64
	eoc     bool
}

// Next retrieves the next block from the store.
func (it *iterator) Next() (database.BlockData, error) {
	if it.eoc {
		return database.BlockData{}, errors.New("end of chain")
	}

	it.current++
	blockData, err := it.store.GetBlock(it.current)
	if errors.Is(err, leveldb.ErrNotFound) {
		it.eoc = true
	}

	return blockData, err
}

// Done returns the end of chain value.
func (it *iterator) Done() bool {
	return it.eoc
}
