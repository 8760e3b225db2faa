// Package checkpoint periodically snapshots the ledger state so the node
// has a trusted floor below which reorganizations are refused outright,
// and a starting point for light-client synchronization. Checkpoints are
// immutable once written.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/argonchain/argon/foundation/blockchain/database"
	"github.com/argonchain/argon/foundation/blockchain/signature"
)

// ErrImmutable is returned when a write targets a height that already has
// a checkpoint on disk.
var ErrImmutable = errors.New("checkpoint already exists and cannot be rewritten")

// =============================================================================

// UTXORecord flattens an outpoint/output pair for serialization. A struct
// keyed map does not survive a JSON round trip.
type UTXORecord struct {
	Outpoint database.Outpoint      `json:"outpoint"`
	Output   database.UnspentOutput `json:"output"`
}

// Checkpoint represents a full ledger snapshot anchored to a block.
type Checkpoint struct {
	Height    uint64                                   `json:"height"`
	BlockHash string                                   `json:"block_hash"`
	CreatedAt time.Time                                `json:"created_at"`
	Accounts  map[database.AccountID]database.Account  `json:"accounts"`
	UTXOs     []UTXORecord                             `json:"utxos"`
	Issued    uint64                                   `json:"issued"`
	Digest    string                                   `json:"digest"`
}

// digestInput is the canonical form hashed into the checkpoint digest.
type digestInput struct {
	Height    uint64
	BlockHash string
	Accounts  map[database.AccountID]database.Account
	UTXOs     []UTXORecord
	Issued    uint64
}

// computeDigest hashes the snapshot content so a reader can detect a
// tampered or corrupted checkpoint file.
func computeDigest(c Checkpoint) string {
	return signature.Hash(digestInput{
		Height:    c.Height,
		BlockHash: c.BlockHash,
		Accounts:  c.Accounts,
		UTXOs:     c.UTXOs,
		Issued:    c.Issued,
	})
}

// =============================================================================

// Manager owns the checkpoint store and the snapshot schedule.
type Manager struct {
	mu       sync.RWMutex
	dirPath  string
	interval uint64
	latest   Checkpoint
	haveOne  bool
}

// New constructs a checkpoint manager rooted at the specified directory,
// loading the most recent checkpoint if one exists.
func New(dirPath string, interval uint64) (*Manager, error) {
	if interval == 0 {
		return nil, errors.New("checkpoint interval must be greater than zero")
	}

	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return nil, err
	}

	mgr := Manager{
		dirPath:  dirPath,
		interval: interval,
	}

	latest, found, err := scanLatest(dirPath)
	if err != nil {
		return nil, err
	}
	if found {
		mgr.latest = latest
		mgr.haveOne = true
	}

	return &mgr, nil
}

// Interval returns the configured block interval between snapshots.
func (mgr *Manager) Interval() uint64 {
	return mgr.interval
}

// Due reports whether the specified height is a checkpoint height.
func (mgr *Manager) Due(height uint64) bool {
	return height > 0 && height%mgr.interval == 0
}

// Floor returns the height of the most recent checkpoint. Reorganizations
// must never revert a block at or below this height. Zero means only
// genesis is anchored.
func (mgr *Manager) Floor() uint64 {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	if !mgr.haveOne {
		return 0
	}

	return mgr.latest.Height
}

// Latest returns the most recent checkpoint for light-client bootstrap.
func (mgr *Manager) Latest() (Checkpoint, bool) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.latest, mgr.haveOne
}

// =============================================================================

// Snapshot writes a checkpoint for the specified block from the ledger's
// current state. The caller holds the chain lock, so the ledger cannot
// move under the copy. Writing the same height twice is refused.
func (mgr *Manager) Snapshot(db *database.Database, height uint64, blockHash string) (Checkpoint, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	filePath := mgr.getPath(height)
	if _, err := os.Stat(filePath); err == nil {
		return Checkpoint{}, ErrImmutable
	}

	utxos := db.CopyUTXOs()
	records := make([]UTXORecord, 0, len(utxos))
	for op, out := range utxos {
		records = append(records, UTXORecord{Outpoint: op, Output: out})
	}
	sortRecords(records)

	cp := Checkpoint{
		Height:    height,
		BlockHash: blockHash,
		CreatedAt: time.Now().UTC(),
		Accounts:  db.CopyAccounts(),
		UTXOs:     records,
		Issued:    db.TotalIssued(),
	}
	cp.Digest = computeDigest(cp)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return Checkpoint{}, err
	}

	// Write through a temp file and rename so a crash never leaves a
	// half-written checkpoint looking authoritative.
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return Checkpoint{}, err
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return Checkpoint{}, err
	}

	mgr.latest = cp
	mgr.haveOne = true

	return cp, nil
}

// Load reads and verifies the checkpoint at the specified height.
func (mgr *Manager) Load(height uint64) (Checkpoint, error) {
	return readCheckpoint(mgr.getPath(height))
}

// getPath forms the path to the checkpoint file for the specified height.
func (mgr *Manager) getPath(height uint64) string {
	return path.Join(mgr.dirPath, fmt.Sprintf("%s.json", strconv.FormatUint(height, 10)))
}

// =============================================================================

// sortRecords orders the UTXO records so the digest is deterministic.
func sortRecords(records []UTXORecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i].Outpoint, records[j].Outpoint
		if a.TxID != b.TxID {
			return a.TxID < b.TxID
		}
		return a.Index < b.Index
	})
}

// readCheckpoint reads a checkpoint file and validates its digest.
func readCheckpoint(filePath string) (Checkpoint, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Checkpoint{}, err
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, err
	}

	if cp.Digest != computeDigest(cp) {
		return Checkpoint{}, fmt.Errorf("checkpoint digest mismatch for %s", filePath)
	}

	return cp, nil
}

// scanLatest finds the highest-numbered checkpoint file in the directory.
func scanLatest(dirPath string) (Checkpoint, bool, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return Checkpoint{}, false, err
	}

	var bestHeight uint64
	var found bool

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if path.Ext(name) != ".json" {
			continue
		}
		height, err := strconv.ParseUint(name[:len(name)-len(".json")], 10, 64)
		if err != nil {
			continue
		}
		if !found || height > bestHeight {
			bestHeight = height
			found = true
		}
	}

	if !found {
		return Checkpoint{}, false, nil
	}

	// A checkpoint that fails its digest check is a fatal condition. The
	// node must not trust a tampered reorg floor.
	cp, err := readCheckpoint(path.Join(dirPath, fmt.Sprintf("%d.json", bestHeight)))
	if err != nil {
		return Checkpoint{}, false, err
	}

	return cp, true, nil
}
