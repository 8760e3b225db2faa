package database

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/argonchain/argon/foundation/blockchain/difficulty"
	"github.com/argonchain/argon/foundation/blockchain/merkle"
	"github.com/argonchain/argon/foundation/blockchain/signature"
)

// ErrUnknownParent is returned when a block references a parent this node
// has never seen. The block is a candidate for the orphan pool, not an
// outright reject.
var ErrUnknownParent = errors.New("parent block is not known")

// =============================================================================

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Height        uint64    `json:"height"`          // Block height in the chain, parent height + 1.
	PrevBlockHash string    `json:"prev_block_hash"` // Hash of the previous block in the chain.
	TimeStamp     uint64    `json:"timestamp"`       // Time the block was mined.
	Bits          uint32    `json:"bits"`            // Compact representation of the difficulty target this block satisfies.
	Nonce         uint64    `json:"nonce"`           // Value identified to solve the hash solution.
	BeneficiaryID AccountID `json:"beneficiary"`     // The account receiving the reward, fees and tips.
	MiningReward  uint64    `json:"mining_reward"`   // Reward claimed by the miner, must match the schedule.
	TransRoot     string    `json:"trans_root"`      // Merkle tree root hash for the transactions in this block.
}

// Block represents a group of transactions batched together.
type Block struct {
	Header BlockHeader
	Trans  *merkle.Tree[BlockTx]
}

// POWArgs represents the set of arguments required to run POW.
type POWArgs struct {
	BeneficiaryID AccountID
	Bits          uint32
	MiningReward  uint64
	PrevBlock     Block
	Trans         []BlockTx
	EvHandler     func(v string, args ...any)
}

// POW constructs a new Block and performs the work to find a nonce that
// solves the cryptographic POW puzzle.
func POW(ctx context.Context, args POWArgs) (Block, error) {

	// When mining the first block, the previous block's hash will be zero.
	prevBlockHash := signature.ZeroHash
	if args.PrevBlock.Header.Height > 0 {
		prevBlockHash = args.PrevBlock.Hash()
	}

	// Construct a merkle tree from the transactions for this block. The
	// root of this tree will be part of the block to be mined.
	tree, err := merkle.NewTree(args.Trans)
	if err != nil {
		return Block{}, err
	}

	// Construct the block to be mined.
	nb := Block{
		Header: BlockHeader{
			Height:        args.PrevBlock.Header.Height + 1,
			PrevBlockHash: prevBlockHash,
			TimeStamp:     uint64(time.Now().UTC().Unix()),
			Bits:          args.Bits,
			Nonce:         0, // Will be identified by the POW algorithm.
			BeneficiaryID: args.BeneficiaryID,
			MiningReward:  args.MiningReward,
			TransRoot:     tree.RootHex(),
		},
		Trans: tree,
	}

	// Perform the proof of work mining operation.
	if err := nb.performPOW(ctx, args.EvHandler); err != nil {
		return Block{}, err
	}

	return nb, nil
}

// performPOW does the work of mining to find a valid hash for a specified
// block. Pointer semantics are being used since a nonce is being discovered.
func (b *Block) performPOW(ctx context.Context, ev func(v string, args ...any)) error {
	ev("database: PerformPOW: MINING: started")
	defer ev("database: PerformPOW: MINING: completed")

	for _, tx := range b.Trans.Values() {
		ev("database: PerformPOW: MINING: tx[%s]", tx)
	}

	// Choose a random starting point for the nonce. After this, the nonce
	// will be incremented by 1 until a solution is found.
	nBig, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return err
	}
	b.Header.Nonce = nBig.Uint64()

	// Loop until we or another node finds a solution for the next block.
	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			ev("database: PerformPOW: MINING: attempts[%d]", attempts)
		}

		// The cancellation token is checked at a fixed interval during
		// hashing: only the miner's speculative work is cancellable.
		if ctx.Err() != nil {
			ev("database: PerformPOW: MINING: CANCELLED")
			return ctx.Err()
		}

		// Hash the block and check if we have solved the puzzle.
		hash := b.Hash()
		if !difficulty.HashMeetsTarget(hash, b.Header.Bits) {
			b.Header.Nonce++
			continue
		}

		ev("database: PerformPOW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]", b.Header.PrevBlockHash, hash)
		ev("database: PerformPOW: MINING: attempts[%d]", attempts)

		return nil
	}
}

// Hash returns the unique hash for the Block.
func (b Block) Hash() string {
	if b.Header.Height == 0 {
		return signature.ZeroHash
	}

	// Hashing only the block header and not the whole block so the chain
	// can be cryptographically checked with headers alone. This is what
	// makes SPV proofs and pruned nodes possible.
	return signature.Hash(b.Header)
}

// Work returns the chain work this block represents based on its target.
func (b Block) Work() *big.Int {
	return difficulty.CalcWork(b.Header.Bits)
}

// =============================================================================

// ValidateArgs represents the point-in-time chain facts a block must be
// checked against. The caller computes these under the chain lock.
type ValidateArgs struct {
	PrevBlock      Block  // The block this one claims as parent.
	ExpectedBits   uint32 // The target required at this height on this branch.
	ExpectedReward uint64 // The scheduled mining reward for this height.
	MedianTimePast uint64 // Median timestamp of the previous blocks on this branch.
	LocalTime      uint64 // This node's current unix time.
	MaxFutureDrift uint32 // Seconds a timestamp may run ahead of LocalTime.
	TransPerBlock  uint16 // Maximum transactions allowed in a block.
}

// ValidateBlock performs the structural, proof of work, and timestamp
// checks against the chain facts in args, short-circuiting on the first
// failure. Stateful transaction validation is the ledger's job and happens
// during ApplyBlock.
func (b Block) ValidateBlock(args ValidateArgs, evHandler func(v string, args ...any)) error {
	evHandler("database: ValidateBlock: blk[%d]: check: structural sanity", b.Header.Height)

	if b.Trans == nil || len(b.Trans.Values()) == 0 {
		return errors.New("block has no transactions")
	}

	if args.TransPerBlock > 0 && len(b.Trans.Values()) > int(args.TransPerBlock) {
		return fmt.Errorf("block has too many transactions, got %d, max %d", len(b.Trans.Values()), args.TransPerBlock)
	}

	evHandler("database: ValidateBlock: blk[%d]: check: height is the next height", b.Header.Height)

	nextHeight := args.PrevBlock.Header.Height + 1
	if b.Header.Height != nextHeight {
		return fmt.Errorf("this block is not the next height, got %d, exp %d", b.Header.Height, nextHeight)
	}

	evHandler("database: ValidateBlock: blk[%d]: check: parent hash matches parent block", b.Header.Height)

	if b.Header.PrevBlockHash != args.PrevBlock.Hash() {
		return fmt.Errorf("parent block hash doesn't match our known parent, got %s, exp %s", b.Header.PrevBlockHash, args.PrevBlock.Hash())
	}

	evHandler("database: ValidateBlock: blk[%d]: check: difficulty target is the required target", b.Header.Height)

	if b.Header.Bits != args.ExpectedBits {
		return fmt.Errorf("block difficulty is not the required difficulty, got 0x%08x, exp 0x%08x", b.Header.Bits, args.ExpectedBits)
	}

	evHandler("database: ValidateBlock: blk[%d]: check: block hash satisfies the target", b.Header.Height)

	hash := b.Hash()
	if !difficulty.HashMeetsTarget(hash, b.Header.Bits) {
		return fmt.Errorf("%s invalid block hash for target 0x%08x", hash, b.Header.Bits)
	}

	evHandler("database: ValidateBlock: blk[%d]: check: timestamp within accepted window", b.Header.Height)

	if b.Header.TimeStamp > args.LocalTime+uint64(args.MaxFutureDrift) {
		return fmt.Errorf("block timestamp too far in the future, ts %d, local %d, drift %d", b.Header.TimeStamp, args.LocalTime, args.MaxFutureDrift)
	}

	if args.MedianTimePast > 0 && b.Header.TimeStamp <= args.MedianTimePast {
		return fmt.Errorf("block timestamp not after median time past, ts %d, mtp %d", b.Header.TimeStamp, args.MedianTimePast)
	}

	evHandler("database: ValidateBlock: blk[%d]: check: mining reward matches the schedule", b.Header.Height)

	if b.Header.MiningReward != args.ExpectedReward {
		return fmt.Errorf("mining reward doesn't match the schedule, got %d, exp %d", b.Header.MiningReward, args.ExpectedReward)
	}

	evHandler("database: ValidateBlock: blk[%d]: check: merkle root matches transactions", b.Header.Height)

	if b.Header.TransRoot != b.Trans.RootHex() {
		return fmt.Errorf("merkle root does not match transactions, got %s, exp %s", b.Trans.RootHex(), b.Header.TransRoot)
	}

	return nil
}
