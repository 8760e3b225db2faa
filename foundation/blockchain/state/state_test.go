package state_test

import (
	"crypto/ecdsa"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/argonchain/argon/foundation/blockchain/database"
	"github.com/argonchain/argon/foundation/blockchain/database/storage/memory"
	"github.com/argonchain/argon/foundation/blockchain/difficulty"
	"github.com/argonchain/argon/foundation/blockchain/genesis"
	"github.com/argonchain/argon/foundation/blockchain/merkle"
	"github.com/argonchain/argon/foundation/blockchain/peer"
	"github.com/argonchain/argon/foundation/blockchain/state"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// easyBits is a target so large nearly any hash satisfies it, keeping the
// proof of work in tests down to a handful of attempts.
const easyBits = 0x207fffff

type testChain struct {
	state    *state.State
	genesis  genesis.Genesis
	peers    *peer.PeerSet
	alice    *ecdsa.PrivateKey
	bob      *ecdsa.PrivateKey
	aliceID  database.AccountID
	bobID    database.AccountID
	minerID  database.AccountID
	baseTime uint64
}

// tweak adjusts the genesis policy for a test. The funded account ids are
// provided so allocations can reference them.
type tweak func(g *genesis.Genesis, aliceID, bobID database.AccountID)

func newTestChain(t *testing.T, tw tweak) *testChain {
	t.Helper()

	alice, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate alice's key: %v", failed, err)
	}
	bob, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate bob's key: %v", failed, err)
	}
	miner, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate the miner's key: %v", failed, err)
	}

	aliceID := database.PublicKeyToAccountID(alice.PublicKey)
	bobID := database.PublicKeyToAccountID(bob.PublicKey)
	minerID := database.PublicKeyToAccountID(miner.PublicKey)

	gen := genesis.Genesis{
		ChainID:         1,
		TransPerBlock:   100,
		StartingBits:    easyBits,
		TargetBlockTime: 10,
		MiningReward:    1000,
		Balances: map[string]uint64{
			string(aliceID): 100_000,
			string(bobID):   100_000,
		},

		MaxFutureDriftSeconds: 600,
		MaxReorgDepth:         5,
		CheckpointInterval:    1000,
		OrphanTTLSeconds:      60,
		OrphanPoolSize:        16,

		NonceGapWindow:  5,
		BanCooldownSecs: 60,
	}
	if tw != nil {
		tw(&gen, aliceID, bobID)
	}

	storage, err := memory.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct storage: %v", failed, err)
	}

	peers := peer.NewPeerSet()

	st, err := state.New(state.Config{
		BeneficiaryID:  minerID,
		Host:           "test-node:9080",
		Genesis:        gen,
		Storage:        storage,
		CheckpointPath: t.TempDir(),
		KnownPeers:     peers,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the state: %v", failed, err)
	}

	return &testChain{
		state:    st,
		genesis:  gen,
		peers:    peers,
		alice:    alice,
		bob:      bob,
		aliceID:  aliceID,
		bobID:    bobID,
		minerID:  minerID,
		baseTime: uint64(time.Now().UTC().Unix()),
	}
}

func (tc *testChain) accountTx(t *testing.T, pk *ecdsa.PrivateKey, nonce uint64, to database.AccountID, value uint64, tip uint64) database.BlockTx {
	t.Helper()

	tx, err := database.NewAccountTx(tc.genesis.ChainID, nonce, to, value, tip, nil)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create a transaction: %v", failed, err)
	}

	signedTx, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign a transaction: %v", failed, err)
	}

	return database.NewBlockTx(signedTx, tc.genesis.GasPrice, 1)
}

// utxoSigned signs a UTXO style transaction spending the specified
// outpoints into the specified outputs.
func (tc *testChain) utxoSigned(t *testing.T, pk *ecdsa.PrivateKey, inputs []database.Outpoint, outputs []database.TxOutput) database.SignedTx {
	t.Helper()

	tx, err := database.NewUTXOTx(tc.genesis.ChainID, inputs, outputs, nil)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create a utxo transaction: %v", failed, err)
	}

	signedTx, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign a utxo transaction: %v", failed, err)
	}

	return signedTx
}

// mineBlock crafts a valid block on top of prev with the specified
// transactions, searching nonces until the easy target is met.
func (tc *testChain) mineBlock(t *testing.T, prev database.Block, txs []database.BlockTx, tsOffset uint64) database.Block {
	t.Helper()

	tree, err := merkle.NewTree(txs)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to build the merkle tree: %v", failed, err)
	}

	height := prev.Header.Height + 1
	block := database.Block{
		Header: database.BlockHeader{
			Height:        height,
			PrevBlockHash: prev.Hash(),
			TimeStamp:     tc.baseTime + height + tsOffset,
			Bits:          tc.genesis.StartingBits,
			BeneficiaryID: tc.minerID,
			MiningReward:  tc.genesis.BlockReward(height),
			TransRoot:     tree.RootHex(),
		},
		Trans: tree,
	}

	for !difficulty.HashMeetsTarget(block.Hash(), block.Header.Bits) {
		block.Header.Nonce++
	}

	return block
}

// =============================================================================

func Test_ExtendCanonicalChain(t *testing.T) {
	t.Log("Given the need to extend the chain with valid blocks.")
	{
		t.Log("\tTest 0:\tWhen processing a block of wallet transactions.")
		{
			tc := newTestChain(t, nil)

			tx, err := database.NewAccountTx(tc.genesis.ChainID, 1, tc.bobID, 100, 10, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to create a transaction: %v", failed, err)
			}
			signedTx, err := tx.Sign(tc.alice)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to sign a transaction: %v", failed, err)
			}

			if err := tc.state.SubmitWalletTransaction(signedTx); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to submit a wallet transaction: %v", failed, err)
			}
			if tc.state.QueryMempoolLength() != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould hold the transaction in the mempool.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould admit a valid wallet transaction.", success)

			blockTxs := tc.state.RetrieveMempool()
			block := tc.mineBlock(t, tc.state.RetrieveLatestBlock(), blockTxs, 0)

			change, err := tc.state.ProcessProposedBlock(block, "peer-a:9080")
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to process the block: %v", failed, err)
			}
			if change.Status != state.TipExtended || change.NewTip != block.Hash() {
				t.Fatalf("\t%s\tTest 0:\tShould extend the canonical tip, got %s.", failed, change.Status)
			}
			t.Logf("\t%s\tTest 0:\tShould extend the canonical tip.", success)

			if tc.state.QueryMempoolLength() != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould clear mined transactions from the mempool.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould clear mined transactions from the mempool.", success)

			aliceBal, err := tc.state.QueryBalance(tc.aliceID)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to query alice's balance: %v", failed, err)
			}
			if aliceBal != 100_000-110 {
				t.Fatalf("\t%s\tTest 0:\tShould debit value and tip from alice, got %d.", failed, aliceBal)
			}
			minerBal, err := tc.state.QueryBalance(tc.minerID)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to query the miner's balance: %v", failed, err)
			}
			if minerBal != tc.genesis.MiningReward+10 {
				t.Fatalf("\t%s\tTest 0:\tShould credit reward and tip to the miner, got %d.", failed, minerBal)
			}
			t.Logf("\t%s\tTest 0:\tShould settle balances for the block.", success)

			if _, err := tc.state.ProcessProposedBlock(block, "peer-a:9080"); !errors.Is(err, state.ErrKnownBlock) {
				t.Fatalf("\t%s\tTest 0:\tShould refuse a block it already knows, got %v.", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould refuse a block it already knows.", success)

			// A light client can check the transaction's inclusion with
			// just the proof and the header root.
			txID := blockTxs[0].TxID()
			proof, err := tc.state.QueryMerkleProof(txID, block.Hash())
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to produce a merkle proof: %v", failed, err)
			}
			leafHash, err := blockTxs[0].Hash()
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to hash the transaction: %v", failed, err)
			}
			if !merkle.VerifyProof(leafHash, proof.Proof, proof.Order, block.Trans.MerkleRoot) {
				t.Fatalf("\t%s\tTest 0:\tShould verify the merkle proof against the root.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould produce a verifiable merkle proof.", success)
		}
	}
}

func Test_DoubleSpendBlockRejected(t *testing.T) {
	t.Log("Given the need to reject a block that reuses a nonce.")
	{
		t.Log("\tTest 0:\tWhen a block carries two transactions with the same nonce.")
		{
			tc := newTestChain(t, nil)

			tx1 := tc.accountTx(t, tc.alice, 1, tc.bobID, 100, 0)
			tx2 := tc.accountTx(t, tc.alice, 1, tc.bobID, 200, 0)

			block := tc.mineBlock(t, tc.state.RetrieveLatestBlock(), []database.BlockTx{tx1, tx2}, 0)

			if _, err := tc.state.ProcessProposedBlock(block, "peer-a:9080"); err == nil {
				t.Fatalf("\t%s\tTest 0:\tShould reject the block.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould reject the block.", success)

			aliceBal, err := tc.state.QueryBalance(tc.aliceID)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to query alice's balance: %v", failed, err)
			}
			if aliceBal != 100_000 {
				t.Fatalf("\t%s\tTest 0:\tShould leave the ledger untouched, got %d.", failed, aliceBal)
			}
			if tc.state.RetrieveLatestBlock().Header.Height != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould leave the chain height untouched.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould leave the ledger untouched.", success)
		}
	}
}

func Test_FutureTimestampRejected(t *testing.T) {
	t.Log("Given the need to reject blocks with timestamps too far ahead.")
	{
		t.Log("\tTest 0:\tWhen a block timestamp exceeds the drift window.")
		{
			tc := newTestChain(t, nil)

			tx := tc.accountTx(t, tc.alice, 1, tc.bobID, 100, 0)
			block := tc.mineBlock(t, tc.state.RetrieveLatestBlock(), []database.BlockTx{tx}, 2*uint64(tc.genesis.MaxFutureDriftSeconds))

			if _, err := tc.state.ProcessProposedBlock(block, "peer-a:9080"); err == nil {
				t.Fatalf("\t%s\tTest 0:\tShould reject the future block.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould reject the future block.", success)

			if score := tc.peers.Score(peer.New("peer-a:9080")); score == 0 {
				t.Fatalf("\t%s\tTest 0:\tShould penalize the sending peer.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould penalize the sending peer.", success)
		}
	}
}

func Test_Reorganization(t *testing.T) {
	t.Log("Given the need to switch to a heavier competing branch.")
	{
		t.Log("\tTest 0:\tWhen a side branch accumulates more work.")
		{
			tc := newTestChain(t, nil)

			// Shared first block.
			b1 := tc.mineBlock(t, tc.state.RetrieveLatestBlock(), []database.BlockTx{tc.accountTx(t, tc.alice, 1, tc.bobID, 100, 0)}, 0)
			if _, err := tc.state.ProcessProposedBlock(b1, "peer-a:9080"); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept the shared block: %v", failed, err)
			}

			// Branch A extends with alice's second transfer.
			aliceTx2 := tc.accountTx(t, tc.alice, 2, tc.bobID, 500, 0)
			a2 := tc.mineBlock(t, b1, []database.BlockTx{aliceTx2}, 0)
			if _, err := tc.state.ProcessProposedBlock(a2, "peer-a:9080"); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept branch A's block: %v", failed, err)
			}

			// Branch B forks from b1 with bob's transfers and grows longer.
			c2 := tc.mineBlock(t, b1, []database.BlockTx{tc.accountTx(t, tc.bob, 1, tc.aliceID, 50, 0)}, 10)
			change, err := tc.state.ProcessProposedBlock(c2, "peer-b:9080")
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept the competing block: %v", failed, err)
			}
			if change.Status != state.TipSideBlock {
				t.Fatalf("\t%s\tTest 0:\tShould hold the competing block as a side block, got %s.", failed, change.Status)
			}
			t.Logf("\t%s\tTest 0:\tShould hold an equal-height competitor as a side block.", success)

			c3 := tc.mineBlock(t, c2, []database.BlockTx{tc.accountTx(t, tc.bob, 2, tc.aliceID, 60, 0)}, 10)
			change, err = tc.state.ProcessProposedBlock(c3, "peer-b:9080")
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould reorganize to the heavier branch: %v", failed, err)
			}
			if change.Status != state.TipReorged || change.ReorgDepth != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould report a depth 1 reorg, got %s depth %d.", failed, change.Status, change.ReorgDepth)
			}
			if change.NewTip != c3.Hash() {
				t.Fatalf("\t%s\tTest 0:\tShould move the canonical tip to the new branch.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould reorganize to the heavier branch.", success)

			if tc.state.RetrieveLatestBlock().Header.Height != 3 {
				t.Fatalf("\t%s\tTest 0:\tShould be at height 3, got %d.", failed, tc.state.RetrieveLatestBlock().Header.Height)
			}

			// Branch A's transaction must be back in the mempool, not lost.
			found := false
			for _, tx := range tc.state.RetrieveMempool() {
				if tx.Equals(aliceTx2) {
					found = true
				}
			}
			if !found {
				t.Fatalf("\t%s\tTest 0:\tShould reinject the abandoned branch's transaction.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould reinject the abandoned branch's transaction.", success)

			// Old-branch spends reverted before new-branch applies: bob
			// paid alice on the new branch, alice's branch A transfer is
			// unwound.
			aliceBal, err := tc.state.QueryBalance(tc.aliceID)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to query alice's balance: %v", failed, err)
			}
			if aliceBal != 100_000-100+50+60 {
				t.Fatalf("\t%s\tTest 0:\tShould settle balances on the new branch, got %d.", failed, aliceBal)
			}
			t.Logf("\t%s\tTest 0:\tShould settle balances on the new branch.", success)
		}
	}
}

func Test_ReorgDepthBound(t *testing.T) {
	t.Log("Given the need to refuse reorganizations past the depth bound.")
	{
		t.Log("\tTest 0:\tWhen a competing branch forks too far back.")
		{
			tc := newTestChain(t, func(g *genesis.Genesis, aliceID, bobID database.AccountID) {
				g.MaxReorgDepth = 1
			})

			b1 := tc.mineBlock(t, tc.state.RetrieveLatestBlock(), []database.BlockTx{tc.accountTx(t, tc.alice, 1, tc.bobID, 100, 0)}, 0)
			if _, err := tc.state.ProcessProposedBlock(b1, ""); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept block 1: %v", failed, err)
			}
			a2 := tc.mineBlock(t, b1, []database.BlockTx{tc.accountTx(t, tc.alice, 2, tc.bobID, 100, 0)}, 0)
			if _, err := tc.state.ProcessProposedBlock(a2, ""); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept block 2: %v", failed, err)
			}
			a3 := tc.mineBlock(t, a2, []database.BlockTx{tc.accountTx(t, tc.alice, 3, tc.bobID, 100, 0)}, 0)
			if _, err := tc.state.ProcessProposedBlock(a3, ""); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept block 3: %v", failed, err)
			}

			// A branch forking from b1 would need to revert 2 blocks.
			c2 := tc.mineBlock(t, b1, []database.BlockTx{tc.accountTx(t, tc.bob, 1, tc.aliceID, 50, 0)}, 10)
			if _, err := tc.state.ProcessProposedBlock(c2, "peer-b:9080"); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould hold the first branch block: %v", failed, err)
			}
			// Equal work to the canonical tip: depending on the hash tie
			// break this is either a side block or an already-refused
			// deep reorg.
			c3 := tc.mineBlock(t, c2, []database.BlockTx{tc.accountTx(t, tc.bob, 2, tc.aliceID, 50, 0)}, 10)
			if _, err := tc.state.ProcessProposedBlock(c3, "peer-b:9080"); err != nil && !errors.Is(err, state.ErrReorgTooDeep) {
				t.Fatalf("\t%s\tTest 0:\tShould hold the second branch block: %v", failed, err)
			}
			c4 := tc.mineBlock(t, c3, []database.BlockTx{tc.accountTx(t, tc.bob, 3, tc.aliceID, 50, 0)}, 10)

			if _, err := tc.state.ProcessProposedBlock(c4, "peer-b:9080"); !errors.Is(err, state.ErrReorgTooDeep) {
				t.Fatalf("\t%s\tTest 0:\tShould refuse the deep reorg, got %v.", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould refuse the deep reorg.", success)

			if tc.state.RetrieveLatestBlock().Hash() != a3.Hash() {
				t.Fatalf("\t%s\tTest 0:\tShould keep the canonical chain untouched.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould keep the canonical chain untouched.", success)
		}
	}
}

func Test_OrphanPromotion(t *testing.T) {
	t.Log("Given the need to hold and promote blocks with unknown parents.")
	{
		t.Log("\tTest 0:\tWhen a child arrives before its parent.")
		{
			tc := newTestChain(t, nil)

			b1 := tc.mineBlock(t, tc.state.RetrieveLatestBlock(), []database.BlockTx{tc.accountTx(t, tc.alice, 1, tc.bobID, 100, 0)}, 0)
			b2 := tc.mineBlock(t, b1, []database.BlockTx{tc.accountTx(t, tc.alice, 2, tc.bobID, 100, 0)}, 0)

			if _, err := tc.state.ProcessProposedBlock(b2, "peer-a:9080"); !errors.Is(err, state.ErrOrphanBlock) {
				t.Fatalf("\t%s\tTest 0:\tShould hold the child as an orphan, got %v.", failed, err)
			}
			if tc.state.RetrieveLatestBlock().Header.Height != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould not advance the chain on an orphan.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould hold the child as an orphan.", success)

			if _, err := tc.state.ProcessProposedBlock(b1, "peer-a:9080"); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept the parent: %v", failed, err)
			}

			if got := tc.state.RetrieveLatestBlock().Header.Height; got != 2 {
				t.Fatalf("\t%s\tTest 0:\tShould promote the orphan to height 2, got %d.", failed, got)
			}
			t.Logf("\t%s\tTest 0:\tShould promote the orphan once the parent arrives.", success)
		}
	}
}

func Test_NonceGapHold(t *testing.T) {
	t.Log("Given the need to hold transactions with a nonce gap.")
	{
		t.Log("\tTest 0:\tWhen a future nonce arrives before the expected one.")
		{
			tc := newTestChain(t, nil)

			// Nonce 2 while the ledger expects 1: held, not selectable.
			tx2, err := database.NewAccountTx(tc.genesis.ChainID, 2, tc.bobID, 100, 0, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to create the transaction: %v", failed, err)
			}
			signed2, err := tx2.Sign(tc.alice)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to sign the transaction: %v", failed, err)
			}
			if err := tc.state.SubmitWalletTransaction(signed2); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould hold a future nonce without error: %v", failed, err)
			}
			if tc.state.QueryMempoolLength() != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould keep the held transaction unselectable.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould hold a future nonce unselectable.", success)

			// A nonce past the gap window can never be queued.
			txFar, err := database.NewAccountTx(tc.genesis.ChainID, 20, tc.bobID, 100, 0, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to create the transaction: %v", failed, err)
			}
			signedFar, err := txFar.Sign(tc.alice)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to sign the transaction: %v", failed, err)
			}
			if err := tc.state.SubmitWalletTransaction(signedFar); err == nil {
				t.Fatalf("\t%s\tTest 0:\tShould reject a nonce past the gap window.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould reject a nonce past the gap window.", success)

			// Mining the expected nonce closes the gap and promotes the
			// held transaction.
			b1 := tc.mineBlock(t, tc.state.RetrieveLatestBlock(), []database.BlockTx{tc.accountTx(t, tc.alice, 1, tc.bobID, 100, 0)}, 0)
			if _, err := tc.state.ProcessProposedBlock(b1, ""); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept the gap-closing block: %v", failed, err)
			}

			if tc.state.QueryMempoolLength() != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould promote the held transaction, pool %d.", failed, tc.state.QueryMempoolLength())
			}
			t.Logf("\t%s\tTest 0:\tShould promote the held transaction once the gap closes.", success)
		}
	}
}

func Test_ConflictingOutpointSubmissions(t *testing.T) {
	t.Log("Given the need to accept one spend of an outpoint and reject the rest.")
	{
		t.Log("\tTest 0:\tWhen two submissions spend the same genesis output.")
		{
			tc := newTestChain(t, func(g *genesis.Genesis, aliceID, bobID database.AccountID) {
				g.UTXOBalances = map[string][]uint64{string(aliceID): {1_000}}
			})

			op := database.GenesisOutpoint(tc.aliceID, 0)

			first := tc.utxoSigned(t, tc.alice, []database.Outpoint{op},
				[]database.TxOutput{
					{OwnerID: tc.bobID, Value: 600},
					{OwnerID: tc.aliceID, Value: 390},
				},
			)
			if err := tc.state.SubmitWalletTransaction(first); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept the first spend: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould accept the first spend.", success)

			second := tc.utxoSigned(t, tc.alice, []database.Outpoint{op},
				[]database.TxOutput{
					{OwnerID: tc.bobID, Value: 500},
					{OwnerID: tc.aliceID, Value: 490},
				},
			)
			if err := tc.state.SubmitWalletTransaction(second); !errors.Is(err, database.ErrMissingOutpoint) {
				t.Fatalf("\t%s\tTest 0:\tShould reject the conflicting spend with the missing outpoint error, got %v.", failed, err)
			}
			if tc.state.QueryMempoolLength() != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould hold exactly one spend, got %d.", failed, tc.state.QueryMempoolLength())
			}
			t.Logf("\t%s\tTest 0:\tShould reject the conflicting spend.", success)

			blockTxs := tc.state.RetrieveMempool()
			block := tc.mineBlock(t, tc.state.RetrieveLatestBlock(), blockTxs, 0)
			if _, err := tc.state.ProcessProposedBlock(block, ""); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould mine the accepted spend: %v", failed, err)
			}

			bobOp := database.Outpoint{TxID: first.TxID(), Index: 0}
			if _, exists := tc.state.QueryUnspentOutputs(tc.bobID)[bobOp]; !exists {
				t.Fatalf("\t%s\tTest 0:\tShould hold bob's confirmed output.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould confirm the new outputs in the ledger.", success)

			// The outpoint is consumed now: the ledger itself refuses a
			// respend.
			respend := tc.utxoSigned(t, tc.alice, []database.Outpoint{op},
				[]database.TxOutput{{OwnerID: tc.bobID, Value: 100}},
			)
			if err := tc.state.SubmitWalletTransaction(respend); !errors.Is(err, database.ErrMissingOutpoint) {
				t.Fatalf("\t%s\tTest 0:\tShould reject respending the consumed outpoint, got %v.", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould reject respending the consumed outpoint.", success)
		}
	}
}

func Test_SupplyInvariant(t *testing.T) {
	t.Log("Given the need to keep issued and spendable supply in balance.")
	{
		t.Log("\tTest 0:\tWhen the chain grows and reorganizes.")
		{
			tc := newTestChain(t, nil)

			check := func(when string) {
				t.Helper()
				status := tc.state.QueryStatus()
				var spendable uint64
				for id := range tc.state.RetrieveAccounts() {
					bal, err := tc.state.QueryBalance(id)
					if err != nil {
						t.Fatalf("\t%s\tTest 0:\tShould be able to query balances %s: %v", failed, when, err)
					}
					spendable += bal
				}
				if spendable != status.TotalIssued {
					t.Fatalf("\t%s\tTest 0:\tShould match issued supply %s: spendable %d, issued %d.", failed, when, spendable, status.TotalIssued)
				}
			}

			check("at genesis")

			b1 := tc.mineBlock(t, tc.state.RetrieveLatestBlock(), []database.BlockTx{tc.accountTx(t, tc.alice, 1, tc.bobID, 100, 25)}, 0)
			if _, err := tc.state.ProcessProposedBlock(b1, ""); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept block 1: %v", failed, err)
			}
			check("after block 1")

			a2 := tc.mineBlock(t, b1, []database.BlockTx{tc.accountTx(t, tc.alice, 2, tc.bobID, 200, 0)}, 0)
			if _, err := tc.state.ProcessProposedBlock(a2, ""); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept block 2: %v", failed, err)
			}
			check("after block 2")

			c2 := tc.mineBlock(t, b1, []database.BlockTx{tc.accountTx(t, tc.bob, 1, tc.aliceID, 50, 0)}, 10)
			if _, err := tc.state.ProcessProposedBlock(c2, ""); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept the fork block: %v", failed, err)
			}
			c3 := tc.mineBlock(t, c2, []database.BlockTx{tc.accountTx(t, tc.bob, 2, tc.aliceID, 60, 0)}, 10)
			if _, err := tc.state.ProcessProposedBlock(c3, ""); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould reorganize: %v", failed, err)
			}
			check("after the reorg")

			t.Logf("\t%s\tTest 0:\tShould keep spendable equal to issued at every step.", success)
		}
	}
}

func Test_CheckpointFloor(t *testing.T) {
	t.Log("Given the need to anchor the chain at checkpoint heights.")
	{
		t.Log("\tTest 0:\tWhen the chain crosses a checkpoint interval.")
		{
			tc := newTestChain(t, func(g *genesis.Genesis, aliceID, bobID database.AccountID) {
				g.CheckpointInterval = 2
			})

			prev := tc.state.RetrieveLatestBlock()
			for nonce := uint64(1); nonce <= 2; nonce++ {
				block := tc.mineBlock(t, prev, []database.BlockTx{tc.accountTx(t, tc.alice, nonce, tc.bobID, 100, 0)}, 0)
				if _, err := tc.state.ProcessProposedBlock(block, ""); err != nil {
					t.Fatalf("\t%s\tTest 0:\tShould accept block %d: %v", failed, nonce, err)
				}
				prev = block
			}

			status := tc.state.QueryStatus()
			if status.CheckpointFloor != 2 {
				t.Fatalf("\t%s\tTest 0:\tShould write a checkpoint at height 2, floor %d.", failed, status.CheckpointFloor)
			}
			t.Logf("\t%s\tTest 0:\tShould write a checkpoint at the interval.", success)

			cp, found := tc.state.RetrieveCheckpoint()
			if !found || cp.Height != 2 || cp.BlockHash != prev.Hash() {
				t.Fatalf("\t%s\tTest 0:\tShould anchor the checkpoint to the canonical block.", failed)
			}
			if cp.Issued != status.TotalIssued {
				t.Fatalf("\t%s\tTest 0:\tShould snapshot the issued supply.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould anchor the checkpoint to the canonical block.", success)
		}
	}
}
