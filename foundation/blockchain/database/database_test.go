package database_test

import (
	"crypto/ecdsa"
	"errors"
	"testing"

	"github.com/argonchain/argon/foundation/blockchain/database"
	"github.com/argonchain/argon/foundation/blockchain/database/storage/memory"
	"github.com/argonchain/argon/foundation/blockchain/genesis"
	"github.com/argonchain/argon/foundation/blockchain/merkle"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// =============================================================================

// testHarness bundles the keys and database every test needs.
type testHarness struct {
	db          *database.Database
	genesis     genesis.Genesis
	minerID     database.AccountID
	aliceKey    *ecdsa.PrivateKey
	aliceID     database.AccountID
	bobKey      *ecdsa.PrivateKey
	bobID       database.AccountID
	nonces      map[database.AccountID]uint64
	blockHeight uint64
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	aliceKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating alice key: %v", err)
	}
	bobKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating bob key: %v", err)
	}
	minerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating miner key: %v", err)
	}

	aliceID := database.PublicKeyToAccountID(aliceKey.PublicKey)
	bobID := database.PublicKeyToAccountID(bobKey.PublicKey)
	minerID := database.PublicKeyToAccountID(minerKey.PublicKey)

	gen := genesis.Genesis{
		ChainID:      1,
		MiningReward: 700,
		GasPrice:     1,
		Balances: map[string]uint64{
			string(aliceID): 10_000,
			string(bobID):   5_000,
		},
		UTXOBalances: map[string][]uint64{
			string(aliceID): {800, 200},
		},
	}

	strg, err := memory.New()
	if err != nil {
		t.Fatalf("creating storage: %v", err)
	}

	db, err := database.New(gen, strg, func(v string, args ...any) {})
	if err != nil {
		t.Fatalf("creating database: %v", err)
	}

	return &testHarness{
		db:       db,
		genesis:  gen,
		minerID:  minerID,
		aliceKey: aliceKey,
		aliceID:  aliceID,
		bobKey:   bobKey,
		bobID:    bobID,
		nonces:   map[database.AccountID]uint64{},
	}
}

// accountTx signs an account style transaction with the next nonce for the
// sender.
func (h *testHarness) accountTx(t *testing.T, key *ecdsa.PrivateKey, toID database.AccountID, value, tip uint64) database.BlockTx {
	t.Helper()

	fromID := database.PublicKeyToAccountID(key.PublicKey)
	h.nonces[fromID]++

	tx, err := database.NewAccountTx(h.genesis.ChainID, h.nonces[fromID], toID, value, tip, nil)
	if err != nil {
		t.Fatalf("constructing tx: %v", err)
	}

	signedTx, err := tx.Sign(key)
	if err != nil {
		t.Fatalf("signing tx: %v", err)
	}

	return database.NewBlockTx(signedTx, h.genesis.GasPrice, 10)
}

// utxoTx signs a UTXO style transaction.
func (h *testHarness) utxoTx(t *testing.T, key *ecdsa.PrivateKey, inputs []database.Outpoint, outputs []database.TxOutput) database.BlockTx {
	t.Helper()

	tx, err := database.NewUTXOTx(h.genesis.ChainID, inputs, outputs, nil)
	if err != nil {
		t.Fatalf("constructing utxo tx: %v", err)
	}

	signedTx, err := tx.Sign(key)
	if err != nil {
		t.Fatalf("signing utxo tx: %v", err)
	}

	return database.NewBlockTx(signedTx, 0, 0)
}

// makeBlock builds a block at the next height containing the transactions.
func (h *testHarness) makeBlock(t *testing.T, txs ...database.BlockTx) database.Block {
	t.Helper()

	tree, err := merkle.NewTree(txs)
	if err != nil {
		t.Fatalf("building merkle tree: %v", err)
	}

	h.blockHeight++
	block := database.Block{
		Header: database.BlockHeader{
			Height:        h.blockHeight,
			PrevBlockHash: h.db.LatestBlock().Hash(),
			TimeStamp:     1_700_000_000 + h.blockHeight*10,
			BeneficiaryID: h.minerID,
			MiningReward:  h.genesis.BlockReward(h.blockHeight),
			TransRoot:     tree.RootHex(),
		},
		Trans: tree,
	}

	return block
}

// =============================================================================

func Test_ApplyRevertRoundTrip(t *testing.T) {
	t.Log("Given the need to revert a block to the exact prior state.")
	{
		h := newHarness(t)

		issuedBefore := h.db.TotalIssued()
		accountsBefore := h.db.CopyAccounts()
		versionBefore := h.db.StateVersion()

		tx := h.accountTx(t, h.aliceKey, h.bobID, 1_000, 50)
		block := h.makeBlock(t, tx)

		delta, err := h.db.ApplyBlock(block)
		if err != nil {
			t.Fatalf("\t%s\tTest 0:\tShould be able to apply the block: %v", failed, err)
		}
		t.Logf("\t%s\tTest 0:\tShould be able to apply the block.", success)

		if h.db.StateVersion() == versionBefore {
			t.Errorf("\t%s\tTest 0:\tShould bump the state version on apply.", failed)
		} else {
			t.Logf("\t%s\tTest 0:\tShould bump the state version on apply.", success)
		}

		if err := h.db.RevertBlock(block, delta); err != nil {
			t.Fatalf("\t%s\tTest 0:\tShould be able to revert the block: %v", failed, err)
		}
		t.Logf("\t%s\tTest 0:\tShould be able to revert the block.", success)

		if h.db.TotalIssued() != issuedBefore {
			t.Errorf("\t%s\tTest 0:\tShould restore total issued, got %d exp %d.", failed, h.db.TotalIssued(), issuedBefore)
		} else {
			t.Logf("\t%s\tTest 0:\tShould restore total issued.", success)
		}

		accountsAfter := h.db.CopyAccounts()
		if len(accountsAfter) != len(accountsBefore) {
			t.Fatalf("\t%s\tTest 0:\tShould restore the account set, got %d exp %d.", failed, len(accountsAfter), len(accountsBefore))
		}
		for accountID, before := range accountsBefore {
			if accountsAfter[accountID] != before {
				t.Errorf("\t%s\tTest 0:\tShould restore account %s exactly.", failed, accountID)
			}
		}
		t.Logf("\t%s\tTest 0:\tShould restore the account set.", success)
	}
}

func Test_SupplyInvariant(t *testing.T) {
	t.Log("Given the need to keep spendable value equal to issued supply.")
	{
		h := newHarness(t)

		for i := 0; i < 3; i++ {
			tx := h.accountTx(t, h.aliceKey, h.bobID, 500, 25)
			block := h.makeBlock(t, tx)

			if _, err := h.db.ApplyBlock(block); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to apply block %d: %v", failed, i, err)
			}

			spendable, err := h.db.TotalSpendable()
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to total spendable value: %v", failed, err)
			}

			if spendable != h.db.TotalIssued() {
				t.Fatalf("\t%s\tTest 0:\tShould keep spendable equal to issued, got %d exp %d.", failed, spendable, h.db.TotalIssued())
			}
		}
		t.Logf("\t%s\tTest 0:\tShould keep spendable equal to issued across blocks.", success)
	}
}

func Test_UTXOLifecycle(t *testing.T) {
	t.Log("Given the need to create, spend, and double-spend-check outputs.")
	{
		h := newHarness(t)

		t.Log("\tTest 0:\tWhen spending a genesis output into new outputs.")
		{
			op := database.GenesisOutpoint(h.aliceID, 0)
			utxo, exists := h.db.GetUTXO(op)
			if !exists || utxo.OwnerID != h.aliceID || utxo.Value != 800 {
				t.Fatalf("\t%s\tTest 0:\tShould seed alice's genesis output, exists %v.", failed, exists)
			}
			t.Logf("\t%s\tTest 0:\tShould seed alice's genesis output.", success)

			// 800 in, 790 out: the 10 difference is the miner's fee.
			spend := h.utxoTx(t, h.aliceKey, []database.Outpoint{op},
				[]database.TxOutput{
					{OwnerID: h.bobID, Value: 500},
					{OwnerID: h.aliceID, Value: 290},
				},
			)

			vr := h.db.VerifyTransaction(spend, 0)
			if vr.Status != database.StatusValid {
				t.Fatalf("\t%s\tTest 0:\tShould verify the spend, got %s: %v.", failed, vr.Status, vr.Err)
			}
			if vr.Fee != 10 {
				t.Fatalf("\t%s\tTest 0:\tShould report the implicit fee of 10, got %d.", failed, vr.Fee)
			}
			t.Logf("\t%s\tTest 0:\tShould verify the spend and report the implicit fee.", success)

			minerBefore, _ := h.db.Balance(h.minerID)
			bobBefore, _ := h.db.Balance(h.bobID)

			blk := h.makeBlock(t, spend)
			delta, err := h.db.ApplyBlock(blk)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to apply the spending block: %v", failed, err)
			}

			if _, exists := h.db.GetUTXO(op); exists {
				t.Fatalf("\t%s\tTest 0:\tShould consume the spent outpoint.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould consume the spent outpoint.", success)

			bobOp := database.Outpoint{TxID: spend.TxID(), Index: 0}
			created, exists := h.db.GetUTXO(bobOp)
			if !exists || created.OwnerID != h.bobID || created.Value != 500 || created.CreatedAt != blk.Header.Height {
				t.Fatalf("\t%s\tTest 0:\tShould create bob's output at the block height.", failed)
			}
			if bobAfter, _ := h.db.Balance(h.bobID); bobAfter != bobBefore+500 {
				t.Fatalf("\t%s\tTest 0:\tShould include the output in bob's balance, got %d.", failed, bobAfter)
			}
			t.Logf("\t%s\tTest 0:\tShould create the new outputs at the block height.", success)

			if minerAfter, _ := h.db.Balance(h.minerID); minerAfter != minerBefore+blk.Header.MiningReward+10 {
				t.Fatalf("\t%s\tTest 0:\tShould credit the fee and reward to the miner, got %d.", failed, minerAfter)
			}
			t.Logf("\t%s\tTest 0:\tShould credit the fee and reward to the miner.", success)

			spendable, err := h.db.TotalSpendable()
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to total spendable value: %v", failed, err)
			}
			if spendable != h.db.TotalIssued() {
				t.Fatalf("\t%s\tTest 0:\tShould keep spendable equal to issued, got %d exp %d.", failed, spendable, h.db.TotalIssued())
			}
			t.Logf("\t%s\tTest 0:\tShould keep spendable equal to issued.", success)

			// Spending the consumed outpoint again is the double spend.
			respend := h.utxoTx(t, h.aliceKey, []database.Outpoint{op},
				[]database.TxOutput{{OwnerID: h.bobID, Value: 100}},
			)
			vr = h.db.VerifyTransaction(respend, 0)
			if vr.Status != database.StatusInvalid || !errors.Is(vr.Err, database.ErrMissingOutpoint) {
				t.Fatalf("\t%s\tTest 0:\tShould reject respending with the missing outpoint error, got %s: %v.", failed, vr.Status, vr.Err)
			}
			t.Logf("\t%s\tTest 0:\tShould reject respending a consumed outpoint.", success)

			// Reverting the block restores the spent output and removes
			// the created ones.
			if err := h.db.RevertBlock(blk, delta); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to revert the block: %v", failed, err)
			}
			h.blockHeight--

			if _, exists := h.db.GetUTXO(op); !exists {
				t.Fatalf("\t%s\tTest 0:\tShould restore the spent outpoint on revert.", failed)
			}
			if _, exists := h.db.GetUTXO(bobOp); exists {
				t.Fatalf("\t%s\tTest 0:\tShould remove the created outputs on revert.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould restore the output set on revert.", success)
		}

		t.Log("\tTest 1:\tWhen spending an outpoint that never existed.")
		{
			missing := h.utxoTx(t, h.aliceKey,
				[]database.Outpoint{{TxID: "0xdeadbeef", Index: 0}},
				[]database.TxOutput{{OwnerID: h.bobID, Value: 10}},
			)
			vr := h.db.VerifyTransaction(missing, 0)
			if vr.Status != database.StatusInvalid || !errors.Is(vr.Err, database.ErrMissingOutpoint) {
				t.Fatalf("\t%s\tTest 1:\tShould reject spending an unknown outpoint, got %s.", failed, vr.Status)
			}
			t.Logf("\t%s\tTest 1:\tShould reject spending an unknown outpoint.", success)

			blk := h.makeBlock(t, missing)
			if _, err := h.db.ApplyBlock(blk); err == nil {
				t.Fatalf("\t%s\tTest 1:\tShould not apply a block spending an unknown outpoint.", failed)
			}
			h.blockHeight--
			t.Logf("\t%s\tTest 1:\tShould not apply a block spending an unknown outpoint.", success)
		}

		t.Log("\tTest 2:\tWhen the outputs exceed the inputs.")
		{
			op := database.GenesisOutpoint(h.aliceID, 1)
			inflate := h.utxoTx(t, h.aliceKey, []database.Outpoint{op},
				[]database.TxOutput{{OwnerID: h.bobID, Value: 1_000}},
			)
			vr := h.db.VerifyTransaction(inflate, 0)
			if vr.Status != database.StatusInvalid {
				t.Fatalf("\t%s\tTest 2:\tShould reject outputs exceeding inputs, got %s.", failed, vr.Status)
			}
			t.Logf("\t%s\tTest 2:\tShould reject outputs exceeding inputs.", success)
		}

		t.Log("\tTest 3:\tWhen the signer does not own the input.")
		{
			op := database.GenesisOutpoint(h.aliceID, 1)
			theft := h.utxoTx(t, h.bobKey, []database.Outpoint{op},
				[]database.TxOutput{{OwnerID: h.bobID, Value: 100}},
			)
			vr := h.db.VerifyTransaction(theft, 0)
			if vr.Status != database.StatusInvalid {
				t.Fatalf("\t%s\tTest 3:\tShould reject spending someone else's output, got %s.", failed, vr.Status)
			}
			t.Logf("\t%s\tTest 3:\tShould reject spending someone else's output.", success)
		}
	}
}

func Test_IntraBlockSequencing(t *testing.T) {
	t.Log("Given the need to apply transactions in block order.")
	{
		h := newHarness(t)

		// Two sequential nonces from alice inside one block must both apply.
		tx1 := h.accountTx(t, h.aliceKey, h.bobID, 100, 10)
		tx2 := h.accountTx(t, h.aliceKey, h.bobID, 200, 10)
		block := h.makeBlock(t, tx1, tx2)

		if _, err := h.db.ApplyBlock(block); err != nil {
			t.Fatalf("\t%s\tTest 0:\tShould apply sequential nonces in one block: %v", failed, err)
		}
		t.Logf("\t%s\tTest 0:\tShould apply sequential nonces in one block.", success)

		account, err := h.db.Query(h.aliceID)
		if err != nil {
			t.Fatalf("\t%s\tTest 0:\tShould be able to query alice: %v", failed, err)
		}
		if account.Nonce != 2 {
			t.Errorf("\t%s\tTest 0:\tShould advance the nonce to 2, got %d.", failed, account.Nonce)
		} else {
			t.Logf("\t%s\tTest 0:\tShould advance the nonce to 2.", success)
		}

		// A block reusing a nonce must fail atomically: nothing applied.
		badTx := h.accountTx(t, h.bobKey, h.aliceID, 100, 10)
		reuse := h.accountTx(t, h.aliceKey, h.bobID, 100, 10)
		reuse.Nonce = 1 // Already used.
		signedTx, err := reuse.Tx.Sign(h.aliceKey)
		if err != nil {
			t.Fatalf("re-signing tx: %v", err)
		}
		reuse = database.NewBlockTx(signedTx, h.genesis.GasPrice, 10)
		h.nonces[h.aliceID]--

		balanceBefore, _ := h.db.Balance(h.bobID)
		badBlock := h.makeBlock(t, badTx, reuse)

		if _, err := h.db.ApplyBlock(badBlock); err == nil {
			t.Fatalf("\t%s\tTest 1:\tShould reject a block with a reused nonce.", failed)
		}
		h.blockHeight--
		h.nonces[h.bobID]--
		t.Logf("\t%s\tTest 1:\tShould reject a block with a reused nonce.", success)

		balanceAfter, _ := h.db.Balance(h.bobID)
		if balanceBefore != balanceAfter {
			t.Errorf("\t%s\tTest 1:\tShould leave no partial state after a failed apply.", failed)
		} else {
			t.Logf("\t%s\tTest 1:\tShould leave no partial state after a failed apply.", success)
		}
	}
}

func Test_VerifyTransaction(t *testing.T) {
	t.Log("Given the need for typed stateful verification results.")
	{
		h := newHarness(t)

		t.Logf("\tTest 0:\tWhen the nonce is sequential.")
		{
			tx := h.accountTx(t, h.aliceKey, h.bobID, 100, 10)
			vr := h.db.VerifyTransaction(tx, 16)
			if vr.Status != database.StatusValid {
				t.Errorf("\t%s\tTest 0:\tShould report valid, got %s: %v.", failed, vr.Status, vr.Err)
			} else {
				t.Logf("\t%s\tTest 0:\tShould report valid.", success)
			}
			if vr.Fee == 0 {
				t.Errorf("\t%s\tTest 0:\tShould report a positive fee.", failed)
			} else {
				t.Logf("\t%s\tTest 0:\tShould report a positive fee.", success)
			}
			h.nonces[h.aliceID]--
		}

		t.Logf("\tTest 1:\tWhen the nonce has a gap within the window.")
		{
			h.nonces[h.aliceID] = 2 // Next signed nonce becomes 3, expected is 1.
			tx := h.accountTx(t, h.aliceKey, h.bobID, 100, 10)
			h.nonces[h.aliceID] = 0

			vr := h.db.VerifyTransaction(tx, 16)
			if vr.Status != database.StatusFutureNonce {
				t.Errorf("\t%s\tTest 1:\tShould report future nonce, got %s.", failed, vr.Status)
			} else {
				t.Logf("\t%s\tTest 1:\tShould report future nonce.", success)
			}
		}

		t.Logf("\tTest 2:\tWhen the nonce gap exceeds the window.")
		{
			h.nonces[h.aliceID] = 100
			tx := h.accountTx(t, h.aliceKey, h.bobID, 100, 10)
			h.nonces[h.aliceID] = 0

			vr := h.db.VerifyTransaction(tx, 16)
			if vr.Status != database.StatusInvalid {
				t.Errorf("\t%s\tTest 2:\tShould report invalid, got %s.", failed, vr.Status)
			} else {
				t.Logf("\t%s\tTest 2:\tShould report invalid.", success)
			}
		}

		t.Logf("\tTest 3:\tWhen funds are insufficient.")
		{
			tx := h.accountTx(t, h.aliceKey, h.bobID, 1_000_000, 10)
			h.nonces[h.aliceID]--

			vr := h.db.VerifyTransaction(tx, 16)
			if vr.Status != database.StatusInvalid {
				t.Errorf("\t%s\tTest 3:\tShould report invalid, got %s.", failed, vr.Status)
			} else {
				t.Logf("\t%s\tTest 3:\tShould report invalid.", success)
			}
		}
	}
}

func Test_StatelessValidation(t *testing.T) {
	t.Log("Given the need to reject malformed transactions without state.")
	{
		h := newHarness(t)

		t.Logf("\tTest 0:\tWhen a utxo transaction has duplicate inputs.")
		{
			op := database.Outpoint{TxID: "0xaa", Index: 0}
			tx := database.Tx{
				ChainID: h.genesis.ChainID,
				Kind:    database.KindUTXO,
				Inputs:  []database.Outpoint{op, op},
				Outputs: []database.TxOutput{{OwnerID: h.bobID, Value: 1}},
			}

			if _, err := tx.Sign(h.aliceKey); err == nil {
				t.Errorf("\t%s\tTest 0:\tShould refuse to sign duplicate inputs.", failed)
			} else {
				t.Logf("\t%s\tTest 0:\tShould refuse to sign duplicate inputs.", success)
			}
		}

		t.Logf("\tTest 1:\tWhen the chain id is wrong.")
		{
			tx := h.accountTx(t, h.aliceKey, h.bobID, 100, 10)
			if err := tx.Validate(h.genesis.ChainID + 1); err == nil {
				t.Errorf("\t%s\tTest 1:\tShould reject the wrong chain id.", failed)
			} else {
				t.Logf("\t%s\tTest 1:\tShould reject the wrong chain id.", success)
			}
		}
	}
}
