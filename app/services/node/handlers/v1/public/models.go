package public

import (
	"github.com/argonchain/argon/foundation/blockchain/database"
)

// tx is the view model for a transaction, committed or uncommitted, with
// name service lookups applied.
type tx struct {
	FromAccount database.AccountID  `json:"from"`
	FromName    string              `json:"from_name"`
	Kind        string              `json:"kind"`
	To          database.AccountID  `json:"to,omitempty"`
	ToName      string              `json:"to_name,omitempty"`
	Nonce       uint64              `json:"nonce,omitempty"`
	Value       uint64              `json:"value,omitempty"`
	Tip         uint64              `json:"tip,omitempty"`
	Inputs      []database.Outpoint `json:"inputs,omitempty"`
	Outputs     []database.TxOutput `json:"outputs,omitempty"`
	Data        []byte              `json:"data,omitempty"`
	TimeStamp   uint64              `json:"timestamp"`
	GasPrice    uint64              `json:"gas_price"`
	GasUnits    uint64              `json:"gas_units"`
	Sig         string              `json:"sig"`
}

// nameLookup declares the part of the name service the view models need.
type nameLookup interface {
	Lookup(accountID database.AccountID) string
}

// toTx maps a block transaction into its view model.
func toTx(ns nameLookup, blockTx database.BlockTx) tx {
	fromID, _ := blockTx.FromAccount()

	return tx{
		FromAccount: fromID,
		FromName:    ns.Lookup(fromID),
		Kind:        blockTx.Kind,
		To:          blockTx.ToID,
		ToName:      ns.Lookup(blockTx.ToID),
		Nonce:       blockTx.Nonce,
		Value:       blockTx.Value,
		Tip:         blockTx.Tip,
		Inputs:      blockTx.Inputs,
		Outputs:     blockTx.Outputs,
		Data:        blockTx.Data,
		TimeStamp:   blockTx.TimeStamp,
		GasPrice:    blockTx.GasPrice,
		GasUnits:    blockTx.GasUnits,
		Sig:         blockTx.SignatureString(),
	}
}

// =============================================================================

// info is the view model for an account's balance and nonce.
type info struct {
	Account   database.AccountID `json:"account"`
	Name      string             `json:"name"`
	Balance   uint64             `json:"balance"`
	Spendable uint64             `json:"spendable"`
	Nonce     uint64             `json:"nonce"`
}

// actInfo is the response for the accounts endpoint.
type actInfo struct {
	LatestBlock string `json:"latest_block"`
	Uncommitted int    `json:"uncommitted"`
	Accounts    []info `json:"accounts"`
}

// =============================================================================

// unspent is the view model for a single unspent output.
type unspent struct {
	Outpoint  database.Outpoint  `json:"outpoint"`
	Owner     database.AccountID `json:"owner"`
	Value     uint64             `json:"value"`
	CreatedAt uint64             `json:"created_at"`
}

// block is the view model for a block and its transactions.
type block struct {
	Hash            string             `json:"hash"`
	PrevBlockHash   string             `json:"prev_block_hash"`
	Height          uint64             `json:"height"`
	Bits            uint32             `json:"bits"`
	Nonce           uint64             `json:"nonce"`
	Beneficiary     database.AccountID `json:"beneficiary"`
	BeneficiaryName string             `json:"beneficiary_name"`
	MiningReward    uint64             `json:"mining_reward"`
	TransRoot       string             `json:"trans_root"`
	TimeStamp       uint64             `json:"timestamp"`
	Transactions    []tx               `json:"transactions"`
}
