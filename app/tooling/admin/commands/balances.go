// Package commands implements the admin tool's chain inspection commands.
package commands

import (
	"fmt"
	"sort"

	"github.com/argonchain/argon/foundation/blockchain/database"
)

// Balances prints the current balance and nonce for every account, or for
// the one account specified on the command line.
func Balances(args []string, db *database.Database) error {
	var onlyAct string
	if len(args) == 3 {
		onlyAct = args[2]
	}

	fmt.Printf("LatestBlockHash: %s\n", db.LatestBlock().Hash())
	fmt.Printf("TotalIssued: %d\n\n", db.TotalIssued())

	accounts := db.CopyAccounts()

	ids := make([]database.AccountID, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if onlyAct != "" && onlyAct != string(id) {
			continue
		}

		spendable, err := db.Balance(id)
		if err != nil {
			return err
		}

		account := accounts[id]
		fmt.Printf("Account: %s  Balance: %d  Spendable: %d  Nonce: %d\n",
			id, account.Balance, spendable, account.Nonce)
	}

	return nil
}

// UnspentOutputs prints the unspent output set, or the outputs owned by the
// one account specified on the command line.
func UnspentOutputs(args []string, db *database.Database) error {
	var onlyAct string
	if len(args) == 3 {
		onlyAct = args[2]
	}

	for op, out := range db.CopyUTXOs() {
		if onlyAct != "" && onlyAct != string(out.OwnerID) {
			continue
		}

		fmt.Printf("Outpoint: %s  Owner: %s  Value: %d  CreatedAt: %d\n",
			op, out.OwnerID, out.Value, out.CreatedAt)
	}

	return nil
}
