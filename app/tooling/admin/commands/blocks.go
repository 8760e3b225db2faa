package commands

import (
	"fmt"

	"github.com/argonchain/argon/foundation/blockchain/database"
)

// Blocks walks the persisted chain from disk and prints each block header.
func Blocks(args []string, db *database.Database) error {
	var onlyAct string
	if len(args) == 3 {
		onlyAct = args[2]
	}

	iter := db.ForEach()
	for block, err := iter.Next(); !iter.Done(); block, err = iter.Next() {
		if err != nil {
			return err
		}

		if onlyAct != "" && !blockTouches(block, onlyAct) {
			continue
		}

		fmt.Printf("Height: %d  Hash: %s  Prev: %s\n", block.Header.Height, block.Hash(), block.Header.PrevBlockHash)
		fmt.Printf("  Bits: %08x  Nonce: %d  TimeStamp: %d\n", block.Header.Bits, block.Header.Nonce, block.Header.TimeStamp)
		fmt.Printf("  Beneficiary: %s  Reward: %d  Trans: %d\n",
			block.Header.BeneficiaryID, block.Header.MiningReward, len(block.Trans.Values()))
	}

	return nil
}

// blockTouches reports whether any transaction in the block involves the
// specified account.
func blockTouches(block database.Block, account string) bool {
	if string(block.Header.BeneficiaryID) == account {
		return true
	}

	for _, tx := range block.Trans.Values() {
		fromID, err := tx.FromAccount()
		if err == nil && string(fromID) == account {
			return true
		}
		if string(tx.ToID) == account {
			return true
		}
		for _, out := range tx.Outputs {
			if string(out.OwnerID) == account {
				return true
			}
		}
	}

	return false
}
