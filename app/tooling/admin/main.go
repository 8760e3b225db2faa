// This program performs administrative tasks against the chain data on disk.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/argonchain/argon/app/tooling/admin/commands"
	"github.com/argonchain/argon/foundation/blockchain/database"
	"github.com/argonchain/argon/foundation/blockchain/database/storage/disk"
	"github.com/argonchain/argon/foundation/blockchain/genesis"
	"github.com/argonchain/argon/foundation/logger"
	"go.uber.org/zap"
)

func main() {

	// Construct the application logger.
	log, err := logger.New("ADMIN")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {
	genesisPath := env("ADMIN_GENESIS_PATH", "zblock/genesis.json")
	dbPath := env("ADMIN_DB_PATH", "zblock/miner1/")

	gen, err := genesis.Load(genesisPath)
	if err != nil {
		return fmt.Errorf("unable to load genesis file: %w", err)
	}

	storage, err := disk.New(dbPath)
	if err != nil {
		return fmt.Errorf("unable to open block storage: %w", err)
	}

	ev := func(v string, args ...any) {}
	db, err := database.New(gen, storage, ev)
	if err != nil {
		return fmt.Errorf("unable to replay chain: %w", err)
	}
	defer db.Close()

	return processCommands(os.Args, db)
}

// processCommands handles the execution of the commands specified on
// the command line.
func processCommands(args []string, db *database.Database) error {
	if len(args) < 2 {
		return errors.New("expecting a command: bals, utxos, blocks")
	}

	switch args[1] {
	case "bals":
		if err := commands.Balances(args, db); err != nil {
			return fmt.Errorf("getting balances: %w", err)
		}
	case "utxos":
		if err := commands.UnspentOutputs(args, db); err != nil {
			return fmt.Errorf("getting unspent outputs: %w", err)
		}
	case "blocks":
		if err := commands.Blocks(args, db); err != nil {
			return fmt.Errorf("getting blocks: %w", err)
		}
	default:
		return fmt.Errorf("unknown command %q", args[1])
	}

	return nil
}

func env(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
