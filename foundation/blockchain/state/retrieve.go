package state

import (
	"github.com/argonchain/argon/foundation/blockchain/checkpoint"
	"github.com/argonchain/argon/foundation/blockchain/database"
	"github.com/argonchain/argon/foundation/blockchain/genesis"
	"github.com/argonchain/argon/foundation/blockchain/peer"
)

// RetrieveHost returns a copy of host information.
func (s *State) RetrieveHost() string {
	return s.host
}

// RetrieveGenesis returns a copy of the genesis information.
func (s *State) RetrieveGenesis() genesis.Genesis {
	return s.genesis
}

// RetrieveLatestBlock returns a copy of the current latest canonical block.
func (s *State) RetrieveLatestBlock() database.Block {
	return s.db.LatestBlock()
}

// RetrieveMempool returns the transactions a block template would carry,
// in selection order.
func (s *State) RetrieveMempool() []database.BlockTx {
	return s.mempool.PickBest(-1)
}

// RetrieveAccounts returns a copy of the account records.
func (s *State) RetrieveAccounts() map[database.AccountID]database.Account {
	return s.db.CopyAccounts()
}

// RetrieveKnownPeers retrieves a copy of the known peer list.
func (s *State) RetrieveKnownPeers() []peer.Peer {
	if s.knownPeers == nil {
		return nil
	}

	return s.knownPeers.Copy(s.host)
}

// RetrieveCheckpoint returns the latest ledger checkpoint for light-client
// bootstrap.
func (s *State) RetrieveCheckpoint() (checkpoint.Checkpoint, bool) {
	return s.checkpoints.Latest()
}

// AddKnownPeer adds a peer to the known peer set. It reports true when the
// peer was not already known.
func (s *State) AddKnownPeer(p peer.Peer) bool {
	if s.knownPeers == nil {
		return false
	}

	return s.knownPeers.Add(p)
}

// RemoveKnownPeer removes a peer from the known peer set.
func (s *State) RemoveKnownPeer(p peer.Peer) {
	if s.knownPeers != nil {
		s.knownPeers.Remove(p)
	}
}
