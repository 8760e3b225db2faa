// Package peer maintains the peer related information such as the set
// of known peers, their status, and a reputation score fed by the
// consensus layer when a peer sends invalid or unconnectable data.
package peer

import (
	"sync"
)

// Reputation penalties by offense, and the score at which a peer is
// dropped from the set.
const (
	PenaltyInvalidBlock = 20
	PenaltyInvalidTrans = 5
	PenaltyStaleOrphan  = 10
	BanScore            = 100
)

// Peer represents information about a Node in the network.
type Peer struct {
	Host string
}

// New contructs a new info value.
func New(host string) Peer {
	return Peer{
		Host: host,
	}
}

// Match validates if the specified host matches this node.
func (p Peer) Match(host string) bool {
	return p.Host == host
}

// =============================================================================

// PeerStatus represents information about the status
// of any given peer.
type PeerStatus struct {
	LatestBlockHash   string `json:"latest_block_hash"`
	LatestBlockHeight uint64 `json:"latest_block_height"`
	KnownPeers        []Peer `json:"known_peers"`
}

// =============================================================================

// PeerSet represents the data representation to maintain a set of known
// peers and their reputation scores.
type PeerSet struct {
	mu     sync.RWMutex
	set    map[Peer]struct{}
	scores map[Peer]int
	banned map[Peer]struct{}
}

// NewPeerSet constructs a new info set to manage node peer information.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		set:    make(map[Peer]struct{}),
		scores: make(map[Peer]int),
		banned: make(map[Peer]struct{}),
	}
}

// Add adds a new node to the set. Banned peers are not re-admitted.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, isBanned := ps.banned[peer]; isBanned {
		return false
	}

	_, exists := ps.set[peer]
	if !exists {
		ps.set[peer] = struct{}{}
		return true
	}

	return false
}

// Remove removes a node from the set.
func (ps *PeerSet) Remove(peer Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, peer)
	delete(ps.scores, peer)
}

// Copy returns a list of the known peers.
func (ps *PeerSet) Copy(host string) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var peers []Peer
	for peer := range ps.set {
		if !peer.Match(host) {
			peers = append(peers, peer)
		}
	}

	return peers
}

// =============================================================================

// Report adds the specified penalty to a peer's score. When the score
// crosses the ban threshold the peer is removed from the set and refused
// on any later Add. The updated score is returned.
func (ps *PeerSet) Report(peer Peer, penalty int) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	score := ps.scores[peer] + penalty
	ps.scores[peer] = score

	if score >= BanScore {
		delete(ps.set, peer)
		delete(ps.scores, peer)
		ps.banned[peer] = struct{}{}
	}

	return score
}

// Score returns the current reputation score for a peer.
func (ps *PeerSet) Score(peer Peer) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return ps.scores[peer]
}

// IsBanned reports whether the peer has been dropped for misbehavior.
func (ps *PeerSet) IsBanned(peer Peer) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	_, isBanned := ps.banned[peer]
	return isBanned
}
