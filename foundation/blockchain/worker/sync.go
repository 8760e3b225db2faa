package worker

// Sync updates the peer list, mempool and blocks from the currently known
// peers before the node comes fully online.
func (w *Worker) Sync() {
	w.evHandler("worker: sync: started")
	defer w.evHandler("worker: sync: completed")

	for _, pr := range w.state.RetrieveKnownPeers() {

		// Retrieve the status of this peer.
		peerStatus, err := w.state.NetRequestPeerStatus(pr)
		if err != nil {
			w.evHandler("worker: sync: requestPeerStatus: %s: ERROR: %s", pr.Host, err)
			continue
		}

		// Add new peers to this node's list.
		w.addNewPeers(peerStatus.KnownPeers)

		// Update the mempool.
		pool, err := w.state.NetRequestPeerMempool(pr)
		if err != nil {
			w.evHandler("worker: sync: requestPeerMempool: %s: ERROR: %s", pr.Host, err)
			continue
		}
		for _, tx := range pool {
			if err := w.state.SubmitNodeTransaction(tx, pr.Host); err != nil {
				w.evHandler("worker: sync: submitNodeTransaction: %s: WARNING: %s", pr.Host, err)
			}
		}

		// If this peer is ahead of us, pull the blocks we are missing and
		// run them through the normal acceptance path.
		if peerStatus.LatestBlockHeight > w.state.RetrieveLatestBlock().Header.Height {
			w.evHandler("worker: sync: writePeerBlocks: %s: latestBlockHeight[%d]", pr.Host, peerStatus.LatestBlockHeight)

			if err := w.state.NetRequestPeerBlocks(pr); err != nil {
				w.evHandler("worker: sync: writePeerBlocks: %s: ERROR %s", pr.Host, err)
			}
		}
	}

	// Share with peers this node is available to participate in the network.
	for _, pr := range w.state.RetrieveKnownPeers() {
		if err := w.state.NetRequestAddPeer(pr); err != nil {
			w.evHandler("worker: sync: requestAddPeer: %s: ERROR: %s", pr.Host, err)
		}
	}
}
