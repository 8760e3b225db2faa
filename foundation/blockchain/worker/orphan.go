package worker

// orphanOperations sweeps the orphan pool for blocks whose parents never
// arrived within the configured TTL.
func (w *Worker) orphanOperations() {
	w.evHandler("worker: orphanOperations: G started")
	defer w.evHandler("worker: orphanOperations: G completed")

	for {
		select {
		case <-w.orphanTicker.C:
			if !w.isShutdown() {
				w.state.EvictStaleOrphans()
			}
		case <-w.shut:
			w.evHandler("worker: orphanOperations: received shut signal")
			return
		}
	}
}
