// Package selector provides different transaction selecting algorithms for
// building block templates out of the mempool.
package selector

import (
	"fmt"
	"sort"

	"github.com/argonchain/argon/foundation/blockchain/database"
)

// List of different select strategies.
const (
	StrategyFeeRate = "feerate"
	StrategyFIFO    = "fifo"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyFeeRate: feeRateSelect,
	StrategyFIFO:    fifoSelect,
}

// Entry carries the facts a strategy orders by. The Seq value is the
// arrival order and breaks ties for fairness.
type Entry struct {
	Tx      database.BlockTx
	FeeRate uint64
	Seq     uint64
}

// Func defines a function that takes a mempool of entries grouped by
// sender and selects howMany of them in an order based on the function's
// strategy. All selector functions MUST respect nonce ordering for account
// style transactions. Receiving -1 for howMany must return all the
// transactions in the strategy's ordering.
type Func func(entries map[database.AccountID][]Entry, howMany int) []database.BlockTx

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}

	return fn, nil
}

// =============================================================================

// feeRateSelect merges the per-sender queues picking the highest fee-rate
// head first, breaking ties by arrival order. Within a sender, account
// nonce order is preserved.
func feeRateSelect(entries map[database.AccountID][]Entry, howMany int) []database.BlockTx {
	queues, total := sortedQueues(entries)
	if howMany == -1 || howMany > total {
		howMany = total
	}

	var selected []database.BlockTx
	for len(selected) < howMany {
		best := -1
		for i, q := range queues {
			if len(q) == 0 {
				continue
			}
			if best == -1 {
				best = i
				continue
			}

			head, bestHead := q[0], queues[best][0]
			if head.FeeRate > bestHead.FeeRate ||
				(head.FeeRate == bestHead.FeeRate && head.Seq < bestHead.Seq) {
				best = i
			}
		}
		if best == -1 {
			break
		}

		selected = append(selected, queues[best][0].Tx)
		queues[best] = queues[best][1:]
	}

	return selected
}

// fifoSelect returns transactions purely in arrival order, still keeping
// each sender's nonce sequence intact.
func fifoSelect(entries map[database.AccountID][]Entry, howMany int) []database.BlockTx {
	queues, total := sortedQueues(entries)
	if howMany == -1 || howMany > total {
		howMany = total
	}

	var selected []database.BlockTx
	for len(selected) < howMany {
		best := -1
		for i, q := range queues {
			if len(q) == 0 {
				continue
			}
			if best == -1 || q[0].Seq < queues[best][0].Seq {
				best = i
			}
		}
		if best == -1 {
			break
		}

		selected = append(selected, queues[best][0].Tx)
		queues[best] = queues[best][1:]
	}

	return selected
}

// =============================================================================

// sortedQueues produces one queue per sender sorted by nonce for account
// transactions and by arrival for the rest.
func sortedQueues(entries map[database.AccountID][]Entry) ([][]Entry, int) {
	var queues [][]Entry
	var total int

	// Iterate senders in a deterministic order so equal inputs always
	// produce equal templates.
	senders := make([]database.AccountID, 0, len(entries))
	for sender := range entries {
		senders = append(senders, sender)
	}
	sort.Slice(senders, func(i, j int) bool { return senders[i] < senders[j] })

	for _, sender := range senders {
		queue := make([]Entry, len(entries[sender]))
		copy(queue, entries[sender])

		sort.Slice(queue, func(i, j int) bool {
			a, b := queue[i], queue[j]
			if a.Tx.Kind == database.KindAccount && b.Tx.Kind == database.KindAccount {
				return a.Tx.Nonce < b.Tx.Nonce
			}
			return a.Seq < b.Seq
		})

		queues = append(queues, queue)
		total += len(queue)
	}

	return queues, total
}
