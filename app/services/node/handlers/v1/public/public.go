// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/argonchain/argon/business/web/errs"
	"github.com/argonchain/argon/foundation/blockchain/database"
	"github.com/argonchain/argon/foundation/blockchain/state"
	"github.com/argonchain/argon/foundation/events"
	"github.com/argonchain/argon/foundation/nameservice"
	"github.com/argonchain/argon/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitWalletTransaction adds new user transactions to the mempool.
func (h Handlers) SubmitWalletTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var signedTx database.SignedTx
	if err := web.Decode(r, &signedTx); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	h.Log.Infow("add user tran", "traceid", v.TraceID, "tx", signedTx, "kind", signedTx.Kind)
	if err := h.State.SubmitWalletTransaction(signedTx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "transaction added to mempool",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	gen := h.State.RetrieveGenesis()
	return web.Respond(ctx, w, gen, http.StatusOK)
}

// Status returns a point-in-time summary of the node's chain view.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.QueryStatus(), http.StatusOK)
}

// Mempool returns the set of uncommitted transactions, optionally filtered
// to those touching the specified account.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	acct := web.Param(r, "account")

	trans := []tx{}
	for _, entry := range h.State.QueryMempool() {
		if acct != "" && (acct != string(entry.Sender)) && (acct != string(entry.Tx.ToID)) {
			continue
		}

		trans = append(trans, toTx(h.NS, entry.Tx))
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// Accounts returns the current balances and nonces for all accounts or the
// specified account.
func (h Handlers) Accounts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	account := web.Param(r, "account")

	var records map[database.AccountID]database.Account
	switch account {
	case "":
		records = h.State.RetrieveAccounts()

	default:
		accountID, err := database.ToAccountID(account)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}

		record, err := h.State.QueryAccount(accountID)
		if err != nil {
			return errs.NewTrusted(err, http.StatusNotFound)
		}
		records = map[database.AccountID]database.Account{accountID: record}
	}

	acts := make([]info, 0, len(records))
	for accountID, record := range records {
		spendable, err := h.State.QueryBalance(accountID)
		if err != nil {
			return err
		}

		acts = append(acts, info{
			Account:   accountID,
			Name:      h.NS.Lookup(accountID),
			Balance:   record.Balance,
			Spendable: spendable,
			Nonce:     record.Nonce,
		})
	}

	ai := actInfo{
		LatestBlock: h.State.RetrieveLatestBlock().Hash(),
		Uncommitted: h.State.QueryMempoolLength(),
		Accounts:    acts,
	}

	return web.Respond(ctx, w, ai, http.StatusOK)
}

// UnspentOutputs returns the unspent outputs owned by the specified account.
func (h Handlers) UnspentOutputs(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	accountID, err := database.ToAccountID(web.Param(r, "account"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	utxos := h.State.QueryUnspentOutputs(accountID)

	outs := make([]unspent, 0, len(utxos))
	for op, out := range utxos {
		outs = append(outs, unspent{
			Outpoint:  op,
			Owner:     out.OwnerID,
			Value:     out.Value,
			CreatedAt: out.CreatedAt,
		})
	}

	return web.Respond(ctx, w, outs, http.StatusOK)
}

// BlocksByHeight returns the canonical blocks for the specified range with
// their transactions expanded.
func (h Handlers) BlocksByHeight(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, to, err := rangeParams(r)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	dbBlocks := h.State.QueryBlocksByHeight(from, to)
	if len(dbBlocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	blocks := make([]block, len(dbBlocks))
	for i, blk := range dbBlocks {
		values := blk.Trans.Values()
		trans := make([]tx, len(values))
		for j, tran := range values {
			trans[j] = toTx(h.NS, tran)
		}

		blocks[i] = block{
			Hash:            blk.Hash(),
			PrevBlockHash:   blk.Header.PrevBlockHash,
			Height:          blk.Header.Height,
			Bits:            blk.Header.Bits,
			Nonce:           blk.Header.Nonce,
			Beneficiary:     blk.Header.BeneficiaryID,
			BeneficiaryName: h.NS.Lookup(blk.Header.BeneficiaryID),
			MiningReward:    blk.Header.MiningReward,
			TransRoot:       blk.Header.TransRoot,
			TimeStamp:       blk.Header.TimeStamp,
			Transactions:    trans,
		}
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// Headers returns the canonical block headers for the specified range, for
// light clients that chain-check headers alone.
func (h Handlers) Headers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, to, err := rangeParams(r)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	latest := h.State.RetrieveLatestBlock().Header.Height
	if from == state.QueryLatest {
		from = latest
	}
	if to == state.QueryLatest {
		to = latest
	}

	headers, err := h.State.QueryHeaders(from, to)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	return web.Respond(ctx, w, headers, http.StatusOK)
}

// MerkleProof returns the inclusion proof for the specified transaction in
// the specified block.
func (h Handlers) MerkleProof(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	blockHash := web.Param(r, "block")
	txID := web.Param(r, "tx")

	proof, err := h.State.QueryMerkleProof(txID, blockHash)
	if err != nil {
		return errs.NewTrusted(err, http.StatusNotFound)
	}

	return web.Respond(ctx, w, proof, http.StatusOK)
}

// Checkpoint returns the latest ledger checkpoint for light-client bootstrap.
func (h Handlers) Checkpoint(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cp, exists := h.State.RetrieveCheckpoint()
	if !exists {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	return web.Respond(ctx, w, cp, http.StatusOK)
}

// SignalMining signals the start of a mining operation.
func (h Handlers) SignalMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.State.Worker.SignalStartMining()

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "mining signalled",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// =============================================================================

// rangeParams parses the from/to height parameters, accepting the word
// "latest" for either end.
func rangeParams(r *http.Request) (uint64, uint64, error) {
	fromStr := web.Param(r, "from")
	if fromStr == "latest" || fromStr == "" {
		fromStr = fmt.Sprintf("%d", state.QueryLatest)
	}

	toStr := web.Param(r, "to")
	if toStr == "latest" || toStr == "" {
		toStr = fmt.Sprintf("%d", state.QueryLatest)
	}

	from, err := strconv.ParseUint(fromStr, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	to, err := strconv.ParseUint(toStr, 10, 64)
	if err != nil {
		return 0, 0, err
	}

	if from != state.QueryLatest && to != state.QueryLatest && from > to {
		return 0, 0, errors.New("from greater than to")
	}

	return from, to, nil
}
