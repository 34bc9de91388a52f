package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/veilpool/veilpool-node/db"
	"github.com/veilpool/veilpool-node/pool"
	"github.com/veilpool/veilpool-node/types"
)

// NullifierStatus reports the spent state of one nullifier hash.
type NullifierStatus struct {
	NullifierHash *types.BigInt `json:"nullifierHash"`
	Spent         bool          `json:"spent"`
}

// NullifierBatchRequest is the body of a batch spent query.
type NullifierBatchRequest struct {
	NullifierHashes []*types.BigInt `json:"nullifierHashes"`
}

// newWithdrawal verifies and executes a withdrawal.
// POST /pools/{poolId}/withdrawals
func (a *API) newWithdrawal(w http.ResponseWriter, r *http.Request) {
	ledger, ok := a.ledgerOf(r)
	if !ok {
		ErrPoolNotFound.Write(w)
		return
	}
	req := &pool.WithdrawRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.Root == nil || req.NullifierHash == nil || len(req.Proof) == 0 {
		ErrMalformedBody.Write(w)
		return
	}
	if err := ledger.Withdraw(req); err != nil {
		fromDomainError(err).Write(w)
		return
	}
	httpWriteOK(w)
}

// nullifierStatus reports whether a single nullifier hash is spent.
// GET /pools/{poolId}/nullifiers/{nullifierHash}
func (a *API) nullifierStatus(w http.ResponseWriter, r *http.Request) {
	ledger, ok := a.ledgerOf(r)
	if !ok {
		ErrPoolNotFound.Write(w)
		return
	}
	nullifierHash := new(types.BigInt)
	if err := nullifierHash.UnmarshalText([]byte(chi.URLParam(r, NullifierURLParam))); err != nil {
		ErrMalformedParam.WithErr(err).Write(w)
		return
	}
	spent, err := ledger.IsSpent(nullifierHash)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &NullifierStatus{NullifierHash: nullifierHash, Spent: spent})
}

// nullifierStatusBatch reports the spent state of a list of nullifier
// hashes, in order.
// POST /pools/{poolId}/nullifiers
func (a *API) nullifierStatusBatch(w http.ResponseWriter, r *http.Request) {
	ledger, ok := a.ledgerOf(r)
	if !ok {
		ErrPoolNotFound.Write(w)
		return
	}
	req := &NullifierBatchRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	spent, err := ledger.IsSpentBatch(req.NullifierHashes)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	statuses := make([]NullifierStatus, len(spent))
	for i := range spent {
		statuses[i] = NullifierStatus{NullifierHash: req.NullifierHashes[i], Spent: spent[i]}
	}
	httpWriteJSON(w, statuses)
}

// withdrawalRecord returns the withdrawal record of a spent nullifier hash.
// GET /pools/{poolId}/withdrawals/{nullifierHash}
func (a *API) withdrawalRecord(w http.ResponseWriter, r *http.Request) {
	ledger, ok := a.ledgerOf(r)
	if !ok {
		ErrPoolNotFound.Write(w)
		return
	}
	nullifierHash := new(types.BigInt)
	if err := nullifierHash.UnmarshalText([]byte(chi.URLParam(r, NullifierURLParam))); err != nil {
		ErrMalformedParam.WithErr(err).Write(w)
		return
	}
	record, err := ledger.WithdrawalRecordOf(nullifierHash)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			ErrResourceNotFound.Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, record)
}
