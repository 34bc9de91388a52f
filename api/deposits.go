package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/veilpool/veilpool-node/types"
)

// DepositRequest is the body of a gated deposit. Value is the attached
// amount, which must equal denomination plus fee.
type DepositRequest struct {
	From       common.Address `json:"from"`
	Commitment *types.BigInt  `json:"commitment"`
	Value      *types.BigInt  `json:"value"`
}

// newDeposit runs a gated deposit into the pool.
// POST /pools/{poolId}/deposits
func (a *API) newDeposit(w http.ResponseWriter, r *http.Request) {
	req := &DepositRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.Commitment == nil || req.Value == nil {
		ErrMalformedBody.Write(w)
		return
	}
	value, overflow := uint256.FromBig(req.Value.MathBigInt())
	if overflow {
		ErrMalformedBody.Write(w)
		return
	}
	poolID := types.PoolID(chi.URLParam(r, PoolURLParam))
	receipt, err := a.gate.Deposit(req.From, poolID, req.Commitment, value)
	if err != nil {
		fromDomainError(err).Write(w)
		return
	}
	httpWriteJSON(w, receipt)
}

// canDeposit pre-flights a deposit without side effects.
// POST /pools/{poolId}/deposits/check
func (a *API) canDeposit(w http.ResponseWriter, r *http.Request) {
	req := &DepositRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.Commitment == nil {
		ErrMalformedBody.Write(w)
		return
	}
	poolID := types.PoolID(chi.URLParam(r, PoolURLParam))
	if err := a.gate.CanDeposit(req.From, poolID, req.Commitment); err != nil {
		fromDomainError(err).Write(w)
		return
	}
	httpWriteOK(w)
}

// depositRecord returns the deposit record at a leaf index.
// GET /pools/{poolId}/deposits/{leafIndex}
func (a *API) depositRecord(w http.ResponseWriter, r *http.Request) {
	ledger, ok := a.ledgerOf(r)
	if !ok {
		ErrPoolNotFound.Write(w)
		return
	}
	index, err := strconv.ParseUint(chi.URLParam(r, LeafIndexURLParam), 10, 64)
	if err != nil {
		ErrMalformedParam.WithErr(err).Write(w)
		return
	}
	record, err := ledger.DepositRecordAt(index)
	if err != nil {
		ErrResourceNotFound.Write(w)
		return
	}
	httpWriteJSON(w, record)
}

// CommitmentRange is the response of a commitment range read.
type CommitmentRange struct {
	Start       uint64           `json:"start"`
	End         uint64           `json:"end"`
	Commitments []types.HexBytes `json:"commitments"`
}

// commitments returns the commitments with leaf indices in the inclusive
// [start, end] range.
// GET /pools/{poolId}/commitments?start=<n>&end=<n>
func (a *API) commitments(w http.ResponseWriter, r *http.Request) {
	ledger, ok := a.ledgerOf(r)
	if !ok {
		ErrPoolNotFound.Write(w)
		return
	}
	start, err := strconv.ParseUint(r.URL.Query().Get("start"), 10, 64)
	if err != nil {
		ErrMalformedParam.WithErr(err).Write(w)
		return
	}
	end, err := strconv.ParseUint(r.URL.Query().Get("end"), 10, 64)
	if err != nil {
		ErrMalformedParam.WithErr(err).Write(w)
		return
	}
	commitments, err := ledger.CommitmentsInRange(start, end)
	if err != nil {
		fromDomainError(err).Write(w)
		return
	}
	httpWriteJSON(w, &CommitmentRange{Start: start, End: end, Commitments: commitments})
}
