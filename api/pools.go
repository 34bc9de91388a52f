package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/veilpool/veilpool-node/gate"
	"github.com/veilpool/veilpool-node/types"
)

// PoolInfo is the public view of a pool and its tree state.
type PoolInfo struct {
	Pool      types.Pool    `json:"pool"`
	Root      *types.BigInt `json:"root"`
	LeafCount uint64        `json:"leafCount"`
	Fee       *types.BigInt `json:"depositFee"`
	Required  *types.BigInt `json:"requiredValue"`
}

// RootInfo answers a current-root or known-root query.
type RootInfo struct {
	Root  *types.BigInt `json:"root"`
	Known *bool         `json:"known,omitempty"`
}

// listPools returns the configured pools.
// GET /pools
func (a *API) listPools(w http.ResponseWriter, r *http.Request) {
	httpWriteJSON(w, a.gate.Pools())
}

// poolInfo returns the pool parameters together with its tree state and fee
// arithmetic.
// GET /pools/{poolId}
func (a *API) poolInfo(w http.ResponseWriter, r *http.Request) {
	id := types.PoolID(chi.URLParam(r, PoolURLParam))
	p, ok := a.gate.Pool(id)
	if !ok {
		ErrPoolNotFound.Write(w)
		return
	}
	ledger, _ := a.gate.Ledger(id)
	httpWriteJSON(w, &PoolInfo{
		Pool:      p,
		Root:      new(types.BigInt).SetBigInt(ledger.Root()),
		LeafCount: ledger.LeafCount(),
		Fee:       new(types.BigInt).SetBigInt(gate.Fee(&p).ToBig()),
		Required:  new(types.BigInt).SetBigInt(gate.RequiredValue(&p).ToBig()),
	})
}

// poolRoot returns the current root, or answers whether a root passed as the
// "root" query parameter is within the retained history.
// GET /pools/{poolId}/root[?root=<decimal or 0x hex>]
func (a *API) poolRoot(w http.ResponseWriter, r *http.Request) {
	ledger, ok := a.ledgerOf(r)
	if !ok {
		ErrPoolNotFound.Write(w)
		return
	}
	info := &RootInfo{Root: new(types.BigInt).SetBigInt(ledger.Root())}
	if raw := r.URL.Query().Get("root"); raw != "" {
		root := new(types.BigInt)
		if err := root.UnmarshalText([]byte(raw)); err != nil {
			ErrMalformedParam.WithErr(err).Write(w)
			return
		}
		known := ledger.IsKnownRoot(root)
		info.Known = &known
	}
	httpWriteJSON(w, info)
}

// allowed returns the allow-list record of an address.
// GET /allowed/{address}
func (a *API) allowed(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, AddressURLParam)
	if !common.IsHexAddress(raw) {
		ErrMalformedParam.Write(w)
		return
	}
	record, ok, err := a.gate.Allowed(common.HexToAddress(raw))
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	if !ok {
		ErrResourceNotFound.Write(w)
		return
	}
	httpWriteJSON(w, record)
}
