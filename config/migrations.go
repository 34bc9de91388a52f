package config

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/veilpool/veilpool-node/types"
)

// configV1 is the original single-pool schema, before the pool list and the
// per-pool access parameters were introduced. Version 0 files (no version
// field) parse with the same shape.
type configV1 struct {
	Version      int            `json:"version"`
	Admin        common.Address `json:"admin"`
	Denomination *types.BigInt  `json:"denomination"`
	TreeHeight   int            `json:"treeHeight"`
	RootHistory  int            `json:"rootHistory"`
	FeeBps       uint64         `json:"feeBps"`
	FeeRecipient common.Address `json:"feeRecipient"`
}

// migrateV1 lifts a v1 file into the current schema: its single pool becomes
// the only entry of the pool list, ungated and enabled, keeping its
// denomination and fee parameters.
func migrateV1(old *configV1) *Config {
	treeHeight := old.TreeHeight
	if treeHeight == 0 {
		treeHeight = 20
	}
	rootHistory := old.RootHistory
	if rootHistory == 0 {
		rootHistory = 30
	}
	feeRecipient := old.FeeRecipient
	if feeRecipient == (common.Address{}) {
		feeRecipient = old.Admin
	}
	return &Config{
		Version: CurrentVersion,
		Admin:   old.Admin,
		Pools: []types.Pool{{
			ID:           "default",
			Asset:        types.AssetNative,
			Denomination: old.Denomination,
			Enabled:      true,
			TreeHeight:   treeHeight,
			RootHistory:  rootHistory,
			FeeBps:       old.FeeBps,
			FeeRecipient: feeRecipient,
		}},
	}
}
