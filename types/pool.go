package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolID identifies a configured pool, e.g. "native-1" or "gated-100".
type PoolID string

func (p PoolID) String() string { return string(p) }

// AssetType distinguishes pools holding the native asset from pools holding
// a fungible token. Native pools forbid refunds and attached value on
// withdrawal.
type AssetType int

const (
	AssetNative AssetType = iota
	AssetToken
)

// Pool holds the static and administrable parameters of one
// fixed-denomination pool.
type Pool struct {
	ID           PoolID    `json:"id" cbor:"1,keyasint"`
	Asset        AssetType `json:"asset" cbor:"2,keyasint"`
	Denomination *BigInt   `json:"denomination" cbor:"3,keyasint"`
	Enabled      bool      `json:"enabled" cbor:"4,keyasint"`
	// Gated pools require the depositor to be attested or allow-listed.
	Gated bool `json:"gated" cbor:"5,keyasint"`
	// DailyDepositLimit caps deposits per period bucket. Zero means
	// unlimited.
	DailyDepositLimit uint64 `json:"dailyDepositLimit" cbor:"6,keyasint"`
	// PerAddressLimit scopes the daily counter to (bucket, pool, address)
	// instead of (bucket, pool).
	PerAddressLimit bool `json:"perAddressLimit" cbor:"7,keyasint"`
	// MinTokenBalance is the minimum governance-token balance required to
	// deposit. Nil or zero disables the check.
	MinTokenBalance *BigInt `json:"minTokenBalance,omitempty" cbor:"8,keyasint,omitempty"`
	// FeeBps is the deposit fee in basis points of the denomination.
	FeeBps uint64 `json:"feeBps" cbor:"9,keyasint"`
	// FeeRecipient receives the deposit fee.
	FeeRecipient common.Address `json:"feeRecipient" cbor:"10,keyasint"`
	// TreeHeight is the height of the anonymity-set tree (capacity 2^height).
	TreeHeight int `json:"treeHeight" cbor:"11,keyasint"`
	// RootHistory is the number of recent roots kept as known.
	RootHistory int `json:"rootHistory" cbor:"12,keyasint"`
}

// DepositRecord is emitted on every successful deposit.
type DepositRecord struct {
	From       common.Address `json:"from" cbor:"1,keyasint"`
	Commitment HexBytes       `json:"commitment" cbor:"2,keyasint"`
	LeafIndex  uint64         `json:"leafIndex" cbor:"3,keyasint"`
	Timestamp  time.Time      `json:"timestamp" cbor:"4,keyasint"`
}

// WithdrawalRecord is emitted on every successful withdrawal.
type WithdrawalRecord struct {
	Recipient     common.Address `json:"recipient" cbor:"1,keyasint"`
	NullifierHash HexBytes       `json:"nullifierHash" cbor:"2,keyasint"`
	Relayer       common.Address `json:"relayer" cbor:"3,keyasint"`
	Fee           *BigInt        `json:"fee" cbor:"4,keyasint"`
	Timestamp     time.Time      `json:"timestamp" cbor:"5,keyasint"`
}

// EligibilityRecord is the per-address allow-list entry, mutated only by the
// gate admin.
type EligibilityRecord struct {
	Allowed   bool      `json:"allowed" cbor:"1,keyasint"`
	Note      string    `json:"note,omitempty" cbor:"2,keyasint,omitempty"`
	UpdatedAt time.Time `json:"updatedAt" cbor:"3,keyasint"`
}

// PeriodLength is the rate-limit period. Deposit counters reset when the
// period bucket (unix time divided by this length) advances.
const PeriodLength = 24 * time.Hour

// PeriodBucket returns the rate-limit bucket for the given time.
func PeriodBucket(t time.Time) uint64 {
	return uint64(t.Unix() / int64(PeriodLength/time.Second))
}
