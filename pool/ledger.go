/*
Package pool implements the PoolLedger: one fixed-denomination anonymity
pool, owning its accumulator tree, the commitment membership set and
append-only commitment log, the nullifier set and the deposit/withdrawal
records.

# Storage organization

The ledger lives in its own (usually prefixed) key-value database,
organized in namespaces:

  - cm/ : commitment (32 bytes) → leaf index (membership set)
  - cl/ : leaf index (8 bytes BE) → commitment (append-only log)
  - dr/ : leaf index (8 bytes BE) → DepositRecord
  - nf/ : nullifier hash (32 bytes) → marker (spent set)
  - wr/ : nullifier hash (32 bytes) → WithdrawalRecord
  - ts/ : tree state snapshot

Every operation stages all of its mutations on a single write transaction
and commits it at most once, so an aborted operation leaves no residue.
*/
package pool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"

	"github.com/veilpool/veilpool-node/db"
	"github.com/veilpool/veilpool-node/db/prefixeddb"
	"github.com/veilpool/veilpool-node/log"
	"github.com/veilpool/veilpool-node/tree"
	"github.com/veilpool/veilpool-node/types"
)

var (
	// Validation errors: the operation aborts with no state change.
	ErrDuplicateCommitment    = errors.New("commitment already in the pool")
	ErrWrongValue             = errors.New("attached value does not match the denomination")
	ErrFeeExceedsDenomination = errors.New("fee exceeds the denomination")
	ErrAlreadySpent           = errors.New("nullifier already spent")
	ErrUnknownRoot            = errors.New("root is not among the recent known roots")
	ErrNonZeroRefund          = errors.New("refund must be zero for native-asset pools")
	ErrNonZeroValue           = errors.New("attached value must be zero for native-asset withdrawals")
	ErrInvalidProof           = errors.New("invalid withdrawal proof")
	ErrInvalidRange           = errors.New("invalid commitment range")

	// Authorization errors.
	ErrNotAccessGate = errors.New("caller is not the access gate")

	// ErrLedgerBusy rejects an operation that would overlap another one in
	// flight on the same ledger, including re-entrant invocations
	// triggered from a transfer collaborator.
	ErrLedgerBusy = errors.New("another ledger operation is in flight")

	// ErrTransferFailed wraps collaborator transfer failures; the whole
	// enclosing operation is rolled back.
	ErrTransferFailed = errors.New("asset transfer failed")
)

// Storage namespaces within the ledger database.
var (
	commitmentSetPrefix    = []byte("cm/")
	commitmentLogPrefix    = []byte("cl/")
	depositRecordPrefix    = []byte("dr/")
	nullifierPrefix        = []byte("nf/")
	withdrawalRecordPrefix = []byte("wr/")
	treeStatePrefix        = []byte("ts/")
)

// treeStateKey is the single key under treeStatePrefix.
var treeStateKey = []byte("state")

const recordCacheSize = 1024

// DepositAuth is the capability required to call Deposit. It is returned
// exactly once by NewLedger and held by the access gate; no other caller can
// forge it.
type DepositAuth struct {
	ledger *Ledger
}

// Ledger is the PoolLedger for a single pool.
type Ledger struct {
	pool     types.Pool
	db       db.Database
	tree     *tree.Tree
	verifier ProofVerifier
	assets   AssetTransfer

	// opLock serializes externally observable operations; TryLock turns
	// an overlapping or re-entrant invocation into an immediate
	// ErrLedgerBusy instead of a deadlock.
	opLock sync.Mutex

	deposits *lru.Cache[uint64, *types.DepositRecord]
	now      func() time.Time
}

// NewLedger opens (or creates) the ledger of the given pool over the given
// database and returns it together with its deposit capability.
func NewLedger(database db.Database, pool types.Pool, verifier ProofVerifier, assets AssetTransfer) (*Ledger, *DepositAuth, error) {
	if pool.Denomination == nil || pool.Denomination.Sign() <= 0 {
		return nil, nil, fmt.Errorf("pool %s: denomination must be positive", pool.ID)
	}
	if _, overflow := uint256.FromBig(pool.Denomination.MathBigInt()); overflow {
		return nil, nil, fmt.Errorf("pool %s: denomination does not fit in 256 bits", pool.ID)
	}
	if verifier == nil {
		return nil, nil, fmt.Errorf("pool %s: missing proof verifier", pool.ID)
	}
	if assets == nil {
		return nil, nil, fmt.Errorf("pool %s: missing asset transfer", pool.ID)
	}
	deposits, err := lru.New[uint64, *types.DepositRecord](recordCacheSize)
	if err != nil {
		return nil, nil, fmt.Errorf("pool %s: create record cache: %w", pool.ID, err)
	}
	l := &Ledger{
		pool:     pool,
		db:       database,
		verifier: verifier,
		assets:   assets,
		deposits: deposits,
		now:      time.Now,
	}
	if err := l.loadTree(); err != nil {
		return nil, nil, err
	}
	log.Infow("pool ledger ready", "pool", pool.ID, "height", l.tree.Height(),
		"leaves", l.tree.NextIndex(), "root", l.tree.Root().String())
	return l, &DepositAuth{ledger: l}, nil
}

// loadTree restores the accumulator from its persisted snapshot, or creates
// a fresh one for a new pool.
func (l *Ledger) loadTree() error {
	snapshot := new(tree.Snapshot)
	err := l.getArtifact(treeStatePrefix, treeStateKey, snapshot)
	switch {
	case err == nil:
		t, err := tree.FromSnapshot(snapshot, l.pool.RootHistory, nil)
		if err != nil {
			return fmt.Errorf("pool %s: restore tree: %w", l.pool.ID, err)
		}
		l.tree = t
	case errors.Is(err, db.ErrKeyNotFound):
		t, err := tree.New(l.pool.TreeHeight, l.pool.RootHistory, nil)
		if err != nil {
			return fmt.Errorf("pool %s: create tree: %w", l.pool.ID, err)
		}
		l.tree = t
	default:
		return fmt.Errorf("pool %s: load tree snapshot: %w", l.pool.ID, err)
	}
	return nil
}

// Pool returns a copy of the pool parameters the ledger was opened with.
func (l *Ledger) Pool() types.Pool {
	return l.pool
}

// denomination returns the pool denomination as a uint256.
func (l *Ledger) denomination() *uint256.Int {
	d, _ := uint256.FromBig(l.pool.Denomination.MathBigInt())
	return d
}

// getArtifact retrieves and decodes a CBOR artifact from the given
// namespace.
func (l *Ledger) getArtifact(prefix, key []byte, out any) error {
	data, err := prefixeddb.NewPrefixedReader(l.db, prefix).Get(key)
	if err != nil {
		return err
	}
	if err := DecodeArtifact(data, out); err != nil {
		return fmt.Errorf("could not decode artifact: %w", err)
	}
	return nil
}

// setArtifactTx encodes and stages a CBOR artifact on the given transaction
// under the given namespace.
func setArtifactTx(wtx db.WriteTx, prefix, key []byte, artifact any) error {
	data, err := EncodeArtifact(artifact)
	if err != nil {
		return err
	}
	return prefixeddb.NewPrefixedWriteTx(wtx, prefix).Set(key, data)
}

// leafKey encodes a leaf index as a fixed-width big-endian key so the
// commitment log iterates in insertion order.
func leafKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}
