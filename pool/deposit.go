package pool

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/veilpool/veilpool-node/db"
	"github.com/veilpool/veilpool-node/db/prefixeddb"
	"github.com/veilpool/veilpool-node/log"
	"github.com/veilpool/veilpool-node/tree"
	"github.com/veilpool/veilpool-node/types"
)

// CanAccept reports whether a deposit of the given commitment could be
// accepted right now: the commitment must be new and the tree must have
// room. The answer is only advisory; a deposit that must not race another
// ledger operation goes through Reserve instead.
func (l *Ledger) CanAccept(commitment *types.BigInt) error {
	if !l.opLock.TryLock() {
		return ErrLedgerBusy
	}
	defer l.opLock.Unlock()
	return l.canAccept(commitment)
}

func (l *Ledger) canAccept(commitment *types.BigInt) error {
	if l.tree.NextIndex() >= l.tree.Capacity() {
		return fmt.Errorf("pool %s exhausted: %w", l.pool.ID, tree.ErrTreeFull)
	}
	key := commitment.Bytes32()
	_, err := prefixeddb.NewPrefixedReader(l.db, commitmentSetPrefix).Get(key)
	switch {
	case err == nil:
		return ErrDuplicateCommitment
	case errors.Is(err, db.ErrKeyNotFound):
		return nil
	default:
		return fmt.Errorf("check commitment set: %w", err)
	}
}

// Reservation holds the ledger operation lock between a validated
// pre-flight and the deposit that consumes it. While a reservation is
// outstanding no other ledger operation (deposit or withdrawal) can run, so
// the gate can move the deposit fee knowing the reserved insertion cannot
// be displaced. A reservation must be settled exactly once, either by
// Deposit or by Release.
type Reservation struct {
	ledger     *Ledger
	commitment *types.BigInt
	done       bool
}

// Reserve validates that a deposit of the given commitment would be
// accepted and, on success, returns a reservation holding the ledger
// operation lock. It is callable only through the capability returned by
// NewLedger, held by the access gate.
func (l *Ledger) Reserve(auth *DepositAuth, commitment *types.BigInt) (*Reservation, error) {
	if auth == nil || auth.ledger != l {
		return nil, ErrNotAccessGate
	}
	if !l.opLock.TryLock() {
		return nil, ErrLedgerBusy
	}
	if err := l.canAccept(commitment); err != nil {
		l.opLock.Unlock()
		return nil, err
	}
	return &Reservation{ledger: l, commitment: commitment}, nil
}

// Deposit performs the reserved insertion and settles the reservation.
func (r *Reservation) Deposit(from common.Address, value *uint256.Int) (uint64, error) {
	if r.done {
		return 0, fmt.Errorf("deposit reservation already settled")
	}
	defer r.Release()
	return r.ledger.deposit(from, r.commitment, value)
}

// Release settles the reservation without depositing, releasing the ledger
// operation lock. Releasing a settled reservation is a no-op.
func (r *Reservation) Release() {
	if r.done {
		return
	}
	r.done = true
	r.ledger.opLock.Unlock()
}

// Deposit inserts a commitment into the anonymity set. It is callable only
// through the capability returned by NewLedger, held by the access gate.
// The attached value must equal the pool denomination exactly. On success it
// returns the assigned leaf index and persists the deposit record
// {from, commitment, leafIndex, timestamp}.
func (l *Ledger) Deposit(auth *DepositAuth, from common.Address, commitment *types.BigInt, value *uint256.Int) (uint64, error) {
	if auth == nil || auth.ledger != l {
		return 0, ErrNotAccessGate
	}
	if !l.opLock.TryLock() {
		return 0, ErrLedgerBusy
	}
	defer l.opLock.Unlock()
	return l.deposit(from, commitment, value)
}

// deposit is the insertion body; the caller holds the operation lock.
func (l *Ledger) deposit(from common.Address, commitment *types.BigInt, value *uint256.Int) (uint64, error) {
	if value == nil || !value.Eq(l.denomination()) {
		return 0, ErrWrongValue
	}
	if err := l.canAccept(commitment); err != nil {
		return 0, err
	}

	// Insert into a clone of the tree; the live tree is swapped only
	// after the transaction commits.
	next := l.tree.Clone()
	index, err := next.Insert(commitment.MathBigInt())
	if err != nil {
		return 0, err
	}

	record := &types.DepositRecord{
		From:       from,
		Commitment: commitment.Bytes32(),
		LeafIndex:  index,
		Timestamp:  l.now().UTC(),
	}

	wtx := l.db.WriteTx()
	defer wtx.Discard()
	key := commitment.Bytes32()
	if err := prefixeddb.NewPrefixedWriteTx(wtx, commitmentSetPrefix).Set(key, leafKey(index)); err != nil {
		return 0, fmt.Errorf("stage commitment set: %w", err)
	}
	if err := prefixeddb.NewPrefixedWriteTx(wtx, commitmentLogPrefix).Set(leafKey(index), key); err != nil {
		return 0, fmt.Errorf("stage commitment log: %w", err)
	}
	if err := setArtifactTx(wtx, depositRecordPrefix, leafKey(index), record); err != nil {
		return 0, fmt.Errorf("stage deposit record: %w", err)
	}
	if err := setArtifactTx(wtx, treeStatePrefix, treeStateKey, next.Snapshot()); err != nil {
		return 0, fmt.Errorf("stage tree snapshot: %w", err)
	}
	if err := wtx.Commit(); err != nil {
		return 0, fmt.Errorf("commit deposit: %w", err)
	}

	l.tree = next
	l.deposits.Add(index, record)
	log.Infow("deposit accepted", "pool", l.pool.ID, "leafIndex", index,
		"commitment", record.Commitment.String(), "root", next.Root().String())
	return index, nil
}
