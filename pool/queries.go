package pool

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/veilpool/veilpool-node/db"
	"github.com/veilpool/veilpool-node/db/prefixeddb"
	"github.com/veilpool/veilpool-node/types"
)

// IsSpent reports whether the nullifier hash has been spent.
func (l *Ledger) IsSpent(nullifierHash *types.BigInt) (bool, error) {
	return l.isSpent(nullifierHash)
}

// IsSpentBatch reports the spent state of every nullifier hash in the list,
// in order.
func (l *Ledger) IsSpentBatch(nullifierHashes []*types.BigInt) ([]bool, error) {
	out := make([]bool, len(nullifierHashes))
	for i, nh := range nullifierHashes {
		spent, err := l.isSpent(nh)
		if err != nil {
			return nil, err
		}
		out[i] = spent
	}
	return out, nil
}

// Root returns the current root of the anonymity-set tree.
func (l *Ledger) Root() *big.Int {
	return l.tree.Root()
}

// IsKnownRoot reports whether root is within the retained root history.
func (l *Ledger) IsKnownRoot(root *types.BigInt) bool {
	if root == nil {
		return false
	}
	return l.tree.IsKnownRoot(root.MathBigInt())
}

// LeafCount returns the number of commitments inserted so far.
func (l *Ledger) LeafCount() uint64 {
	return l.tree.NextIndex()
}

// CommitmentsInRange returns the commitments with leaf indices in
// [start, end], inclusive. It fails with ErrInvalidRange if start > end or
// end is past the last inserted leaf.
func (l *Ledger) CommitmentsInRange(start, end uint64) ([]types.HexBytes, error) {
	if start > end || end >= l.tree.NextIndex() {
		return nil, fmt.Errorf("%w: [%d, %d] with %d leaves", ErrInvalidRange, start, end, l.tree.NextIndex())
	}
	reader := prefixeddb.NewPrefixedReader(l.db, commitmentLogPrefix)
	out := make([]types.HexBytes, 0, end-start+1)
	for index := start; index <= end; index++ {
		data, err := reader.Get(leafKey(index))
		if err != nil {
			return nil, fmt.Errorf("commitment log gap at index %d: %w", index, err)
		}
		out = append(out, types.HexBytes(data))
	}
	return out, nil
}

// DepositRecordAt returns the deposit record of the given leaf index.
func (l *Ledger) DepositRecordAt(index uint64) (*types.DepositRecord, error) {
	if record, ok := l.deposits.Get(index); ok {
		return record, nil
	}
	record := new(types.DepositRecord)
	if err := l.getArtifact(depositRecordPrefix, leafKey(index), record); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: no deposit at index %d", ErrInvalidRange, index)
		}
		return nil, err
	}
	l.deposits.Add(index, record)
	return record, nil
}

// WithdrawalRecordOf returns the withdrawal record of a spent nullifier
// hash, or db.ErrKeyNotFound if it is unspent.
func (l *Ledger) WithdrawalRecordOf(nullifierHash *types.BigInt) (*types.WithdrawalRecord, error) {
	record := new(types.WithdrawalRecord)
	if err := l.getArtifact(withdrawalRecordPrefix, nullifierHash.Bytes32(), record); err != nil {
		return nil, err
	}
	return record, nil
}
