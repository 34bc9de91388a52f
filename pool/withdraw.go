package pool

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/veilpool/veilpool-node/db"
	"github.com/veilpool/veilpool-node/db/prefixeddb"
	"github.com/veilpool/veilpool-node/log"
	"github.com/veilpool/veilpool-node/types"
)

// WithdrawRequest carries the inputs of a withdrawal: the zero-knowledge
// proof, the public inputs it was generated against, and the attached value
// (which native-asset pools require to be zero).
type WithdrawRequest struct {
	Proof         types.HexBytes `json:"proof"`
	Root          *types.BigInt  `json:"root"`
	NullifierHash *types.BigInt  `json:"nullifierHash"`
	Recipient     common.Address `json:"recipient"`
	Relayer       common.Address `json:"relayer"`
	Fee           *types.BigInt  `json:"fee"`
	Refund        *types.BigInt  `json:"refund"`
	Value         *uint256.Int   `json:"-"`
}

// Withdraw verifies a withdrawal proof and, if valid, marks the nullifier
// spent and pays out denomination-fee to the recipient and fee to the
// relayer. The spent marking and the withdrawal record are staged on a
// write transaction that is committed only after every transfer succeeded,
// so a failed payout leaves no ledger residue and the nullifier remains
// unspent.
func (l *Ledger) Withdraw(req *WithdrawRequest) error {
	if !l.opLock.TryLock() {
		return ErrLedgerBusy
	}
	defer l.opLock.Unlock()

	fee := req.Fee
	if fee == nil {
		fee = new(types.BigInt).SetUint64(0)
	}
	refund := req.Refund
	if refund == nil {
		refund = new(types.BigInt).SetUint64(0)
	}
	if fee.Sign() < 0 || fee.Cmp(l.pool.Denomination) > 0 {
		return ErrFeeExceedsDenomination
	}
	spent, err := l.isSpent(req.NullifierHash)
	if err != nil {
		return err
	}
	if spent {
		return ErrAlreadySpent
	}
	if !l.tree.IsKnownRoot(req.Root.MathBigInt()) {
		return ErrUnknownRoot
	}
	if l.pool.Asset == types.AssetNative {
		if refund.Sign() != 0 {
			return ErrNonZeroRefund
		}
		if req.Value != nil && !req.Value.IsZero() {
			return ErrNonZeroValue
		}
	}

	// The six ordered public inputs are the contract the proof was
	// generated against; addresses enter the field as integers.
	publicInputs := [NumPublicInputs]*big.Int{
		req.Root.MathBigInt(),
		req.NullifierHash.MathBigInt(),
		new(big.Int).SetBytes(req.Recipient.Bytes()),
		new(big.Int).SetBytes(req.Relayer.Bytes()),
		fee.MathBigInt(),
		refund.MathBigInt(),
	}
	valid, err := l.verifier.Verify(req.Proof, publicInputs)
	if err != nil {
		return fmt.Errorf("verify proof: %w", err)
	}
	if !valid {
		return ErrInvalidProof
	}

	record := &types.WithdrawalRecord{
		Recipient:     req.Recipient,
		NullifierHash: req.NullifierHash.Bytes32(),
		Relayer:       req.Relayer,
		Fee:           fee,
		Timestamp:     l.now().UTC(),
	}

	// Stage the spent marking before any external transfer; the staged
	// transaction commits only after every payout succeeded.
	wtx := l.db.WriteTx()
	defer wtx.Discard()
	nullifierKey := req.NullifierHash.Bytes32()
	if err := prefixeddb.NewPrefixedWriteTx(wtx, nullifierPrefix).Set(nullifierKey, []byte{1}); err != nil {
		return fmt.Errorf("stage nullifier: %w", err)
	}
	if err := setArtifactTx(wtx, withdrawalRecordPrefix, nullifierKey, record); err != nil {
		return fmt.Errorf("stage withdrawal record: %w", err)
	}

	feeAmount, overflow := uint256.FromBig(fee.MathBigInt())
	if overflow {
		return ErrFeeExceedsDenomination
	}
	payout := new(uint256.Int).Sub(l.denomination(), feeAmount)
	if err := l.assets.Send(req.Recipient, payout); err != nil {
		return fmt.Errorf("%w: recipient payout: %v", ErrTransferFailed, err)
	}
	if !feeAmount.IsZero() {
		if err := l.assets.Send(req.Relayer, feeAmount); err != nil {
			return fmt.Errorf("%w: relayer fee: %v", ErrTransferFailed, err)
		}
	}

	if err := wtx.Commit(); err != nil {
		// The payouts already happened and cannot be clawed back; this
		// leaves the ledger inconsistent with the asset book.
		log.Errorw(err, fmt.Sprintf("commit failed after payout, pool %s nullifier %s", l.pool.ID, req.NullifierHash.String()))
		return fmt.Errorf("commit withdrawal: %w", err)
	}

	log.Infow("withdrawal accepted", "pool", l.pool.ID,
		"nullifierHash", record.NullifierHash.String(),
		"recipient", req.Recipient.Hex(), "fee", fee.String())
	return nil
}

// isSpent reports whether the nullifier hash is in the spent set.
func (l *Ledger) isSpent(nullifierHash *types.BigInt) (bool, error) {
	if nullifierHash == nil {
		return false, fmt.Errorf("nil nullifier hash")
	}
	_, err := prefixeddb.NewPrefixedReader(l.db, nullifierPrefix).Get(nullifierHash.Bytes32())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, db.ErrKeyNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("check nullifier set: %w", err)
	}
}
