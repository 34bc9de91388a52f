package gate

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/veilpool/veilpool-node/db"
	"github.com/veilpool/veilpool-node/db/prefixeddb"
	"github.com/veilpool/veilpool-node/log"
	"github.com/veilpool/veilpool-node/types"
)

// DepositReceipt reports the outcome of a gated deposit.
type DepositReceipt struct {
	Pool      types.PoolID  `json:"pool"`
	LeafIndex uint64        `json:"leafIndex"`
	Root      *types.BigInt `json:"root"`
	Fee       *types.BigInt `json:"fee"`
}

// Deposit runs the full gated deposit: eligibility, rate limit, value and
// fee validation, value escrow, fee forwarding, and finally the ledger
// insertion. The checks run in a fixed order so a caller failing several of
// them always observes the same error. Every ledger-side validation is
// pre-flighted before any value moves, since an external transfer cannot be
// rolled back; the reservation keeps the ledger locked until the insertion
// lands, so no concurrent withdrawal can displace it in between.
func (g *Gate) Deposit(from common.Address, poolID types.PoolID, commitment *types.BigInt, value *uint256.Int) (*DepositReceipt, error) {
	if !g.opLock.TryLock() {
		return nil, ErrGateBusy
	}
	defer g.opLock.Unlock()

	entry, ok := g.pools[poolID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, poolID)
	}
	p := entry.pool
	if err := g.checkEligibility(from, p); err != nil {
		return nil, err
	}
	count, err := g.depositCount(from, p)
	if err != nil {
		return nil, err
	}
	if p.DailyDepositLimit > 0 && count >= p.DailyDepositLimit {
		return nil, ErrDailyDepositLimitReached
	}
	fee := Fee(p)
	if value == nil || !value.Eq(RequiredValue(p)) {
		return nil, fmt.Errorf("%w: want %s", ErrIncorrectValueSent, RequiredValue(p).Dec())
	}
	reservation, err := entry.ledger.Reserve(entry.auth, commitment)
	if err != nil {
		return nil, err
	}
	defer reservation.Release()

	// Point of no return: the attached value enters escrow here. The
	// reservation still holds the ledger lock, so the insertion below
	// cannot fail on a concurrent operation.
	if err := g.assets.Receive(from, value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValueTransferFailed, err)
	}
	if !fee.IsZero() {
		if err := g.assets.Send(p.FeeRecipient, fee); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFeeTransferFailed, err)
		}
	}
	if err := g.bumpDepositCount(from, p, count); err != nil {
		// The fee is already gone; surface the inconsistency loudly.
		log.Errorw(err, fmt.Sprintf("deposit counter update failed after fee transfer, pool %s from %s", p.ID, from.Hex()))
		return nil, err
	}

	denom, _ := uint256.FromBig(p.Denomination.MathBigInt())
	index, err := reservation.Deposit(from, denom)
	if err != nil {
		log.Errorw(err, fmt.Sprintf("ledger deposit failed after fee transfer, pool %s from %s", p.ID, from.Hex()))
		return nil, err
	}
	return &DepositReceipt{
		Pool:      p.ID,
		LeafIndex: index,
		Root:      new(types.BigInt).SetBigInt(entry.ledger.Root()),
		Fee:       new(types.BigInt).SetBigInt(fee.ToBig()),
	}, nil
}

// CanDeposit runs the deposit checks without side effects: eligibility, rate
// limit and ledger acceptance. A nil error means a deposit with the correct
// value would currently be accepted.
func (g *Gate) CanDeposit(from common.Address, poolID types.PoolID, commitment *types.BigInt) error {
	if !g.opLock.TryLock() {
		return ErrGateBusy
	}
	defer g.opLock.Unlock()

	entry, ok := g.pools[poolID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPool, poolID)
	}
	if err := g.checkEligibility(from, entry.pool); err != nil {
		return err
	}
	count, err := g.depositCount(from, entry.pool)
	if err != nil {
		return err
	}
	if entry.pool.DailyDepositLimit > 0 && count >= entry.pool.DailyDepositLimit {
		return ErrDailyDepositLimitReached
	}
	return entry.ledger.CanAccept(commitment)
}

// checkEligibility enforces, in order: the pool accepts deposits, the
// governance-token requirement, and for gated pools the attestation oracle
// or the allow-list.
func (g *Gate) checkEligibility(from common.Address, p *types.Pool) error {
	if !p.Enabled {
		return ErrDepositsDisabled
	}
	if p.MinTokenBalance != nil && p.MinTokenBalance.Sign() > 0 && g.token != nil {
		balance, err := g.token.BalanceOf(from)
		if err != nil {
			return fmt.Errorf("read governance token balance: %w", err)
		}
		required, _ := uint256.FromBig(p.MinTokenBalance.MathBigInt())
		if balance == nil || balance.Lt(required) {
			return ErrInsufficientGovernanceTokens
		}
	}
	if !p.Gated {
		return nil
	}
	verified, err := g.oracle.IsVerified(from)
	if err != nil {
		return fmt.Errorf("query attestation oracle: %w", err)
	}
	if verified {
		return nil
	}
	record := new(types.EligibilityRecord)
	err = g.getArtifact(allowListPrefix, from.Bytes(), record)
	switch {
	case err == nil:
		if record.Allowed {
			return nil
		}
	case errors.Is(err, db.ErrKeyNotFound):
	default:
		return fmt.Errorf("read allow list: %w", err)
	}
	return ErrNotAllowedToDeposit
}

// counterKey builds the rate-limit counter key for the current period:
// bucket (8 bytes BE) + pool ID, plus the address when the limit is
// per-address.
func (g *Gate) counterKey(from common.Address, p *types.Pool) []byte {
	key := make([]byte, 8, 8+len(p.ID)+common.AddressLength)
	binary.BigEndian.PutUint64(key, types.PeriodBucket(g.now()))
	key = append(key, []byte(p.ID)...)
	if p.PerAddressLimit {
		key = append(key, from.Bytes()...)
	}
	return key
}

func (g *Gate) depositCount(from common.Address, p *types.Pool) (uint64, error) {
	data, err := prefixeddb.NewPrefixedReader(g.db, depositCounterPrefix).Get(g.counterKey(from, p))
	switch {
	case err == nil:
		if len(data) != 8 {
			return 0, fmt.Errorf("malformed deposit counter for pool %s", p.ID)
		}
		return binary.BigEndian.Uint64(data), nil
	case errors.Is(err, db.ErrKeyNotFound):
		return 0, nil
	default:
		return 0, fmt.Errorf("read deposit counter: %w", err)
	}
}

func (g *Gate) bumpDepositCount(from common.Address, p *types.Pool, current uint64) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, current+1)
	wtx := prefixeddb.NewPrefixedWriteTx(g.db.WriteTx(), depositCounterPrefix)
	defer wtx.Discard()
	if err := wtx.Set(g.counterKey(from, p), data); err != nil {
		return fmt.Errorf("stage deposit counter: %w", err)
	}
	return wtx.Commit()
}
