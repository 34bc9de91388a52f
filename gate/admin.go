package gate

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilpool/veilpool-node/db"
	"github.com/veilpool/veilpool-node/db/prefixeddb"
	"github.com/veilpool/veilpool-node/log"
	"github.com/veilpool/veilpool-node/pool"
	"github.com/veilpool/veilpool-node/types"
)

// requireAdmin rejects any caller other than the configured admin.
func (g *Gate) requireAdmin(caller common.Address) error {
	if caller != g.admin {
		return ErrUnauthorized
	}
	return nil
}

// mutatePool applies fn to the pool parameters and persists the result.
func (g *Gate) mutatePool(caller common.Address, id types.PoolID, fn func(*types.Pool)) error {
	if !g.opLock.TryLock() {
		return ErrGateBusy
	}
	defer g.opLock.Unlock()
	if err := g.requireAdmin(caller); err != nil {
		return err
	}
	entry, ok := g.pools[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPool, id)
	}
	fn(entry.pool)
	if err := g.setArtifact(poolConfigPrefix, []byte(id), entry.pool); err != nil {
		return fmt.Errorf("persist pool %s: %w", id, err)
	}
	return nil
}

// SetPoolEnabled toggles whether the pool accepts deposits. Withdrawals are
// never affected.
func (g *Gate) SetPoolEnabled(caller common.Address, id types.PoolID, enabled bool) error {
	err := g.mutatePool(caller, id, func(p *types.Pool) { p.Enabled = enabled })
	if err == nil {
		log.Infow("pool deposit flag updated", "pool", id, "enabled", enabled)
	}
	return err
}

// SetDepositLimit sets the per-period deposit cap of the pool; zero disables
// the limit. perAddress selects whether the cap applies per depositor
// address or pool-wide.
func (g *Gate) SetDepositLimit(caller common.Address, id types.PoolID, limit uint64, perAddress bool) error {
	return g.mutatePool(caller, id, func(p *types.Pool) {
		p.DailyDepositLimit = limit
		p.PerAddressLimit = perAddress
	})
}

// SetFeeBps sets the deposit fee of the pool in basis points.
func (g *Gate) SetFeeBps(caller common.Address, id types.PoolID, bps uint64) error {
	if bps >= feeDenominator {
		return fmt.Errorf("fee of %d bps would consume the whole denomination", bps)
	}
	return g.mutatePool(caller, id, func(p *types.Pool) { p.FeeBps = bps })
}

// SetFeeRecipient sets the address deposit fees are forwarded to.
func (g *Gate) SetFeeRecipient(caller common.Address, id types.PoolID, recipient common.Address) error {
	return g.mutatePool(caller, id, func(p *types.Pool) { p.FeeRecipient = recipient })
}

// SetTokenRequirement sets the minimum governance-token balance required to
// deposit into the pool; nil or zero disables the requirement.
func (g *Gate) SetTokenRequirement(caller common.Address, id types.PoolID, minBalance *types.BigInt) error {
	return g.mutatePool(caller, id, func(p *types.Pool) { p.MinTokenBalance = minBalance })
}

// SetAttestationOracle swaps the attestation oracle consulted by gated
// pools. In-flight deposits are unaffected; the gate serializes operations.
func (g *Gate) SetAttestationOracle(caller common.Address, oracle AttestationOracle) error {
	if !g.opLock.TryLock() {
		return ErrGateBusy
	}
	defer g.opLock.Unlock()
	if err := g.requireAdmin(caller); err != nil {
		return err
	}
	if oracle == nil {
		return fmt.Errorf("nil attestation oracle")
	}
	g.oracle = oracle
	log.Infow("attestation oracle replaced")
	return nil
}

// SetAllowed adds or removes a single address on the allow-list.
func (g *Gate) SetAllowed(caller common.Address, addr common.Address, allowed bool, note string) error {
	return g.SetAllowedBatch(caller, []common.Address{addr}, allowed, note)
}

// SetAllowedBatch applies the same allow-list mutation to a batch of
// addresses in a single transaction.
func (g *Gate) SetAllowedBatch(caller common.Address, addrs []common.Address, allowed bool, note string) error {
	if !g.opLock.TryLock() {
		return ErrGateBusy
	}
	defer g.opLock.Unlock()
	if err := g.requireAdmin(caller); err != nil {
		return err
	}
	record := &types.EligibilityRecord{
		Allowed:   allowed,
		Note:      note,
		UpdatedAt: g.now().UTC(),
	}
	data, err := pool.EncodeArtifact(record)
	if err != nil {
		return err
	}
	wtx := prefixeddb.NewPrefixedWriteTx(g.db.WriteTx(), allowListPrefix)
	defer wtx.Discard()
	for _, addr := range addrs {
		if err := wtx.Set(addr.Bytes(), data); err != nil {
			return fmt.Errorf("stage allow-list entry for %s: %w", addr.Hex(), err)
		}
	}
	if err := wtx.Commit(); err != nil {
		return err
	}
	log.Infow("allow list updated", "addresses", len(addrs), "allowed", allowed)
	return nil
}

// Allowed returns the allow-list record of the address, if any.
func (g *Gate) Allowed(addr common.Address) (*types.EligibilityRecord, bool, error) {
	record := new(types.EligibilityRecord)
	err := g.getArtifact(allowListPrefix, addr.Bytes(), record)
	switch {
	case err == nil:
		return record, true, nil
	case errors.Is(err, db.ErrKeyNotFound):
		return nil, false, nil
	default:
		return nil, false, err
	}
}
