/*
Package gate implements the AccessGate: the single entry point for deposits
across all configured pools. It decides who may deposit into which pool
(attestation oracle, allow-list, governance-token balance), enforces
per-period deposit caps, computes and forwards the deposit fee, and finally
forwards the denomination to the pool ledger.

# Storage organization

  - pc/ : pool ID → Pool parameters (admin mutations survive restarts)
  - al/ : address → EligibilityRecord (allow-list)
  - dc/ : period bucket (8 bytes BE) + pool ID [+ address] → deposit count
  - pl/<pool ID>/ : the pool's ledger database (see package pool)
*/
package gate

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/veilpool/veilpool-node/db"
	"github.com/veilpool/veilpool-node/db/prefixeddb"
	"github.com/veilpool/veilpool-node/log"
	"github.com/veilpool/veilpool-node/pool"
	"github.com/veilpool/veilpool-node/types"
)

var (
	ErrUnknownPool                  = errors.New("unknown pool")
	ErrDepositsDisabled             = errors.New("deposits are disabled for this pool")
	ErrInsufficientGovernanceTokens = errors.New("governance token balance below the pool requirement")
	ErrNotAllowedToDeposit          = errors.New("address is not allowed to deposit")
	ErrDailyDepositLimitReached     = errors.New("daily deposit limit reached")
	ErrIncorrectValueSent           = errors.New("attached value must equal denomination plus fee")
	ErrValueTransferFailed          = errors.New("attached value transfer failed")
	ErrFeeTransferFailed            = errors.New("fee transfer failed")

	// ErrUnauthorized rejects administrative mutations from any caller
	// other than the configured admin.
	ErrUnauthorized = errors.New("caller is not the gate admin")

	// ErrGateBusy rejects an operation overlapping another one in flight.
	ErrGateBusy = errors.New("another gate operation is in flight")
)

// Storage namespaces within the gate database.
var (
	poolConfigPrefix     = []byte("pc/")
	allowListPrefix      = []byte("al/")
	depositCounterPrefix = []byte("dc/")
	ledgerPrefix         = []byte("pl/")
)

// feeDenominator is the basis-point divisor for deposit fees.
const feeDenominator = 10000

// AttestationOracle answers whether an address holds a valid identity
// attestation. It is a stateless read.
type AttestationOracle interface {
	IsVerified(addr common.Address) (bool, error)
}

// TokenBalance reads governance-token balances for the minimum-balance gate.
type TokenBalance interface {
	BalanceOf(addr common.Address) (*uint256.Int, error)
}

// AssetEscrow is the gate's view of the pooled-value escrow: it receives
// the attached value of each deposit and sends fees and withdrawal payouts
// out of it.
type AssetEscrow interface {
	pool.AssetTransfer
	Receive(from common.Address, amount *uint256.Int) error
}

// Config carries the collaborators and the pool set the gate is built with.
type Config struct {
	DB       db.Database
	Admin    common.Address
	Oracle   AttestationOracle
	Token    TokenBalance // nil disables every token-balance gate
	Assets   AssetEscrow
	Verifier pool.ProofVerifier
	Pools    []types.Pool
	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

type poolEntry struct {
	pool   *types.Pool
	ledger *pool.Ledger
	auth   *pool.DepositAuth
}

// Gate is the AccessGate over a set of pools.
type Gate struct {
	db     db.Database
	admin  common.Address
	oracle AttestationOracle
	token  TokenBalance
	assets AssetEscrow
	pools  map[types.PoolID]*poolEntry

	// opLock serializes gate operations; TryLock turns overlap into an
	// immediate ErrGateBusy.
	opLock sync.Mutex
	now    func() time.Time
}

// New builds the gate and opens one ledger per configured pool. Stored pool
// parameters take precedence over the configured ones, so administrative
// mutations survive restarts.
func New(cfg Config) (*Gate, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("missing database")
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("missing attestation oracle")
	}
	if cfg.Assets == nil {
		return nil, fmt.Errorf("missing asset transfer")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("missing proof verifier")
	}
	if len(cfg.Pools) == 0 {
		return nil, fmt.Errorf("no pools configured")
	}
	g := &Gate{
		db:     cfg.DB,
		admin:  cfg.Admin,
		oracle: cfg.Oracle,
		token:  cfg.Token,
		assets: cfg.Assets,
		pools:  make(map[types.PoolID]*poolEntry, len(cfg.Pools)),
		now:    cfg.Now,
	}
	if g.now == nil {
		g.now = time.Now
	}
	for _, p := range cfg.Pools {
		p := p
		stored := new(types.Pool)
		err := g.getArtifact(poolConfigPrefix, []byte(p.ID), stored)
		switch {
		case err == nil:
			p = *stored
		case errors.Is(err, db.ErrKeyNotFound):
			if err := g.setArtifact(poolConfigPrefix, []byte(p.ID), &p); err != nil {
				return nil, fmt.Errorf("persist pool %s: %w", p.ID, err)
			}
		default:
			return nil, fmt.Errorf("load pool %s: %w", p.ID, err)
		}
		ledgerDB := prefixeddb.NewPrefixedDatabase(cfg.DB, append(append([]byte{}, ledgerPrefix...), p.ID+"/"...))
		ledger, auth, err := pool.NewLedger(ledgerDB, p, cfg.Verifier, cfg.Assets)
		if err != nil {
			return nil, err
		}
		g.pools[p.ID] = &poolEntry{pool: &p, ledger: ledger, auth: auth}
	}
	log.Infow("access gate ready", "pools", len(g.pools), "admin", g.admin.Hex())
	return g, nil
}

// Ledger returns the ledger of the given pool, for withdrawal and read
// operations, which are not gate-mediated.
func (g *Gate) Ledger(id types.PoolID) (*pool.Ledger, bool) {
	entry, ok := g.pools[id]
	if !ok {
		return nil, false
	}
	return entry.ledger, true
}

// Pools returns the configured pools sorted by ID.
func (g *Gate) Pools() []types.Pool {
	out := make([]types.Pool, 0, len(g.pools))
	for _, entry := range g.pools {
		out = append(out, *entry.pool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pool returns the parameters of the given pool.
func (g *Gate) Pool(id types.PoolID) (types.Pool, bool) {
	entry, ok := g.pools[id]
	if !ok {
		return types.Pool{}, false
	}
	return *entry.pool, true
}

// Fee returns the deposit fee of the pool:
// floor(denomination * feeBps / 10000).
func Fee(p *types.Pool) *uint256.Int {
	denom, _ := uint256.FromBig(p.Denomination.MathBigInt())
	fee := new(uint256.Int).Mul(denom, uint256.NewInt(p.FeeBps))
	return fee.Div(fee, uint256.NewInt(feeDenominator))
}

// RequiredValue returns the value a depositor must attach:
// denomination + fee.
func RequiredValue(p *types.Pool) *uint256.Int {
	denom, _ := uint256.FromBig(p.Denomination.MathBigInt())
	return new(uint256.Int).Add(denom, Fee(p))
}

// getArtifact retrieves and decodes a CBOR artifact from the given gate
// namespace.
func (g *Gate) getArtifact(prefix, key []byte, out any) error {
	data, err := prefixeddb.NewPrefixedReader(g.db, prefix).Get(key)
	if err != nil {
		return err
	}
	if err := pool.DecodeArtifact(data, out); err != nil {
		return fmt.Errorf("could not decode artifact: %w", err)
	}
	return nil
}

// setArtifact encodes and stores a CBOR artifact in the given gate
// namespace, in its own transaction.
func (g *Gate) setArtifact(prefix, key []byte, artifact any) error {
	data, err := pool.EncodeArtifact(artifact)
	if err != nil {
		return err
	}
	wtx := prefixeddb.NewPrefixedWriteTx(g.db.WriteTx(), prefix)
	defer wtx.Discard()
	if err := wtx.Set(key, data); err != nil {
		return err
	}
	return wtx.Commit()
}
