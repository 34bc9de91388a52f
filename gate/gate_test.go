package gate

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"github.com/holiman/uint256"

	"github.com/veilpool/veilpool-node/assets"
	"github.com/veilpool/veilpool-node/db"
	"github.com/veilpool/veilpool-node/db/metadb"
	"github.com/veilpool/veilpool-node/internal/testutil"
	"github.com/veilpool/veilpool-node/pool"
	"github.com/veilpool/veilpool-node/types"
)

const testDenomination = 10000

type okVerifier struct{}

func (okVerifier) Verify(_ types.HexBytes, _ [pool.NumPublicInputs]*big.Int) (bool, error) {
	return true, nil
}

// fixture wires a gate over an in-memory database with a controllable clock.
type fixture struct {
	gate  *Gate
	book  *assets.Book
	now   time.Time
	admin common.Address
}

func testPools() []types.Pool {
	return []types.Pool{
		{
			ID:           "open",
			Asset:        types.AssetNative,
			Denomination: types.NewInt(testDenomination),
			Enabled:      true,
			FeeBps:       250, // 2.5%
			FeeRecipient: testutil.Address(90),
			TreeHeight:   4,
			RootHistory:  5,
		},
		{
			ID:           "gated",
			Asset:        types.AssetNative,
			Denomination: types.NewInt(testDenomination),
			Enabled:      true,
			Gated:        true,
			TreeHeight:   4,
			RootHistory:  5,
		},
	}
}

func newFixture(t *testing.T, pools []types.Pool, oracle *StaticOracle) *fixture {
	t.Helper()
	c := qt.New(t)
	database, err := metadb.New(db.TypeInMemory, filepath.Join(t.TempDir(), "db"))
	c.Assert(err, qt.IsNil)

	f := &fixture{
		book:  assets.NewBook(),
		now:   time.Unix(1_700_000_000, 0),
		admin: testutil.Address(99),
	}
	vault := testutil.Address(0)
	f.book.Mint(vault, uint256.NewInt(100_000_000))
	if oracle == nil {
		oracle = NewStaticOracle()
	}
	f.gate, err = New(Config{
		DB:       database,
		Admin:    f.admin,
		Oracle:   oracle,
		Token:    f.book.Tokens(),
		Assets:   f.book.AccountOf(vault),
		Verifier: okVerifier{},
		Pools:    pools,
		Now:      func() time.Time { return f.now },
	})
	c.Assert(err, qt.IsNil)
	return f
}

func requiredValue(t *testing.T, f *fixture, id types.PoolID) *uint256.Int {
	t.Helper()
	p, ok := f.gate.Pool(id)
	qt.Assert(t, ok, qt.IsTrue)
	return RequiredValue(&p)
}

func TestFeeArithmetic(t *testing.T) {
	c := qt.New(t)
	p := &types.Pool{Denomination: types.NewInt(10000), FeeBps: 250}
	c.Assert(Fee(p).Uint64(), qt.Equals, uint64(250))
	c.Assert(RequiredValue(p).Uint64(), qt.Equals, uint64(10250))

	// Fee floors: 333 bps of 999 is 33.2667 -> 33.
	p = &types.Pool{Denomination: types.NewInt(999), FeeBps: 333}
	c.Assert(Fee(p).Uint64(), qt.Equals, uint64(33))

	p = &types.Pool{Denomination: types.NewInt(10000), FeeBps: 0}
	c.Assert(Fee(p).IsZero(), qt.IsTrue)
	c.Assert(RequiredValue(p).Uint64(), qt.Equals, uint64(10000))
}

func TestDepositForwardsFeeAndInserts(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, testPools(), nil)

	note := testutil.NewNote(0)
	receipt, err := f.gate.Deposit(testutil.Address(1), "open", note.CommitmentBig(), requiredValue(t, f, "open"))
	c.Assert(err, qt.IsNil)
	c.Assert(receipt.LeafIndex, qt.Equals, uint64(0))
	c.Assert(receipt.Fee.String(), qt.Equals, "250")

	// The fee landed at the recipient.
	c.Assert(f.book.BalanceOf(testutil.Address(90)).Uint64(), qt.Equals, uint64(250))

	ledger, ok := f.gate.Ledger("open")
	c.Assert(ok, qt.IsTrue)
	c.Assert(ledger.LeafCount(), qt.Equals, uint64(1))
}

func TestDepositRejectsUnknownPool(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, testPools(), nil)
	_, err := f.gate.Deposit(testutil.Address(1), "nope", testutil.NewNote(0).CommitmentBig(), uint256.NewInt(1))
	c.Assert(err, qt.ErrorIs, ErrUnknownPool)
}

func TestDepositRejectsWrongValue(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, testPools(), nil)

	note := testutil.NewNote(0)
	// Denomination without the fee is not enough.
	_, err := f.gate.Deposit(testutil.Address(1), "open", note.CommitmentBig(), uint256.NewInt(testDenomination))
	c.Assert(err, qt.ErrorIs, ErrIncorrectValueSent)
	_, err = f.gate.Deposit(testutil.Address(1), "open", note.CommitmentBig(), nil)
	c.Assert(err, qt.ErrorIs, ErrIncorrectValueSent)

	// Nothing was inserted and no fee moved.
	ledger, _ := f.gate.Ledger("open")
	c.Assert(ledger.LeafCount(), qt.Equals, uint64(0))
	c.Assert(f.book.BalanceOf(testutil.Address(90)).IsZero(), qt.IsTrue)
}

func TestDepositRejectsDisabledPool(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, testPools(), nil)

	c.Assert(f.gate.SetPoolEnabled(f.admin, "open", false), qt.IsNil)
	_, err := f.gate.Deposit(testutil.Address(1), "open", testutil.NewNote(0).CommitmentBig(), requiredValue(t, f, "open"))
	c.Assert(err, qt.ErrorIs, ErrDepositsDisabled)
}

func TestGatedPoolRequiresOracleOrAllowList(t *testing.T) {
	c := qt.New(t)
	oracle := NewStaticOracle(testutil.Address(5))
	f := newFixture(t, testPools(), oracle)

	value := requiredValue(t, f, "gated")

	// Unverified, unlisted address is rejected.
	_, err := f.gate.Deposit(testutil.Address(1), "gated", testutil.NewNote(0).CommitmentBig(), value)
	c.Assert(err, qt.ErrorIs, ErrNotAllowedToDeposit)

	// Oracle-verified address passes.
	_, err = f.gate.Deposit(testutil.Address(5), "gated", testutil.NewNote(1).CommitmentBig(), value)
	c.Assert(err, qt.IsNil)

	// Allow-listed address passes too.
	c.Assert(f.gate.SetAllowed(f.admin, testutil.Address(1), true, "kyc batch 7"), qt.IsNil)
	_, err = f.gate.Deposit(testutil.Address(1), "gated", testutil.NewNote(2).CommitmentBig(), value)
	c.Assert(err, qt.IsNil)

	// Revocation closes the door again.
	c.Assert(f.gate.SetAllowed(f.admin, testutil.Address(1), false, ""), qt.IsNil)
	_, err = f.gate.Deposit(testutil.Address(1), "gated", testutil.NewNote(3).CommitmentBig(), value)
	c.Assert(err, qt.ErrorIs, ErrNotAllowedToDeposit)
}

func TestTokenBalanceGate(t *testing.T) {
	c := qt.New(t)
	pools := testPools()
	pools[0].MinTokenBalance = types.NewInt(500)
	f := newFixture(t, pools, nil)

	value := requiredValue(t, f, "open")
	_, err := f.gate.Deposit(testutil.Address(1), "open", testutil.NewNote(0).CommitmentBig(), value)
	c.Assert(err, qt.ErrorIs, ErrInsufficientGovernanceTokens)

	f.book.Mint(testutil.Address(1), uint256.NewInt(500))
	_, err = f.gate.Deposit(testutil.Address(1), "open", testutil.NewNote(0).CommitmentBig(), value)
	c.Assert(err, qt.IsNil)
}

func TestDailyDepositLimit(t *testing.T) {
	c := qt.New(t)
	pools := testPools()
	pools[0].DailyDepositLimit = 2
	pools[0].PerAddressLimit = true
	f := newFixture(t, pools, nil)

	value := requiredValue(t, f, "open")
	from := testutil.Address(1)
	for i := uint64(0); i < 2; i++ {
		_, err := f.gate.Deposit(from, "open", testutil.NewNote(i).CommitmentBig(), value)
		c.Assert(err, qt.IsNil)
	}
	_, err := f.gate.Deposit(from, "open", testutil.NewNote(2).CommitmentBig(), value)
	c.Assert(err, qt.ErrorIs, ErrDailyDepositLimitReached)

	// Another address has its own budget.
	_, err = f.gate.Deposit(testutil.Address(2), "open", testutil.NewNote(3).CommitmentBig(), value)
	c.Assert(err, qt.IsNil)

	// The next period resets the counter.
	f.now = f.now.Add(types.PeriodLength)
	_, err = f.gate.Deposit(from, "open", testutil.NewNote(4).CommitmentBig(), value)
	c.Assert(err, qt.IsNil)
}

func TestPoolWideDepositLimit(t *testing.T) {
	c := qt.New(t)
	pools := testPools()
	pools[0].DailyDepositLimit = 1
	pools[0].PerAddressLimit = false
	f := newFixture(t, pools, nil)

	value := requiredValue(t, f, "open")
	_, err := f.gate.Deposit(testutil.Address(1), "open", testutil.NewNote(0).CommitmentBig(), value)
	c.Assert(err, qt.IsNil)

	// The pool-wide budget is exhausted for everyone.
	_, err = f.gate.Deposit(testutil.Address(2), "open", testutil.NewNote(1).CommitmentBig(), value)
	c.Assert(err, qt.ErrorIs, ErrDailyDepositLimitReached)
}

func TestRateLimitNotConsumedByFailedDeposit(t *testing.T) {
	c := qt.New(t)
	pools := testPools()
	pools[0].DailyDepositLimit = 1
	pools[0].PerAddressLimit = true
	f := newFixture(t, pools, nil)

	note := testutil.NewNote(0)
	value := requiredValue(t, f, "open")
	from := testutil.Address(1)

	// A rejected deposit (wrong value) does not consume the budget.
	_, err := f.gate.Deposit(from, "open", note.CommitmentBig(), uint256.NewInt(1))
	c.Assert(err, qt.ErrorIs, ErrIncorrectValueSent)
	_, err = f.gate.Deposit(from, "open", note.CommitmentBig(), value)
	c.Assert(err, qt.IsNil)
}

func TestCanDepositPreflight(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, testPools(), nil)

	note := testutil.NewNote(0)
	c.Assert(f.gate.CanDeposit(testutil.Address(1), "open", note.CommitmentBig()), qt.IsNil)

	// Preflight has no side effects.
	ledger, _ := f.gate.Ledger("open")
	c.Assert(ledger.LeafCount(), qt.Equals, uint64(0))

	// Duplicate commitments surface in preflight.
	_, err := f.gate.Deposit(testutil.Address(1), "open", note.CommitmentBig(), requiredValue(t, f, "open"))
	c.Assert(err, qt.IsNil)
	c.Assert(f.gate.CanDeposit(testutil.Address(1), "open", note.CommitmentBig()), qt.ErrorIs, pool.ErrDuplicateCommitment)
}

// withdrawingEscrow attempts a withdrawal from inside the fee transfer of a
// deposit, the way a concurrent withdrawer racing the gate would.
type withdrawingEscrow struct {
	*assets.Account
	withdraw func() error
	fired    bool
	err      error
}

func (w *withdrawingEscrow) Send(dest common.Address, amount *uint256.Int) error {
	if !w.fired && w.withdraw != nil {
		w.fired = true
		w.err = w.withdraw()
	}
	return w.Account.Send(dest, amount)
}

func TestDepositHoldsLedgerLockAcrossFeeTransfer(t *testing.T) {
	c := qt.New(t)
	database, err := metadb.New(db.TypeInMemory, filepath.Join(t.TempDir(), "db"))
	c.Assert(err, qt.IsNil)

	pools := testPools()
	pools[0].DailyDepositLimit = 1
	pools[0].PerAddressLimit = true

	book := assets.NewBook()
	escrow := &withdrawingEscrow{Account: book.AccountOf(testutil.Address(0))}
	g, err := New(Config{
		DB:       database,
		Admin:    testutil.Address(99),
		Oracle:   NewStaticOracle(),
		Token:    book.Tokens(),
		Assets:   escrow,
		Verifier: okVerifier{},
		Pools:    pools,
	})
	c.Assert(err, qt.IsNil)

	ledger, ok := g.Ledger("open")
	c.Assert(ok, qt.IsTrue)
	escrow.withdraw = func() error {
		return ledger.Withdraw(&pool.WithdrawRequest{
			Proof:         types.HexBytes{0x01},
			Root:          types.NewInt(1),
			NullifierHash: types.NewInt(1),
		})
	}

	note := testutil.NewNote(0)
	from := testutil.Address(1)
	p, _ := g.Pool("open")
	receipt, err := g.Deposit(from, "open", note.CommitmentBig(), RequiredValue(&p))
	c.Assert(err, qt.IsNil)
	c.Assert(receipt.LeafIndex, qt.Equals, uint64(0))
	c.Assert(ledger.LeafCount(), qt.Equals, uint64(1))

	// The withdrawal racing the fee transfer was turned away while the
	// deposit's ledger reservation was outstanding, so it could not
	// displace the insertion.
	c.Assert(escrow.fired, qt.IsTrue)
	c.Assert(escrow.err, qt.ErrorIs, pool.ErrLedgerBusy)

	// The consumed daily budget corresponds to a deposit that landed.
	err = g.CanDeposit(from, "open", testutil.NewNote(1).CommitmentBig())
	c.Assert(err, qt.ErrorIs, ErrDailyDepositLimitReached)
}

// redepositingEscrow re-enters the gate from inside the fee transfer.
type redepositingEscrow struct {
	*assets.Account
	deposit func() error
	fired   bool
	err     error
}

func (r *redepositingEscrow) Send(dest common.Address, amount *uint256.Int) error {
	if !r.fired && r.deposit != nil {
		r.fired = true
		r.err = r.deposit()
	}
	return r.Account.Send(dest, amount)
}

func TestDepositRejectsReentrantInvocation(t *testing.T) {
	c := qt.New(t)
	database, err := metadb.New(db.TypeInMemory, filepath.Join(t.TempDir(), "db"))
	c.Assert(err, qt.IsNil)

	book := assets.NewBook()
	escrow := &redepositingEscrow{Account: book.AccountOf(testutil.Address(0))}
	g, err := New(Config{
		DB:       database,
		Admin:    testutil.Address(99),
		Oracle:   NewStaticOracle(),
		Token:    book.Tokens(),
		Assets:   escrow,
		Verifier: okVerifier{},
		Pools:    testPools(),
	})
	c.Assert(err, qt.IsNil)

	p, _ := g.Pool("open")
	escrow.deposit = func() error {
		_, err := g.Deposit(testutil.Address(2), "open", testutil.NewNote(1).CommitmentBig(), RequiredValue(&p))
		return err
	}

	_, err = g.Deposit(testutil.Address(1), "open", testutil.NewNote(0).CommitmentBig(), RequiredValue(&p))
	c.Assert(err, qt.IsNil)
	c.Assert(escrow.fired, qt.IsTrue)
	c.Assert(escrow.err, qt.ErrorIs, ErrGateBusy)

	ledger, _ := g.Ledger("open")
	c.Assert(ledger.LeafCount(), qt.Equals, uint64(1))
}

func TestDepositFundsEscrowForWithdrawal(t *testing.T) {
	c := qt.New(t)
	database, err := metadb.New(db.TypeInMemory, filepath.Join(t.TempDir(), "db"))
	c.Assert(err, qt.IsNil)

	// The escrow starts empty; deposits are its only funding source.
	book := assets.NewBook()
	vault := testutil.Address(0)
	g, err := New(Config{
		DB:       database,
		Admin:    testutil.Address(99),
		Oracle:   NewStaticOracle(),
		Token:    book.Tokens(),
		Assets:   book.AccountOf(vault),
		Verifier: okVerifier{},
		Pools:    testPools(),
	})
	c.Assert(err, qt.IsNil)
	c.Assert(book.BalanceOf(vault).IsZero(), qt.IsTrue)

	note := testutil.NewNote(0)
	p, _ := g.Pool("open")
	_, err = g.Deposit(testutil.Address(1), "open", note.CommitmentBig(), RequiredValue(&p))
	c.Assert(err, qt.IsNil)

	// The escrow holds the denomination; the fee went to its recipient.
	c.Assert(book.BalanceOf(vault).Uint64(), qt.Equals, uint64(testDenomination))
	c.Assert(book.BalanceOf(testutil.Address(90)).Uint64(), qt.Equals, uint64(250))

	ledger, _ := g.Ledger("open")
	err = ledger.Withdraw(&pool.WithdrawRequest{
		Proof:         types.HexBytes{0x01},
		Root:          new(types.BigInt).SetBigInt(ledger.Root()),
		NullifierHash: note.NullifierHashBig(),
		Recipient:     testutil.Address(2),
		Relayer:       testutil.Address(3),
		Fee:           types.NewInt(10),
	})
	c.Assert(err, qt.IsNil)
	c.Assert(book.BalanceOf(testutil.Address(2)).Uint64(), qt.Equals, uint64(testDenomination-10))
	c.Assert(book.BalanceOf(testutil.Address(3)).Uint64(), qt.Equals, uint64(10))
	c.Assert(book.BalanceOf(vault).IsZero(), qt.IsTrue)
}

func TestAdminMutationsRequireAdmin(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, testPools(), nil)
	stranger := testutil.Address(7)

	c.Assert(f.gate.SetPoolEnabled(stranger, "open", false), qt.ErrorIs, ErrUnauthorized)
	c.Assert(f.gate.SetFeeBps(stranger, "open", 100), qt.ErrorIs, ErrUnauthorized)
	c.Assert(f.gate.SetDepositLimit(stranger, "open", 5, true), qt.ErrorIs, ErrUnauthorized)
	c.Assert(f.gate.SetFeeRecipient(stranger, "open", stranger), qt.ErrorIs, ErrUnauthorized)
	c.Assert(f.gate.SetTokenRequirement(stranger, "open", types.NewInt(1)), qt.ErrorIs, ErrUnauthorized)
	c.Assert(f.gate.SetAllowed(stranger, stranger, true, ""), qt.ErrorIs, ErrUnauthorized)
	c.Assert(f.gate.SetAttestationOracle(stranger, NewStaticOracle()), qt.ErrorIs, ErrUnauthorized)
}

func TestSetAttestationOracle(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, testPools(), nil)

	value := requiredValue(t, f, "gated")
	_, err := f.gate.Deposit(testutil.Address(1), "gated", testutil.NewNote(0).CommitmentBig(), value)
	c.Assert(err, qt.ErrorIs, ErrNotAllowedToDeposit)

	// A replacement oracle that attests the address opens the pool to it.
	c.Assert(f.gate.SetAttestationOracle(f.admin, NewStaticOracle(testutil.Address(1))), qt.IsNil)
	_, err = f.gate.Deposit(testutil.Address(1), "gated", testutil.NewNote(0).CommitmentBig(), value)
	c.Assert(err, qt.IsNil)
}

func TestAdminMutationsPersist(t *testing.T) {
	c := qt.New(t)
	database, err := metadb.New(db.TypeInMemory, filepath.Join(t.TempDir(), "db"))
	c.Assert(err, qt.IsNil)

	book := assets.NewBook()
	vault := testutil.Address(0)
	book.Mint(vault, uint256.NewInt(100_000_000))
	admin := testutil.Address(99)
	cfg := Config{
		DB:       database,
		Admin:    admin,
		Oracle:   NewStaticOracle(),
		Assets:   book.AccountOf(vault),
		Verifier: okVerifier{},
		Pools:    testPools(),
	}
	g, err := New(cfg)
	c.Assert(err, qt.IsNil)
	c.Assert(g.SetFeeBps(admin, "open", 1000), qt.IsNil)

	// A gate reopened over the same database with the original pool set
	// sees the mutated parameters.
	g2, err := New(cfg)
	c.Assert(err, qt.IsNil)
	p, ok := g2.Pool("open")
	c.Assert(ok, qt.IsTrue)
	c.Assert(p.FeeBps, qt.Equals, uint64(1000))
}

func TestSetAllowedBatch(t *testing.T) {
	c := qt.New(t)
	f := newFixture(t, testPools(), nil)

	addrs := []common.Address{testutil.Address(1), testutil.Address(2), testutil.Address(3)}
	c.Assert(f.gate.SetAllowedBatch(f.admin, addrs, true, "genesis"), qt.IsNil)

	for _, addr := range addrs {
		record, ok, err := f.gate.Allowed(addr)
		c.Assert(err, qt.IsNil)
		c.Assert(ok, qt.IsTrue)
		c.Assert(record.Allowed, qt.IsTrue)
		c.Assert(record.Note, qt.Equals, "genesis")
	}
	_, ok, err := f.gate.Allowed(testutil.Address(4))
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}
