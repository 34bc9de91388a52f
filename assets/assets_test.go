package assets

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/holiman/uint256"

	"github.com/veilpool/veilpool-node/internal/testutil"
)

func TestMintAndTransfer(t *testing.T) {
	c := qt.New(t)
	book := NewBook()
	a, b := testutil.Address(1), testutil.Address(2)

	book.Mint(a, uint256.NewInt(100))
	c.Assert(book.BalanceOf(a).Uint64(), qt.Equals, uint64(100))
	c.Assert(book.BalanceOf(b).IsZero(), qt.IsTrue)

	c.Assert(book.Transfer(a, b, uint256.NewInt(40)), qt.IsNil)
	c.Assert(book.BalanceOf(a).Uint64(), qt.Equals, uint64(60))
	c.Assert(book.BalanceOf(b).Uint64(), qt.Equals, uint64(40))
}

func TestTransferRejectsInsufficientFunds(t *testing.T) {
	c := qt.New(t)
	book := NewBook()
	a, b := testutil.Address(1), testutil.Address(2)
	book.Mint(a, uint256.NewInt(10))

	err := book.Transfer(a, b, uint256.NewInt(11))
	c.Assert(err, qt.ErrorIs, ErrInsufficientFunds)
	// Balances unchanged on failure.
	c.Assert(book.BalanceOf(a).Uint64(), qt.Equals, uint64(10))
	c.Assert(book.BalanceOf(b).IsZero(), qt.IsTrue)

	err = book.Transfer(b, a, uint256.NewInt(1))
	c.Assert(err, qt.ErrorIs, ErrInsufficientFunds)
}

func TestBalanceOfReturnsCopy(t *testing.T) {
	c := qt.New(t)
	book := NewBook()
	a := testutil.Address(1)
	book.Mint(a, uint256.NewInt(5))

	balance := book.BalanceOf(a)
	balance.SetUint64(999)
	c.Assert(book.BalanceOf(a).Uint64(), qt.Equals, uint64(5))
}

func TestAccountSend(t *testing.T) {
	c := qt.New(t)
	book := NewBook()
	vault, dest := testutil.Address(1), testutil.Address(2)
	book.Mint(vault, uint256.NewInt(100))

	account := book.AccountOf(vault)
	c.Assert(account.Address(), qt.Equals, vault)
	c.Assert(account.Send(dest, uint256.NewInt(30)), qt.IsNil)
	c.Assert(book.BalanceOf(dest).Uint64(), qt.Equals, uint64(30))
}

func TestFailingAccountInjectsFailures(t *testing.T) {
	c := qt.New(t)
	book := NewBook()
	vault, dest := testutil.Address(1), testutil.Address(2)
	book.Mint(vault, uint256.NewInt(100))

	flaky := book.FailingAccountOf(vault, 2)
	c.Assert(flaky.Send(dest, uint256.NewInt(10)), qt.IsNotNil)
	c.Assert(flaky.Send(dest, uint256.NewInt(10)), qt.IsNotNil)
	c.Assert(flaky.Send(dest, uint256.NewInt(10)), qt.IsNil)
	c.Assert(book.BalanceOf(dest).Uint64(), qt.Equals, uint64(10))
}

func TestTokenReader(t *testing.T) {
	c := qt.New(t)
	book := NewBook()
	a := testutil.Address(1)
	book.Mint(a, uint256.NewInt(42))

	balance, err := book.Tokens().BalanceOf(a)
	c.Assert(err, qt.IsNil)
	c.Assert(balance.Uint64(), qt.Equals, uint64(42))
}
