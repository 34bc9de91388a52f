// Package assets implements the value-movement collaborator of the pools
// and the gate: an in-process balance book with accounts addressed by
// Ethereum address. It stands in for the chain-native value transfer of an
// on-chain deployment.
package assets

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInsufficientFunds rejects a transfer exceeding the source balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Book is a thread-safe balance book.
type Book struct {
	mu       sync.Mutex
	balances map[common.Address]*uint256.Int
}

// NewBook returns an empty balance book.
func NewBook() *Book {
	return &Book{balances: make(map[common.Address]*uint256.Int)}
}

// Mint credits the address with the given amount out of thin air.
func (b *Book) Mint(addr common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(addr, amount)
}

// BalanceOf returns the current balance of the address.
func (b *Book) BalanceOf(addr common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if balance, ok := b.balances[addr]; ok {
		return balance.Clone()
	}
	return uint256.NewInt(0)
}

// Transfer moves amount from one address to another.
func (b *Book) Transfer(from, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	balance, ok := b.balances[from]
	if !ok || balance.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds,
			from.Hex(), b.balanceLocked(from).Dec(), amount.Dec())
	}
	balance.Sub(balance, amount)
	b.credit(to, amount)
	return nil
}

// credit adds amount to the address. Caller holds the lock.
func (b *Book) credit(addr common.Address, amount *uint256.Int) {
	if balance, ok := b.balances[addr]; ok {
		balance.Add(balance, amount)
		return
	}
	b.balances[addr] = amount.Clone()
}

// balanceLocked reads a balance with the lock already held.
func (b *Book) balanceLocked(addr common.Address) *uint256.Int {
	if balance, ok := b.balances[addr]; ok {
		return balance
	}
	return uint256.NewInt(0)
}

// Account binds a book to a source address, implementing the transfer
// interface the ledgers and the gate send value through.
type Account struct {
	book *Book
	addr common.Address
}

// AccountOf returns the account of addr on the book.
func (b *Book) AccountOf(addr common.Address) *Account {
	return &Account{book: b, addr: addr}
}

// Address returns the account's address.
func (a *Account) Address() common.Address {
	return a.addr
}

// Send moves amount from the account to dest.
func (a *Account) Send(dest common.Address, amount *uint256.Int) error {
	return a.book.Transfer(a.addr, dest, amount)
}

// Receive credits the account with value arriving from outside the book,
// such as the native value attached to a deposit. The sender's balance
// lives off-book, so the credit is a mint.
func (a *Account) Receive(_ common.Address, amount *uint256.Int) error {
	a.book.Mint(a.addr, amount)
	return nil
}

// FailingAccount wraps an account and fails its next n sends. It exists to
// exercise rollback paths deterministically in tests.
type FailingAccount struct {
	account  *Account
	failures int
}

// FailingAccountOf returns an account on the book whose first n sends fail.
func (b *Book) FailingAccountOf(addr common.Address, n int) *FailingAccount {
	return &FailingAccount{account: b.AccountOf(addr), failures: n}
}

// Send fails while injected failures remain, then delegates to the account.
func (f *FailingAccount) Send(dest common.Address, amount *uint256.Int) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("injected transfer failure")
	}
	return f.account.Send(dest, amount)
}

// TokenReader adapts a book to balance-query interfaces that expect an
// error return, such as the gate's governance-token check.
type TokenReader struct {
	book *Book
}

// Tokens returns a read-only balance view of the book.
func (b *Book) Tokens() *TokenReader {
	return &TokenReader{book: b}
}

// BalanceOf returns the balance of the address.
func (r *TokenReader) BalanceOf(addr common.Address) (*uint256.Int, error) {
	return r.book.BalanceOf(addr), nil
}
