// Package custody tracks token balances and spending allowances for the
// accounts the settlement engine moves funds between.
package custody

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NativeToken identifies the fee asset
var NativeToken = common.Address{}

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("invalid amount")
)

type holding struct {
	token   common.Address
	account common.Address
}

type grant struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// Ledger is an in-memory token ledger
type Ledger struct {
	mu         sync.RWMutex
	balances   map[holding]*big.Int
	allowances map[grant]*big.Int
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[holding]*big.Int),
		allowances: make(map[grant]*big.Int),
	}
}

// Mint credits an account out of thin air
func (l *Ledger) Mint(token, account common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(holding{token, account}, amount)
	return nil
}

// Deposit credits account with amount and lets spender pull it, as a
// transfer into the chain followed by an approval would
func (l *Ledger) Deposit(token, account, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(holding{token, account}, amount)
	key := grant{token, account, spender}
	cur, ok := l.allowances[key]
	if !ok {
		cur = new(big.Int)
		l.allowances[key] = cur
	}
	cur.Add(cur, amount)
	return nil
}

// BalanceOf returns the balance of account in token
func (l *Ledger) BalanceOf(token, account common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[holding{token, account}]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Allowance returns how much spender may move out of owner's balance
func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if a, ok := l.allowances[grant{token, owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Approve sets spender's allowance over owner's balance
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[grant{token, owner, spender}] = new(big.Int).Set(amount)
	return nil
}

// IncreaseAllowance adds to spender's allowance
func (l *Ledger) IncreaseAllowance(token, owner, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := grant{token, owner, spender}
	cur, ok := l.allowances[key]
	if !ok {
		cur = new(big.Int)
		l.allowances[key] = cur
	}
	cur.Add(cur, amount)
	return nil
}

// Transfer moves amount from one account to another
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(holding{token, from}, amount); err != nil {
		return err
	}
	l.credit(holding{token, to}, amount)
	return nil
}

// TransferFrom moves amount out of owner's balance on behalf of spender,
// consuming allowance. Nothing changes if either check fails.
func (l *Ledger) TransferFrom(token, spender, owner, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := grant{token, owner, spender}
	allowed, ok := l.allowances[key]
	if !ok || allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s wants %s from %s", ErrInsufficientAllowance, spender.Hex(), amount, owner.Hex())
	}
	if err := l.debit(holding{token, owner}, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	l.credit(holding{token, to}, amount)
	return nil
}

func (l *Ledger) credit(h holding, amount *big.Int) {
	cur, ok := l.balances[h]
	if !ok {
		cur = new(big.Int)
		l.balances[h] = cur
	}
	cur.Add(cur, amount)
}

func (l *Ledger) debit(h holding, amount *big.Int) error {
	cur, ok := l.balances[h]
	if !ok || cur.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has less than %s", ErrInsufficientBalance, h.account.Hex(), amount)
	}
	cur.Sub(cur, amount)
	return nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
