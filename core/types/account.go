package types

import "math/big"

// Account is a ledger account. Balances are tracked in micro-units of the
// configured settlement asset.
type Account struct {
	Nonce   uint64
	Balance *big.Int
}

// EnsureAccount returns a usable account with a non-nil balance, allocating a
// zeroed account when acc is nil.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}
