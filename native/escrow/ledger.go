package escrow

import (
	"errors"
	"fmt"
	"math/big"

	"pharmaclear/core/events"
	"pharmaclear/core/types"
)

var (
	// ErrNilState is returned when the ledger has no state backend configured.
	ErrNilState = errors.New("escrow ledger: state not configured")
	// ErrInsufficientFunds is returned when a debit would overdraw the pool.
	ErrInsufficientFunds = errors.New("escrow ledger: insufficient funds")
)

// State is the backend the ledger reads and writes the pooled balance and
// depositor accounts through.
type State interface {
	EscrowBalance() (*big.Int, error)
	SetEscrowBalance(*big.Int) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Ledger holds the pooled settlement funds. The balance can never go
// negative: any debit that would overdraw is rejected before mutation, so
// there is no insolvent state to represent.
type Ledger struct {
	state   State
	emitter events.Emitter
}

// NewLedger creates an escrow ledger with a no-op emitter.
func NewLedger() *Ledger {
	return &Ledger{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state State) { l.state = state }

// SetEmitter configures the event emitter. Passing nil resets the emitter to
// a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// Available returns the current pooled balance.
func (l *Ledger) Available() (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	return l.state.EscrowBalance()
}

// Deposit moves amount from the depositor's account into the pool. The only
// authorization is that the depositor actually holds the funds.
func (l *Ledger) Deposit(from [20]byte, amount uint64) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if amount == 0 {
		return fmt.Errorf("escrow ledger: deposit amount must be positive")
	}
	amt := new(big.Int).SetUint64(amount)
	acc, err := l.state.GetAccount(from)
	if err != nil {
		return err
	}
	if acc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("escrow ledger: depositor balance below %d", amount)
	}
	acc.Balance = new(big.Int).Sub(acc.Balance, amt)
	if err := l.state.PutAccount(from, acc); err != nil {
		return err
	}
	balance, err := l.state.EscrowBalance()
	if err != nil {
		return err
	}
	if err := l.state.SetEscrowBalance(new(big.Int).Add(balance, amt)); err != nil {
		return err
	}
	l.emit(events.EscrowDeposit{From: from, Amount: amount})
	return nil
}

// Debit reduces the pooled balance. It is invoked only by the settlement
// engine inside a group execution and is never exposed as a caller-facing
// operation. The balance check here is the last line of defence; the engine
// verifies sufficiency before any mutation occurs.
func (l *Ledger) Debit(amount uint64) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	amt := new(big.Int).SetUint64(amount)
	balance, err := l.state.EscrowBalance()
	if err != nil {
		return err
	}
	if balance.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	return l.state.SetEscrowBalance(new(big.Int).Sub(balance, amt))
}

func (l *Ledger) emit(event events.Event) {
	if l == nil || l.emitter == nil {
		return
	}
	l.emitter.Emit(event)
}
