package settlement

import (
	"fmt"
	"math/big"
	"time"

	"pharmaclear/core/events"
	"pharmaclear/core/types"
)

// EngineState is the persistent state the engine needs beyond the escrow
// pool: recipient accounts and the settled-claim index that makes settlement
// idempotent per key.
type EngineState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	SettledHas(key [32]byte) (bool, error)
	SettledMark(key [32]byte) error
}

// EscrowPool is the slice of the escrow ledger the engine draws from.
type EscrowPool interface {
	Available() (*big.Int, error)
	Debit(amount uint64) error
}

// Engine executes rebate settlements. Each call pays out at most once per
// claim key, contingent on an oracle authorization present in the same atomic
// group, and enforces the fee cap unconditionally. The engine performs no
// retries: a failed attempt is terminal and resubmission is an orchestration
// decision made with a fresh group.
type Engine struct {
	state   EngineState
	pool    EscrowPool
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a settlement engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetPool configures the escrow pool the engine settles from.
func (e *Engine) SetPool(pool EscrowPool) { e.pool = pool }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Settle executes exactly one rebate payout. Every precondition is checked
// before any state mutates; the caller aborts the whole group on any error,
// so a failed settlement also rolls back the oracle's stake payment and there
// is no partially applied state.
func (e *Engine) Settle(ctx GroupContext, req *SettleRequest) (*Receipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.pool == nil {
		return nil, errNilPool
	}
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrGroupStructure)
	}
	if err := e.verifyAuthorization(ctx, req.AuthIndex); err != nil {
		return nil, err
	}
	settled, err := e.state.SettledHas(req.ClaimKey)
	if err != nil {
		return nil, err
	}
	if settled {
		return nil, ErrDuplicateSettlement
	}
	payeeAmount, feeAmount, err := SplitFee(req.RebateAmount)
	if err != nil {
		return nil, err
	}
	available, err := e.pool.Available()
	if err != nil {
		return nil, err
	}
	if available.Cmp(new(big.Int).SetUint64(req.RebateAmount)) < 0 {
		return nil, ErrInsufficientEscrow
	}

	// Preconditions hold. Debit the pool and post both transfers; the group
	// overlay makes the whole sequence indivisible.
	if err := e.pool.Debit(req.RebateAmount); err != nil {
		return nil, err
	}
	if err := e.credit(req.Payee, payeeAmount); err != nil {
		return nil, err
	}
	if err := e.credit(req.FeeRecipient, feeAmount); err != nil {
		return nil, err
	}
	if err := e.state.SettledMark(req.ClaimKey); err != nil {
		return nil, err
	}

	now := e.now()
	e.emit(events.RebateSettled{
		ClaimKey:     req.ClaimKey,
		Payee:        req.Payee,
		FeeRecipient: req.FeeRecipient,
		PayeeAmount:  payeeAmount,
		FeeAmount:    feeAmount,
		Timestamp:    now,
	})
	return &Receipt{
		ClaimKey:     req.ClaimKey,
		PayeeAmount:  payeeAmount,
		FeeAmount:    feeAmount,
		Payee:        req.Payee,
		FeeRecipient: req.FeeRecipient,
		Timestamp:    now,
	}, nil
}

// verifyAuthorization checks that the operation at index is a qualifying
// oracle stake within the currently executing group. The authorization is not
// a signature check in isolation: it is a payment of at least MinStake placed
// atomically alongside the settlement call.
func (e *Engine) verifyAuthorization(ctx GroupContext, index uint64) error {
	if ctx == nil {
		return fmt.Errorf("%w: no group context", ErrGroupStructure)
	}
	if ctx.Size() < 2 {
		return fmt.Errorf("%w: group carries %d operation(s), need at least 2", ErrGroupStructure, ctx.Size())
	}
	if index == ctx.CallIndex() {
		return fmt.Errorf("%w: authorization index is self-referential", ErrGroupStructure)
	}
	view, ok := ctx.OperationAt(index)
	if !ok {
		return fmt.Errorf("%w: authorization index %d out of range", ErrGroupStructure, index)
	}
	if view.Kind() != types.OpPayment {
		return fmt.Errorf("%w: operation at index %d is not a payment", ErrAuthorization, index)
	}
	if view.Amount() < MinStake {
		return fmt.Errorf("%w: stake %d below minimum %d", ErrAuthorization, view.Amount(), MinStake)
	}
	return nil
}

func (e *Engine) credit(addr [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return err
	}
	acc = types.EnsureAccount(acc)
	acc.Balance = new(big.Int).Add(acc.Balance, new(big.Int).SetUint64(amount))
	return e.state.PutAccount(addr, acc)
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}
