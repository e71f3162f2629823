package rebate

import (
	"errors"
	"fmt"
	"math/big"

	"pharmaclear/core/events"
)

var (
	// ErrScheduleNotFound is returned when a manufacturer has no registered
	// tier schedule.
	ErrScheduleNotFound = errors.New("rebate: manufacturer not registered")
	// ErrAccrualMismatch is returned when a recomputation for an existing
	// claim key would produce a different amount. Accruals are created
	// exactly once per key and never mutated.
	ErrAccrualMismatch = errors.New("rebate: accrual already recorded with different amount")

	errNilState = errors.New("rebate: state not configured")
)

const bpsDenominator uint64 = 10_000

// Schedule is a manufacturer's tiered rebate schedule. Rates are basis
// points; crossing Threshold units of cumulative volume unlocks the bonus.
type Schedule struct {
	BaseBps             uint64
	Threshold           uint64
	BonusBps            uint64
	ExcludesBiosimilars bool
}

// Accrual is the liability computed for one claim.
type Accrual struct {
	ClaimKey     [32]byte
	Manufacturer [20]byte
	Amount       uint64
}

// State persists schedules, per-claim accruals and per-manufacturer totals.
type State interface {
	SchedulePut(manufacturer [20]byte, schedule *Schedule) error
	ScheduleGet(manufacturer [20]byte) (*Schedule, bool, error)
	AccrualPut(accrual *Accrual) error
	AccrualGet(key [32]byte) (*Accrual, bool, error)
	ManufacturerTotal(manufacturer [20]byte) (*big.Int, error)
	SetManufacturerTotal(manufacturer [20]byte, total *big.Int) error
}

// Engine is the rebate calculation engine: it manages tier schedules and
// computes accrued liabilities per claim.
type Engine struct {
	state   State
	emitter events.Emitter
}

// NewEngine creates a rebate engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state State) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// RegisterSchedule stores a manufacturer's tier schedule. A schedule that
// excludes biosimilars is still accepted, but a formulary-lock event is
// emitted so compliance tooling can flag it for regulatory review.
func (e *Engine) RegisterSchedule(manufacturer [20]byte, schedule *Schedule) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if schedule == nil {
		return fmt.Errorf("rebate: nil schedule")
	}
	if schedule.BaseBps > bpsDenominator || schedule.BonusBps > bpsDenominator {
		return fmt.Errorf("rebate: rate out of range")
	}
	if schedule.BaseBps+schedule.BonusBps > bpsDenominator {
		return fmt.Errorf("rebate: combined rate exceeds 100%%")
	}
	if schedule.ExcludesBiosimilars {
		e.emit(events.FormularyLock{Manufacturer: manufacturer, BaseBps: schedule.BaseBps})
	}
	clone := *schedule
	return e.state.SchedulePut(manufacturer, &clone)
}

// ScheduleFor returns the registered schedule for a manufacturer.
func (e *Engine) ScheduleFor(manufacturer [20]byte) (*Schedule, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	schedule, ok, err := e.state.ScheduleGet(manufacturer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return schedule, nil
}

// CalculateAccrual computes the rebate owed for a claim under the
// manufacturer's tier schedule and records it. The computation is idempotent
// per claim key: recomputing with identical inputs returns the stored amount,
// while inputs that would change the amount are rejected.
func (e *Engine) CalculateAccrual(claimKey [32]byte, manufacturer [20]byte, wacPrice, volume uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	schedule, ok, err := e.state.ScheduleGet(manufacturer)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrScheduleNotFound
	}
	rate := schedule.BaseBps
	bonus := volume > schedule.Threshold
	if bonus {
		rate += schedule.BonusBps
	}
	if rate > 0 && wacPrice > ^uint64(0)/rate {
		return 0, fmt.Errorf("rebate: price %d overflows rate computation", wacPrice)
	}
	amount := wacPrice * rate / bpsDenominator

	if existing, found, err := e.state.AccrualGet(claimKey); err != nil {
		return 0, err
	} else if found {
		if existing.Amount != amount || existing.Manufacturer != manufacturer {
			return 0, ErrAccrualMismatch
		}
		return existing.Amount, nil
	}

	if err := e.state.AccrualPut(&Accrual{ClaimKey: claimKey, Manufacturer: manufacturer, Amount: amount}); err != nil {
		return 0, err
	}
	total, err := e.state.ManufacturerTotal(manufacturer)
	if err != nil {
		return 0, err
	}
	total = new(big.Int).Add(total, new(big.Int).SetUint64(amount))
	if err := e.state.SetManufacturerTotal(manufacturer, total); err != nil {
		return 0, err
	}

	if bonus {
		e.emit(events.BonusTierActivated{ClaimKey: claimKey, Manufacturer: manufacturer, Volume: volume})
	}
	e.emit(events.RebateAccrued{
		ClaimKey:      claimKey,
		Manufacturer:  manufacturer,
		WACPrice:      wacPrice,
		EffectiveRate: rate,
		Amount:        amount,
	})
	return amount, nil
}

// AccrualFor returns the recorded accrual for a claim key.
func (e *Engine) AccrualFor(key [32]byte) (*Accrual, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	return e.state.AccrualGet(key)
}

// TotalFor returns the cumulative liability accrued for a manufacturer.
func (e *Engine) TotalFor(manufacturer [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.ManufacturerTotal(manufacturer)
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}
