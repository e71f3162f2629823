package rebate

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"pharmaclear/core/events"
)

type mockState struct {
	schedules map[[20]byte]*Schedule
	accruals  map[[32]byte]*Accrual
	totals    map[[20]byte]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		schedules: make(map[[20]byte]*Schedule),
		accruals:  make(map[[32]byte]*Accrual),
		totals:    make(map[[20]byte]*big.Int),
	}
}

func (m *mockState) SchedulePut(manufacturer [20]byte, schedule *Schedule) error {
	clone := *schedule
	m.schedules[manufacturer] = &clone
	return nil
}

func (m *mockState) ScheduleGet(manufacturer [20]byte) (*Schedule, bool, error) {
	schedule, ok := m.schedules[manufacturer]
	if !ok {
		return nil, false, nil
	}
	clone := *schedule
	return &clone, true, nil
}

func (m *mockState) AccrualPut(accrual *Accrual) error {
	clone := *accrual
	m.accruals[accrual.ClaimKey] = &clone
	return nil
}

func (m *mockState) AccrualGet(key [32]byte) (*Accrual, bool, error) {
	accrual, ok := m.accruals[key]
	if !ok {
		return nil, false, nil
	}
	clone := *accrual
	return &clone, true, nil
}

func (m *mockState) ManufacturerTotal(manufacturer [20]byte) (*big.Int, error) {
	total, ok := m.totals[manufacturer]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(total), nil
}

func (m *mockState) SetManufacturerTotal(manufacturer [20]byte, total *big.Int) error {
	m.totals[manufacturer] = new(big.Int).Set(total)
	return nil
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(event events.Event) { c.events = append(c.events, event) }

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestKey(fill byte) [32]byte {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{fill}, 32))
	return key
}

func newTestEngine(state *mockState) *Engine {
	eng := NewEngine()
	eng.SetState(state)
	return eng
}

func TestCalculateAccrualBaseTier(t *testing.T) {
	eng := newTestEngine(newMockState())
	manufacturer := newTestAddress(0xA1)
	if err := eng.RegisterSchedule(manufacturer, &Schedule{BaseBps: 1500, Threshold: 10_000, BonusBps: 500}); err != nil {
		t.Fatalf("register schedule: %v", err)
	}

	amount, err := eng.CalculateAccrual(newTestKey(0x01), manufacturer, 1_000_000, 5_000)
	if err != nil {
		t.Fatalf("accrual: %v", err)
	}
	if amount != 150_000 {
		t.Fatalf("amount = %d, want 150000", amount)
	}
	total, err := eng.TotalFor(manufacturer)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total.Cmp(big.NewInt(150_000)) != 0 {
		t.Fatalf("total = %s, want 150000", total)
	}
}

func TestCalculateAccrualBonusTier(t *testing.T) {
	state := newMockState()
	eng := newTestEngine(state)
	emitter := &captureEmitter{}
	eng.SetEmitter(emitter)

	manufacturer := newTestAddress(0xA2)
	if err := eng.RegisterSchedule(manufacturer, &Schedule{BaseBps: 1500, Threshold: 10_000, BonusBps: 500}); err != nil {
		t.Fatalf("register schedule: %v", err)
	}

	amount, err := eng.CalculateAccrual(newTestKey(0x02), manufacturer, 1_000_000, 10_001)
	if err != nil {
		t.Fatalf("accrual: %v", err)
	}
	if amount != 200_000 {
		t.Fatalf("amount = %d, want 200000 at base+bonus rate", amount)
	}

	var sawBonus bool
	for _, evt := range emitter.events {
		if _, ok := evt.(events.BonusTierActivated); ok {
			sawBonus = true
		}
	}
	if !sawBonus {
		t.Fatalf("bonus tier event not emitted")
	}
}

func TestCalculateAccrualThresholdIsExclusive(t *testing.T) {
	eng := newTestEngine(newMockState())
	manufacturer := newTestAddress(0xA3)
	if err := eng.RegisterSchedule(manufacturer, &Schedule{BaseBps: 1000, Threshold: 10_000, BonusBps: 1000}); err != nil {
		t.Fatalf("register schedule: %v", err)
	}
	amount, err := eng.CalculateAccrual(newTestKey(0x03), manufacturer, 1_000_000, 10_000)
	if err != nil {
		t.Fatalf("accrual: %v", err)
	}
	if amount != 100_000 {
		t.Fatalf("amount = %d, want base rate only at exact threshold", amount)
	}
}

func TestCalculateAccrualIsIdempotentPerKey(t *testing.T) {
	eng := newTestEngine(newMockState())
	manufacturer := newTestAddress(0xA4)
	if err := eng.RegisterSchedule(manufacturer, &Schedule{BaseBps: 1000}); err != nil {
		t.Fatalf("register schedule: %v", err)
	}
	key := newTestKey(0x04)
	first, err := eng.CalculateAccrual(key, manufacturer, 500_000, 0)
	if err != nil {
		t.Fatalf("first accrual: %v", err)
	}
	second, err := eng.CalculateAccrual(key, manufacturer, 500_000, 0)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if first != second {
		t.Fatalf("recompute returned %d, want %d", second, first)
	}
	total, _ := eng.TotalFor(manufacturer)
	if total.Cmp(new(big.Int).SetUint64(first)) != 0 {
		t.Fatalf("total counted recompute twice: %s", total)
	}

	if _, err := eng.CalculateAccrual(key, manufacturer, 600_000, 0); !errors.Is(err, ErrAccrualMismatch) {
		t.Fatalf("changed input err = %v, want ErrAccrualMismatch", err)
	}
}

func TestCalculateAccrualUnknownManufacturer(t *testing.T) {
	eng := newTestEngine(newMockState())
	_, err := eng.CalculateAccrual(newTestKey(0x05), newTestAddress(0xA5), 1_000_000, 0)
	if !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("err = %v, want ErrScheduleNotFound", err)
	}
}

func TestRegisterScheduleValidatesRates(t *testing.T) {
	eng := newTestEngine(newMockState())
	manufacturer := newTestAddress(0xA6)
	if err := eng.RegisterSchedule(manufacturer, &Schedule{BaseBps: 10_001}); err == nil {
		t.Fatalf("accepted base rate above 100%%")
	}
	if err := eng.RegisterSchedule(manufacturer, &Schedule{BaseBps: 6000, BonusBps: 5000}); err == nil {
		t.Fatalf("accepted combined rate above 100%%")
	}
}

func TestRegisterScheduleEmitsFormularyLock(t *testing.T) {
	eng := newTestEngine(newMockState())
	emitter := &captureEmitter{}
	eng.SetEmitter(emitter)

	manufacturer := newTestAddress(0xA7)
	if err := eng.RegisterSchedule(manufacturer, &Schedule{BaseBps: 1500, ExcludesBiosimilars: true}); err != nil {
		t.Fatalf("register schedule: %v", err)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.events))
	}
	if _, ok := emitter.events[0].(events.FormularyLock); !ok {
		t.Fatalf("unexpected event type %T", emitter.events[0])
	}
}

func TestCalculateAccrualOverflowingPrice(t *testing.T) {
	eng := newTestEngine(newMockState())
	manufacturer := newTestAddress(0xA8)
	if err := eng.RegisterSchedule(manufacturer, &Schedule{BaseBps: 1500}); err != nil {
		t.Fatalf("register schedule: %v", err)
	}
	if _, err := eng.CalculateAccrual(newTestKey(0x06), manufacturer, ^uint64(0), 0); err == nil {
		t.Fatalf("accepted price that overflows the rate computation")
	}
}
