package settlement

import "pharmaclear/core/types"

const (
	// FeeCapBps is the hard ceiling on the administrative fee in basis
	// points. It is fixed at compile time and cannot be altered by any
	// caller-supplied input.
	FeeCapBps uint64 = 300
	// MinStake is the minimum oracle stake, in micro-units, that qualifies a
	// payment operation as a settlement authorization.
	MinStake uint64 = 1000
	// bpsDenominator converts basis points to a fraction.
	bpsDenominator uint64 = 10_000
)

// SettleRequest carries the arguments of one settlement call.
type SettleRequest struct {
	ClaimKey     [32]byte
	RebateAmount uint64
	Payee        [20]byte
	FeeRecipient [20]byte
	AuthIndex    uint64
}

// Receipt confirms the amounts and recipients of a completed settlement.
type Receipt struct {
	ClaimKey     [32]byte
	PayeeAmount  uint64
	FeeAmount    uint64
	Payee        [20]byte
	FeeRecipient [20]byte
	Timestamp    int64
}

// OperationView is a read-only view of one sibling operation within the
// currently executing atomic group. Only the fields the engine needs for
// authorization leak through.
type OperationView interface {
	Kind() types.OpKind
	Amount() uint64
}

// GroupContext exposes the structure of the currently executing atomic group.
// It is the only place group knowledge enters the engine, and it always
// reflects the live group, never a cached or historical one, so a stale
// authorization from an earlier group can never be replayed.
type GroupContext interface {
	Size() int
	OperationAt(index uint64) (OperationView, bool)
	// CallIndex is the position of the settlement call itself.
	CallIndex() uint64
}

// SplitFee derives the fee and payee amounts from a rebate amount under the
// fixed cap. Integer division rounds the fee toward zero, so
// payee + fee == rebate always holds.
func SplitFee(rebate uint64) (payee, fee uint64, err error) {
	if rebate > maxRebate() {
		return 0, 0, ErrAmountOverflow
	}
	fee = rebate * FeeCapBps / bpsDenominator
	return rebate - fee, fee, nil
}

func maxRebate() uint64 {
	return ^uint64(0) / FeeCapBps
}
