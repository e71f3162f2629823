package core

import (
	"fmt"
	"math/big"

	"pharmaclear/core/events"
	"pharmaclear/core/state"
	"pharmaclear/core/types"
	"pharmaclear/native/escrow"
	"pharmaclear/native/rebate"
	"pharmaclear/native/registry"
	"pharmaclear/native/settlement"
	"pharmaclear/storage"
)

// SubmitGroup executes an atomic group of operations. The operations run
// sequentially against a write overlay; the overlay commits only when every
// operation succeeds. Any failure discards the overlay in full, so a failed
// settlement also takes its companion stake payment down with it. Callers
// observe a single group-level failure, never a partial result.
func (n *Node) SubmitGroup(ops []types.Operation) ([]types.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(ops) == 0 {
		return nil, errEmptyGroup
	}
	for i := range ops {
		if err := ops[i].Validate(); err != nil {
			return nil, fmt.Errorf("core: operation %d: %w", i, err)
		}
	}

	overlay := storage.NewOverlay(n.db)
	mgr := state.NewManager(overlay)
	buffer := &bufferedEmitter{}
	engines := newGroupEngines(mgr, buffer, n.nowFn)

	receipts := make([]types.Receipt, len(ops))
	for i := range ops {
		receipt, err := engines.apply(groupContext{ops: ops, self: uint64(i)}, &ops[i])
		if err != nil {
			overlay.Discard()
			n.metrics.RecordGroupFailure(failureReason(err))
			return nil, fmt.Errorf("core: group aborted at operation %d (%s): %w", i, ops[i].Kind, err)
		}
		receipts[i] = receipt
	}

	if err := overlay.Flush(); err != nil {
		overlay.Discard()
		n.metrics.RecordGroupFailure("commit")
		return nil, fmt.Errorf("core: group commit failed: %w", err)
	}
	buffer.flushTo(n.emitter)
	n.recordGroupMetrics(receipts)
	return receipts, nil
}

// groupEngines holds the per-execution engine instances. Engines are scoped
// to one group so no state handle outlives the overlay it was built on.
type groupEngines struct {
	state      *state.Manager
	escrow     *escrow.Ledger
	settlement *settlement.Engine
	registry   *registry.Engine
	rebate     *rebate.Engine
}

func newGroupEngines(mgr *state.Manager, emitter events.Emitter, nowFn func() int64) *groupEngines {
	ledger := escrow.NewLedger()
	ledger.SetState(mgr)
	ledger.SetEmitter(emitter)

	settleEngine := settlement.NewEngine()
	settleEngine.SetState(mgr)
	settleEngine.SetPool(ledger)
	settleEngine.SetEmitter(emitter)
	settleEngine.SetNowFunc(nowFn)

	regEngine := registry.NewEngine()
	regEngine.SetState(mgr)
	regEngine.SetEmitter(emitter)
	regEngine.SetNowFunc(nowFn)

	rebEngine := rebate.NewEngine()
	rebEngine.SetState(mgr)
	rebEngine.SetEmitter(emitter)

	return &groupEngines{
		state:      mgr,
		escrow:     ledger,
		settlement: settleEngine,
		registry:   regEngine,
		rebate:     rebEngine,
	}
}

func (g *groupEngines) apply(ctx groupContext, op *types.Operation) (types.Receipt, error) {
	switch op.Kind {
	case types.OpPayment:
		pay := op.Payment
		if err := g.state.Transfer(pay.From, pay.To, new(big.Int).SetUint64(pay.Amount)); err != nil {
			return types.Receipt{}, err
		}
		return types.Receipt{Kind: types.OpPayment, Amount: pay.Amount}, nil
	case types.OpDeposit:
		dep := op.Deposit
		if err := g.escrow.Deposit(dep.From, dep.Amount); err != nil {
			return types.Receipt{}, err
		}
		return types.Receipt{Kind: types.OpDeposit, Amount: dep.Amount}, nil
	case types.OpSettle:
		set := op.Settle
		receipt, err := g.settlement.Settle(ctx, &settlement.SettleRequest{
			ClaimKey:     set.ClaimKey,
			RebateAmount: set.RebateAmount,
			Payee:        set.Payee,
			FeeRecipient: set.FeeRecipient,
			AuthIndex:    set.AuthIndex,
		})
		if err != nil {
			return types.Receipt{}, err
		}
		return types.Receipt{
			Kind:         types.OpSettle,
			Amount:       set.RebateAmount,
			ClaimKey:     receipt.ClaimKey,
			PayeeAmount:  receipt.PayeeAmount,
			FeeAmount:    receipt.FeeAmount,
			Payee:        receipt.Payee,
			FeeRecipient: receipt.FeeRecipient,
			Timestamp:    receipt.Timestamp,
		}, nil
	case types.OpClaimSubmit:
		sub := op.ClaimSubmit
		key, err := g.registry.Submit(&registry.Claim{
			ClaimID:        sub.ClaimID,
			NDCCode:        sub.NDCCode,
			PharmacyNPI:    sub.PharmacyNPI,
			DispenseDate:   sub.DispenseDate,
			OracleSig:      sub.OracleSig,
			BatchNumber:    sub.BatchNumber,
			LotNumber:      sub.LotNumber,
			ExpirationDate: sub.ExpirationDate,
			CountryCode:    sub.CountryCode,
		})
		if err != nil {
			return types.Receipt{}, err
		}
		return types.Receipt{Kind: types.OpClaimSubmit, ClaimKey: key}, nil
	case types.OpAccrue:
		acc := op.Accrue
		amount, err := g.rebate.CalculateAccrual(acc.ClaimKey, acc.Manufacturer, acc.WACPrice, acc.Volume)
		if err != nil {
			return types.Receipt{}, err
		}
		return types.Receipt{Kind: types.OpAccrue, Amount: amount, ClaimKey: acc.ClaimKey}, nil
	default:
		return types.Receipt{}, fmt.Errorf("core: unsupported operation kind %d", op.Kind)
	}
}

// groupContext exposes the currently executing group to the settlement
// engine. It always wraps the live operation slice, so authorization checks
// can never read a cached or historical group.
type groupContext struct {
	ops  []types.Operation
	self uint64
}

func (g groupContext) Size() int { return len(g.ops) }

func (g groupContext) CallIndex() uint64 { return g.self }

func (g groupContext) OperationAt(index uint64) (settlement.OperationView, bool) {
	if index >= uint64(len(g.ops)) {
		return nil, false
	}
	return operationView{op: &g.ops[index]}, true
}

// operationView is the read-only projection of a sibling operation handed to
// the settlement engine.
type operationView struct {
	op *types.Operation
}

func (v operationView) Kind() types.OpKind { return v.op.Kind }

func (v operationView) Amount() uint64 {
	switch v.op.Kind {
	case types.OpPayment:
		return v.op.Payment.Amount
	case types.OpDeposit:
		return v.op.Deposit.Amount
	default:
		return 0
	}
}

// bufferedEmitter holds events emitted during group execution and releases
// them only after the overlay commits. Events from aborted groups are never
// observed downstream.
type bufferedEmitter struct {
	pending []events.Event
}

func (b *bufferedEmitter) Emit(event events.Event) {
	if event == nil {
		return
	}
	b.pending = append(b.pending, event)
}

func (b *bufferedEmitter) flushTo(sink events.Emitter) {
	if sink == nil {
		return
	}
	for _, event := range b.pending {
		sink.Emit(event)
	}
	b.pending = nil
}

func (n *Node) recordGroupMetrics(receipts []types.Receipt) {
	for i := range receipts {
		switch receipts[i].Kind {
		case types.OpSettle:
			n.metrics.RecordSettlement(receipts[i].Amount)
		case types.OpDeposit:
			n.metrics.RecordDeposit()
		case types.OpClaimSubmit:
			n.metrics.RecordClaim()
		case types.OpAccrue:
			n.metrics.RecordAccrual()
		}
	}
	if balance, err := state.NewManager(n.db).EscrowBalance(); err == nil {
		f, _ := new(big.Float).SetInt(balance).Float64()
		n.metrics.SetEscrowBalance(f)
	}
}
