package core

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"pharmaclear/core/events"
	"pharmaclear/core/state"
	"pharmaclear/core/types"
	"pharmaclear/native/rebate"
	"pharmaclear/native/registry"
	"pharmaclear/native/settlement"
	"pharmaclear/observability/metrics"
	"pharmaclear/storage"
)

// Node is the single-process settlement ledger. Groups from different
// callers are serialized behind the node mutex, which stands in for the
// total ordering a consensus layer would provide: within a group operations
// run sequentially, across groups execution is strictly serial, and no
// partially executed group is ever observable.
type Node struct {
	mu      sync.Mutex
	db      storage.Database
	emitter events.Emitter
	nowFn   func() int64
	metrics *metrics.SettlementMetrics
}

// NodeOption customises node construction.
type NodeOption func(*Node)

// WithEmitter wires a committed-event subscriber (audit rail, indexers).
func WithEmitter(emitter events.Emitter) NodeOption {
	return func(n *Node) {
		if emitter != nil {
			n.emitter = emitter
		}
	}
}

// WithNowFunc overrides the time source used for settlement timestamps.
func WithNowFunc(now func() int64) NodeOption {
	return func(n *Node) {
		if now != nil {
			n.nowFn = now
		}
	}
}

// NewNode creates a ledger node over the given database.
func NewNode(db storage.Database, opts ...NodeOption) *Node {
	n := &Node{
		db:      db,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		metrics: metrics.Settlement(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ApplyGenesis credits the initial account allocations and seeds the escrow
// pool, exactly once per data directory.
func (n *Node) ApplyGenesis(allocations map[[20]byte]uint64, escrowSeed uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	mgr := state.NewManager(n.db)
	applied, err := mgr.GenesisApplied()
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	overlay := storage.NewOverlay(n.db)
	staged := state.NewManager(overlay)
	for addr, amount := range allocations {
		if err := staged.Credit(addr, new(big.Int).SetUint64(amount)); err != nil {
			overlay.Discard()
			return err
		}
	}
	if escrowSeed > 0 {
		if err := staged.SetEscrowBalance(new(big.Int).SetUint64(escrowSeed)); err != nil {
			overlay.Discard()
			return err
		}
	}
	if err := staged.MarkGenesisApplied(); err != nil {
		overlay.Discard()
		return err
	}
	return overlay.Flush()
}

// Deposit funds the escrow pool from an account. Deposits do not require a
// group; a single-operation group is constructed internally.
func (n *Node) Deposit(from [20]byte, amount uint64) error {
	_, err := n.SubmitGroup([]types.Operation{{
		Kind:    types.OpDeposit,
		Deposit: &types.DepositOp{From: from, Amount: amount},
	}})
	return err
}

// EscrowBalance returns the pooled escrow balance, consistent with the last
// committed group.
func (n *Node) EscrowBalance() (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return state.NewManager(n.db).EscrowBalance()
}

// AccountBalance returns an account's balance.
func (n *Node) AccountBalance(addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	acc, err := state.NewManager(n.db).GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

// IsSettled reports whether a claim key has been settled.
func (n *Node) IsSettled(key [32]byte) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return state.NewManager(n.db).SettledHas(key)
}

// VerifyClaim reports whether a claim key exists in the registry.
func (n *Node) VerifyClaim(key [32]byte) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	eng := registry.NewEngine()
	eng.SetState(state.NewManager(n.db))
	return eng.Verify(key)
}

// ClaimMetadata returns the registry record for a claim key.
func (n *Node) ClaimMetadata(key [32]byte) (*registry.Metadata, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	eng := registry.NewEngine()
	eng.SetState(state.NewManager(n.db))
	return eng.MetadataFor(key)
}

// AccrualFor returns the recorded rebate accrual for a claim key.
func (n *Node) AccrualFor(key [32]byte) (*rebate.Accrual, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	eng := rebate.NewEngine()
	eng.SetState(state.NewManager(n.db))
	return eng.AccrualFor(key)
}

// ManufacturerTotal returns a manufacturer's cumulative accrued liability.
func (n *Node) ManufacturerTotal(manufacturer [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	eng := rebate.NewEngine()
	eng.SetState(state.NewManager(n.db))
	return eng.TotalFor(manufacturer)
}

// IsBatchRecalled reports whether a drug batch is under recall.
func (n *Node) IsBatchRecalled(ndcCode, batchNumber string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	eng := registry.NewEngine()
	eng.SetState(state.NewManager(n.db))
	return eng.IsBatchRecalled(ndcCode, batchNumber)
}

// RecallFor returns the recall record for a batch, if one was issued.
func (n *Node) RecallFor(ndcCode, batchNumber string) (*registry.Recall, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	eng := registry.NewEngine()
	eng.SetState(state.NewManager(n.db))
	return eng.RecallFor(ndcCode, batchNumber)
}

// BatchClaimCount returns the number of registered claims against a batch.
func (n *Node) BatchClaimCount(ndcCode, batchNumber string) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	eng := registry.NewEngine()
	eng.SetState(state.NewManager(n.db))
	return eng.BatchClaimCount(ndcCode, batchNumber)
}

// IssueRecall marks a drug batch as recalled and returns the number of
// affected claims. Like schedule registration this is an administrative call
// outside the group pipeline, applied atomically.
func (n *Node) IssueRecall(ndcCode, batchNumber, reason string, severity uint64) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	overlay := storage.NewOverlay(n.db)
	buffer := &bufferedEmitter{}
	eng := registry.NewEngine()
	eng.SetState(state.NewManager(overlay))
	eng.SetEmitter(buffer)
	eng.SetNowFunc(n.nowFn)
	affected, err := eng.IssueRecall(ndcCode, batchNumber, reason, severity)
	if err != nil {
		overlay.Discard()
		return 0, err
	}
	if err := overlay.Flush(); err != nil {
		overlay.Discard()
		return 0, err
	}
	buffer.flushTo(n.emitter)
	return affected, nil
}

// RegisterSchedule stores a manufacturer tier schedule. Registration is an
// administrative call outside the group pipeline but is applied atomically.
func (n *Node) RegisterSchedule(manufacturer [20]byte, schedule *rebate.Schedule) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	overlay := storage.NewOverlay(n.db)
	buffer := &bufferedEmitter{}
	eng := rebate.NewEngine()
	eng.SetState(state.NewManager(overlay))
	eng.SetEmitter(buffer)
	if err := eng.RegisterSchedule(manufacturer, schedule); err != nil {
		overlay.Discard()
		return err
	}
	if err := overlay.Flush(); err != nil {
		overlay.Discard()
		return err
	}
	buffer.flushTo(n.emitter)
	return nil
}

// failureReason maps a group abort to a stable metric label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, settlement.ErrGroupStructure):
		return "group_structure"
	case errors.Is(err, settlement.ErrAuthorization):
		return "authorization"
	case errors.Is(err, settlement.ErrDuplicateSettlement):
		return "duplicate_settlement"
	case errors.Is(err, settlement.ErrInsufficientEscrow):
		return "insufficient_escrow"
	case errors.Is(err, settlement.ErrAmountOverflow):
		return "amount_overflow"
	case errors.Is(err, registry.ErrDuplicateClaim):
		return "duplicate_claim"
	case errors.Is(err, rebate.ErrAccrualMismatch):
		return "accrual_mismatch"
	default:
		return "other"
	}
}

var errEmptyGroup = fmt.Errorf("core: atomic group carries no operations")
