package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"pharmaclear/core/types"
	"pharmaclear/native/rebate"
	"pharmaclear/storage"
)

// Manager provides typed access to ledger state over a raw key-value store.
// Running it against a storage.Overlay makes every mutation in one atomic
// group invisible until the overlay flushes.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

type storedAccrual struct {
	ClaimKey     [32]byte
	Manufacturer [20]byte
	Amount       uint64
}

type storedSchedule struct {
	BaseBps             uint64
	Threshold           uint64
	BonusBps            uint64
	ExcludesBiosimilars bool
}

// GetAccount loads an account, returning a zeroed account for unknown
// addresses.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	data, err := m.db.Get(accountKey(addr))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &types.Account{Balance: big.NewInt(0)}, nil
		}
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	acc := &types.Account{Nonce: stored.Nonce, Balance: stored.Balance}
	return types.EnsureAccount(acc), nil
}

// PutAccount persists an account.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	account = types.EnsureAccount(account)
	if account.Balance.Sign() < 0 {
		return fmt.Errorf("state: negative account balance")
	}
	data, err := rlp.EncodeToBytes(storedAccount{Nonce: account.Nonce, Balance: account.Balance})
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), data)
}

// EscrowBalance returns the pooled escrow balance, zero when unset.
func (m *Manager) EscrowBalance() (*big.Int, error) {
	data, err := m.db.Get(escrowBalanceKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(data, balance); err != nil {
		return nil, fmt.Errorf("state: decode escrow balance: %w", err)
	}
	return balance, nil
}

// SetEscrowBalance persists the pooled escrow balance. Negative balances are
// rejected here as well so no caller path can smuggle one in.
func (m *Manager) SetEscrowBalance(balance *big.Int) error {
	if balance == nil || balance.Sign() < 0 {
		return fmt.Errorf("state: escrow balance must be non-negative")
	}
	data, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return err
	}
	return m.db.Put(escrowBalanceKey, data)
}

// SettledHas reports whether a claim key has already been settled.
func (m *Manager) SettledHas(key [32]byte) (bool, error) {
	return m.db.Has(settledKey(key))
}

// SettledMark records a claim key as settled. The mark is never cleared.
func (m *Manager) SettledMark(key [32]byte) error {
	return m.db.Put(settledKey(key), []byte{1})
}

// ClaimExists reports whether the registry has seen a claim key.
func (m *Manager) ClaimExists(key [32]byte) (bool, error) {
	return m.db.Has(claimSeenKey(key))
}

// ClaimPut records a claim key with its metadata blob.
func (m *Manager) ClaimPut(key [32]byte, metadata []byte) error {
	if err := m.db.Put(claimSeenKey(key), []byte{1}); err != nil {
		return err
	}
	return m.db.Put(claimMetaKey(key), metadata)
}

// ClaimMetadata returns the stored metadata blob for a claim key.
func (m *Manager) ClaimMetadata(key [32]byte) ([]byte, bool, error) {
	data, err := m.db.Get(claimMetaKey(key))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// BatchGet returns the stored provenance record for a batch identifier.
func (m *Manager) BatchGet(id string) ([]byte, bool, error) {
	data, err := m.db.Get(batchKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// BatchPut records a batch provenance blob.
func (m *Manager) BatchPut(id string, record []byte) error {
	return m.db.Put(batchKey(id), record)
}

// RecallGet returns the stored recall record for a batch identifier.
func (m *Manager) RecallGet(id string) ([]byte, bool, error) {
	data, err := m.db.Get(recallKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// RecallPut records a recall against a batch identifier.
func (m *Manager) RecallPut(id string, record []byte) error {
	return m.db.Put(recallKey(id), record)
}

// SchedulePut persists a manufacturer's tier schedule.
func (m *Manager) SchedulePut(manufacturer [20]byte, schedule *rebate.Schedule) error {
	if schedule == nil {
		return fmt.Errorf("state: nil schedule")
	}
	data, err := rlp.EncodeToBytes(storedSchedule{
		BaseBps:             schedule.BaseBps,
		Threshold:           schedule.Threshold,
		BonusBps:            schedule.BonusBps,
		ExcludesBiosimilars: schedule.ExcludesBiosimilars,
	})
	if err != nil {
		return err
	}
	return m.db.Put(scheduleKey(manufacturer), data)
}

// ScheduleGet loads a manufacturer's tier schedule.
func (m *Manager) ScheduleGet(manufacturer [20]byte) (*rebate.Schedule, bool, error) {
	data, err := m.db.Get(scheduleKey(manufacturer))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var stored storedSchedule
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode schedule: %w", err)
	}
	return &rebate.Schedule{
		BaseBps:             stored.BaseBps,
		Threshold:           stored.Threshold,
		BonusBps:            stored.BonusBps,
		ExcludesBiosimilars: stored.ExcludesBiosimilars,
	}, true, nil
}

// AccrualPut records the computed liability for a claim.
func (m *Manager) AccrualPut(accrual *rebate.Accrual) error {
	if accrual == nil {
		return fmt.Errorf("state: nil accrual")
	}
	data, err := rlp.EncodeToBytes(storedAccrual{
		ClaimKey:     accrual.ClaimKey,
		Manufacturer: accrual.Manufacturer,
		Amount:       accrual.Amount,
	})
	if err != nil {
		return err
	}
	return m.db.Put(accrualKey(accrual.ClaimKey), data)
}

// AccrualGet loads the recorded liability for a claim key.
func (m *Manager) AccrualGet(key [32]byte) (*rebate.Accrual, bool, error) {
	data, err := m.db.Get(accrualKey(key))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var stored storedAccrual
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode accrual: %w", err)
	}
	return &rebate.Accrual{
		ClaimKey:     stored.ClaimKey,
		Manufacturer: stored.Manufacturer,
		Amount:       stored.Amount,
	}, true, nil
}

// ManufacturerTotal returns the cumulative accrued liability, zero when
// unset.
func (m *Manager) ManufacturerTotal(manufacturer [20]byte) (*big.Int, error) {
	data, err := m.db.Get(totalKey(manufacturer))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	total := new(big.Int)
	if err := rlp.DecodeBytes(data, total); err != nil {
		return nil, fmt.Errorf("state: decode manufacturer total: %w", err)
	}
	return total, nil
}

// SetManufacturerTotal persists the cumulative accrued liability.
func (m *Manager) SetManufacturerTotal(manufacturer [20]byte, total *big.Int) error {
	if total == nil || total.Sign() < 0 {
		return fmt.Errorf("state: manufacturer total must be non-negative")
	}
	data, err := rlp.EncodeToBytes(total)
	if err != nil {
		return err
	}
	return m.db.Put(totalKey(manufacturer), data)
}

// GenesisApplied reports whether initial allocations have been written.
func (m *Manager) GenesisApplied() (bool, error) {
	return m.db.Has(genesisAppliedKey)
}

// MarkGenesisApplied records that initial allocations are done and stamps the
// schema version.
func (m *Manager) MarkGenesisApplied() error {
	if err := m.db.Put(genesisAppliedKey, []byte{1}); err != nil {
		return err
	}
	data, err := rlp.EncodeToBytes(currentSchemaNumber)
	if err != nil {
		return err
	}
	return m.db.Put(schemaVersionKey, data)
}
