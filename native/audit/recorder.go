package audit

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"pharmaclear/core/events"
)

// Recorder subscribes to ledger events and persists the ones the audit rail
// cares about. It is fire-and-forget by contract: a failed write is logged
// and never propagated, so an audit outage cannot roll back a valid
// settlement. The node only delivers events after a group commits, which
// keeps the rail consistent with committed state.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder wires a recorder to the given store.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Emit implements events.Emitter.
func (r *Recorder) Emit(event events.Event) {
	if r == nil || r.store == nil || event == nil {
		return
	}
	switch evt := event.(type) {
	case events.RebateSettled:
		rec := SettlementRecord{
			ClaimKey:     "0x" + hex.EncodeToString(evt.ClaimKey[:]),
			Payee:        "0x" + hex.EncodeToString(evt.Payee[:]),
			FeeRecipient: "0x" + hex.EncodeToString(evt.FeeRecipient[:]),
			PayeeAmount:  evt.PayeeAmount,
			FeeAmount:    evt.FeeAmount,
			Timestamp:    evt.Timestamp,
		}
		if err := r.store.AppendSettlement(rec); err != nil {
			r.logger.Error("audit: settlement record not persisted",
				slog.String("claimKey", rec.ClaimKey), slog.Any("error", err))
		}
	case events.FormularyLock:
		r.appendFlag(FlagRecord{
			Manufacturer: "0x" + hex.EncodeToString(evt.Manufacturer[:]),
			FlagType:     "FORMULARY_LOCK",
			Detail:       "biosimilar exclusion detected - regulatory review required",
		})
	case events.BonusTierActivated:
		r.appendFlag(FlagRecord{
			Manufacturer: "0x" + hex.EncodeToString(evt.Manufacturer[:]),
			ClaimKey:     "0x" + hex.EncodeToString(evt.ClaimKey[:]),
			FlagType:     "VOLUME_MILESTONE",
			Detail:       fmt.Sprintf("bonus tier activated at volume %d", evt.Volume),
		})
	case events.DrugRecallIssued:
		r.appendFlag(FlagRecord{
			BatchID:  evt.BatchID,
			FlagType: "DRUG_RECALL",
			Detail:   fmt.Sprintf("severity %d: %s (%d claims affected)", evt.Severity, evt.Reason, evt.AffectedClaims),
		})
	case events.RecalledDrugDispensed:
		r.appendFlag(FlagRecord{
			BatchID:  evt.BatchID,
			ClaimKey: "0x" + hex.EncodeToString(evt.ClaimKey[:]),
			FlagType: "RECALLED_DRUG_DISPENSED",
			Detail:   "recalled drug dispensed by NPI " + evt.PharmacyNPI + " - immediate action required",
		})
	case events.ExpiredDrugDispensed:
		r.appendFlag(FlagRecord{
			ClaimKey: "0x" + hex.EncodeToString(evt.ClaimKey[:]),
			FlagType: "EXPIRED_DRUG_DISPENSED",
			Detail:   fmt.Sprintf("NDC %s expired at %d, dispensed by NPI %s", evt.NDCCode, evt.ExpirationDate, evt.PharmacyNPI),
		})
	}
}

func (r *Recorder) appendFlag(rec FlagRecord) {
	if _, err := r.store.AppendFlag(rec); err != nil {
		r.logger.Error("audit: flag not persisted",
			slog.String("flagType", rec.FlagType), slog.Any("error", err))
	}
}
