package events

import (
	"pharmaclear/core/types"
)

const (
	TypeRebateSettled     = "settlement.rebate_settled"
	TypeEscrowDeposit     = "escrow.deposit"
	TypeClaimSubmitted    = "registry.claim_submitted"
	TypeDrugRecallIssued  = "registry.drug_recall_issued"
	TypeRecalledDispensed = "registry.recalled_drug_dispensed"
	TypeExpiredDispensed  = "registry.expired_drug_dispensed"
	TypeRebateAccrued     = "rebate.accrued"
	TypeBonusTier         = "rebate.bonus_tier_activated"
	TypeFormularyLock     = "rebate.formulary_lock"
)

// RebateSettled is emitted once per successful settlement. The payee and fee
// amounts always sum to the rebate amount.
type RebateSettled struct {
	ClaimKey     [32]byte
	Payee        [20]byte
	FeeRecipient [20]byte
	PayeeAmount  uint64
	FeeAmount    uint64
	Timestamp    int64
}

func (RebateSettled) EventType() string { return TypeRebateSettled }

func (e RebateSettled) Event() *types.Event {
	return &types.Event{
		Type: TypeRebateSettled,
		Attributes: map[string]string{
			"claimKey":     hexBytes(e.ClaimKey[:]),
			"payee":        hexBytes(e.Payee[:]),
			"feeRecipient": hexBytes(e.FeeRecipient[:]),
			"payeeAmount":  uintToString(e.PayeeAmount),
			"feeAmount":    uintToString(e.FeeAmount),
			"timestamp":    intToString(e.Timestamp),
		},
	}
}

// EscrowDeposit is emitted when the escrow pool is funded.
type EscrowDeposit struct {
	From   [20]byte
	Amount uint64
}

func (EscrowDeposit) EventType() string { return TypeEscrowDeposit }

func (e EscrowDeposit) Event() *types.Event {
	return &types.Event{
		Type: TypeEscrowDeposit,
		Attributes: map[string]string{
			"from":   hexBytes(e.From[:]),
			"amount": uintToString(e.Amount),
		},
	}
}

// ClaimSubmitted is emitted when the registry accepts a new claim.
type ClaimSubmitted struct {
	ClaimKey     [32]byte
	ClaimID      string
	NDCCode      string
	PharmacyNPI  string
	DispenseDate uint64
}

func (ClaimSubmitted) EventType() string { return TypeClaimSubmitted }

func (e ClaimSubmitted) Event() *types.Event {
	return &types.Event{
		Type: TypeClaimSubmitted,
		Attributes: map[string]string{
			"claimKey":     hexBytes(e.ClaimKey[:]),
			"claimId":      e.ClaimID,
			"ndc":          e.NDCCode,
			"npi":          e.PharmacyNPI,
			"dispenseDate": uintToString(e.DispenseDate),
		},
	}
}

// DrugRecallIssued announces a recall against a manufacturer batch together
// with the number of already-registered claims it affects.
type DrugRecallIssued struct {
	BatchID        string
	Reason         string
	Severity       uint64
	AffectedClaims uint64
	Timestamp      int64
}

func (DrugRecallIssued) EventType() string { return TypeDrugRecallIssued }

func (e DrugRecallIssued) Event() *types.Event {
	return &types.Event{
		Type: TypeDrugRecallIssued,
		Attributes: map[string]string{
			"batchId":        e.BatchID,
			"reason":         e.Reason,
			"severity":       uintToString(e.Severity),
			"affectedClaims": uintToString(e.AffectedClaims),
			"timestamp":      intToString(e.Timestamp),
		},
	}
}

// RecalledDrugDispensed flags a claim dispensed from a batch that is under
// recall. The claim is still registered; the flag drives the investigation.
type RecalledDrugDispensed struct {
	ClaimKey    [32]byte
	BatchID     string
	PharmacyNPI string
}

func (RecalledDrugDispensed) EventType() string { return TypeRecalledDispensed }

func (e RecalledDrugDispensed) Event() *types.Event {
	return &types.Event{
		Type: TypeRecalledDispensed,
		Attributes: map[string]string{
			"claimKey": hexBytes(e.ClaimKey[:]),
			"batchId":  e.BatchID,
			"npi":      e.PharmacyNPI,
		},
	}
}

// ExpiredDrugDispensed flags a claim whose drug expired before dispensation.
type ExpiredDrugDispensed struct {
	ClaimKey       [32]byte
	NDCCode        string
	PharmacyNPI    string
	ExpirationDate uint64
}

func (ExpiredDrugDispensed) EventType() string { return TypeExpiredDispensed }

func (e ExpiredDrugDispensed) Event() *types.Event {
	return &types.Event{
		Type: TypeExpiredDispensed,
		Attributes: map[string]string{
			"claimKey":       hexBytes(e.ClaimKey[:]),
			"ndc":            e.NDCCode,
			"npi":            e.PharmacyNPI,
			"expirationDate": uintToString(e.ExpirationDate),
		},
	}
}

// RebateAccrued is emitted when the calculator records a liability.
type RebateAccrued struct {
	ClaimKey      [32]byte
	Manufacturer  [20]byte
	WACPrice      uint64
	EffectiveRate uint64
	Amount        uint64
}

func (RebateAccrued) EventType() string { return TypeRebateAccrued }

func (e RebateAccrued) Event() *types.Event {
	return &types.Event{
		Type: TypeRebateAccrued,
		Attributes: map[string]string{
			"claimKey":      hexBytes(e.ClaimKey[:]),
			"manufacturer":  hexBytes(e.Manufacturer[:]),
			"wacPrice":      uintToString(e.WACPrice),
			"effectiveRate": uintToString(e.EffectiveRate),
			"amount":        uintToString(e.Amount),
		},
	}
}

// BonusTierActivated is emitted when a claim's volume crosses the
// manufacturer's bonus threshold.
type BonusTierActivated struct {
	ClaimKey     [32]byte
	Manufacturer [20]byte
	Volume       uint64
}

func (BonusTierActivated) EventType() string { return TypeBonusTier }

func (e BonusTierActivated) Event() *types.Event {
	return &types.Event{
		Type: TypeBonusTier,
		Attributes: map[string]string{
			"claimKey":     hexBytes(e.ClaimKey[:]),
			"manufacturer": hexBytes(e.Manufacturer[:]),
			"volume":       uintToString(e.Volume),
		},
	}
}

// FormularyLock flags a schedule registration that excludes biosimilars.
// Downstream compliance tooling treats this as a regulatory review trigger.
type FormularyLock struct {
	Manufacturer [20]byte
	BaseBps      uint64
}

func (FormularyLock) EventType() string { return TypeFormularyLock }

func (e FormularyLock) Event() *types.Event {
	return &types.Event{
		Type: TypeFormularyLock,
		Attributes: map[string]string{
			"manufacturer": hexBytes(e.Manufacturer[:]),
			"baseBps":      uintToString(e.BaseBps),
			"note":         "biosimilar exclusion detected",
		},
	}
}
