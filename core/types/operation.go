package types

import (
	"errors"
	"fmt"
)

// OpKind enumerates the closed set of operations a caller may include in an
// atomic group. There is no dynamic dispatch: every kind is validated at the
// boundary before execution begins.
type OpKind uint8

const (
	// OpPayment moves value between two ledger accounts. A payment at the
	// position named by a settlement call's AuthIndex doubles as the oracle
	// authorization stake.
	OpPayment OpKind = iota + 1
	// OpDeposit moves value from an account into the settlement escrow pool.
	OpDeposit
	// OpSettle executes one rebate settlement against the escrow pool.
	OpSettle
	// OpClaimSubmit registers a claim with the claim registry.
	OpClaimSubmit
	// OpAccrue computes a rebate accrual for a registered claim.
	OpAccrue
)

// Valid reports whether the kind is within the supported range.
func (k OpKind) Valid() bool {
	switch k {
	case OpPayment, OpDeposit, OpSettle, OpClaimSubmit, OpAccrue:
		return true
	default:
		return false
	}
}

func (k OpKind) String() string {
	switch k {
	case OpPayment:
		return "payment"
	case OpDeposit:
		return "deposit"
	case OpSettle:
		return "settle"
	case OpClaimSubmit:
		return "claim_submit"
	case OpAccrue:
		return "accrue"
	default:
		return "unknown"
	}
}

// PaymentOp transfers Amount micro-units from one account to another.
type PaymentOp struct {
	From   [20]byte
	To     [20]byte
	Amount uint64
}

// DepositOp funds the escrow pool from the named account.
type DepositOp struct {
	From   [20]byte
	Amount uint64
}

// SettleOp carries the arguments of one settlement call. AuthIndex names the
// position of the oracle authorization payment within the same group.
type SettleOp struct {
	ClaimKey     [32]byte
	RebateAmount uint64
	Payee        [20]byte
	FeeRecipient [20]byte
	AuthIndex    uint64
}

// ClaimSubmitOp registers a pharmaceutical claim. The registry derives the
// claim key from the identifying fields; callers never supply the key
// directly. The batch, lot, expiration and country fields are optional
// provenance data.
type ClaimSubmitOp struct {
	ClaimID        string
	NDCCode        string
	PharmacyNPI    string
	DispenseDate   uint64
	OracleSig      []byte
	BatchNumber    string
	LotNumber      string
	ExpirationDate uint64
	CountryCode    string
}

// AccrueOp asks the rebate calculator to accrue a liability for a claim.
type AccrueOp struct {
	ClaimKey     [32]byte
	Manufacturer [20]byte
	WACPrice     uint64
	Volume       uint64
}

// Operation is the tagged union submitted inside an atomic group. Exactly one
// of the payload pointers must be set, matching Kind.
type Operation struct {
	Kind        OpKind
	Payment     *PaymentOp
	Deposit     *DepositOp
	Settle      *SettleOp
	ClaimSubmit *ClaimSubmitOp
	Accrue      *AccrueOp
}

var errOpPayload = errors.New("operation payload does not match kind")

// Validate checks the tag/payload pairing and the field-level constraints that
// do not need state access.
func (op *Operation) Validate() error {
	if op == nil {
		return errors.New("nil operation")
	}
	if !op.Kind.Valid() {
		return fmt.Errorf("unsupported operation kind %d", op.Kind)
	}
	set := 0
	if op.Payment != nil {
		set++
	}
	if op.Deposit != nil {
		set++
	}
	if op.Settle != nil {
		set++
	}
	if op.ClaimSubmit != nil {
		set++
	}
	if op.Accrue != nil {
		set++
	}
	if set != 1 {
		return errOpPayload
	}
	switch op.Kind {
	case OpPayment:
		if op.Payment == nil {
			return errOpPayload
		}
		if op.Payment.Amount == 0 {
			return errors.New("payment amount must be positive")
		}
	case OpDeposit:
		if op.Deposit == nil {
			return errOpPayload
		}
		if op.Deposit.Amount == 0 {
			return errors.New("deposit amount must be positive")
		}
	case OpSettle:
		if op.Settle == nil {
			return errOpPayload
		}
	case OpClaimSubmit:
		if op.ClaimSubmit == nil {
			return errOpPayload
		}
	case OpAccrue:
		if op.Accrue == nil {
			return errOpPayload
		}
	}
	return nil
}
