package rpc

import (
	"encoding/hex"
	"fmt"
	"strings"

	"pharmaclear/core/types"
)

// jsonOperation is the wire form of one operation inside a submitted group.
// Kind selects which of the remaining fields are read.
type jsonOperation struct {
	Kind string `json:"kind"`

	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Amount uint64 `json:"amount,omitempty"`

	ClaimKey     string `json:"claimKey,omitempty"`
	RebateAmount uint64 `json:"rebateAmount,omitempty"`
	Payee        string `json:"payee,omitempty"`
	FeeRecipient string `json:"feeRecipient,omitempty"`
	AuthIndex    uint64 `json:"authIndex,omitempty"`

	ClaimID        string `json:"claimId,omitempty"`
	NDCCode        string `json:"ndcCode,omitempty"`
	PharmacyNPI    string `json:"pharmacyNpi,omitempty"`
	DispenseDate   uint64 `json:"dispenseDate,omitempty"`
	OracleSig      string `json:"oracleSig,omitempty"`
	BatchNumber    string `json:"batchNumber,omitempty"`
	LotNumber      string `json:"lotNumber,omitempty"`
	ExpirationDate uint64 `json:"expirationDate,omitempty"`
	CountryCode    string `json:"countryCode,omitempty"`

	Manufacturer string `json:"manufacturer,omitempty"`
	WACPrice     uint64 `json:"wacPrice,omitempty"`
	Volume       uint64 `json:"volume,omitempty"`
}

// jsonReceipt is the wire form of an operation receipt.
type jsonReceipt struct {
	Kind         string `json:"kind"`
	Amount       uint64 `json:"amount,omitempty"`
	ClaimKey     string `json:"claimKey,omitempty"`
	PayeeAmount  uint64 `json:"payeeAmount,omitempty"`
	FeeAmount    uint64 `json:"feeAmount,omitempty"`
	Payee        string `json:"payee,omitempty"`
	FeeRecipient string `json:"feeRecipient,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`
}

func (o *jsonOperation) toOperation() (types.Operation, error) {
	var op types.Operation
	switch strings.ToLower(strings.TrimSpace(o.Kind)) {
	case "payment":
		from, err := parseAddress(o.From)
		if err != nil {
			return op, fmt.Errorf("payment from: %w", err)
		}
		to, err := parseAddress(o.To)
		if err != nil {
			return op, fmt.Errorf("payment to: %w", err)
		}
		op.Kind = types.OpPayment
		op.Payment = &types.PaymentOp{From: from, To: to, Amount: o.Amount}
	case "deposit":
		from, err := parseAddress(o.From)
		if err != nil {
			return op, fmt.Errorf("deposit from: %w", err)
		}
		op.Kind = types.OpDeposit
		op.Deposit = &types.DepositOp{From: from, Amount: o.Amount}
	case "settle":
		key, err := parseClaimKey(o.ClaimKey)
		if err != nil {
			return op, err
		}
		payee, err := parseAddress(o.Payee)
		if err != nil {
			return op, fmt.Errorf("settle payee: %w", err)
		}
		feeRecipient, err := parseAddress(o.FeeRecipient)
		if err != nil {
			return op, fmt.Errorf("settle feeRecipient: %w", err)
		}
		op.Kind = types.OpSettle
		op.Settle = &types.SettleOp{
			ClaimKey:     key,
			RebateAmount: o.RebateAmount,
			Payee:        payee,
			FeeRecipient: feeRecipient,
			AuthIndex:    o.AuthIndex,
		}
	case "claim_submit":
		sig, err := parseHex(o.OracleSig)
		if err != nil {
			return op, fmt.Errorf("claim oracleSig: %w", err)
		}
		op.Kind = types.OpClaimSubmit
		op.ClaimSubmit = &types.ClaimSubmitOp{
			ClaimID:        o.ClaimID,
			NDCCode:        o.NDCCode,
			PharmacyNPI:    o.PharmacyNPI,
			DispenseDate:   o.DispenseDate,
			OracleSig:      sig,
			BatchNumber:    o.BatchNumber,
			LotNumber:      o.LotNumber,
			ExpirationDate: o.ExpirationDate,
			CountryCode:    o.CountryCode,
		}
	case "accrue":
		key, err := parseClaimKey(o.ClaimKey)
		if err != nil {
			return op, err
		}
		manufacturer, err := parseAddress(o.Manufacturer)
		if err != nil {
			return op, fmt.Errorf("accrue manufacturer: %w", err)
		}
		op.Kind = types.OpAccrue
		op.Accrue = &types.AccrueOp{
			ClaimKey:     key,
			Manufacturer: manufacturer,
			WACPrice:     o.WACPrice,
			Volume:       o.Volume,
		}
	default:
		return op, fmt.Errorf("unknown operation kind %q", o.Kind)
	}
	return op, nil
}

func receiptToJSON(r types.Receipt) jsonReceipt {
	out := jsonReceipt{
		Kind:   r.Kind.String(),
		Amount: r.Amount,
	}
	if r.ClaimKey != ([32]byte{}) {
		out.ClaimKey = "0x" + hex.EncodeToString(r.ClaimKey[:])
	}
	if r.Kind == types.OpSettle {
		out.PayeeAmount = r.PayeeAmount
		out.FeeAmount = r.FeeAmount
		out.Payee = formatAddress(r.Payee)
		out.FeeRecipient = formatAddress(r.FeeRecipient)
		out.Timestamp = r.Timestamp
	}
	return out
}

func parseHex(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("empty hex value")
	}
	return hex.DecodeString(trimmed)
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	raw, err := parseHex(value)
	if err != nil {
		return addr, err
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("address must be 20 bytes, got %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseClaimKey(value string) ([32]byte, error) {
	var key [32]byte
	raw, err := parseHex(value)
	if err != nil {
		return key, fmt.Errorf("claimKey: %w", err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("claimKey must be 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func formatClaimKey(key [32]byte) string {
	return "0x" + hex.EncodeToString(key[:])
}
