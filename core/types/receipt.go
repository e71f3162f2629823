package types

// Receipt summarises the outcome of a single executed operation. Amount
// carries the primary value moved; the settlement-specific fields are only
// populated for OpSettle receipts.
type Receipt struct {
	Kind         OpKind   `json:"kind"`
	Amount       uint64   `json:"amount,omitempty"`
	ClaimKey     [32]byte `json:"-"`
	PayeeAmount  uint64   `json:"payeeAmount,omitempty"`
	FeeAmount    uint64   `json:"feeAmount,omitempty"`
	Payee        [20]byte `json:"-"`
	FeeRecipient [20]byte `json:"-"`
	Timestamp    int64    `json:"timestamp,omitempty"`
}
