package settlement

import "errors"

var (
	// ErrGroupStructure covers malformed atomic groups: fewer than two
	// operations, an authorization index outside the group, or an index
	// pointing at the settlement call itself.
	ErrGroupStructure = errors.New("settlement: invalid group structure")
	// ErrAuthorization covers a referenced operation that exists but does
	// not qualify as an oracle stake: wrong operation kind or an amount
	// below the minimum stake.
	ErrAuthorization = errors.New("settlement: authorization failed")
	// ErrDuplicateSettlement is returned when the claim key has already been
	// settled. Resubmission of the same key never pays twice.
	ErrDuplicateSettlement = errors.New("settlement: claim already settled")
	// ErrInsufficientEscrow is returned when the rebate amount exceeds the
	// pooled escrow balance. Recoverable once the pool is topped up.
	ErrInsufficientEscrow = errors.New("settlement: insufficient escrow balance")
	// ErrAmountOverflow is returned when the rebate amount is too large for
	// the fee computation to stay within the accounting width.
	ErrAmountOverflow = errors.New("settlement: rebate amount overflows fee computation")

	errNilState = errors.New("settlement: state not configured")
	errNilPool  = errors.New("settlement: escrow pool not configured")
)
