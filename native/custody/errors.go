package custody

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrNilState marks an engine used before its state backend was wired.
	ErrNilState = errors.New("custody engine: state not configured")
	// ErrUnauthorized rejects a caller that fails the operation's capability
	// predicate.
	ErrUnauthorized = errors.New("custody: unauthorized caller")
	// ErrInvalidBasketID rejects identifiers greater than any ever allocated.
	ErrInvalidBasketID = errors.New("custody: basket id never allocated")
	// ErrBasketNotFound rejects identifiers within the allocated range that
	// have no stored record. With monotonic allocation this should not occur;
	// it is surfaced distinctly so a registry gap is visible.
	ErrBasketNotFound = errors.New("custody: basket not found")
	// ErrAlreadyProcessed rejects operations whose status precondition fails.
	ErrAlreadyProcessed = errors.New("custody: basket status precondition failed")
	// ErrTransferFailed wraps gateway errors; the registry is unchanged.
	ErrTransferFailed = errors.New("custody: fund transfer failed")
	// ErrInvalidQuantity rejects zero, negative or unevenly divisible amounts.
	ErrInvalidQuantity = errors.New("custody: invalid quantity")
	// ErrInvalidBeneficiary rejects self-referential or custodian parties.
	ErrInvalidBeneficiary = errors.New("custody: invalid beneficiary")
	// ErrBasketLapsed rejects operations on a basket whose deadline passed.
	ErrBasketLapsed = errors.New("custody: basket deadline passed")
	// ErrDeadlineNotReached rejects lapse-recovery or extraction attempts
	// before their height condition is met.
	ErrDeadlineNotReached = errors.New("custody: deadline not reached")
	// ErrTimelockActive rejects release attempts before the lock matures.
	ErrTimelockActive = errors.New("custody: timelock has not matured")
	// ErrInvalidInterval rejects malformed interval counts.
	ErrInvalidInterval = errors.New("custody: invalid interval count")
	// ErrInvalidUnlockHeight rejects unlock heights in the past or beyond the
	// maximum horizon.
	ErrInvalidUnlockHeight = errors.New("custody: unlock height out of range")
	// ErrInvalidShare rejects adjudication percentages outside [0,100].
	ErrInvalidShare = errors.New("custody: share percentage out of range")
	// ErrInvalidTransition rejects transitions absent from the table.
	ErrInvalidTransition = errors.New("custody: transition not allowed")
	// ErrNotPhased rejects phase releases on baskets created without phases.
	ErrNotPhased = errors.New("custody: basket is not phased")
)

// ConservationError reports that the custodian's held balance no longer
// matches the sum of open basket quantities. Unlike the validation errors
// above it signals internal corruption and must be treated as fatal by the
// caller rather than retried or ignored.
type ConservationError struct {
	Held     *big.Int
	Escrowed *big.Int
}

func (e *ConservationError) Error() string {
	held, escrowed := big.NewInt(0), big.NewInt(0)
	if e != nil && e.Held != nil {
		held = e.Held
	}
	if e != nil && e.Escrowed != nil {
		escrowed = e.Escrowed
	}
	return fmt.Sprintf("custody: conservation breach: custodian holds %s, open baskets sum to %s", held, escrowed)
}
