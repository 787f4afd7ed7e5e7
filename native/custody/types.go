package custody

import (
	"fmt"
	"math/big"
	"strings"
)

// Status enumerates the lifecycle states a basket can occupy. Transitions
// between states only happen through the engine; callers never set a status
// directly.
type Status uint8

const (
	StatusUnspecified Status = iota
	// StatusPending marks a funded basket awaiting delivery or settlement.
	StatusPending
	// StatusDualPending marks a basket that requires approval from both the
	// originator and the beneficiary before it can confirm.
	StatusDualPending
	// StatusConfirmed marks a basket cleared for delivery.
	StatusConfirmed
	// StatusIntervalLocked marks a basket whose value drains to the
	// beneficiary gradually, one interval slice at a time.
	StatusIntervalLocked
	// StatusTimelocked marks a basket locked until a fixed unlock height.
	StatusTimelocked
	// StatusExtractionPending marks a basket queued for delayed extraction
	// back to the originator.
	StatusExtractionPending
	// StatusChallenged marks a basket under dispute.
	StatusChallenged
	// StatusSuspended marks a basket halted by the governor.
	StatusSuspended
	// StatusAdjudicated marks a challenged basket settled by a governor split.
	StatusAdjudicated
	// StatusFrozen marks a basket under emergency governor freeze.
	StatusFrozen
	// StatusDelivered, StatusReverted, StatusTerminated, StatusLapsed and
	// StatusExtracted are terminal; the basket quantity is zero once reached.
	StatusDelivered
	StatusReverted
	StatusTerminated
	StatusLapsed
	StatusExtracted
)

var statusNames = map[Status]string{
	StatusPending:           "pending",
	StatusDualPending:       "dual-pending",
	StatusConfirmed:         "confirmed",
	StatusIntervalLocked:    "time-locked",
	StatusTimelocked:        "timelocked",
	StatusExtractionPending: "extraction-pending",
	StatusChallenged:        "challenged",
	StatusSuspended:         "suspended",
	StatusAdjudicated:       "adjudicated",
	StatusFrozen:            "frozen",
	StatusDelivered:         "delivered",
	StatusReverted:          "reverted",
	StatusTerminated:        "terminated",
	StatusLapsed:            "lapsed",
	StatusExtracted:         "extracted",
}

// String returns the canonical wire name for the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusAdjudicated, StatusDelivered, StatusReverted, StatusTerminated, StatusLapsed, StatusExtracted:
		return true
	default:
		return false
	}
}

// ParseStatus resolves a canonical wire name back into a status value.
func ParseStatus(name string) (Status, error) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	for status, candidate := range statusNames {
		if candidate == trimmed {
			return status, nil
		}
	}
	return StatusUnspecified, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, name)
}

// transitionTable is the authoritative map of generic status transitions.
// Every transition not listed here is rejected. Value-moving settlement paths
// (deliver, revert, terminate, recover, extract, adjudicate) are validated by
// their dedicated operations on top of this table.
var transitionTable = map[Status]map[Status]bool{
	StatusPending:    {StatusConfirmed: true, StatusChallenged: true, StatusSuspended: true},
	StatusConfirmed:  {StatusDelivered: true, StatusChallenged: true},
	StatusChallenged: {StatusPending: true, StatusAdjudicated: true},
	StatusSuspended:  {StatusPending: true, StatusTerminated: true},
}

// CanTransition reports whether the generic transition table permits moving
// a basket from one status to another.
func CanTransition(from, to Status) bool {
	allowed, ok := transitionTable[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Basket captures one escrowed allocation of a resource between an
// originator and a beneficiary. The identifier is assigned once by the
// registry sequence and never reused; records are retained for audit even
// after reaching a terminal status.
type Basket struct {
	ID          uint64
	Originator  [20]byte
	Beneficiary [20]byte
	ResourceID  uint64
	// Deposit is the amount escrowed at creation and never changes.
	Deposit *big.Int
	// Quantity is the amount still held in custody. It decreases only via a
	// successful transfer out of the custodian account.
	Quantity          *big.Int
	Status            Status
	CreationHeight    uint64
	TerminationHeight uint64

	// Interval release bookkeeping (time-locked baskets).
	Intervals         uint64
	ReleasedIntervals uint64

	// Phased release bookkeeping.
	Phases         uint64
	PhaseQuantity  *big.Int
	ReleasedPhases uint64
}

// Clone returns a deep copy of the basket so callers can safely mutate the
// copy without affecting the stored instance.
func (b *Basket) Clone() *Basket {
	if b == nil {
		return nil
	}
	clone := *b
	if b.Deposit != nil {
		clone.Deposit = new(big.Int).Set(b.Deposit)
	} else {
		clone.Deposit = big.NewInt(0)
	}
	if b.Quantity != nil {
		clone.Quantity = new(big.Int).Set(b.Quantity)
	} else {
		clone.Quantity = big.NewInt(0)
	}
	if b.PhaseQuantity != nil {
		clone.PhaseQuantity = new(big.Int).Set(b.PhaseQuantity)
	} else {
		clone.PhaseQuantity = big.NewInt(0)
	}
	return &clone
}

// SanitizeBasket validates and normalises a basket prior to persistence,
// returning a cloned instance with non-nil amount fields.
func SanitizeBasket(b *Basket) (*Basket, error) {
	if b == nil {
		return nil, fmt.Errorf("custody: nil basket")
	}
	clone := b.Clone()
	if clone.Quantity.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative quantity", ErrInvalidQuantity)
	}
	if clone.Deposit.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative deposit", ErrInvalidQuantity)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("custody: invalid basket status %d", clone.Status)
	}
	return clone, nil
}

// Approval records which parties of a dual-approval basket have signed off.
// Both must approve before the basket confirms.
type Approval struct {
	Originator  bool
	Beneficiary bool
}

// Complete reports whether both parties have approved.
func (a *Approval) Complete() bool {
	return a != nil && a.Originator && a.Beneficiary
}
