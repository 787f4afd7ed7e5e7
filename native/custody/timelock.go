package custody

import (
	"fmt"
	"math/big"
)

// InitiateTimelock locks a pending basket until the given unlock height. The
// unlock height replaces the termination height; a deliver call after the
// lock matures releases the full quantity.
func (e *Engine) InitiateTimelock(caller [20]byte, id uint64, unlockHeight uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	basket, err := e.loadBasket(id)
	if err != nil {
		return 0, err
	}
	if err := e.authorize(OpInitiateTimelock, caller, basket); err != nil {
		return 0, err
	}
	if basket.Status != StatusPending {
		return 0, fmt.Errorf("%w: cannot timelock in status %s", ErrAlreadyProcessed, basket.Status)
	}
	if basket.Quantity.Cmp(MinTimelockQuantity) <= 0 {
		return 0, fmt.Errorf("%w: quantity below timelock minimum %s", ErrInvalidQuantity, MinTimelockQuantity)
	}
	height := e.height()
	if unlockHeight <= height {
		return 0, fmt.Errorf("%w: unlock height %d not in the future", ErrInvalidUnlockHeight, unlockHeight)
	}
	if unlockHeight-height > MaxTimelockHorizon {
		return 0, fmt.Errorf("%w: unlock height %d beyond horizon", ErrInvalidUnlockHeight, unlockHeight)
	}
	basket.TerminationHeight = unlockHeight
	basket.Status = StatusTimelocked
	if err := e.state.BasketPut(basket); err != nil {
		return 0, err
	}
	e.emit(NewTimelockInitiatedEvent(basket, unlockHeight))
	return unlockHeight, nil
}

// ReleaseInterval pays out one interval slice of a time-locked basket. The
// lifespan divides into Intervals equal slices; each elapsed slice entitles
// the beneficiary to deposit/Intervals. Integer division truncates, so the
// final interval pays the exact remaining quantity to conserve value.
func (e *Engine) ReleaseInterval(caller [20]byte, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	basket, err := e.loadBasket(id)
	if err != nil {
		return err
	}
	if err := e.authorize(OpReleaseInterval, caller, basket); err != nil {
		return err
	}
	if basket.Status != StatusIntervalLocked {
		return fmt.Errorf("%w: cannot release interval in status %s", ErrAlreadyProcessed, basket.Status)
	}
	if basket.Intervals == 0 {
		return fmt.Errorf("%w: basket has no release intervals", ErrInvalidInterval)
	}
	sliceLength := (basket.TerminationHeight - basket.CreationHeight) / basket.Intervals
	if sliceLength == 0 {
		return fmt.Errorf("%w: lifespan shorter than interval count", ErrInvalidInterval)
	}
	current := (e.height() - basket.CreationHeight) / sliceLength
	if e.height() < basket.CreationHeight || current < 1 {
		return fmt.Errorf("%w: first interval starts at height %d", ErrTimelockActive, basket.CreationHeight+sliceLength)
	}
	// Slices past the termination height stay claimable so the basket can
	// always drain fully.
	if current > basket.Intervals {
		current = basket.Intervals
	}
	if basket.ReleasedIntervals >= current {
		return fmt.Errorf("%w: interval %d not due", ErrTimelockActive, basket.ReleasedIntervals+1)
	}
	amount := new(big.Int).Div(basket.Deposit, new(big.Int).SetUint64(basket.Intervals))
	next := basket.ReleasedIntervals + 1
	if next == basket.Intervals {
		// Final slice absorbs the truncation remainder.
		amount = cloneBigInt(basket.Quantity)
	}
	if amount.Cmp(basket.Quantity) > 0 {
		amount = cloneBigInt(basket.Quantity)
	}
	if err := e.transfer(amount, e.custodian, basket.Beneficiary); err != nil {
		return err
	}
	basket.Quantity = new(big.Int).Sub(basket.Quantity, amount)
	basket.ReleasedIntervals = next
	if basket.Quantity.Sign() == 0 {
		basket.Status = StatusDelivered
	}
	if err := e.state.BasketPut(basket); err != nil {
		return err
	}
	e.emit(NewIntervalReleasedEvent(basket, next, amount.String()))
	return nil
}

// ReleasePhase pays out one phase of a phased basket deliver-style.
func (e *Engine) ReleasePhase(caller [20]byte, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	basket, err := e.loadBasket(id)
	if err != nil {
		return err
	}
	if err := e.authorize(OpReleasePhase, caller, basket); err != nil {
		return err
	}
	if basket.Phases == 0 {
		return ErrNotPhased
	}
	if basket.Status != StatusPending && basket.Status != StatusConfirmed {
		return fmt.Errorf("%w: cannot release phase in status %s", ErrAlreadyProcessed, basket.Status)
	}
	if e.lapsed(basket) {
		return ErrBasketLapsed
	}
	if basket.ReleasedPhases >= basket.Phases {
		return fmt.Errorf("%w: all phases released", ErrAlreadyProcessed)
	}
	amount := cloneBigInt(basket.PhaseQuantity)
	if amount.Cmp(basket.Quantity) > 0 {
		amount = cloneBigInt(basket.Quantity)
	}
	if err := e.transfer(amount, e.custodian, basket.Beneficiary); err != nil {
		return err
	}
	basket.Quantity = new(big.Int).Sub(basket.Quantity, amount)
	basket.ReleasedPhases++
	if basket.Quantity.Sign() == 0 {
		basket.Status = StatusDelivered
	}
	if err := e.state.BasketPut(basket); err != nil {
		return err
	}
	e.emit(NewPhaseReleasedEvent(basket, basket.ReleasedPhases, amount.String()))
	return nil
}
