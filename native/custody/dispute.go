package custody

import (
	"fmt"
	"math/big"
)

// Challenge moves an active basket into dispute. Either party may raise it.
func (e *Engine) Challenge(caller [20]byte, id uint64, justification string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	basket, err := e.loadBasket(id)
	if err != nil {
		return err
	}
	if err := e.authorize(OpChallenge, caller, basket); err != nil {
		return err
	}
	if basket.Status != StatusPending && basket.Status != StatusConfirmed {
		return fmt.Errorf("%w: cannot challenge in status %s", ErrAlreadyProcessed, basket.Status)
	}
	if e.lapsed(basket) {
		return ErrBasketLapsed
	}
	basket.Status = StatusChallenged
	if err := e.state.BasketPut(basket); err != nil {
		return err
	}
	e.emit(NewChallengedEvent(basket, justification))
	return nil
}

// Adjudicate splits a challenged basket between the parties according to the
// governor-decided originator share. The originator receives the floored
// percentage, the beneficiary the remainder, so payouts always sum to the
// escrowed quantity exactly. Both transfers must succeed; a failure on the
// second leg compensates the first so the basket is never half-paid.
func (e *Engine) Adjudicate(caller [20]byte, id uint64, originatorShare uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	basket, err := e.loadBasket(id)
	if err != nil {
		return err
	}
	if err := e.authorize(OpAdjudicate, caller, basket); err != nil {
		return err
	}
	if basket.Status != StatusChallenged {
		return fmt.Errorf("%w: cannot adjudicate in status %s", ErrAlreadyProcessed, basket.Status)
	}
	if e.lapsed(basket) {
		return ErrBasketLapsed
	}
	if originatorShare > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidShare, originatorShare)
	}
	total := cloneBigInt(basket.Quantity)
	originatorAmount := new(big.Int).Mul(total, new(big.Int).SetUint64(uint64(originatorShare)))
	originatorAmount.Div(originatorAmount, big.NewInt(100))
	beneficiaryAmount := new(big.Int).Sub(total, originatorAmount)

	if originatorAmount.Sign() > 0 {
		if err := e.transfer(originatorAmount, e.custodian, basket.Originator); err != nil {
			return err
		}
	}
	if beneficiaryAmount.Sign() > 0 {
		if err := e.transfer(beneficiaryAmount, e.custodian, basket.Beneficiary); err != nil {
			if originatorAmount.Sign() > 0 {
				if undoErr := e.transfer(originatorAmount, basket.Originator, e.custodian); undoErr != nil {
					return &ConservationError{Held: originatorAmount, Escrowed: total}
				}
			}
			return err
		}
	}
	basket.Quantity = big.NewInt(0)
	basket.Status = StatusAdjudicated
	if err := e.state.BasketPut(basket); err != nil {
		return err
	}
	e.emit(NewAdjudicatedEvent(basket, originatorShare, originatorAmount.String(), beneficiaryAmount.String()))
	return nil
}
