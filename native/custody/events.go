package custody

import (
	"encoding/hex"
	"strconv"
	"strings"

	"basketd/core/types"
)

const (
	EventTypeBasketCreated       = "custody.basket.created"
	EventTypeBasketApproved      = "custody.basket.approved"
	EventTypeBasketConfirmed     = "custody.basket.confirmed"
	EventTypeBasketDelivered     = "custody.basket.delivered"
	EventTypeBasketReverted      = "custody.basket.reverted"
	EventTypeBasketTerminated    = "custody.basket.terminated"
	EventTypeBasketLapsed        = "custody.basket.lapsed"
	EventTypeBasketExtracted     = "custody.basket.extracted"
	EventTypeBasketFrozen        = "custody.basket.frozen"
	EventTypeExtractionInitiated = "custody.basket.extraction_initiated"
	EventTypeTimelockInitiated   = "custody.basket.timelocked"
	EventTypeIntervalReleased    = "custody.basket.interval_released"
	EventTypePhaseReleased       = "custody.basket.phase_released"
	EventTypeBasketTransitioned  = "custody.basket.transitioned"
	EventTypeBasketChallenged    = "custody.basket.challenged"
	EventTypeBasketAdjudicated   = "custody.basket.adjudicated"

	EventTypeDigestRecorded     = "custody.compliance.digest_recorded"
	EventTypeRateLimitProbed    = "custody.compliance.rate_limit_probed"
	EventTypeCertification      = "custody.compliance.certification"
	EventTypeCosignerRegistered = "custody.compliance.cosigner_registered"
	EventTypeVerification       = "custody.compliance.verification"
)

// NewCreatedEvent returns the canonical payload for a newly created basket.
func NewCreatedEvent(b *Basket) *types.Event { return newBasketEvent(EventTypeBasketCreated, b, nil) }

// NewApprovedEvent records one party's approval of a dual-approval basket.
func NewApprovedEvent(b *Basket, party string) *types.Event {
	return newBasketEvent(EventTypeBasketApproved, b, map[string]string{"party": party})
}

// NewConfirmedEvent marks a dual-approval basket whose both parties approved.
func NewConfirmedEvent(b *Basket) *types.Event {
	return newBasketEvent(EventTypeBasketConfirmed, b, nil)
}

// NewDeliveredEvent returns the payload for a full delivery to the beneficiary.
func NewDeliveredEvent(b *Basket) *types.Event {
	return newBasketEvent(EventTypeBasketDelivered, b, nil)
}

// NewRevertedEvent returns the payload for a governor-directed revert.
func NewRevertedEvent(b *Basket) *types.Event { return newBasketEvent(EventTypeBasketReverted, b, nil) }

// NewTerminatedEvent returns the payload for an originator termination.
func NewTerminatedEvent(b *Basket) *types.Event {
	return newBasketEvent(EventTypeBasketTerminated, b, nil)
}

// NewLapsedEvent returns the payload for a post-deadline recovery.
func NewLapsedEvent(b *Basket) *types.Event { return newBasketEvent(EventTypeBasketLapsed, b, nil) }

// NewExtractedEvent returns the payload for a delayed extraction payout.
func NewExtractedEvent(b *Basket) *types.Event {
	return newBasketEvent(EventTypeBasketExtracted, b, nil)
}

// NewFrozenEvent returns the payload for an emergency freeze.
func NewFrozenEvent(b *Basket, reason string) *types.Event {
	return newBasketEvent(EventTypeBasketFrozen, b, map[string]string{"reason": reason})
}

// NewExtractionInitiatedEvent marks a frozen basket queued for extraction.
func NewExtractionInitiatedEvent(b *Basket) *types.Event {
	return newBasketEvent(EventTypeExtractionInitiated, b, nil)
}

// NewTimelockInitiatedEvent records a fixed timelock placed on a basket.
func NewTimelockInitiatedEvent(b *Basket, unlockHeight uint64) *types.Event {
	return newBasketEvent(EventTypeTimelockInitiated, b, map[string]string{
		"unlockHeight": strconv.FormatUint(unlockHeight, 10),
	})
}

// NewIntervalReleasedEvent records one interval slice paid out.
func NewIntervalReleasedEvent(b *Basket, interval uint64, amount string) *types.Event {
	return newBasketEvent(EventTypeIntervalReleased, b, map[string]string{
		"interval": strconv.FormatUint(interval, 10),
		"amount":   amount,
	})
}

// NewPhaseReleasedEvent records one phase paid out.
func NewPhaseReleasedEvent(b *Basket, phase uint64, amount string) *types.Event {
	return newBasketEvent(EventTypePhaseReleased, b, map[string]string{
		"phase":  strconv.FormatUint(phase, 10),
		"amount": amount,
	})
}

// NewTransitionedEvent records a generic table-validated transition.
func NewTransitionedEvent(b *Basket, from Status, reason string) *types.Event {
	attrs := map[string]string{"from": from.String()}
	if strings.TrimSpace(reason) != "" {
		attrs["reason"] = reason
	}
	return newBasketEvent(EventTypeBasketTransitioned, b, attrs)
}

// NewChallengedEvent records a dispute opened by one of the parties.
func NewChallengedEvent(b *Basket, justification string) *types.Event {
	attrs := map[string]string{}
	if strings.TrimSpace(justification) != "" {
		attrs["justification"] = justification
	}
	return newBasketEvent(EventTypeBasketChallenged, b, attrs)
}

// NewAdjudicatedEvent records the governor-directed split of a challenged
// basket. The two amounts always sum to the quantity that was escrowed.
func NewAdjudicatedEvent(b *Basket, sharePct uint32, originatorAmount, beneficiaryAmount string) *types.Event {
	return newBasketEvent(EventTypeBasketAdjudicated, b, map[string]string{
		"originatorShare":   strconv.FormatUint(uint64(sharePct), 10),
		"originatorAmount":  originatorAmount,
		"beneficiaryAmount": beneficiaryAmount,
	})
}

func newBasketEvent(eventType string, b *Basket, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if b == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeBasket(b)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["originator"] = hex.EncodeToString(sanitized.Originator[:])
	attrs["beneficiary"] = hex.EncodeToString(sanitized.Beneficiary[:])
	attrs["resourceId"] = strconv.FormatUint(sanitized.ResourceID, 10)
	attrs["deposit"] = sanitized.Deposit.String()
	attrs["quantity"] = sanitized.Quantity.String()
	attrs["status"] = sanitized.Status.String()
	attrs["creationHeight"] = strconv.FormatUint(sanitized.CreationHeight, 10)
	attrs["terminationHeight"] = strconv.FormatUint(sanitized.TerminationHeight, 10)
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
