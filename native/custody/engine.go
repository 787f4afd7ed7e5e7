package custody

import (
	"fmt"
	"math/big"
	"sync"

	"basketd/core/events"
	"basketd/core/types"
)

const (
	// DefaultLifespan is the number of heights a basket stays active before
	// operations requiring "active" status start failing with a lapse error.
	DefaultLifespan uint64 = 1000
	// DefaultReleaseIntervals slices the lifespan into ten equal release
	// windows when the caller does not pick an interval count.
	DefaultReleaseIntervals uint64 = 10
	// MaxReleaseIntervals bounds caller-supplied interval counts.
	MaxReleaseIntervals uint64 = 100
	// ExtractionDelay is the fixed number of heights past creation before a
	// queued extraction can pay out.
	ExtractionDelay uint64 = 144
	// MaxTimelockHorizon bounds how far into the future a fixed timelock can
	// push the unlock height.
	MaxTimelockHorizon uint64 = 10_000
)

var (
	// MinTimelockQuantity is the smallest holding eligible for a fixed
	// timelock.
	MinTimelockQuantity = big.NewInt(1_000)
	// PremiumTierThreshold gates the premium compliance checks.
	PremiumTierThreshold = big.NewInt(10_000)
)

// engineState is the registry surface the engine mutates. Only the engine
// writes baskets; every put happens after the full precondition chain passed.
type engineState interface {
	BasketPut(*Basket) error
	BasketGet(id uint64) (*Basket, bool)
	BasketCounter() uint64
	SetBasketCounter(uint64) error
	ApprovalGet(id uint64) (*Approval, bool)
	ApprovalPut(id uint64, approval *Approval) error
}

// Gateway is the authenticated value-transfer primitive. It is atomic: a
// transfer either fully succeeds or fully fails.
type Gateway interface {
	Transfer(amount *big.Int, from, to [20]byte) error
}

// Clock supplies the monotonically increasing height the engine measures
// deadlines against. Timeouts are expressed purely in heights, never
// wall-clock.
type Clock interface {
	Height() uint64
}

type custodyEvent struct {
	evt *types.Event
}

func (e custodyEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e custodyEvent) Event() *types.Event { return e.evt }

// Engine wires the basket lifecycle state machine with the registry state,
// the fund movement gateway, the clock and the event sink. Every public
// operation runs under a single mutex so two callers cannot both pass a
// status precondition and then mutate the same record.
type Engine struct {
	mu        sync.Mutex
	state     engineState
	gateway   Gateway
	clock     Clock
	emitter   events.Emitter
	policy    *Policy
	custodian [20]byte
	lifespan  uint64
}

// NewEngine creates a custody engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine(state engineState, gateway Gateway, clock Clock, policy *Policy, custodian [20]byte) *Engine {
	return &Engine{
		state:     state,
		gateway:   gateway,
		clock:     clock,
		policy:    policy,
		custodian: custodian,
		emitter:   events.NoopEmitter{},
		lifespan:  DefaultLifespan,
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLifespan overrides the default basket lifespan. Intended for tests and
// network-specific deployments.
func (e *Engine) SetLifespan(heights uint64) {
	if heights > 0 {
		e.lifespan = heights
	}
}

// Custodian returns the identity holding escrowed value.
func (e *Engine) Custodian() [20]byte { return e.custodian }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(custodyEvent{evt: event})
}

func (e *Engine) height() uint64 {
	if e == nil || e.clock == nil {
		return 0
	}
	return e.clock.Height()
}

func (e *Engine) lapsed(b *Basket) bool {
	return e.height() > b.TerminationHeight
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadBasket(id uint64) (*Basket, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if id == 0 || id > e.state.BasketCounter() {
		return nil, fmt.Errorf("%w: id %d", ErrInvalidBasketID, id)
	}
	basket, ok := e.state.BasketGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrBasketNotFound, id)
	}
	return basket, nil
}

func (e *Engine) authorize(op Operation, caller [20]byte, b *Basket) error {
	if e.policy == nil {
		return fmt.Errorf("%w: policy not configured", ErrUnauthorized)
	}
	return e.policy.Authorize(op, caller, b)
}

func (e *Engine) transfer(amount *big.Int, from, to [20]byte) error {
	if e.gateway == nil {
		return fmt.Errorf("%w: gateway not configured", ErrTransferFailed)
	}
	if err := e.gateway.Transfer(amount, from, to); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// Get returns a copy of the stored basket record.
func (e *Engine) Get(id uint64) (*Basket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	basket, err := e.loadBasket(id)
	if err != nil {
		return nil, err
	}
	return basket.Clone(), nil
}

// Exists reports whether the identifier has ever been allocated.
func (e *Engine) Exists(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return false
	}
	return id >= 1 && id <= e.state.BasketCounter()
}

// CreateBasket escrows quantity from the caller and opens a pending basket.
func (e *Engine) CreateBasket(caller, beneficiary [20]byte, resourceID uint64, quantity *big.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createBasket(caller, beneficiary, resourceID, quantity, StatusPending, 0, 0)
}

// CreateDualApprovalBasket opens a basket that both parties must approve
// before it confirms.
func (e *Engine) CreateDualApprovalBasket(caller, beneficiary [20]byte, resourceID uint64, quantity *big.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createBasket(caller, beneficiary, resourceID, quantity, StatusDualPending, 0, 0)
}

// CreateTimeLockedBasket opens a basket whose value drains to the beneficiary
// in equal interval slices over the basket lifespan.
func (e *Engine) CreateTimeLockedBasket(caller, beneficiary [20]byte, resourceID uint64, quantity *big.Int, intervals uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createBasket(caller, beneficiary, resourceID, quantity, StatusIntervalLocked, intervals, 0)
}

// CreatePhasedBasket opens a pending basket whose quantity must divide evenly
// across the given phase count; each phase is then released deliver-style.
func (e *Engine) CreatePhasedBasket(caller, beneficiary [20]byte, resourceID uint64, quantity *big.Int, phases uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if phases == 0 {
		return 0, fmt.Errorf("%w: phase count must be positive", ErrInvalidInterval)
	}
	return e.createBasket(caller, beneficiary, resourceID, quantity, StatusPending, 0, phases)
}

func (e *Engine) createBasket(caller, beneficiary [20]byte, resourceID uint64, quantity *big.Int, status Status, intervals, phases uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	amt := cloneBigInt(quantity)
	if amt.Sign() <= 0 {
		return 0, fmt.Errorf("%w: quantity must be positive", ErrInvalidQuantity)
	}
	if beneficiary == caller || beneficiary == e.custodian || beneficiary == ([20]byte{}) {
		return 0, ErrInvalidBeneficiary
	}
	if caller == e.custodian {
		return 0, fmt.Errorf("%w: custodian cannot originate", ErrInvalidBeneficiary)
	}
	height := e.height()
	basket := &Basket{
		Originator:        caller,
		Beneficiary:       beneficiary,
		ResourceID:        resourceID,
		Deposit:           new(big.Int).Set(amt),
		Quantity:          amt,
		Status:            status,
		CreationHeight:    height,
		TerminationHeight: height + e.lifespan,
		PhaseQuantity:     big.NewInt(0),
	}
	if status == StatusIntervalLocked {
		if intervals == 0 {
			intervals = DefaultReleaseIntervals
		}
		if intervals > MaxReleaseIntervals || e.lifespan%intervals != 0 {
			return 0, fmt.Errorf("%w: %d", ErrInvalidInterval, intervals)
		}
		if amt.Cmp(new(big.Int).SetUint64(intervals)) < 0 {
			return 0, fmt.Errorf("%w: quantity smaller than interval count", ErrInvalidQuantity)
		}
		basket.Intervals = intervals
	}
	if phases > 0 {
		phaseQty, rem := new(big.Int).QuoRem(amt, new(big.Int).SetUint64(phases), new(big.Int))
		if rem.Sign() != 0 {
			return 0, fmt.Errorf("%w: %s does not divide evenly into %d phases", ErrInvalidQuantity, amt, phases)
		}
		basket.Phases = phases
		basket.PhaseQuantity = phaseQty
	}
	// The deposit moves before an identifier is consumed: a failed transfer
	// leaves the sequence counter untouched and persists nothing.
	if err := e.transfer(amt, caller, e.custodian); err != nil {
		return 0, err
	}
	id := e.state.BasketCounter() + 1
	if err := e.state.SetBasketCounter(id); err != nil {
		return 0, err
	}
	basket.ID = id
	if err := e.state.BasketPut(basket); err != nil {
		return 0, err
	}
	if status == StatusDualPending {
		if err := e.state.ApprovalPut(id, &Approval{}); err != nil {
			return 0, err
		}
	}
	e.emit(NewCreatedEvent(basket))
	return id, nil
}

// Approve records one party's sign-off on a dual-approval basket. The second
// distinct approval confirms the basket.
func (e *Engine) Approve(caller [20]byte, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	basket, err := e.loadBasket(id)
	if err != nil {
		return err
	}
	if err := e.authorize(OpApprove, caller, basket); err != nil {
		return err
	}
	if basket.Status != StatusDualPending {
		return fmt.Errorf("%w: cannot approve in status %s", ErrAlreadyProcessed, basket.Status)
	}
	if e.lapsed(basket) {
		return ErrBasketLapsed
	}
	approval, ok := e.state.ApprovalGet(id)
	if !ok {
		approval = &Approval{}
	}
	party := "originator"
	switch caller {
	case basket.Originator:
		if approval.Originator {
			return fmt.Errorf("%w: originator already approved", ErrAlreadyProcessed)
		}
		approval.Originator = true
	case basket.Beneficiary:
		if approval.Beneficiary {
			return fmt.Errorf("%w: beneficiary already approved", ErrAlreadyProcessed)
		}
		approval.Beneficiary = true
		party = "beneficiary"
	}
	if err := e.state.ApprovalPut(id, approval); err != nil {
		return err
	}
	if approval.Complete() {
		basket.Status = StatusConfirmed
		if err := e.state.BasketPut(basket); err != nil {
			return err
		}
		e.emit(NewConfirmedEvent(basket))
		return nil
	}
	e.emit(NewApprovedEvent(basket, party))
	return nil
}

// Deliver moves the full remaining quantity to the beneficiary. Pending and
// confirmed baskets deliver while active; fixed-timelock baskets deliver once
// the unlock height is reached.
func (e *Engine) Deliver(caller [20]byte, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	basket, err := e.loadBasket(id)
	if err != nil {
		return err
	}
	if err := e.authorize(OpDeliver, caller, basket); err != nil {
		return err
	}
	switch basket.Status {
	case StatusPending, StatusConfirmed:
		if e.lapsed(basket) {
			return ErrBasketLapsed
		}
	case StatusTimelocked:
		if e.height() < basket.TerminationHeight {
			return fmt.Errorf("%w: unlocks at height %d", ErrTimelockActive, basket.TerminationHeight)
		}
	default:
		return fmt.Errorf("%w: cannot deliver in status %s", ErrAlreadyProcessed, basket.Status)
	}
	return e.settle(basket, basket.Beneficiary, StatusDelivered, NewDeliveredEvent)
}

// Revert returns the full quantity to the originator under governor override.
func (e *Engine) Revert(caller [20]byte, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	basket, err := e.loadBasket(id)
	if err != nil {
		return err
	}
	if err := e.authorize(OpRevert, caller, basket); err != nil {
		return err
	}
	if basket.Status != StatusPending {
		return fmt.Errorf("%w: cannot revert in status %s", ErrAlreadyProcessed, basket.Status)
	}
	return e.settle(basket, basket.Originator, StatusReverted, NewRevertedEvent)
}

// Terminate lets the originator abort a still-active pending basket.
func (e *Engine) Terminate(caller [20]byte, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	basket, err := e.loadBasket(id)
	if err != nil {
		return err
	}
	if err := e.authorize(OpTerminate, caller, basket); err != nil {
		return err
	}
	if basket.Status != StatusPending {
		return fmt.Errorf("%w: cannot terminate in status %s", ErrAlreadyProcessed, basket.Status)
	}
	if e.lapsed(basket) {
		return ErrBasketLapsed
	}
	return e.settle(basket, basket.Originator, StatusTerminated, NewTerminatedEvent)
}

// RecoverLapsed refunds the originator once the deadline passed while the
// basket was still open.
func (e *Engine) RecoverLapsed(caller [20]byte, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	basket, err := e.loadBasket(id)
	if err != nil {
		return err
	}
	if err := e.authorize(OpRecoverLapsed, caller, basket); err != nil {
		return err
	}
	if basket.Status != StatusPending && basket.Status != StatusConfirmed {
		return fmt.Errorf("%w: cannot recover in status %s", ErrAlreadyProcessed, basket.Status)
	}
	if !e.lapsed(basket) {
		return fmt.Errorf("%w: basket active until height %d", ErrDeadlineNotReached, basket.TerminationHeight)
	}
	return e.settle(basket, basket.Originator, StatusLapsed, NewLapsedEvent)
}

// Freeze places a non-terminal basket under emergency governor freeze.
func (e *Engine) Freeze(caller [20]byte, id uint64, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	basket, err := e.loadBasket(id)
	if err != nil {
		return err
	}
	if err := e.authorize(OpFreeze, caller, basket); err != nil {
		return err
	}
	if basket.Status.Terminal() || basket.Status == StatusFrozen {
		return fmt.Errorf("%w: cannot freeze in status %s", ErrAlreadyProcessed, basket.Status)
	}
	basket.Status = StatusFrozen
	if err := e.state.BasketPut(basket); err != nil {
		return err
	}
	e.emit(NewFrozenEvent(basket, reason))
	return nil
}

// InitiateExtraction queues a frozen or suspended basket for delayed refund.
func (e *Engine) InitiateExtraction(caller [20]byte, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	basket, err := e.loadBasket(id)
	if err != nil {
		return err
	}
	if err := e.authorize(OpInitiateExtraction, caller, basket); err != nil {
		return err
	}
	if basket.Status != StatusFrozen && basket.Status != StatusSuspended {
		return fmt.Errorf("%w: cannot queue extraction in status %s", ErrAlreadyProcessed, basket.Status)
	}
	basket.Status = StatusExtractionPending
	if err := e.state.BasketPut(basket); err != nil {
		return err
	}
	e.emit(NewExtractionInitiatedEvent(basket))
	return nil
}

// Extract pays a queued basket back to the originator once the fixed delay
// past creation has elapsed.
func (e *Engine) Extract(caller [20]byte, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	basket, err := e.loadBasket(id)
	if err != nil {
		return err
	}
	if err := e.authorize(OpExtract, caller, basket); err != nil {
		return err
	}
	if basket.Status != StatusExtractionPending {
		return fmt.Errorf("%w: cannot extract in status %s", ErrAlreadyProcessed, basket.Status)
	}
	if e.height() < basket.CreationHeight+ExtractionDelay {
		return fmt.Errorf("%w: extraction matures at height %d", ErrDeadlineNotReached, basket.CreationHeight+ExtractionDelay)
	}
	return e.settle(basket, basket.Originator, StatusExtracted, NewExtractedEvent)
}

// Transition applies a generic table-validated status change under governor
// authority. Targets that settle value (delivered, terminated) run the
// corresponding payout so a status never changes without its funds moving;
// adjudication must go through Adjudicate since it needs a share split.
func (e *Engine) Transition(caller [20]byte, id uint64, target Status, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	basket, err := e.loadBasket(id)
	if err != nil {
		return err
	}
	if err := e.authorize(OpTransition, caller, basket); err != nil {
		return err
	}
	from := basket.Status
	if !CanTransition(from, target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}
	eventFn := func(b *Basket) *types.Event { return NewTransitionedEvent(b, from, reason) }
	switch target {
	case StatusDelivered:
		return e.settle(basket, basket.Beneficiary, StatusDelivered, eventFn)
	case StatusTerminated:
		return e.settle(basket, basket.Originator, StatusTerminated, eventFn)
	case StatusAdjudicated:
		return fmt.Errorf("%w: adjudication requires a share split", ErrInvalidTransition)
	}
	basket.Status = target
	if err := e.state.BasketPut(basket); err != nil {
		return err
	}
	e.emit(eventFn(basket))
	return nil
}

// settle moves the remaining quantity to the recipient and atomically records
// the terminal status. On gateway failure nothing is persisted: the status
// stays unchanged and the funds remain escrowed.
func (e *Engine) settle(basket *Basket, recipient [20]byte, status Status, eventFn func(*Basket) *types.Event) error {
	amount := cloneBigInt(basket.Quantity)
	if amount.Sign() > 0 {
		if err := e.transfer(amount, e.custodian, recipient); err != nil {
			return err
		}
	}
	basket.Quantity = big.NewInt(0)
	basket.Status = status
	if err := e.state.BasketPut(basket); err != nil {
		return err
	}
	e.emit(eventFn(basket))
	return nil
}
