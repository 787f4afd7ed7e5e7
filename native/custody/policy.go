package custody

import (
	"fmt"
	"math/big"
)

// Operation names every caller-facing action the engine exposes. The
// authorization policy keys its capability table on these values so identity
// checks live in one place instead of being re-derived per function.
type Operation string

const (
	OpApprove            Operation = "approve"
	OpDeliver            Operation = "deliver"
	OpRevert             Operation = "revert"
	OpTerminate          Operation = "terminate"
	OpRecoverLapsed      Operation = "recover_lapsed"
	OpFreeze             Operation = "freeze"
	OpInitiateExtraction Operation = "initiate_extraction"
	OpExtract            Operation = "extract"
	OpInitiateTimelock   Operation = "initiate_timelock"
	OpReleaseInterval    Operation = "release_interval"
	OpReleasePhase       Operation = "release_phase"
	OpTransition         Operation = "transition"
	OpChallenge          Operation = "challenge"
	OpAdjudicate         Operation = "adjudicate"

	OpRecordDigest       Operation = "record_digest"
	OpProbeRateLimit     Operation = "probe_rate_limit"
	OpCertify            Operation = "certify"
	OpRegisterCosigner   Operation = "register_cosigner"
	OpVerifyHardware     Operation = "verify_hardware"
	OpVerifyQuantum      Operation = "verify_quantum"
	OpVerifyZeroKnowledge Operation = "verify_zero_knowledge"
)

// Roles resolves privileged identities. The governor role is granted out of
// band (state manager role store) and can override or finalise error and
// dispute paths.
type Roles interface {
	IsGovernor(addr [20]byte) bool
}

// Capability is a predicate over (caller, basket) deciding whether an
// operation is permitted. Predicates compose with anyOf/allOf below.
type Capability func(p *Policy, caller [20]byte, b *Basket) bool

// Policy is the single authorization component consulted by every mutating
// operation. Each operation declares its capability predicate here.
type Policy struct {
	roles  Roles
	grants map[Operation]Capability
}

// NewPolicy builds the default capability table backed by the given role
// resolver.
func NewPolicy(roles Roles) *Policy {
	p := &Policy{roles: roles}
	p.grants = map[Operation]Capability{
		OpApprove:            isParty,
		OpDeliver:            anyOf(isOriginator, isGovernor),
		OpRevert:             isGovernor,
		OpTerminate:          isOriginator,
		OpRecoverLapsed:      anyOf(isOriginator, isGovernor),
		OpFreeze:             isGovernor,
		OpInitiateExtraction: isGovernor,
		OpExtract:            anyOf(isOriginator, isGovernor),
		OpInitiateTimelock:   anyOf(isOriginator, isGovernor),
		OpReleaseInterval:    anyOf(isParty, isGovernor),
		OpReleasePhase:       anyOf(isOriginator, isGovernor),
		OpTransition:         isGovernor,
		OpChallenge:          isParty,
		OpAdjudicate:         isGovernor,

		OpRecordDigest:     isParty,
		OpProbeRateLimit:   anyone,
		OpCertify:          isParty,
		OpRegisterCosigner: isOriginator,
		// Premium compliance checks are value-tier gated: only baskets above
		// the premium threshold may exercise them.
		OpVerifyHardware:      allOf(isParty, minQuantity(PremiumTierThreshold)),
		OpVerifyQuantum:       allOf(isParty, minQuantity(PremiumTierThreshold)),
		OpVerifyZeroKnowledge: allOf(isParty, minQuantity(PremiumTierThreshold)),
	}
	return p
}

// Authorize evaluates the capability predicate registered for the operation.
func (p *Policy) Authorize(op Operation, caller [20]byte, b *Basket) error {
	if p == nil {
		return fmt.Errorf("%w: policy not configured", ErrUnauthorized)
	}
	grant, ok := p.grants[op]
	if !ok {
		return fmt.Errorf("%w: operation %s has no capability grant", ErrUnauthorized, op)
	}
	if !grant(p, caller, b) {
		return fmt.Errorf("%w: operation %s", ErrUnauthorized, op)
	}
	return nil
}

func isGovernor(p *Policy, caller [20]byte, _ *Basket) bool {
	return p.roles != nil && p.roles.IsGovernor(caller)
}

func isOriginator(_ *Policy, caller [20]byte, b *Basket) bool {
	return b != nil && caller == b.Originator
}

func isBeneficiary(_ *Policy, caller [20]byte, b *Basket) bool {
	return b != nil && caller == b.Beneficiary
}

func isParty(p *Policy, caller [20]byte, b *Basket) bool {
	return isOriginator(p, caller, b) || isBeneficiary(p, caller, b)
}

func anyone(_ *Policy, _ [20]byte, _ *Basket) bool { return true }

func anyOf(caps ...Capability) Capability {
	return func(p *Policy, caller [20]byte, b *Basket) bool {
		for _, cap := range caps {
			if cap(p, caller, b) {
				return true
			}
		}
		return false
	}
}

func allOf(caps ...Capability) Capability {
	return func(p *Policy, caller [20]byte, b *Basket) bool {
		for _, cap := range caps {
			if !cap(p, caller, b) {
				return false
			}
		}
		return true
	}
}

// minQuantity gates an operation on the basket holding strictly more than the
// given threshold.
func minQuantity(threshold *big.Int) Capability {
	return func(_ *Policy, _ [20]byte, b *Basket) bool {
		return b != nil && b.Quantity != nil && threshold != nil && b.Quantity.Cmp(threshold) > 0
	}
}
