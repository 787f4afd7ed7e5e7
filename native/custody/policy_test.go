package custody

import (
	"errors"
	"math/big"
	"testing"
)

func TestPolicyCapabilityTable(t *testing.T) {
	roles := &mockRoles{governors: map[[20]byte]bool{addrGovernor: true}}
	policy := NewPolicy(roles)
	basket := &Basket{
		Originator:  addrOriginator,
		Beneficiary: addrBeneficiary,
		Quantity:    big.NewInt(100),
	}

	cases := []struct {
		op      Operation
		caller  [20]byte
		allowed bool
	}{
		{OpDeliver, addrOriginator, true},
		{OpDeliver, addrBeneficiary, false},
		{OpDeliver, addrGovernor, true},
		{OpRevert, addrOriginator, false},
		{OpRevert, addrGovernor, true},
		{OpTerminate, addrOriginator, true},
		{OpTerminate, addrGovernor, false},
		{OpChallenge, addrBeneficiary, true},
		{OpChallenge, addrStranger, false},
		{OpAdjudicate, addrGovernor, true},
		{OpAdjudicate, addrOriginator, false},
		{OpTransition, addrGovernor, true},
		{OpTransition, addrBeneficiary, false},
		{OpApprove, addrBeneficiary, true},
		{OpApprove, addrStranger, false},
		{OpReleaseInterval, addrBeneficiary, true},
		{OpReleaseInterval, addrGovernor, true},
		{OpReleaseInterval, addrStranger, false},
		{OpFreeze, addrGovernor, true},
		{OpFreeze, addrOriginator, false},
		{OpRecordDigest, addrOriginator, true},
		{OpRecordDigest, addrStranger, false},
		{OpProbeRateLimit, addrStranger, true},
	}
	for _, tc := range cases {
		err := policy.Authorize(tc.op, tc.caller, basket)
		if tc.allowed && err != nil {
			t.Errorf("%s by %x should be allowed, got %v", tc.op, tc.caller[:2], err)
		}
		if !tc.allowed && !errors.Is(err, ErrUnauthorized) {
			t.Errorf("%s by %x should be rejected, got %v", tc.op, tc.caller[:2], err)
		}
	}
}

func TestPolicyPremiumTierGate(t *testing.T) {
	roles := &mockRoles{governors: map[[20]byte]bool{addrGovernor: true}}
	policy := NewPolicy(roles)

	standard := &Basket{
		Originator:  addrOriginator,
		Beneficiary: addrBeneficiary,
		Quantity:    new(big.Int).Set(PremiumTierThreshold),
	}
	premium := &Basket{
		Originator:  addrOriginator,
		Beneficiary: addrBeneficiary,
		Quantity:    new(big.Int).Add(PremiumTierThreshold, big.NewInt(1)),
	}

	for _, op := range []Operation{OpVerifyHardware, OpVerifyQuantum, OpVerifyZeroKnowledge} {
		// Holding exactly the threshold is not enough; the tier requires
		// strictly more.
		if err := policy.Authorize(op, addrOriginator, standard); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("%s on threshold basket should be rejected, got %v", op, err)
		}
		if err := policy.Authorize(op, addrOriginator, premium); err != nil {
			t.Errorf("%s on premium basket should be allowed, got %v", op, err)
		}
		// Premium value does not open the check to non-parties.
		if err := policy.Authorize(op, addrStranger, premium); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("%s by stranger should be rejected, got %v", op, err)
		}
	}
}

func TestPolicyUnknownOperation(t *testing.T) {
	policy := NewPolicy(&mockRoles{})
	if err := policy.Authorize(Operation("mint"), addrGovernor, nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unknown operation rejection, got %v", err)
	}
}
