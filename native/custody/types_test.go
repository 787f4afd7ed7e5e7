package custody

import (
	"errors"
	"math/big"
	"testing"
)

func TestStatusNamesRoundTrip(t *testing.T) {
	for status, name := range statusNames {
		parsed, err := ParseStatus(name)
		if err != nil {
			t.Fatalf("parse %q: %v", name, err)
		}
		if parsed != status {
			t.Fatalf("parse %q: got %d, want %d", name, parsed, status)
		}
	}
	if _, err := ParseStatus("melted"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected unknown status rejection, got %v", err)
	}
	// The two lock states carry distinct wire names.
	if StatusIntervalLocked.String() == StatusTimelocked.String() {
		t.Fatal("interval-locked and timelocked must not share a wire name")
	}
}

func TestTerminalStatusesAdmitNoTransitions(t *testing.T) {
	for status := range statusNames {
		if !status.Terminal() {
			continue
		}
		for target := range statusNames {
			if CanTransition(status, target) {
				t.Fatalf("terminal status %s permits transition to %s", status, target)
			}
		}
	}
}

func TestTransitionTableShape(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusChallenged},
		{StatusPending, StatusSuspended},
		{StatusConfirmed, StatusDelivered},
		{StatusConfirmed, StatusChallenged},
		{StatusChallenged, StatusPending},
		{StatusChallenged, StatusAdjudicated},
		{StatusSuspended, StatusPending},
		{StatusSuspended, StatusTerminated},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be permitted", tc.from, tc.to)
		}
	}
	denied := []struct{ from, to Status }{
		{StatusPending, StatusDelivered},
		{StatusPending, StatusAdjudicated},
		{StatusConfirmed, StatusSuspended},
		{StatusChallenged, StatusDelivered},
		{StatusDelivered, StatusPending},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be rejected", tc.from, tc.to)
		}
	}
}

func TestBasketCloneIsDeep(t *testing.T) {
	basket := &Basket{
		ID:       1,
		Deposit:  big.NewInt(100),
		Quantity: big.NewInt(100),
		Status:   StatusPending,
	}
	clone := basket.Clone()
	clone.Quantity.SetInt64(0)
	clone.Status = StatusDelivered
	if basket.Quantity.Cmp(big.NewInt(100)) != 0 || basket.Status != StatusPending {
		t.Fatal("clone aliases the original basket")
	}
}

func TestSanitizeBasket(t *testing.T) {
	if _, err := SanitizeBasket(nil); err == nil {
		t.Fatal("nil basket should be rejected")
	}
	if _, err := SanitizeBasket(&Basket{Quantity: big.NewInt(-1), Status: StatusPending}); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected negative quantity rejection, got %v", err)
	}
	if _, err := SanitizeBasket(&Basket{Status: Status(200)}); err == nil {
		t.Fatal("invalid status should be rejected")
	}
	sanitized, err := SanitizeBasket(&Basket{Status: StatusPending})
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if sanitized.Deposit == nil || sanitized.Quantity == nil || sanitized.PhaseQuantity == nil {
		t.Fatal("sanitize must normalise nil amounts")
	}
}
