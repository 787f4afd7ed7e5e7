package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"basketd/native/custody"
	"basketd/storage"
)

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

var (
	testCustodian = newTestAddress(0xAA)
	testAlice     = newTestAddress(0x01)
	testBob       = newTestAddress(0x02)
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB(), testCustodian)
}

func TestAccountRoundTrip(t *testing.T) {
	manager := newTestManager(t)

	account, err := manager.GetAccount(testAlice)
	require.NoError(t, err)
	require.Equal(t, 0, account.Balance.Sign(), "unknown account starts empty")

	account.Nonce = 7
	account.Balance = big.NewInt(1234)
	require.NoError(t, manager.PutAccount(testAlice, account))

	loaded, err := manager.GetAccount(testAlice)
	require.NoError(t, err)
	require.Equal(t, uint64(7), loaded.Nonce)
	require.Zero(t, loaded.Balance.Cmp(big.NewInt(1234)))
}

func TestMintAndTransfer(t *testing.T) {
	manager := newTestManager(t)

	require.Error(t, manager.Mint(testAlice, big.NewInt(0)))
	require.NoError(t, manager.Mint(testAlice, big.NewInt(1000)))

	require.Error(t, manager.Transfer(big.NewInt(2000), testAlice, testBob), "insufficient balance")
	require.NoError(t, manager.Transfer(big.NewInt(400), testAlice, testBob))

	alice, err := manager.GetAccount(testAlice)
	require.NoError(t, err)
	bob, err := manager.GetAccount(testBob)
	require.NoError(t, err)
	require.Zero(t, alice.Balance.Cmp(big.NewInt(600)))
	require.Zero(t, bob.Balance.Cmp(big.NewInt(400)))

	// Self transfers and zero amounts are no-ops.
	require.NoError(t, manager.Transfer(big.NewInt(100), testAlice, testAlice))
	require.NoError(t, manager.Transfer(big.NewInt(0), testAlice, testBob))
	alice, err = manager.GetAccount(testAlice)
	require.NoError(t, err)
	require.Zero(t, alice.Balance.Cmp(big.NewInt(600)))
}

func TestRoleGrants(t *testing.T) {
	manager := newTestManager(t)

	require.False(t, manager.IsGovernor(testAlice))
	require.NoError(t, manager.GrantRole(RoleGovernor, testAlice))
	require.True(t, manager.IsGovernor(testAlice))
	require.False(t, manager.IsGovernor(testBob), "grant is per address")

	require.NoError(t, manager.RevokeRole(RoleGovernor, testAlice))
	require.False(t, manager.IsGovernor(testAlice))
}

func TestBasketPersistence(t *testing.T) {
	manager := newTestManager(t)

	_, ok := manager.BasketGet(1)
	require.False(t, ok)

	basket := &custody.Basket{
		ID:                1,
		Originator:        testAlice,
		Beneficiary:       testBob,
		ResourceID:        7,
		Deposit:           big.NewInt(500),
		Quantity:          big.NewInt(500),
		Status:            custody.StatusPending,
		CreationHeight:    10,
		TerminationHeight: 1010,
	}
	require.NoError(t, manager.BasketPut(basket))

	loaded, ok := manager.BasketGet(1)
	require.True(t, ok)
	require.Equal(t, basket.ID, loaded.ID)
	require.Equal(t, basket.Originator, loaded.Originator)
	require.Equal(t, basket.Status, loaded.Status)
	require.Zero(t, loaded.Quantity.Cmp(big.NewInt(500)))
	require.Equal(t, basket.TerminationHeight, loaded.TerminationHeight)

	// Nil big.Int fields are normalised before encoding rather than failing.
	basket.Quantity = nil
	require.NoError(t, manager.BasketPut(basket))
	loaded, ok = manager.BasketGet(1)
	require.True(t, ok)
	require.Equal(t, 0, loaded.Quantity.Sign())
}

func TestBasketCounter(t *testing.T) {
	manager := newTestManager(t)
	require.Equal(t, uint64(0), manager.BasketCounter())
	require.NoError(t, manager.SetBasketCounter(42))
	require.Equal(t, uint64(42), manager.BasketCounter())
}

func TestApprovalPersistence(t *testing.T) {
	manager := newTestManager(t)

	_, ok := manager.ApprovalGet(1)
	require.False(t, ok)

	require.NoError(t, manager.ApprovalPut(1, &custody.Approval{Originator: true}))
	approval, ok := manager.ApprovalGet(1)
	require.True(t, ok)
	require.True(t, approval.Originator)
	require.False(t, approval.Beneficiary)
	require.False(t, approval.Complete())

	approval.Beneficiary = true
	require.NoError(t, manager.ApprovalPut(1, approval))
	approval, ok = manager.ApprovalGet(1)
	require.True(t, ok)
	require.True(t, approval.Complete())
}

func TestConservationCheck(t *testing.T) {
	manager := newTestManager(t)

	// Empty registry and empty custodian balance are trivially conserved.
	require.NoError(t, manager.ConservationCheck())

	require.NoError(t, manager.Mint(testCustodian, big.NewInt(500)))
	require.NoError(t, manager.BasketPut(&custody.Basket{
		ID:          1,
		Originator:  testAlice,
		Beneficiary: testBob,
		Deposit:     big.NewInt(500),
		Quantity:    big.NewInt(500),
		Status:      custody.StatusPending,
	}))
	require.NoError(t, manager.SetBasketCounter(1))
	require.NoError(t, manager.ConservationCheck())

	// Draining custody without updating the registry is a breach.
	require.NoError(t, manager.Transfer(big.NewInt(100), testCustodian, testBob))
	err := manager.ConservationCheck()
	var breach *custody.ConservationError
	require.ErrorAs(t, err, &breach)
	require.Zero(t, breach.Held.Cmp(big.NewInt(400)))
	require.Zero(t, breach.Escrowed.Cmp(big.NewInt(500)))
}
