package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"basketd/core/types"
	"basketd/native/custody"
	"basketd/storage"
)

// RoleGovernor grants the privileged operator capability consulted by the
// custody authorization policy.
const RoleGovernor = "custody.governor"

var (
	accountPrefix  = []byte("account/")
	rolePrefix     = []byte("role:")
	basketPrefix   = []byte("custody/basket/")
	approvalPrefix = []byte("custody/approval/")
	counterKey     = []byte("custody/seq")
)

// Manager is the authoritative store behind the custody engine: accounts,
// role grants, basket records, the sequence counter and approval records all
// live in one key-value database. It also implements the fund movement
// gateway consumed by the engine.
type Manager struct {
	db        storage.Database
	custodian [20]byte
}

// NewManager wraps the given database. The custodian address is the identity
// escrowed value is held under.
func NewManager(db storage.Database, custodian [20]byte) *Manager {
	return &Manager{db: db, custodian: custodian}
}

// Custodian returns the escrow holding identity.
func (m *Manager) Custodian() [20]byte { return m.custodian }

func accountKey(addr [20]byte) []byte {
	return append(append([]byte{}, accountPrefix...), addr[:]...)
}

func roleKey(role string, addr [20]byte) []byte {
	key := append(append([]byte{}, rolePrefix...), role...)
	key = append(key, '/')
	return append(key, addr[:]...)
}

func basketKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return append(append([]byte{}, basketPrefix...), buf[:]...)
}

func approvalKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return append(append([]byte{}, approvalPrefix...), buf[:]...)
}

// GetAccount loads an account, returning a zero-balance account for
// addresses that have never been written.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	data, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, err
	}
	account := new(types.Account)
	if err := rlp.DecodeBytes(data, account); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	return types.EnsureAccount(account), nil
}

// PutAccount persists an account record.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	encoded, err := rlp.EncodeToBytes(types.EnsureAccount(account))
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return m.db.Put(accountKey(addr), encoded)
}

// Mint credits freshly issued balance to an address. Intended for genesis
// and test fixtures.
func (m *Manager) Mint(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: mint amount must be positive")
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return m.PutAccount(addr, account)
}

// Transfer atomically debits one account and credits another. It either
// fully succeeds or leaves both accounts untouched, which is the contract
// the custody engine relies on.
func (m *Manager) Transfer(amount *big.Int, from, to [20]byte) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: negative transfer amount")
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromAcc, err := m.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := m.GetAccount(to)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("state: insufficient balance")
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := m.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return m.PutAccount(to, toAcc)
}

// GrantRole associates an address with the named role.
func (m *Manager) GrantRole(role string, addr [20]byte) error {
	return m.db.Put(roleKey(role, addr), []byte{1})
}

// RevokeRole removes a role grant.
func (m *Manager) RevokeRole(role string, addr [20]byte) error {
	return m.db.Delete(roleKey(role, addr))
}

// HasRole reports whether the address carries the named role.
func (m *Manager) HasRole(role string, addr [20]byte) bool {
	ok, err := m.db.Has(roleKey(role, addr))
	return err == nil && ok
}

// IsGovernor implements the custody role resolver.
func (m *Manager) IsGovernor(addr [20]byte) bool {
	return m.HasRole(RoleGovernor, addr)
}

// BasketPut persists a basket record. Only the custody engine calls this,
// after its full precondition chain has passed.
func (m *Manager) BasketPut(basket *custody.Basket) error {
	sanitized, err := custody.SanitizeBasket(basket)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(sanitized)
	if err != nil {
		return fmt.Errorf("state: encode basket: %w", err)
	}
	return m.db.Put(basketKey(sanitized.ID), encoded)
}

// BasketGet loads a basket record by identifier.
func (m *Manager) BasketGet(id uint64) (*custody.Basket, bool) {
	data, err := m.db.Get(basketKey(id))
	if err != nil {
		return nil, false
	}
	basket := new(custody.Basket)
	if err := rlp.DecodeBytes(data, basket); err != nil {
		return nil, false
	}
	return basket, true
}

// BasketCounter returns the highest identifier ever allocated.
func (m *Manager) BasketCounter() uint64 {
	data, err := m.db.Get(counterKey)
	if err != nil {
		return 0
	}
	var counter uint64
	if err := rlp.DecodeBytes(data, &counter); err != nil {
		return 0
	}
	return counter
}

// SetBasketCounter advances the sequence counter.
func (m *Manager) SetBasketCounter(counter uint64) error {
	encoded, err := rlp.EncodeToBytes(counter)
	if err != nil {
		return err
	}
	return m.db.Put(counterKey, encoded)
}

// ApprovalGet loads the dual-approval record for a basket.
func (m *Manager) ApprovalGet(id uint64) (*custody.Approval, bool) {
	data, err := m.db.Get(approvalKey(id))
	if err != nil {
		return nil, false
	}
	approval := new(custody.Approval)
	if err := rlp.DecodeBytes(data, approval); err != nil {
		return nil, false
	}
	return approval, true
}

// ApprovalPut persists the dual-approval record for a basket.
func (m *Manager) ApprovalPut(id uint64, approval *custody.Approval) error {
	if approval == nil {
		approval = &custody.Approval{}
	}
	encoded, err := rlp.EncodeToBytes(approval)
	if err != nil {
		return err
	}
	return m.db.Put(approvalKey(id), encoded)
}

// EscrowedTotal sums the quantities still held across all baskets.
func (m *Manager) EscrowedTotal() (*big.Int, error) {
	escrowed := big.NewInt(0)
	for id := uint64(1); id <= m.BasketCounter(); id++ {
		basket, ok := m.BasketGet(id)
		if !ok {
			return nil, fmt.Errorf("%w: id %d", custody.ErrBasketNotFound, id)
		}
		if basket.Quantity != nil {
			escrowed.Add(escrowed, basket.Quantity)
		}
	}
	return escrowed, nil
}

// ConservationCheck verifies that the custodian balance matches the sum of
// quantities still held across all baskets. A mismatch means the registry
// and the ledger disagree; callers must treat it as fatal.
func (m *Manager) ConservationCheck() error {
	escrowed, err := m.EscrowedTotal()
	if err != nil {
		return err
	}
	account, err := m.GetAccount(m.custodian)
	if err != nil {
		return err
	}
	if account.Balance.Cmp(escrowed) != 0 {
		return &custody.ConservationError{Held: account.Balance, Escrowed: escrowed}
	}
	return nil
}
