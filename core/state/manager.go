package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"lendvault/core/types"
	"lendvault/crypto"
	"lendvault/native/vault"
	"lendvault/storage"
)

var (
	accountPrefix  = []byte("account:")
	positionPrefix = []byte("vault-position:")
	ledgerKey      = ethcrypto.Keccak256([]byte("vault-ledger"))
	borrowersKey   = ethcrypto.Keccak256([]byte("vault-borrowers"))
)

// Manager persists ledger state in a key-value store using RLP encoding with
// keccak-hashed, prefix-typed keys. It implements the vault engine's state
// interface; all serialisation concerns live here so the engine stays pure.
type Manager struct {
	db storage.Database
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

type stateAccount struct {
	Nonce      uint64
	BalanceMNT *uint256.Int
	BalanceRWA *uint256.Int
}

type statePosition struct {
	Address            []byte
	Collateral         *big.Int
	BorrowedCumulative *big.Int
	RemainingDebt      *big.Int
}

type stateLedger struct {
	TotalDebt     *big.Int
	TreasuryMNT   *big.Int
	CollateralRWA *big.Int
}

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

func positionKey(addr []byte) []byte {
	buf := make([]byte, len(positionPrefix)+len(addr))
	copy(buf, positionPrefix)
	copy(buf[len(positionPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

// GetAccount loads the external balances for the address, returning nil when
// the account has never been seen.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	raw, err := m.db.Get(accountKey(addr.Bytes()))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored stateAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	account := &types.Account{
		Nonce:      stored.Nonce,
		BalanceMNT: big.NewInt(0),
		BalanceRWA: big.NewInt(0),
	}
	if stored.BalanceMNT != nil {
		account.BalanceMNT = stored.BalanceMNT.ToBig()
	}
	if stored.BalanceRWA != nil {
		account.BalanceRWA = stored.BalanceRWA.ToBig()
	}
	return account, nil
}

func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("account must not be nil")
	}
	balanceMNT, overflow := uint256.FromBig(nonNil(account.BalanceMNT))
	if overflow {
		return fmt.Errorf("account MNT balance exceeds 256 bits")
	}
	balanceRWA, overflow := uint256.FromBig(nonNil(account.BalanceRWA))
	if overflow {
		return fmt.Errorf("account RWA balance exceeds 256 bits")
	}
	raw, err := rlp.EncodeToBytes(&stateAccount{
		Nonce:      account.Nonce,
		BalanceMNT: balanceMNT,
		BalanceRWA: balanceRWA,
	})
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr.Bytes()), raw)
}

// GetPosition loads a participant's position, returning nil when absent so
// the engine can create positions lazily.
func (m *Manager) GetPosition(addr crypto.Address) (*vault.Position, error) {
	raw, err := m.db.Get(positionKey(addr.Bytes()))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored statePosition
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode position: %w", err)
	}
	return &vault.Position{
		Address:            crypto.NewAddress(crypto.LendPrefix, stored.Address),
		Collateral:         nonNil(stored.Collateral),
		BorrowedCumulative: nonNil(stored.BorrowedCumulative),
		RemainingDebt:      nonNil(stored.RemainingDebt),
	}, nil
}

func (m *Manager) PutPosition(position *vault.Position) error {
	if position == nil {
		return fmt.Errorf("position must not be nil")
	}
	raw, err := rlp.EncodeToBytes(&statePosition{
		Address:            position.Address.Bytes(),
		Collateral:         nonNil(position.Collateral),
		BorrowedCumulative: nonNil(position.BorrowedCumulative),
		RemainingDebt:      nonNil(position.RemainingDebt),
	})
	if err != nil {
		return err
	}
	return m.db.Put(positionKey(position.Address.Bytes()), raw)
}

// GetLedger loads the global accounting record, nil when uninitialised.
func (m *Manager) GetLedger() (*vault.Ledger, error) {
	raw, err := m.db.Get(ledgerKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored stateLedger
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return &vault.Ledger{
		TotalDebt:     nonNil(stored.TotalDebt),
		TreasuryMNT:   nonNil(stored.TreasuryMNT),
		CollateralRWA: nonNil(stored.CollateralRWA),
	}, nil
}

func (m *Manager) PutLedger(ledger *vault.Ledger) error {
	if ledger == nil {
		return fmt.Errorf("ledger must not be nil")
	}
	raw, err := rlp.EncodeToBytes(&stateLedger{
		TotalDebt:     nonNil(ledger.TotalDebt),
		TreasuryMNT:   nonNil(ledger.TreasuryMNT),
		CollateralRWA: nonNil(ledger.CollateralRWA),
	})
	if err != nil {
		return err
	}
	return m.db.Put(ledgerKey, raw)
}

// BorrowerList returns the active borrower registry in insertion order, which
// fixes the deterministic iteration order of every distribution pass.
func (m *Manager) BorrowerList() ([]crypto.Address, error) {
	stored, err := m.loadBorrowers()
	if err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(stored))
	for _, raw := range stored {
		out = append(out, crypto.NewAddress(crypto.LendPrefix, raw))
	}
	return out, nil
}

// AddBorrower appends the address to the registry unless already present.
func (m *Manager) AddBorrower(addr crypto.Address) error {
	stored, err := m.loadBorrowers()
	if err != nil {
		return err
	}
	for _, raw := range stored {
		if string(raw) == string(addr.Bytes()) {
			return nil
		}
	}
	stored = append(stored, append([]byte(nil), addr.Bytes()...))
	return m.storeBorrowers(stored)
}

// RemoveBorrower drops the address from the registry, preserving the order of
// the remaining members.
func (m *Manager) RemoveBorrower(addr crypto.Address) error {
	stored, err := m.loadBorrowers()
	if err != nil {
		return err
	}
	filtered := stored[:0]
	for _, raw := range stored {
		if string(raw) == string(addr.Bytes()) {
			continue
		}
		filtered = append(filtered, raw)
	}
	return m.storeBorrowers(filtered)
}

func (m *Manager) loadBorrowers() ([][]byte, error) {
	raw, err := m.db.Get(borrowersKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored [][]byte
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode borrower registry: %w", err)
	}
	return stored, nil
}

func (m *Manager) storeBorrowers(list [][]byte) error {
	raw, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.db.Put(borrowersKey, raw)
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
