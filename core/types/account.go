package types

import "math/big"

// Account captures the external balances held by a participant: MNT funds
// (the borrowable native asset) and RWA (the fixed-supply collateral token).
// The vault ledger moves value between these balances and its own module
// accounts; it never mutates them outside the operations in native/vault.
type Account struct {
	Nonce      uint64   `json:"nonce"`
	BalanceMNT *big.Int `json:"balanceMNT"`
	BalanceRWA *big.Int `json:"balanceRWA"`
}
