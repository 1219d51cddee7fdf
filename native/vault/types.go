package vault

import (
	"math/big"

	"lendvault/crypto"
)

// Position maintains the lending record for an individual participant. Amount
// values are denominated in wei-scale fixed point and expressed as big
// integers to keep ledger arithmetic exact.
type Position struct {
	// Address is the unique account identifier within the vault.
	Address crypto.Address
	// Collateral records the RWA amount locked against borrowing.
	Collateral *big.Int
	// BorrowedCumulative is the total MNT ever disbursed to this participant.
	// It never decreases.
	BorrowedCumulative *big.Int
	// RemainingDebt is the outstanding principal still owed.
	RemainingDebt *big.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Address: p.Address}
	if p.Collateral != nil {
		clone.Collateral = new(big.Int).Set(p.Collateral)
	}
	if p.BorrowedCumulative != nil {
		clone.BorrowedCumulative = new(big.Int).Set(p.BorrowedCumulative)
	}
	if p.RemainingDebt != nil {
		clone.RemainingDebt = new(big.Int).Set(p.RemainingDebt)
	}
	return clone
}

// Ledger captures the global accounting state for the vault: the incremental
// debt total, the treasury available for borrow payouts, and the collateral
// held on behalf of all participants.
type Ledger struct {
	// TotalDebt is the sum of RemainingDebt across positions, maintained
	// incrementally and never recomputed by full scan outside audits.
	TotalDebt *big.Int
	// TreasuryMNT is the pool of funds available to satisfy borrow payouts.
	TreasuryMNT *big.Int
	// CollateralRWA is the aggregate collateral locked inside the vault.
	CollateralRWA *big.Int
}

// RiskParameters groups the safety limits governing borrowing.
type RiskParameters struct {
	// MaxLTVBps specifies the maximum loan-to-value ratio permitted,
	// expressed in basis points.
	MaxLTVBps uint64
}

// DefaultRiskParameters returns the vault defaults: a 50% loan-to-value
// ceiling enforced at borrow time.
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{MaxLTVBps: 5_000}
}

// DistributionReceipt summarises a completed yield distribution pass.
type DistributionReceipt struct {
	// TotalYield is the amount actually applied to outstanding debt.
	TotalYield *big.Int
	// UsersProcessed counts borrowers whose debt was reduced by a positive
	// share.
	UsersProcessed uint64
	// Residual is the portion of the injected yield retained by the treasury
	// because no debt remained to absorb it.
	Residual *big.Int
}

// Totals is the read-only aggregate snapshot served to queries.
type Totals struct {
	TotalDebt         *big.Int
	BorrowersCount    uint64
	TreasuryAvailable *big.Int
}
