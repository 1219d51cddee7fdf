package events

import (
	"math/big"
	"strconv"

	"lendvault/core/types"
	"lendvault/crypto"
)

const (
	// TypeCollateralDeposited is emitted when a participant locks RWA collateral.
	TypeCollateralDeposited = "vault.collateralDeposited"
	// TypeBorrowed is emitted when a participant draws MNT against collateral.
	TypeBorrowed = "vault.borrowed"
	// TypeDebtReduced is emitted for debt reductions applied outside the batch
	// distribution path. The distribution path emits a single aggregate
	// TypeAutomatedPayment instead of one event per borrower.
	TypeDebtReduced = "vault.debtReduced"
	// TypeAutomatedPayment is the aggregate notification produced by a yield
	// distribution pass.
	TypeAutomatedPayment = "vault.automatedPayment"
	// TypeTreasuryFunded is emitted when the owner tops up the payout treasury.
	TypeTreasuryFunded = "vault.treasuryFunded"
	// TypeCollateralMinted is emitted when the owner mints RWA supply to a
	// participant balance.
	TypeCollateralMinted = "vault.collateralMinted"
)

type CollateralDeposited struct {
	Account [20]byte
	Amount  *big.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralDeposited,
		Attributes: map[string]string{
			"account": crypto.MustNewAddress(crypto.LendPrefix, e.Account[:]).String(),
			"amount":  formatAmount(e.Amount),
		},
	}
}

type Borrowed struct {
	Account [20]byte
	Amount  *big.Int
}

func (Borrowed) EventType() string { return TypeBorrowed }

func (e Borrowed) Event() *types.Event {
	return &types.Event{
		Type: TypeBorrowed,
		Attributes: map[string]string{
			"account": crypto.MustNewAddress(crypto.LendPrefix, e.Account[:]).String(),
			"amount":  formatAmount(e.Amount),
		},
	}
}

type DebtReduced struct {
	Account [20]byte
	Amount  *big.Int
	// Unused carries the portion of the requested reduction that exceeded the
	// outstanding debt and was therefore not consumed.
	Unused *big.Int
}

func (DebtReduced) EventType() string { return TypeDebtReduced }

func (e DebtReduced) Event() *types.Event {
	attrs := map[string]string{
		"account": crypto.MustNewAddress(crypto.LendPrefix, e.Account[:]).String(),
		"amount":  formatAmount(e.Amount),
	}
	if e.Unused != nil && e.Unused.Sign() > 0 {
		attrs["unused"] = formatAmount(e.Unused)
	}
	return &types.Event{Type: TypeDebtReduced, Attributes: attrs}
}

type AutomatedPayment struct {
	TotalYield     *big.Int
	UsersProcessed uint64
}

func (AutomatedPayment) EventType() string { return TypeAutomatedPayment }

func (e AutomatedPayment) Event() *types.Event {
	return &types.Event{
		Type: TypeAutomatedPayment,
		Attributes: map[string]string{
			"totalYield":     formatAmount(e.TotalYield),
			"usersProcessed": strconv.FormatUint(e.UsersProcessed, 10),
		},
	}
}

type TreasuryFunded struct {
	Funder [20]byte
	Amount *big.Int
}

func (TreasuryFunded) EventType() string { return TypeTreasuryFunded }

func (e TreasuryFunded) Event() *types.Event {
	return &types.Event{
		Type: TypeTreasuryFunded,
		Attributes: map[string]string{
			"funder": crypto.MustNewAddress(crypto.LendPrefix, e.Funder[:]).String(),
			"amount": formatAmount(e.Amount),
		},
	}
}

type CollateralMinted struct {
	Recipient [20]byte
	Amount    *big.Int
}

func (CollateralMinted) EventType() string { return TypeCollateralMinted }

func (e CollateralMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralMinted,
		Attributes: map[string]string{
			"recipient": crypto.MustNewAddress(crypto.LendPrefix, e.Recipient[:]).String(),
			"amount":    formatAmount(e.Amount),
		},
	}
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
