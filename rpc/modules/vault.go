package modules

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"lendvault/core"
	"lendvault/core/types"
	"lendvault/crypto"
	"lendvault/native/vault"
	"lendvault/observability"
)

// VaultModule translates JSON-RPC calls into node operations and engine
// errors into the wire error taxonomy.
type VaultModule struct {
	node *core.Node
}

func NewVaultModule(node *core.Node) *VaultModule {
	return &VaultModule{node: node}
}

func (m *VaultModule) moduleUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "vault module not available"}
}

// PositionView is the JSON shape served for position queries.
type PositionView struct {
	Address            string `json:"address"`
	Collateral         string `json:"collateral"`
	BorrowedCumulative string `json:"borrowedCumulative"`
	RemainingDebt      string `json:"remainingDebt"`
}

// TotalsView is the JSON shape served for aggregate queries.
type TotalsView struct {
	TotalDebt         string `json:"totalDebt"`
	BorrowersCount    uint64 `json:"borrowersCount"`
	TreasuryAvailable string `json:"treasuryAvailable"`
}

// AccountView is the JSON shape served for balance queries.
type AccountView struct {
	Address    string `json:"address"`
	BalanceMNT string `json:"balanceMNT"`
	BalanceRWA string `json:"balanceRWA"`
}

// DistributionView summarises a completed yield distribution.
type DistributionView struct {
	TotalYield     string `json:"totalYield"`
	UsersProcessed uint64 `json:"usersProcessed"`
	Residual       string `json:"residual"`
}

// ReduceDebtView reports the applied/unused split of a manual reduction.
type ReduceDebtView struct {
	Unused string `json:"unused"`
}

func (m *VaultModule) DepositCollateral(account crypto.Address, amount *big.Int) *ModuleError {
	if m == nil || m.node == nil {
		return m.moduleUnavailable()
	}
	return m.instrumentErr("vault_depositCollateral", func() error {
		return m.node.DepositCollateral(account, amount)
	})
}

func (m *VaultModule) Borrow(account crypto.Address, amount *big.Int) *ModuleError {
	if m == nil || m.node == nil {
		return m.moduleUnavailable()
	}
	return m.instrumentErr("vault_borrow", func() error {
		return m.node.Borrow(account, amount)
	})
}

func (m *VaultModule) GenerateYield(amount *big.Int) (*DistributionView, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, m.moduleUnavailable()
	}
	var receipt *vault.DistributionReceipt
	moduleErr := m.instrumentErr("vault_generateYield", func() error {
		var err error
		receipt, err = m.node.GenerateYield(amount)
		return err
	})
	if moduleErr != nil {
		return nil, moduleErr
	}
	return &DistributionView{
		TotalYield:     receipt.TotalYield.String(),
		UsersProcessed: receipt.UsersProcessed,
		Residual:       receipt.Residual.String(),
	}, nil
}

func (m *VaultModule) FundTreasury(caller crypto.Address, amount *big.Int) *ModuleError {
	if m == nil || m.node == nil {
		return m.moduleUnavailable()
	}
	return m.instrumentErr("vault_fundTreasury", func() error {
		return m.node.FundTreasury(caller, amount)
	})
}

func (m *VaultModule) MintCollateral(caller, recipient crypto.Address, amount *big.Int) *ModuleError {
	if m == nil || m.node == nil {
		return m.moduleUnavailable()
	}
	return m.instrumentErr("vault_mintCollateral", func() error {
		return m.node.MintCollateral(caller, recipient, amount)
	})
}

func (m *VaultModule) ReduceDebt(caller, account crypto.Address, amount *big.Int) (*ReduceDebtView, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, m.moduleUnavailable()
	}
	var unused *big.Int
	moduleErr := m.instrumentErr("vault_reduceDebt", func() error {
		var err error
		unused, err = m.node.ReduceDebt(caller, account, amount)
		return err
	})
	if moduleErr != nil {
		return nil, moduleErr
	}
	return &ReduceDebtView{Unused: unused.String()}, nil
}

func (m *VaultModule) GetPosition(account crypto.Address) (*PositionView, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, m.moduleUnavailable()
	}
	position, err := m.node.GetPosition(account)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return &PositionView{
		Address:            position.Address.String(),
		Collateral:         position.Collateral.String(),
		BorrowedCumulative: position.BorrowedCumulative.String(),
		RemainingDebt:      position.RemainingDebt.String(),
	}, nil
}

func (m *VaultModule) GetTotals() (*TotalsView, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, m.moduleUnavailable()
	}
	totals, err := m.node.Totals()
	if err != nil {
		return nil, m.wrapError(err)
	}
	return &TotalsView{
		TotalDebt:         totals.TotalDebt.String(),
		BorrowersCount:    totals.BorrowersCount,
		TreasuryAvailable: totals.TreasuryAvailable.String(),
	}, nil
}

func (m *VaultModule) GetAccount(account crypto.Address) (*AccountView, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, m.moduleUnavailable()
	}
	acc, err := m.node.GetAccount(account)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return &AccountView{
		Address:    account.String(),
		BalanceMNT: acc.BalanceMNT.String(),
		BalanceRWA: acc.BalanceRWA.String(),
	}, nil
}

func (m *VaultModule) MaxBorrowAmount(account crypto.Address) (string, *ModuleError) {
	if m == nil || m.node == nil {
		return "", m.moduleUnavailable()
	}
	amount, err := m.node.MaxBorrowAmount(account)
	if err != nil {
		return "", m.wrapError(err)
	}
	return amount.String(), nil
}

func (m *VaultModule) Events(after uint64, limit int) ([]*types.Event, *ModuleError) {
	if m == nil || m.node == nil {
		return nil, m.moduleUnavailable()
	}
	events, err := m.node.Events(after, limit)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return events, nil
}

func (m *VaultModule) instrumentErr(method string, fn func() error) *ModuleError {
	start := time.Now()
	err := fn()
	outcome := "ok"
	var moduleErr *ModuleError
	if err != nil {
		outcome = "error"
		moduleErr = m.wrapError(err)
		observability.ModuleMetrics().ObserveError(method, strconv.Itoa(moduleErr.Code))
	}
	observability.ModuleMetrics().ObserveRequest(method, outcome, time.Since(start).Seconds())
	return moduleErr
}

func (m *VaultModule) wrapError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	status := http.StatusInternalServerError
	code := codeServerError
	switch {
	case errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, vault.ErrNoOpYield),
		errors.Is(err, vault.ErrArithmeticOverflow):
		status = http.StatusBadRequest
		code = codeInvalidParams
	case errors.Is(err, vault.ErrInsufficientCollateral),
		errors.Is(err, vault.ErrInsufficientTreasury),
		errors.Is(err, vault.ErrInsufficientBalance):
		status = http.StatusConflict
		code = codeInvalidParams
	case errors.Is(err, vault.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeUnauthorized
	}
	return &ModuleError{HTTPStatus: status, Code: code, Message: err.Error()}
}
