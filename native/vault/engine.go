package vault

import (
	"bytes"
	"math/big"

	"lendvault/core/events"
	"lendvault/core/types"
	"lendvault/crypto"
)

type engineState interface {
	GetPosition(addr crypto.Address) (*Position, error)
	PutPosition(position *Position) error
	GetLedger() (*Ledger, error)
	PutLedger(ledger *Ledger) error
	BorrowerList() ([]crypto.Address, error)
	AddBorrower(addr crypto.Address) error
	RemoveBorrower(addr crypto.Address) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// Engine orchestrates the primary state transitions for the vault ledger:
// collateral deposits, LTV-gated borrowing, treasury funding, and the
// conservation-exact yield distribution.
type Engine struct {
	state      engineState
	owner      crypto.Address
	params     RiskParameters
	emitter    events.Emitter
	maxPerPass uint64
}

// NewEngine constructs a vault engine bound to the designated owner and risk
// parameters. Ownership is immutable for the lifetime of the engine.
func NewEngine(owner crypto.Address, params RiskParameters) *Engine {
	return &Engine{
		owner:   owner,
		params:  params,
		emitter: events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetMaxBorrowersPerPass bounds how many borrowers a single distribution pass
// touches before the continuation cursor takes over. Zero restores the
// default.
func (e *Engine) SetMaxBorrowersPerPass(n uint64) {
	if e == nil {
		return
	}
	e.maxPerPass = n
}

// Owner returns the administrative owner fixed at construction.
func (e *Engine) Owner() crypto.Address {
	return e.owner
}

// DepositCollateral moves RWA from the participant balance into the vault and
// credits their position. Positions are created lazily on first deposit and
// never destroyed.
func (e *Engine) DepositCollateral(account crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if !validAmount(amount) {
		return ErrInvalidAmount
	}

	acc, err := e.loadAccount(account)
	if err != nil {
		return err
	}
	if acc.BalanceRWA.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}

	position, err := e.ensurePosition(account)
	if err != nil {
		return err
	}
	ledger, err := e.ensureLedger()
	if err != nil {
		return err
	}

	newCollateral, err := checkedAdd(position.Collateral, amount)
	if err != nil {
		return err
	}
	newLocked, err := checkedAdd(ledger.CollateralRWA, amount)
	if err != nil {
		return err
	}

	acc.BalanceRWA = new(big.Int).Sub(acc.BalanceRWA, amount)
	position.Collateral = newCollateral
	ledger.CollateralRWA = newLocked

	if err := e.state.PutAccount(account, acc); err != nil {
		return err
	}
	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	if err := e.state.PutLedger(ledger); err != nil {
		return err
	}

	e.emitter.Emit(events.CollateralDeposited{
		Account: addr20(account),
		Amount:  new(big.Int).Set(amount),
	})
	return nil
}

// Borrow disburses MNT from the treasury against the caller's collateral. The
// loan-to-value ceiling is enforced at the moment of borrowing; the treasury
// check happens before any debt mutation so a failure leaves state untouched.
func (e *Engine) Borrow(account crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if !validAmount(amount) {
		return ErrInvalidAmount
	}

	position, err := e.ensurePosition(account)
	if err != nil {
		return err
	}

	maxBorrow, err := mulDivFloor(position.Collateral, new(big.Int).SetUint64(e.params.MaxLTVBps), basisPoints)
	if err != nil {
		return err
	}
	projectedDebt, err := checkedAdd(position.RemainingDebt, amount)
	if err != nil {
		return err
	}
	if projectedDebt.Cmp(maxBorrow) > 0 {
		return ErrInsufficientCollateral
	}

	ledger, err := e.ensureLedger()
	if err != nil {
		return err
	}
	if ledger.TreasuryMNT.Cmp(amount) < 0 {
		return ErrInsufficientTreasury
	}

	acc, err := e.loadAccount(account)
	if err != nil {
		return err
	}

	newCumulative, err := checkedAdd(position.BorrowedCumulative, amount)
	if err != nil {
		return err
	}
	newBalance, err := checkedAdd(acc.BalanceMNT, amount)
	if err != nil {
		return err
	}
	newTotalDebt, err := checkedAdd(ledger.TotalDebt, amount)
	if err != nil {
		return err
	}

	joinRegistry := position.RemainingDebt.Sign() == 0

	position.BorrowedCumulative = newCumulative
	position.RemainingDebt = projectedDebt
	ledger.TreasuryMNT = new(big.Int).Sub(ledger.TreasuryMNT, amount)
	ledger.TotalDebt = newTotalDebt
	acc.BalanceMNT = newBalance

	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	if err := e.state.PutLedger(ledger); err != nil {
		return err
	}
	if err := e.state.PutAccount(account, acc); err != nil {
		return err
	}
	if joinRegistry {
		if err := e.state.AddBorrower(account); err != nil {
			return err
		}
	}

	e.emitter.Emit(events.Borrowed{
		Account: addr20(account),
		Amount:  new(big.Int).Set(amount),
	})
	return nil
}

// ReduceDebt applies a manual, non-batch debt reduction. The reduction is
// clamped so remaining debt never goes negative; the unused excess is
// returned to the caller rather than silently dropped. Owner only.
func (e *Engine) ReduceDebt(caller, account crypto.Address, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if !e.isOwner(caller) {
		return nil, ErrUnauthorized
	}
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}

	position, err := e.ensurePosition(account)
	if err != nil {
		return nil, err
	}
	ledger, err := e.ensureLedger()
	if err != nil {
		return nil, err
	}

	applied, unused := clampReduction(position.RemainingDebt, amount)
	if applied.Sign() > 0 {
		position.RemainingDebt = new(big.Int).Sub(position.RemainingDebt, applied)
		newTotal, err := checkedSub(ledger.TotalDebt, applied)
		if err != nil {
			return nil, err
		}
		ledger.TotalDebt = newTotal

		if err := e.state.PutPosition(position); err != nil {
			return nil, err
		}
		if err := e.state.PutLedger(ledger); err != nil {
			return nil, err
		}
		if position.RemainingDebt.Sign() == 0 {
			if err := e.state.RemoveBorrower(account); err != nil {
				return nil, err
			}
		}
	}

	e.emitter.Emit(events.DebtReduced{
		Account: addr20(account),
		Amount:  applied,
		Unused:  unused,
	})
	return unused, nil
}

// FundTreasury records an administrative top-up of the payout treasury.
func (e *Engine) FundTreasury(caller crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if !e.isOwner(caller) {
		return ErrUnauthorized
	}
	if !validAmount(amount) {
		return ErrInvalidAmount
	}

	ledger, err := e.ensureLedger()
	if err != nil {
		return err
	}
	funded, err := checkedAdd(ledger.TreasuryMNT, amount)
	if err != nil {
		return err
	}
	ledger.TreasuryMNT = funded
	if err := e.state.PutLedger(ledger); err != nil {
		return err
	}

	e.emitter.Emit(events.TreasuryFunded{
		Funder: addr20(caller),
		Amount: new(big.Int).Set(amount),
	})
	return nil
}

// MintCollateral credits freshly minted RWA supply to the recipient's
// balance. Owner only; the collateral token is fixed-supply from the ledger's
// perspective once minted.
func (e *Engine) MintCollateral(caller, recipient crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if !e.isOwner(caller) {
		return ErrUnauthorized
	}
	if !validAmount(amount) {
		return ErrInvalidAmount
	}

	acc, err := e.loadAccount(recipient)
	if err != nil {
		return err
	}
	minted, err := checkedAdd(acc.BalanceRWA, amount)
	if err != nil {
		return err
	}
	acc.BalanceRWA = minted
	if err := e.state.PutAccount(recipient, acc); err != nil {
		return err
	}

	e.emitter.Emit(events.CollateralMinted{
		Recipient: addr20(recipient),
		Amount:    new(big.Int).Set(amount),
	})
	return nil
}

// MaxBorrowAmount returns the additional MNT the account could draw right
// now: collateral x LTV minus outstanding debt, floored at zero.
func (e *Engine) MaxBorrowAmount(account crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	position, err := e.ensurePosition(account)
	if err != nil {
		return nil, err
	}
	ceiling, err := mulDivFloor(position.Collateral, new(big.Int).SetUint64(e.params.MaxLTVBps), basisPoints)
	if err != nil {
		return nil, err
	}
	if ceiling.Cmp(position.RemainingDebt) <= 0 {
		return big.NewInt(0), nil
	}
	return ceiling.Sub(ceiling, position.RemainingDebt), nil
}

func (e *Engine) isOwner(caller crypto.Address) bool {
	return bytes.Equal(caller.Bytes(), e.owner.Bytes())
}

func (e *Engine) ensurePosition(addr crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	position, err := e.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &Position{Address: addr}
	}
	if position.Collateral == nil {
		position.Collateral = big.NewInt(0)
	}
	if position.BorrowedCumulative == nil {
		position.BorrowedCumulative = big.NewInt(0)
	}
	if position.RemainingDebt == nil {
		position.RemainingDebt = big.NewInt(0)
	}
	return position, nil
}

func (e *Engine) ensureLedger() (*Ledger, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	ledger, err := e.state.GetLedger()
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		ledger = &Ledger{}
	}
	if ledger.TotalDebt == nil {
		ledger.TotalDebt = big.NewInt(0)
	}
	if ledger.TreasuryMNT == nil {
		ledger.TreasuryMNT = big.NewInt(0)
	}
	if ledger.CollateralRWA == nil {
		ledger.CollateralRWA = big.NewInt(0)
	}
	return ledger, nil
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{}
	}
	if acc.BalanceMNT == nil {
		acc.BalanceMNT = big.NewInt(0)
	}
	if acc.BalanceRWA == nil {
		acc.BalanceRWA = big.NewInt(0)
	}
	return acc, nil
}

func clampReduction(remaining, amount *big.Int) (applied, unused *big.Int) {
	if remaining == nil || remaining.Sign() == 0 {
		return big.NewInt(0), new(big.Int).Set(amount)
	}
	if amount.Cmp(remaining) > 0 {
		return new(big.Int).Set(remaining), new(big.Int).Sub(amount, remaining)
	}
	return new(big.Int).Set(amount), big.NewInt(0)
}

func addr20(addr crypto.Address) [20]byte {
	var out [20]byte
	copy(out[:], addr.Bytes())
	return out
}
