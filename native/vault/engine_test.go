package vault

import (
	"errors"
	"math/big"
	"testing"

	"lendvault/core/events"
	"lendvault/core/types"
	"lendvault/crypto"
)

type mockEngineState struct {
	positions map[string]*Position
	accounts  map[string]*types.Account
	ledger    *Ledger
	borrowers []crypto.Address
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		positions: make(map[string]*Position),
		accounts:  make(map[string]*types.Account),
	}
}

func (m *mockEngineState) key(addr crypto.Address) string {
	return string(addr.Bytes())
}

func (m *mockEngineState) GetPosition(addr crypto.Address) (*Position, error) {
	return m.positions[m.key(addr)], nil
}

func (m *mockEngineState) PutPosition(position *Position) error {
	m.positions[m.key(position.Address)] = position
	return nil
}

func (m *mockEngineState) GetLedger() (*Ledger, error) {
	return m.ledger, nil
}

func (m *mockEngineState) PutLedger(ledger *Ledger) error {
	m.ledger = ledger
	return nil
}

func (m *mockEngineState) BorrowerList() ([]crypto.Address, error) {
	out := make([]crypto.Address, len(m.borrowers))
	copy(out, m.borrowers)
	return out, nil
}

func (m *mockEngineState) AddBorrower(addr crypto.Address) error {
	for _, existing := range m.borrowers {
		if m.key(existing) == m.key(addr) {
			return nil
		}
	}
	m.borrowers = append(m.borrowers, addr)
	return nil
}

func (m *mockEngineState) RemoveBorrower(addr crypto.Address) error {
	filtered := m.borrowers[:0]
	for _, existing := range m.borrowers {
		if m.key(existing) != m.key(addr) {
			filtered = append(filtered, existing)
		}
	}
	m.borrowers = filtered
	return nil
}

func (m *mockEngineState) GetAccount(addr crypto.Address) (*types.Account, error) {
	return m.accounts[m.key(addr)], nil
}

func (m *mockEngineState) PutAccount(addr crypto.Address, account *types.Account) error {
	m.accounts[m.key(addr)] = account
	return nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.LendPrefix, raw)
}

func newTestEngine(owner crypto.Address) (*Engine, *mockEngineState, *capturingEmitter) {
	engine := NewEngine(owner, DefaultRiskParameters())
	state := newMockEngineState()
	emitter := &capturingEmitter{}
	engine.SetState(state)
	engine.SetEmitter(emitter)
	return engine, state, emitter
}

func TestDepositCollateralMovesBalanceIntoPosition(t *testing.T) {
	owner := makeAddress(0x01)
	depositor := makeAddress(0x02)

	engine, state, emitter := newTestEngine(owner)
	state.accounts[state.key(depositor)] = &types.Account{BalanceRWA: big.NewInt(1_000)}

	if err := engine.DepositCollateral(depositor, big.NewInt(400)); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}

	position := state.positions[state.key(depositor)]
	if position == nil || position.Collateral.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected collateral 400, got %v", position)
	}
	if balance := state.accounts[state.key(depositor)].BalanceRWA; balance.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("expected balance 600 after deposit, got %s", balance)
	}
	if locked := state.ledger.CollateralRWA; locked.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected 400 locked in ledger, got %s", locked)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.events))
	}
	if _, ok := emitter.events[0].(events.CollateralDeposited); !ok {
		t.Fatalf("expected CollateralDeposited, got %T", emitter.events[0])
	}
}

func TestDepositCollateralAccumulates(t *testing.T) {
	owner := makeAddress(0x01)
	depositor := makeAddress(0x02)

	engine, state, _ := newTestEngine(owner)
	state.accounts[state.key(depositor)] = &types.Account{BalanceRWA: big.NewInt(500)}

	if err := engine.DepositCollateral(depositor, big.NewInt(200)); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if err := engine.DepositCollateral(depositor, big.NewInt(300)); err != nil {
		t.Fatalf("second deposit: %v", err)
	}

	position := state.positions[state.key(depositor)]
	if position.Collateral.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected collateral 500, got %s", position.Collateral)
	}
	if balance := state.accounts[state.key(depositor)].BalanceRWA; balance.Sign() != 0 {
		t.Fatalf("expected empty balance, got %s", balance)
	}
}

func TestDepositCollateralInsufficientBalance(t *testing.T) {
	owner := makeAddress(0x01)
	depositor := makeAddress(0x02)

	engine, state, emitter := newTestEngine(owner)
	state.accounts[state.key(depositor)] = &types.Account{BalanceRWA: big.NewInt(50)}

	if err := engine.DepositCollateral(depositor, big.NewInt(100)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if balance := state.accounts[state.key(depositor)].BalanceRWA; balance.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected balance untouched, got %s", balance)
	}
	if len(emitter.events) != 0 {
		t.Fatalf("expected no events, got %d", len(emitter.events))
	}
}

func TestDepositCollateralRejectsInvalidAmounts(t *testing.T) {
	owner := makeAddress(0x01)
	depositor := makeAddress(0x02)

	engine, _, _ := newTestEngine(owner)

	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		if err := engine.DepositCollateral(depositor, amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %v: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestBorrowWithinLTV(t *testing.T) {
	owner := makeAddress(0x01)
	borrower := makeAddress(0x02)

	engine, state, emitter := newTestEngine(owner)
	state.positions[state.key(borrower)] = &Position{
		Address:            borrower,
		Collateral:         big.NewInt(1_000),
		BorrowedCumulative: big.NewInt(0),
		RemainingDebt:      big.NewInt(0),
	}
	state.ledger = &Ledger{TreasuryMNT: big.NewInt(2_000), TotalDebt: big.NewInt(0), CollateralRWA: big.NewInt(1_000)}

	if err := engine.Borrow(borrower, big.NewInt(500)); err != nil {
		t.Fatalf("borrow at the LTV ceiling: %v", err)
	}

	position := state.positions[state.key(borrower)]
	if position.RemainingDebt.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected remaining debt 500, got %s", position.RemainingDebt)
	}
	if position.BorrowedCumulative.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected cumulative 500, got %s", position.BorrowedCumulative)
	}
	if state.ledger.TreasuryMNT.Cmp(big.NewInt(1_500)) != 0 {
		t.Fatalf("expected treasury 1500, got %s", state.ledger.TreasuryMNT)
	}
	if state.ledger.TotalDebt.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected total debt 500, got %s", state.ledger.TotalDebt)
	}
	if balance := state.accounts[state.key(borrower)].BalanceMNT; balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected disbursed balance 500, got %s", balance)
	}
	if len(state.borrowers) != 1 {
		t.Fatalf("expected borrower registered, got %d entries", len(state.borrowers))
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.events))
	}
	if _, ok := emitter.events[0].(events.Borrowed); !ok {
		t.Fatalf("expected Borrowed, got %T", emitter.events[0])
	}
}

func TestBorrowExceedsLTV(t *testing.T) {
	owner := makeAddress(0x01)
	borrower := makeAddress(0x02)

	engine, state, _ := newTestEngine(owner)
	state.positions[state.key(borrower)] = &Position{
		Address:            borrower,
		Collateral:         big.NewInt(1_000),
		BorrowedCumulative: big.NewInt(0),
		RemainingDebt:      big.NewInt(0),
	}
	state.ledger = &Ledger{TreasuryMNT: big.NewInt(2_000), TotalDebt: big.NewInt(0), CollateralRWA: big.NewInt(1_000)}

	if err := engine.Borrow(borrower, big.NewInt(501)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
	if debt := state.positions[state.key(borrower)].RemainingDebt; debt.Sign() != 0 {
		t.Fatalf("expected debt untouched, got %s", debt)
	}
	if state.ledger.TreasuryMNT.Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("expected treasury untouched, got %s", state.ledger.TreasuryMNT)
	}
	if len(state.borrowers) != 0 {
		t.Fatalf("expected no registry entry, got %d", len(state.borrowers))
	}
}

func TestBorrowAgainstExistingDebtUsesProjection(t *testing.T) {
	owner := makeAddress(0x01)
	borrower := makeAddress(0x02)

	engine, state, _ := newTestEngine(owner)
	state.positions[state.key(borrower)] = &Position{
		Address:            borrower,
		Collateral:         big.NewInt(1_000),
		BorrowedCumulative: big.NewInt(300),
		RemainingDebt:      big.NewInt(300),
	}
	state.ledger = &Ledger{TreasuryMNT: big.NewInt(2_000), TotalDebt: big.NewInt(300), CollateralRWA: big.NewInt(1_000)}
	state.borrowers = []crypto.Address{borrower}

	if err := engine.Borrow(borrower, big.NewInt(201)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected projected debt to breach the ceiling, got %v", err)
	}
	if err := engine.Borrow(borrower, big.NewInt(200)); err != nil {
		t.Fatalf("borrow up to the ceiling: %v", err)
	}
	if len(state.borrowers) != 1 {
		t.Fatalf("expected registry not to duplicate, got %d entries", len(state.borrowers))
	}
}

func TestBorrowInsufficientTreasury(t *testing.T) {
	owner := makeAddress(0x01)
	borrower := makeAddress(0x02)

	engine, state, _ := newTestEngine(owner)
	state.positions[state.key(borrower)] = &Position{
		Address:            borrower,
		Collateral:         big.NewInt(1_000),
		BorrowedCumulative: big.NewInt(0),
		RemainingDebt:      big.NewInt(0),
	}
	state.ledger = &Ledger{TreasuryMNT: big.NewInt(100), TotalDebt: big.NewInt(0), CollateralRWA: big.NewInt(1_000)}

	if err := engine.Borrow(borrower, big.NewInt(400)); !errors.Is(err, ErrInsufficientTreasury) {
		t.Fatalf("expected ErrInsufficientTreasury, got %v", err)
	}
	if debt := state.positions[state.key(borrower)].RemainingDebt; debt.Sign() != 0 {
		t.Fatalf("expected debt untouched, got %s", debt)
	}
	if state.ledger.TreasuryMNT.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected treasury untouched, got %s", state.ledger.TreasuryMNT)
	}
}

func TestBorrowWithoutCollateral(t *testing.T) {
	owner := makeAddress(0x01)
	borrower := makeAddress(0x02)

	engine, state, _ := newTestEngine(owner)
	state.ledger = &Ledger{TreasuryMNT: big.NewInt(1_000)}

	if err := engine.Borrow(borrower, big.NewInt(1)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral for empty position, got %v", err)
	}
}

func TestReduceDebtClampsAndReturnsUnused(t *testing.T) {
	owner := makeAddress(0x01)
	borrower := makeAddress(0x02)

	engine, state, emitter := newTestEngine(owner)
	state.positions[state.key(borrower)] = &Position{
		Address:            borrower,
		Collateral:         big.NewInt(1_000),
		BorrowedCumulative: big.NewInt(100),
		RemainingDebt:      big.NewInt(100),
	}
	state.ledger = &Ledger{TreasuryMNT: big.NewInt(0), TotalDebt: big.NewInt(100), CollateralRWA: big.NewInt(1_000)}
	state.borrowers = []crypto.Address{borrower}

	unused, err := engine.ReduceDebt(owner, borrower, big.NewInt(150))
	if err != nil {
		t.Fatalf("reduce debt: %v", err)
	}
	if unused.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected 50 unused, got %s", unused)
	}
	if debt := state.positions[state.key(borrower)].RemainingDebt; debt.Sign() != 0 {
		t.Fatalf("expected debt cleared, got %s", debt)
	}
	if state.ledger.TotalDebt.Sign() != 0 {
		t.Fatalf("expected total debt cleared, got %s", state.ledger.TotalDebt)
	}
	if len(state.borrowers) != 0 {
		t.Fatalf("expected borrower removed from registry, got %d entries", len(state.borrowers))
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.events))
	}
	reduced, ok := emitter.events[0].(events.DebtReduced)
	if !ok {
		t.Fatalf("expected DebtReduced, got %T", emitter.events[0])
	}
	if reduced.Amount.Cmp(big.NewInt(100)) != 0 || reduced.Unused.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected applied=100 unused=50, got applied=%s unused=%s", reduced.Amount, reduced.Unused)
	}
}

func TestReduceDebtPartialKeepsRegistryEntry(t *testing.T) {
	owner := makeAddress(0x01)
	borrower := makeAddress(0x02)

	engine, state, _ := newTestEngine(owner)
	state.positions[state.key(borrower)] = &Position{
		Address:            borrower,
		Collateral:         big.NewInt(1_000),
		BorrowedCumulative: big.NewInt(100),
		RemainingDebt:      big.NewInt(100),
	}
	state.ledger = &Ledger{TotalDebt: big.NewInt(100)}
	state.borrowers = []crypto.Address{borrower}

	unused, err := engine.ReduceDebt(owner, borrower, big.NewInt(40))
	if err != nil {
		t.Fatalf("reduce debt: %v", err)
	}
	if unused.Sign() != 0 {
		t.Fatalf("expected no unused portion, got %s", unused)
	}
	if debt := state.positions[state.key(borrower)].RemainingDebt; debt.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("expected remaining debt 60, got %s", debt)
	}
	if len(state.borrowers) != 1 {
		t.Fatalf("expected borrower to stay in registry")
	}
}

func TestReduceDebtUnauthorized(t *testing.T) {
	owner := makeAddress(0x01)
	intruder := makeAddress(0x03)
	borrower := makeAddress(0x02)

	engine, _, _ := newTestEngine(owner)

	if _, err := engine.ReduceDebt(intruder, borrower, big.NewInt(10)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestFundTreasuryAccumulates(t *testing.T) {
	owner := makeAddress(0x01)

	engine, state, emitter := newTestEngine(owner)

	if err := engine.FundTreasury(owner, big.NewInt(700)); err != nil {
		t.Fatalf("fund treasury: %v", err)
	}
	if err := engine.FundTreasury(owner, big.NewInt(300)); err != nil {
		t.Fatalf("fund treasury again: %v", err)
	}
	if state.ledger.TreasuryMNT.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected treasury 1000, got %s", state.ledger.TreasuryMNT)
	}
	if len(emitter.events) != 2 {
		t.Fatalf("expected two events, got %d", len(emitter.events))
	}
}

func TestFundTreasuryUnauthorized(t *testing.T) {
	owner := makeAddress(0x01)
	intruder := makeAddress(0x03)

	engine, state, _ := newTestEngine(owner)

	if err := engine.FundTreasury(intruder, big.NewInt(700)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if state.ledger != nil {
		t.Fatalf("expected ledger untouched, got %+v", state.ledger)
	}
}

func TestMintCollateralCreditsRecipient(t *testing.T) {
	owner := makeAddress(0x01)
	recipient := makeAddress(0x02)

	engine, state, emitter := newTestEngine(owner)

	if err := engine.MintCollateral(owner, recipient, big.NewInt(250)); err != nil {
		t.Fatalf("mint collateral: %v", err)
	}
	if balance := state.accounts[state.key(recipient)].BalanceRWA; balance.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("expected minted balance 250, got %s", balance)
	}
	if _, ok := emitter.events[0].(events.CollateralMinted); !ok {
		t.Fatalf("expected CollateralMinted, got %T", emitter.events[0])
	}
}

func TestMintCollateralUnauthorized(t *testing.T) {
	owner := makeAddress(0x01)
	intruder := makeAddress(0x03)
	recipient := makeAddress(0x02)

	engine, _, _ := newTestEngine(owner)

	if err := engine.MintCollateral(intruder, recipient, big.NewInt(250)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestMaxBorrowAmountHeadroom(t *testing.T) {
	owner := makeAddress(0x01)
	borrower := makeAddress(0x02)

	engine, state, _ := newTestEngine(owner)
	state.positions[state.key(borrower)] = &Position{
		Address:            borrower,
		Collateral:         big.NewInt(1_000),
		BorrowedCumulative: big.NewInt(100),
		RemainingDebt:      big.NewInt(100),
	}

	headroom, err := engine.MaxBorrowAmount(borrower)
	if err != nil {
		t.Fatalf("max borrow: %v", err)
	}
	if headroom.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected headroom 400, got %s", headroom)
	}
}

func TestMaxBorrowAmountFlooredAtZero(t *testing.T) {
	owner := makeAddress(0x01)
	borrower := makeAddress(0x02)

	engine, state, _ := newTestEngine(owner)
	state.positions[state.key(borrower)] = &Position{
		Address:            borrower,
		Collateral:         big.NewInt(100),
		BorrowedCumulative: big.NewInt(50),
		RemainingDebt:      big.NewInt(50),
	}

	headroom, err := engine.MaxBorrowAmount(borrower)
	if err != nil {
		t.Fatalf("max borrow: %v", err)
	}
	if headroom.Sign() != 0 {
		t.Fatalf("expected zero headroom, got %s", headroom)
	}
}

func TestMaxBorrowAmountUnknownAccount(t *testing.T) {
	owner := makeAddress(0x01)
	stranger := makeAddress(0x04)

	engine, _, _ := newTestEngine(owner)

	headroom, err := engine.MaxBorrowAmount(stranger)
	if err != nil {
		t.Fatalf("max borrow: %v", err)
	}
	if headroom.Sign() != 0 {
		t.Fatalf("expected zero headroom for unknown account, got %s", headroom)
	}
}

func TestEngineNilStateGuards(t *testing.T) {
	owner := makeAddress(0x01)
	account := makeAddress(0x02)
	engine := NewEngine(owner, DefaultRiskParameters())

	if err := engine.DepositCollateral(account, big.NewInt(1)); !errors.Is(err, ErrNilState) {
		t.Fatalf("deposit: expected ErrNilState, got %v", err)
	}
	if err := engine.Borrow(account, big.NewInt(1)); !errors.Is(err, ErrNilState) {
		t.Fatalf("borrow: expected ErrNilState, got %v", err)
	}
	if _, err := engine.GenerateYield(big.NewInt(1)); !errors.Is(err, ErrNilState) {
		t.Fatalf("generate yield: expected ErrNilState, got %v", err)
	}
	if err := engine.FundTreasury(owner, big.NewInt(1)); !errors.Is(err, ErrNilState) {
		t.Fatalf("fund treasury: expected ErrNilState, got %v", err)
	}
}
