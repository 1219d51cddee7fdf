package core

import (
	"math/big"
	"sync"

	"lendvault/core/events"
	"lendvault/core/state"
	"lendvault/core/types"
	"lendvault/crypto"
	"lendvault/eventlog"
	"lendvault/native/vault"
	"lendvault/observability"
	"lendvault/storage"
)

// Node owns all Position and Ledger state exclusively. Every state-mutating
// operation runs under the write lock so writers are serialized with respect
// to each other; read-only queries share the read lock and may run
// concurrently with one another but never with a writer. An admitted
// operation runs to completion or failure synchronously - there is no
// cancellation and no partial application.
type Node struct {
	mu     sync.RWMutex
	db     storage.Database
	state  *state.Manager
	engine *vault.Engine
	log    *eventlog.Log
}

// NewNode wires the state manager, the vault engine, and the event log
// together. The owner address fixed here holds the administrative role for
// the lifetime of the node.
func NewNode(db storage.Database, owner crypto.Address, params vault.RiskParameters, log *eventlog.Log) *Node {
	manager := state.NewManager(db)
	engine := vault.NewEngine(owner, params)
	engine.SetState(manager)
	node := &Node{
		db:     db,
		state:  manager,
		engine: engine,
		log:    log,
	}
	engine.SetEmitter(&eventRecorder{log: log})
	return node
}

// SetMaxBorrowersPerPass forwards the distribution batching bound to the
// engine.
func (n *Node) SetMaxBorrowersPerPass(limit uint64) {
	n.engine.SetMaxBorrowersPerPass(limit)
}

// Owner returns the administrative owner address.
func (n *Node) Owner() crypto.Address {
	return n.engine.Owner()
}

// --- Write operations (serialized) ---

func (n *Node) DepositCollateral(account crypto.Address, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.engine.DepositCollateral(account, amount); err != nil {
		return err
	}
	n.refreshGauges()
	return nil
}

func (n *Node) Borrow(account crypto.Address, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.engine.Borrow(account, amount); err != nil {
		return err
	}
	n.refreshGauges()
	return nil
}

// GenerateYield distributes the injected amount across all active borrowers.
// The write lock is held for the full batch, cursor continuations included,
// so no deposit or borrow can change the registry mid-distribution.
func (n *Node) GenerateYield(amount *big.Int) (*vault.DistributionReceipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	receipt, err := n.engine.GenerateYield(amount)
	if err != nil {
		return nil, err
	}
	observability.VaultMetrics().ObserveDistribution(receipt.TotalYield, receipt.UsersProcessed)
	n.refreshGauges()
	return receipt, nil
}

func (n *Node) FundTreasury(caller crypto.Address, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.FundTreasury(caller, amount)
}

func (n *Node) MintCollateral(caller, recipient crypto.Address, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.MintCollateral(caller, recipient, amount)
}

func (n *Node) ReduceDebt(caller, account crypto.Address, amount *big.Int) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	unused, err := n.engine.ReduceDebt(caller, account, amount)
	if err != nil {
		return nil, err
	}
	n.refreshGauges()
	return unused, nil
}

// --- Read-only queries (shared) ---

// GetPosition returns the participant's position, zero-valued when unknown.
func (n *Node) GetPosition(account crypto.Address) (*vault.Position, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	position, err := n.state.GetPosition(account)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &vault.Position{
			Address:            account,
			Collateral:         big.NewInt(0),
			BorrowedCumulative: big.NewInt(0),
			RemainingDebt:      big.NewInt(0),
		}
	}
	return position, nil
}

func (n *Node) GetAccount(account crypto.Address) (*types.Account, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	acc, err := n.state.GetAccount(account)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{BalanceMNT: big.NewInt(0), BalanceRWA: big.NewInt(0)}
	}
	return acc, nil
}

func (n *Node) Totals() (*vault.Totals, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.totalsLocked()
}

func (n *Node) MaxBorrowAmount(account crypto.Address) (*big.Int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.engine.MaxBorrowAmount(account)
}

// Events returns up to limit log entries after the given cursor.
func (n *Node) Events(after uint64, limit int) ([]*types.Event, error) {
	return n.log.Events(after, limit)
}

// EventsSubscribe registers a live subscription against the event log.
func (n *Node) EventsSubscribe(buffer int) (<-chan *types.Event, func()) {
	return n.log.Subscribe(buffer)
}

func (n *Node) totalsLocked() (*vault.Totals, error) {
	ledger, err := n.state.GetLedger()
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		ledger = &vault.Ledger{
			TotalDebt:     big.NewInt(0),
			TreasuryMNT:   big.NewInt(0),
			CollateralRWA: big.NewInt(0),
		}
	}
	borrowers, err := n.state.BorrowerList()
	if err != nil {
		return nil, err
	}
	return &vault.Totals{
		TotalDebt:         ledger.TotalDebt,
		BorrowersCount:    uint64(len(borrowers)),
		TreasuryAvailable: ledger.TreasuryMNT,
	}, nil
}

func (n *Node) refreshGauges() {
	totals, err := n.totalsLocked()
	if err != nil {
		return
	}
	observability.VaultMetrics().SetLedgerTotals(totals.TotalDebt, totals.BorrowersCount)
}

// eventRecorder renders engine events into their attribute-map form and
// appends them to the log.
type eventRecorder struct {
	log *eventlog.Log
}

func (r *eventRecorder) Emit(evt events.Event) {
	if r == nil || r.log == nil || evt == nil {
		return
	}
	typed, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	if rendered := typed.Event(); rendered != nil {
		_, _ = r.log.Append(rendered)
	}
}
