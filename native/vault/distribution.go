package vault

import (
	"math/big"

	"lendvault/core/events"
	"lendvault/crypto"
)

// defaultMaxBorrowersPerPass bounds how many borrowers a single cursor pass
// computes. The full batch still runs to completion inside one engine call,
// so callers observe an atomic distribution, but no single pass iterates an
// unbounded set.
const defaultMaxBorrowersPerPass = 256

// distributionCursor carries the continuation state between bounded passes:
// the full-set debt snapshot the shares are computed against, and the
// accumulator of shares assigned so far. The remainder rule is applied to the
// true last element of the entire batch, never a pass-local last element.
type distributionCursor struct {
	borrowers    []crypto.Address
	positions    []*Position
	shares       []*big.Int
	snapshotDebt *big.Int
	cappedYield  *big.Int
	distributed  *big.Int
	next         int
}

func (c *distributionCursor) done() bool {
	return c.next >= len(c.borrowers)
}

// GenerateYield consumes an injected yield amount and reduces the debt of
// every active borrower in proportion to their share of total debt. The sum
// of all reductions equals min(amount, totalDebt) exactly; rounding residue
// is absorbed by the last borrower in registry order. Yield beyond total debt
// is retained by the treasury, uncredited to any position.
//
// The operation is atomic: every share is computed and overflow-checked
// before a single position is mutated. A zero injection fails fast with
// ErrNoOpYield and emits nothing.
func (e *Engine) GenerateYield(amount *big.Int) (*DistributionReceipt, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrNoOpYield
	}
	if amount.Cmp(maxAmount) > 0 {
		return nil, ErrArithmeticOverflow
	}

	ledger, err := e.ensureLedger()
	if err != nil {
		return nil, err
	}
	borrowers, err := e.state.BorrowerList()
	if err != nil {
		return nil, err
	}

	if ledger.TotalDebt.Sign() == 0 || len(borrowers) == 0 {
		retained, err := checkedAdd(ledger.TreasuryMNT, amount)
		if err != nil {
			return nil, err
		}
		ledger.TreasuryMNT = retained
		if err := e.state.PutLedger(ledger); err != nil {
			return nil, err
		}
		e.emitter.Emit(events.AutomatedPayment{TotalYield: big.NewInt(0), UsersProcessed: 0})
		return &DistributionReceipt{
			TotalYield:     big.NewInt(0),
			UsersProcessed: 0,
			Residual:       new(big.Int).Set(amount),
		}, nil
	}

	cursor := &distributionCursor{
		borrowers:    borrowers,
		positions:    make([]*Position, len(borrowers)),
		shares:       make([]*big.Int, len(borrowers)),
		snapshotDebt: new(big.Int).Set(ledger.TotalDebt),
		cappedYield:  minBig(amount, ledger.TotalDebt),
		distributed:  big.NewInt(0),
	}

	// Compute phase: bounded passes until the cursor is exhausted. Any
	// overflow aborts here, before state is touched.
	for !cursor.done() {
		if err := e.computePass(cursor); err != nil {
			return nil, err
		}
	}

	// Commit phase: apply the computed shares. Reductions are clamped so no
	// debt goes negative; clamped excess flows back to the treasury rather
	// than being dropped.
	totalApplied := big.NewInt(0)
	var processed uint64
	for i, share := range cursor.shares {
		if share.Sign() == 0 {
			continue
		}
		position := cursor.positions[i]
		applied, _ := clampReduction(position.RemainingDebt, share)
		if applied.Sign() == 0 {
			continue
		}
		position.RemainingDebt = new(big.Int).Sub(position.RemainingDebt, applied)
		if err := e.state.PutPosition(position); err != nil {
			return nil, err
		}
		if position.RemainingDebt.Sign() == 0 {
			if err := e.state.RemoveBorrower(cursor.borrowers[i]); err != nil {
				return nil, err
			}
		}
		totalApplied.Add(totalApplied, applied)
		processed++
	}

	newTotalDebt, err := checkedSub(ledger.TotalDebt, totalApplied)
	if err != nil {
		return nil, err
	}
	residual := new(big.Int).Sub(amount, totalApplied)
	retained, err := checkedAdd(ledger.TreasuryMNT, residual)
	if err != nil {
		return nil, err
	}
	ledger.TotalDebt = newTotalDebt
	ledger.TreasuryMNT = retained
	if err := e.state.PutLedger(ledger); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.AutomatedPayment{
		TotalYield:     new(big.Int).Set(totalApplied),
		UsersProcessed: processed,
	})
	return &DistributionReceipt{
		TotalYield:     totalApplied,
		UsersProcessed: processed,
		Residual:       residual,
	}, nil
}

// computePass resolves the pro-rata share for up to maxPerPass borrowers.
// Every borrower except the batch's final one receives
// floor(cappedYield x debt_i / snapshotDebt) computed with exact integer
// division; the final borrower absorbs the remainder so the shares sum to
// cappedYield with no rounding leakage.
func (e *Engine) computePass(cursor *distributionCursor) error {
	limit := e.maxPerPass
	if limit == 0 {
		limit = defaultMaxBorrowersPerPass
	}
	end := cursor.next + int(limit)
	if end > len(cursor.borrowers) {
		end = len(cursor.borrowers)
	}
	last := len(cursor.borrowers) - 1

	for i := cursor.next; i < end; i++ {
		position, err := e.ensurePosition(cursor.borrowers[i])
		if err != nil {
			return err
		}
		cursor.positions[i] = position

		var share *big.Int
		if i == last {
			share = new(big.Int).Sub(cursor.cappedYield, cursor.distributed)
			if share.Sign() < 0 {
				return ErrArithmeticOverflow
			}
		} else {
			share, err = mulDivFloor(cursor.cappedYield, position.RemainingDebt, cursor.snapshotDebt)
			if err != nil {
				return err
			}
		}
		cursor.shares[i] = share
		cursor.distributed.Add(cursor.distributed, share)
	}
	cursor.next = end
	return nil
}
