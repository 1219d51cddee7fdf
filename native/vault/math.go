package vault

import (
	"math/big"

	"github.com/holiman/uint256"
)

// All monetary quantities are 18-decimal fixed-point integers bounded to 256
// bits. Arithmetic is exact: floating point never touches ledger state.
var (
	basisPoints = big.NewInt(10_000)
	oneToken    = mustBigInt("1000000000000000000") // 1e18
	maxAmount   = new(uint256.Int).SetAllOne().ToBig()
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func validAmount(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0 && amount.Cmp(maxAmount) <= 0
}

func checkedAdd(a, b *big.Int) (*big.Int, error) {
	if a == nil || b == nil {
		return nil, ErrArithmeticOverflow
	}
	sum := new(big.Int).Add(a, b)
	if sum.Cmp(maxAmount) > 0 {
		return nil, ErrArithmeticOverflow
	}
	return sum, nil
}

func checkedSub(a, b *big.Int) (*big.Int, error) {
	if a == nil || b == nil || a.Cmp(b) < 0 {
		return nil, ErrArithmeticOverflow
	}
	return new(big.Int).Sub(a, b), nil
}

// mulDivFloor computes floor(a*b/den) with the intermediate product checked
// against the 256-bit bound. Overflow of the product is fatal to the caller.
func mulDivFloor(a, b, den *big.Int) (*big.Int, error) {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return nil, ErrArithmeticOverflow
	}
	product := new(big.Int).Mul(a, b)
	if product.BitLen() > 256 {
		return nil, ErrArithmeticOverflow
	}
	return product.Quo(product, den), nil
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
