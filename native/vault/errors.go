package vault

import "errors"

var (
	ErrNilState               = errors.New("vault: state not configured")
	ErrInvalidAmount          = errors.New("vault: amount must be positive")
	ErrInsufficientCollateral = errors.New("vault: borrow exceeds collateral ceiling")
	ErrInsufficientTreasury   = errors.New("vault: treasury cannot cover payout")
	ErrInsufficientBalance    = errors.New("vault: insufficient balance")
	ErrUnauthorized           = errors.New("vault: caller is not the owner")
	ErrNoOpYield              = errors.New("vault: zero yield injection")
	ErrArithmeticOverflow     = errors.New("vault: fixed-point overflow")
)
