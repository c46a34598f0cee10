// Package errs defines the stable error codes returned by the clearing core.
// The message of each sentinel is the code itself so downstream consumers can
// match on either errors.Is or the string form carried over the wire.
package errs

import "errors"

// Ledger and withdrawal.
var (
	ErrAccountNotSafe  = errors.New("ACCOUNT_NOT_SAFE")
	ErrWithdrawPending = errors.New("WITHDRAW_PENDING")
	ErrWithdrawInvalid = errors.New("WITHDRAW_INVALID")
	ErrDepositInvalid  = errors.New("DEPOSIT_AMOUNT_INVALID")
)

// Registry.
var (
	ErrPerpNotRegistered = errors.New("PERP_NOT_REGISTERED")
	ErrInvalidRiskParam  = errors.New("INVALID_RISK_PARAM")
)

// Order matching.
var (
	ErrAtLeastTwoTraders     = errors.New("AT_LEAST_TWO_TRADERS")
	ErrOrderWrongSorting     = errors.New("ORDER_WRONG_SORTING")
	ErrOrderExpired          = errors.New("ORDER_EXPIRED")
	ErrInvalidOrderSender    = errors.New("INVALID_ORDER_SENDER")
	ErrInvalidOrderSig       = errors.New("INVALID_ORDER_SIGNATURE")
	ErrOrderPriceNegative    = errors.New("ORDER_PRICE_NEGATIVE")
	ErrPerpMismatch          = errors.New("PERP_MISMATCH")
	ErrOrderPriceNotMatch    = errors.New("ORDER_PRICE_NOT_MATCH")
	ErrOrderFilledOverflow   = errors.New("ORDER_FILLED_OVERFLOW")
	ErrTakerAmountWrong      = errors.New("TAKER_TRADE_AMOUNT_WRONG")
	ErrOrderSelfMatch        = errors.New("ORDER_SELF_MATCH")
	ErrTraderNotSafe         = errors.New("TRADER_NOT_SAFE")
	ErrOrderSenderNotSafe    = errors.New("ORDER_SENDER_NOT_SAFE")
	ErrArgumentLengthsDiffer = errors.New("ARRAY_LENGTH_NOT_SAME")
)

// Funding.
var (
	ErrInvalidFundingKeeper = errors.New("INVALID_FUNDING_RATE_KEEPER")
	ErrFundingChangeTooMuch = errors.New("FUNDING_RATE_CHANGE_TOO_MUCH")
)

// Liquidation.
var (
	ErrAccountIsSafe          = errors.New("ACCOUNT_IS_SAFE")
	ErrSelfLiquidation        = errors.New("SELF_LIQUIDATION_NOT_ALLOWED")
	ErrTraderHasNoPosition    = errors.New("TRADER_HAS_NO_POSITION")
	ErrInvalidLiquidationExec = errors.New("INVALID_LIQUIDATION_EXECUTOR")
	ErrLiquidationAmountWrong = errors.New("LIQUIDATION_REQUEST_AMOUNT_WRONG")
	ErrLiquidationPriceGuard  = errors.New("LIQUIDATION_PRICE_PROTECTION")
	ErrLiquidatorNotSafe      = errors.New("LIQUIDATOR_NOT_SAFE")
	ErrStillInLiquidation     = errors.New("TRADER_STILL_IN_LIQUIDATION")
)

// Authorization.
var (
	ErrInvalidAuthorization = errors.New("INVALID_AUTHORIZATION")
)

// Code extracts the stable code from a wrapped error chain. Returns the
// empty string when err does not wrap one of the sentinels above.
func Code(err error) string {
	for _, sentinel := range registry {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}

var registry = []error{
	ErrAccountNotSafe, ErrWithdrawPending, ErrWithdrawInvalid,
	ErrDepositInvalid,
	ErrPerpNotRegistered, ErrInvalidRiskParam,
	ErrAtLeastTwoTraders, ErrOrderWrongSorting, ErrOrderExpired,
	ErrInvalidOrderSender, ErrInvalidOrderSig, ErrOrderPriceNegative,
	ErrPerpMismatch, ErrOrderPriceNotMatch, ErrOrderFilledOverflow,
	ErrTakerAmountWrong, ErrOrderSelfMatch, ErrTraderNotSafe,
	ErrOrderSenderNotSafe, ErrArgumentLengthsDiffer,
	ErrInvalidFundingKeeper, ErrFundingChangeTooMuch,
	ErrAccountIsSafe, ErrSelfLiquidation, ErrTraderHasNoPosition,
	ErrInvalidLiquidationExec, ErrLiquidationAmountWrong,
	ErrLiquidationPriceGuard, ErrLiquidatorNotSafe, ErrStillInLiquidation,
	ErrInvalidAuthorization,
}
