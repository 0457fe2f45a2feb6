package domain

import "errors"

// Sentinel errors returned by the credit services. Callers wrap them with
// context and compare with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrExceedsBalance     = errors.New("amount exceeds outstanding balance")
	ErrWithdrawalRejected = errors.New("withdrawal would breach minimum health factor")
	ErrExpired            = errors.New("session expired")
	ErrNoActiveAccount    = errors.New("no active credit account")
	ErrAlreadyPaid        = errors.New("invoice already paid")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidRequest     = errors.New("invalid request")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrNotFound, "not_found"},
	{ErrInvalidState, "invalid_state"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInsufficientCredit, "insufficient_credit"},
	{ErrExceedsBalance, "exceeds_balance"},
	{ErrWithdrawalRejected, "withdrawal_rejected"},
	{ErrExpired, "expired"},
	{ErrNoActiveAccount, "no_active_account"},
	{ErrAlreadyPaid, "already_paid"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrRateLimited, "rate_limited"},
	{ErrInvalidRequest, "invalid_request"},
}

// KindOf returns the machine-readable kind of err, or "internal" when err does
// not wrap one of the sentinel errors.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
