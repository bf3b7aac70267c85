package services

import "errors"

// Business-rule errors returned synchronously to callers. None of these are
// retryable; ErrStorageUnavailable is the only class a caller may retry.
var (
	ErrValidation             = errors.New("validation failed")
	ErrAlreadyAwardedToday    = errors.New("activity already awarded today")
	ErrBelowMinimumRedemption = errors.New("redemption amount below minimum")
	ErrInsufficientXP         = errors.New("insufficient spendable XP")
	ErrDailyCapExceeded       = errors.New("daily redemption cap exceeded")
	ErrPeriodNotClosed        = errors.New("pool period not yet closed")
	ErrAlreadyDistributed     = errors.New("pool already distributed")
	ErrExternalRefSet         = errors.New("external reference already attached")
	ErrStorageUnavailable     = errors.New("storage unavailable")
)
