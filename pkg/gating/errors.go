package gating

import "errors"

var (
	ErrNoParishInContext   = errors.New("no parish ID in request context")
	ErrNoCounterRegistered = errors.New("no usage counter registered for resource")
	ErrLimitExceeded       = errors.New("plan limit exceeded for resource")
	ErrTierTooLow          = errors.New("plan tier below required minimum")
)
