package billing

import "errors"

var (
	ErrPlanNotFound             = errors.New("billing plan not found")
	ErrPlanInactive             = errors.New("billing plan is not active")
	ErrInvalidPlanConfiguration = errors.New("invalid billing plan configuration")
	ErrFailedToLoadPlans        = errors.New("failed to load billing plans")

	ErrParishNotFound          = errors.New("parish not found")
	ErrSubscriptionNotFound    = errors.New("subscription not found")
	ErrSubscriptionExists      = errors.New("parish already has a subscription")
	ErrSubscriptionCancelled   = errors.New("subscription is already cancelled")
	ErrInvalidSubscriptionOp   = errors.New("operation not valid for current subscription state")
	ErrInvalidPaymentSignature = errors.New("invalid payment signature")

	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")
	ErrMalformedWebhookPayload = errors.New("malformed webhook payload")

	ErrGatewayFailure = errors.New("payment gateway request failed")
	ErrStoreFailure   = errors.New("billing store operation failed")
)
