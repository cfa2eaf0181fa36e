package gateway

import "errors"

var (
	ErrMissingCredentials = errors.New("gateway key ID and secret are required")
	ErrRequestFailed      = errors.New("gateway request failed")
	ErrUnexpectedStatus   = errors.New("gateway returned an error response")
	ErrDecodeResponse     = errors.New("failed to decode gateway response")
)
