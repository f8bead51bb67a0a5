package domain

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidMetadata  = errors.New("invalid_metadata")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrUnknownPackage   = errors.New("unknown_package")
	ErrAmountMismatch   = errors.New("amount_mismatch")
	ErrCustomerMismatch = errors.New("customer_mismatch")
)
