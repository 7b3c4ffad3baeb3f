package ble

import "errors"

var (
	// ErrTransport covers radio and connection failures. The session is
	// closed and no state is mutated.
	ErrTransport = errors.New("ble transport error")
	// ErrMalformedPayload marks a write that is not valid JSON, is too long,
	// or misses a required field. The write is ignored.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrTransferInProgress rejects a trigger while a transfer is in flight.
	ErrTransferInProgress = errors.New("transfer already in progress")
	// ErrChunkTooLarge aborts a transfer whose batch does not fit one notification.
	ErrChunkTooLarge = errors.New("batch exceeds notification size")
)
