package solana

import (
	"errors"
	"strings"
)

// ReserveError means the treasury itself cannot fund the transfer: either its
// SOL balance is below the fee floor or its token account holds less than the
// requested amount. It is not retryable by the engine; an operator has to
// refill the reserves.
type ReserveError struct {
	Detail string
}

func (e *ReserveError) Error() string {
	return "insufficient treasury reserves: " + e.Detail
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as belonging to the transient error classes that a
// bounded resubmission may fix.
func Retryable(err error) error {
	return &retryableError{err: err}
}

// IsRetryable reports whether err belongs to the transient error classes
// for which a resubmission may succeed: stale blockhash, a transfer that was
// sent but not yet confirmed, and plain network trouble.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// classifySendError wraps transient RPC failures in a retryable marker and
// leaves everything else terminal.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"blockhash not found",
		"blockhashnotfound",
		"block height exceeded",
		"too many requests",
		"429",
		"timed out",
		"timeout",
		"connection refused",
		"connection reset",
	} {
		if strings.Contains(msg, s) {
			return Retryable(err)
		}
	}
	return err
}
