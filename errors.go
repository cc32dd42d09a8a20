package x402

import (
	"errors"
	"fmt"
)

// PaymentError represents an error in the payment protocol.
type PaymentError struct {
	Code    string
	Message string
	Cause   error
}

func (e *PaymentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Cause
}

// Error codes.
const (
	ErrCodeMissingMerchant  = "MISSING_MERCHANT"
	ErrCodeInvalidConfig    = "INVALID_CONFIG"
	ErrCodeMalformed        = "MALFORMED"
	ErrCodeExpired          = "EXPIRED"
	ErrCodeInvalidSignature = "INVALID_SIGNATURE"
	ErrCodeNonceReused      = "NONCE_REUSED"
	ErrCodeSigningFailed    = "SIGNING_FAILED"
	ErrCodeProtocol         = "PROTOCOL_ERROR"
	ErrCodeNetwork          = "NETWORK_ERROR"
)

// NewPaymentError creates a new PaymentError.
func NewPaymentError(code, message string, cause error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsPaymentError checks if an error is a PaymentError.
func IsPaymentError(err error) bool {
	var pe *PaymentError
	return errors.As(err, &pe)
}

// PaymentErrorCode extracts the error code from a PaymentError anywhere in
// the chain, or returns "".
func PaymentErrorCode(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
