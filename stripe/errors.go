package stripe

import (
	"fmt"
)

// StripeError represents a Stripe-specific error
type StripeError struct {
	Code    string
	Message string
	Err     error
}

func (e *StripeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stripe error [%s]: %s - %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("stripe error [%s]: %s", e.Code, e.Message)
}

func (e *StripeError) Unwrap() error {
	return e.Err
}

// StripeError codes. The HTTP handlers switch on these to pick the response
// status: a signature failure is the caller's fault, everything else after a
// verified signature is a server-side handler failure.
const (
	CodeWebhookValidation = "webhook_validation"
	CodeInvalidEvent      = "invalid_event"
	CodeAPICallFailed     = "api_call_failed"
)

// ErrInvalidAmount rejects non-positive donation amounts.
var ErrInvalidAmount = &StripeError{Code: "invalid_amount", Message: "donation amount must be positive"}

// NewStripeError creates a new StripeError with the given code, message, and underlying error
func NewStripeError(code, message string, err error) *StripeError {
	return &StripeError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
