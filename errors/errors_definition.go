// Package errors provides custom error types and definitions for the application.
//
//nolint:lll
package errors

import (
	"fmt"
	"net/http"
)

// The custom Error type satisfies the error interface.
// Error() returns a human-readable description of the error.
//
// Error codes in the 40001-49999 range are the caller's fault,
// and they return HTTP Status 400 or 404, whatever is most appropriate.
//
// Error codes 50001-59999 are the server's fault
// and they return HTTP Status 500 or 503, or something else if appropriate.
//
// NEVER change any of the current error codes, only append new errors after
// the current last 4XXX or 5XXX. If a code disappears from this list, don't
// reuse it, it was meaningful to some client once.
var (
	// Validation errors (400)
	ErrMalformedBody     = Error{Code: 40001, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid JSON request body")}
	ErrInvalidAmount     = Error{Code: 40002, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("donation amount must be positive")}
	ErrInvalidSignature  = Error{Code: 40003, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("webhook signature verification failed"), LogLevel: "warn"}
	ErrMalformedURLParam = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid URL parameter")}

	// Server errors (500) - These should be used sparingly and only for true internal errors
	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("server error: failed to process response"), LogLevel: "error"}
	ErrStripeError                = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("server error: payment processing failed"), LogLevel: "error"}
	ErrStripeWebhookError         = Error{Code: 50003, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("server error: webhook handler failed"), LogLevel: "error"}
)
