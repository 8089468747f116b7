/*
Package errs provides custom error types and application-level error code constants.

This file maps every error code to its CustomError template, used both for HTTP
responses and for the rejection events delivered over the socket.
*/
package errs

import "net/http"

// errorMap stores the CustomError template for every application error code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:     {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnauthorized:      {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrRateLimitExceeded: {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 3xxx: Connection Authentication Errors
	ErrInvalidIdentity:    {Code: ErrInvalidIdentity, Message: "Invalid user name: %s"},
	ErrMiddlewareRejected: {Code: ErrMiddlewareRejected, Message: "%s"},
	ErrHookRejected:       {Code: ErrHookRejected, Message: "%s"},
	ErrServiceClosing:     {Code: ErrServiceClosing, Message: "Service is shutting down.", Status: http.StatusServiceUnavailable},

	// 5xxx: Internal System Errors
	ErrUnknown:            {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrRegistrationFailed: {Code: ErrRegistrationFailed, Message: "Session registration failed.", Status: http.StatusInternalServerError},
	ErrStoreUnavailable:   {Code: ErrStoreUnavailable, Message: "Presence store is unavailable.", Status: http.StatusServiceUnavailable},
}
