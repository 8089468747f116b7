/*
Package errs provides custom error types and application-level error code constants.

These error codes identify the failure classes of the connection pipeline and the
presence store, both inside the server and in what is reported to clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnauthorized indicates that the request carries no valid operator token.
	ErrUnauthorized = 1002

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 3xxx: Connection Authentication Errors
const (
	// ErrInvalidIdentity indicates that the declared user name is empty or contains forbidden characters.
	ErrInvalidIdentity = 3101

	// ErrMiddlewareRejected indicates that a host middleware refused the connection.
	ErrMiddlewareRejected = 3102

	// ErrHookRejected indicates that the onConnect hook returned an error or panicked.
	ErrHookRejected = 3103

	// ErrServiceClosing indicates that the instance is draining and accepts no new sessions.
	ErrServiceClosing = 3104
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrRegistrationFailed indicates that the presence entry could not be written; the local session was rolled back.
	ErrRegistrationFailed = 5101

	// ErrStoreUnavailable indicates that the shared state store could not be reached.
	ErrStoreUnavailable = 5102
)
