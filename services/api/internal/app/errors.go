package app

import "net/http"

// Error is an API-visible failure: an HTTP status, a stable machine code,
// a human message, and an optional hint about how to fix the request.
type Error struct {
	Status  int
	Code    string
	Message string
	Hint    string
}

func (e *Error) Error() string { return e.Message }

// WithHint returns a copy of the error carrying a hint.
func (e *Error) WithHint(hint string) *Error {
	out := *e
	out.Hint = hint
	return &out
}

func errNotFound(msg string) *Error {
	return &Error{Status: http.StatusNotFound, Code: "not_found", Message: msg}
}

func errForbidden(msg string) *Error {
	return &Error{Status: http.StatusForbidden, Code: "forbidden", Message: msg}
}

func errUnauthorized(msg string) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: "unauthorized", Message: msg}
}

func errConflict(msg string) *Error {
	return &Error{Status: http.StatusConflict, Code: "conflict", Message: msg}
}

func errInvalid(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "invalid_request", Message: msg}
}

var (
	// ErrInvalidCredentials deliberately does not say whether the email or
	// the password was wrong, and covers disabled accounts too, so login
	// responses cannot be used to enumerate accounts.
	ErrInvalidCredentials = &Error{Status: http.StatusUnauthorized, Code: "invalid_credentials", Message: "Incorrect email address or password"}

	ErrEmailAndPasswordRequired = errInvalid("email and password required")
	ErrEmailAlreadyExists       = errConflict("email already exists")

	ErrRefreshTokenRequired = errInvalid("refresh token required")
	ErrInvalidRefreshToken  = errUnauthorized("invalid refresh token")

	ErrSaleNotFound  = errNotFound("sale not found")
	ErrItemNotFound  = errNotFound("item not found")
	ErrPhotoNotFound = errNotFound("photo not found")
	ErrDraftNotFound = errNotFound("draft not found")

	ErrNotSaleOwner = errForbidden("only the sale owner may do this")
)
