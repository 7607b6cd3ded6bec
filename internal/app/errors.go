package app

import "errors"

var (
	// ErrValidation marks bad client input. The wrapped detail is safe to show.
	ErrValidation = errors.New("invalid request")

	// ErrConflict is returned when the email or username is taken.
	ErrConflict = errors.New("Email or username already exists")

	ErrNotFound        = errors.New("not found")
	ErrInvalidCode     = errors.New("Invalid verification code")
	ErrAlreadyVerified = errors.New("Email already verified")
	ErrCodeExpired     = errors.New("Verification code expired")

	// ErrInvalidCredentials does not say which half of the pair was wrong.
	ErrInvalidCredentials = errors.New("Incorrect email, username or password")
	ErrEmailNotVerified   = errors.New("Email not verified")

	// ErrUpstream wraps literature search failures; handlers must not echo the cause.
	ErrUpstream = errors.New("literature search failed")

	// ErrNotificationFailed is returned only when mail failures are configured
	// to fail the request.
	ErrNotificationFailed = errors.New("verification email could not be sent")
)

// detailError carries a client-facing message and matches its kind via errors.Is.
type detailError struct {
	kind error
	msg  string
}

func (e detailError) Error() string { return e.msg }

func (e detailError) Is(target error) bool { return target == e.kind }

func invalid(msg string) error { return detailError{kind: ErrValidation, msg: msg} }

func notFound(msg string) error { return detailError{kind: ErrNotFound, msg: msg} }

// DetailMessage returns the client-facing detail carried by a validation or
// not-found error, if any.
func DetailMessage(err error) (string, bool) {
	var d detailError
	if errors.As(err, &d) {
		return d.msg, true
	}
	return "", false
}
