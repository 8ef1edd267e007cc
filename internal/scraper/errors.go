package scraper

import (
	"errors"
	"fmt"
)

var (
	// ErrBrowserStart is returned when the browser process cannot be launched
	ErrBrowserStart = errors.New("could not start browser")

	// ErrFieldNotFound is returned when no selector matches a login field
	ErrFieldNotFound = errors.New("login field not found")

	// ErrAuthenticationRejected is returned when the portal shows an error after login
	ErrAuthenticationRejected = errors.New("portal rejected the credentials")

	// ErrLoginFailed is returned when login shows neither an error nor a logged in page
	ErrLoginFailed = errors.New("login failed")

	// ErrExportControlNotFound is returned when no export control can be found
	ErrExportControlNotFound = errors.New("export control not found")

	// ErrNoArtifactFound is returned when the export produced no file
	ErrNoArtifactFound = errors.New("no downloaded file found")

	// ErrNotLoggedIn is returned by Download before a successful Login
	ErrNotLoggedIn = errors.New("not logged in")
)

// AuthError represents an authentication failure reported by an HTTP status
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return e.Message
}

func newAuthError(status int, body []byte) *AuthError {
	return &AuthError{
		StatusCode: status,
		Message:    fmt.Sprintf("authentication failed (status %d): %s", status, preview(body, 200)),
	}
}

// IsAuthFailure reports whether err means the credentials or session were refused,
// as opposed to the portal behaving unexpectedly
func IsAuthFailure(err error) bool {
	if errors.Is(err, ErrAuthenticationRejected) {
		return true
	}
	var authErr *AuthError
	return errors.As(err, &authErr)
}

func preview(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
