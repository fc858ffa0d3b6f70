package rest

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error is the rejection shape of every failed API call:
// the HTTP status (0 when the server could not be reached at all),
// the status text and the raw error entity returned by the server.
type Error struct {
	Status int
	Text   string
	Entity []byte
}

func (e *Error) Error() string {
	if len(e.Entity) > 0 {
		return fmt.Sprintf("rest: %d %s: %s", e.Status, e.Text, e.Entity)
	}
	return fmt.Sprintf("rest: %d %s", e.Status, e.Text)
}

// StatusOf extracts the HTTP status from an API error.
// ok is false when err is not a *rest.Error.
func StatusOf(err error) (status int, ok bool) {
	if apiErr, isAPI := errors.Cause(err).(*Error); isAPI {
		return apiErr.Status, true
	}
	return 0, false
}
