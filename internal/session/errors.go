package session

import (
	"errors"
	"fmt"
)

// ErrNoActiveSession is returned by Acquire when no usable session
// exists and none is being created.
var ErrNoActiveSession = errors.New("session: no active session")

// ErrUnknownSession is returned for lookups of ids never issued.
var ErrUnknownSession = errors.New("session: unknown session")

// AuthError reports a failed credential exchange. Permanent marks
// rejections that retrying cannot fix, such as a bad password; the
// manager stops the backoff loop early for those.
type AuthError struct {
	Username  string
	Reason    string
	Permanent bool
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed for %s: %s", e.Username, e.Reason)
}
