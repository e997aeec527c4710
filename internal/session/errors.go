package session

import "errors"

// ErrNoSession is returned when an operation needs a current session and there is none.
var ErrNoSession = errors.New("no active session")
