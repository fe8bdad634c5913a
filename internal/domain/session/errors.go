package session

import "errors"

var (
	// ErrRefreshFailed is returned to callers that waited on a refresh that failed.
	ErrRefreshFailed = errors.New("refresh failed")
	// ErrSessionEnded reports a result discarded because the session was cleared meanwhile.
	ErrSessionEnded = errors.New("session ended while request was in flight")
	// ErrNoSession is returned by operations that need a stored token.
	ErrNoSession = errors.New("no active session")
)
