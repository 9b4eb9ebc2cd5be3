package session

import "errors"

var (
	// ErrNotAuthenticated indicates no usable credential record exists.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrTokenExpired indicates the access token expired locally. The
	// caller should expect a silent refresh to have been attempted.
	ErrTokenExpired = errors.New("access token expired")
)
