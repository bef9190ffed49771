package session

import "errors"

// Session-level error values. Remote failures surface as *bankapi.APIError
// and caller-side validation failures as bankapi.ErrInvalidRequest.
var (
	ErrAuthInProgress     = errors.New("authentication already in progress")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrMissingCredential  = errors.New("response carried no credential")
	ErrInvalidStoreConfig = errors.New("invalid session store config")
)
