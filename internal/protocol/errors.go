package protocol

import (
	"errors"
	"fmt"
)

// ErrNoSession is returned by VerifyLicense when called without a session id.
var ErrNoSession = errors.New("no session id available")

// NetworkError covers transport failures and non-2xx replies.
type NetworkError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error: HTTP %d - %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError carries a server-declared failure. Error returns the server
// message verbatim.
type ProtocolError struct {
	Op      string
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }
