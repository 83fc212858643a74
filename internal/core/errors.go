package core

import (
	"errors"
	"fmt"
)

const (
	// CodeAuth means the credentials or session token were rejected.
	CodeAuth = 5000
	// CodeTempMin is the first code of the transient range.
	CodeTempMin = 50000
	// CodeAbnormalClose is reported when the socket fails without a server error.
	CodeAbnormalClose = 1006
)

var (
	ErrNotConnected = errors.New("not connected to server")
	ErrDisconnected = errors.New("server disconnected")
	ErrFormat       = errors.New("event format is wrong")
	ErrUnsupported  = errors.New("event not supported, client can't process event")
	ErrNoEvent      = errors.New("no event id in incoming event")
)

// ServerError is the error object carried in an envelope.
type ServerError struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("error %d: %s", e.Code, e.Description)
}

func (e *ServerError) Temporary() bool { return e.Code >= CodeTempMin }

func (e *ServerError) IsAuth() bool { return e.Code == CodeAuth }

// RequestError is returned by SendEvent when a request was not answered with
// a success. Response holds whatever payload came along with the error.
type RequestError struct {
	Event    string
	Err      error
	Response Message
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %v", e.Event, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsTemporary reports whether err carries a transient server error.
func IsTemporary(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Temporary()
}

// IsAuthError reports whether err carries an authentication failure.
func IsAuthError(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.IsAuth()
}

// ServerCode returns the server error code in err, or 0.
func ServerCode(err error) int {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
