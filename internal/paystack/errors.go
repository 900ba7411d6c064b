package paystack

import (
	"errors"
	"fmt"
)

var ErrGateway = errors.New("payment gateway error")

// Error is returned for every failed gateway call: transport failures,
// timeouts, non-2xx responses and bodies that cannot be trusted.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := "paystack " + e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrGateway
}
