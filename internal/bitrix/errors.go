package bitrix

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork indicates the upstream call never produced a usable HTTP response.
	ErrNetwork = errors.New("bitrix: network error")
	// ErrDecode indicates the upstream response body was not valid JSON.
	ErrDecode = errors.New("bitrix: decode error")
	// ErrFetchFailed indicates the upstream answered but carried no usable result.
	ErrFetchFailed = errors.New("bitrix: upstream returned no result")
)

// Error carries the upstream error payload alongside a failure kind sentinel.
// Callers branch on the kind with errors.Is and surface Code/Description to
// clients unchanged.
type Error struct {
	Kind        error
	Code        string
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newNetworkError(cause error) error {
	return &Error{Kind: ErrNetwork, Code: "network_error", Description: cause.Error()}
}

func newDecodeError(bodyPrefix string) error {
	return &Error{Kind: ErrDecode, Code: "invalid_json", Description: bodyPrefix}
}

func newFetchFailedError(code, description string) error {
	if code == "" {
		code = "no_result"
	}
	return &Error{Kind: ErrFetchFailed, Code: code, Description: description}
}
