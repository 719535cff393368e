package batch

import (
	"errors"
	"fmt"
)

// ItemError carries an expected item failure and its error code through
// the processing middleware chain.
type ItemError struct {
	Code string
	Err  error
}

// NewItemError wraps err with an error code.
func NewItemError(err error, code string) *ItemError {
	return &ItemError{Code: code, Err: err}
}

func (e *ItemError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("item failed (%s)", e.Code)
	}
	return e.Err.Error()
}

func (e *ItemError) Unwrap() error { return e.Err }

// ErrorCode returns the code of an ItemError in err's chain, or
// ErrorCodeUnexpected for any other error.
func ErrorCode(err error) string {
	var ie *ItemError
	if errors.As(err, &ie) && ie.Code != "" {
		return ie.Code
	}
	return ErrorCodeUnexpected
}
