package optimization

import (
	"errors"
	"fmt"
)

// Error codes carried by InputError.
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeMissingParameter = "MISSING_PARAMETER"
	CodeParseError       = "PARSE_ERROR"
)

var (
	// ErrInvalidInput matches every input error.
	ErrInvalidInput = errors.New("invalid optimizer input")
	// ErrMissingParameter matches input errors for absent keys.
	ErrMissingParameter = errors.New("missing parameter")
	// ErrParse matches input errors for non-numeric values.
	ErrParse = errors.New("parse error")
	// ErrTimeout is returned by Service.Run when the caller's deadline fires first.
	ErrTimeout = errors.New("optimization timed out")
)

// InputError rejects a bundle before the solver runs.
type InputError struct {
	Code    string `json:"code" msgpack:"code"`
	Key     string `json:"key,omitempty" msgpack:"key,omitempty"`
	Message string `json:"message" msgpack:"message"`
}

func (e *InputError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is lets errors.Is match the sentinel for the error's code. Every code also
// matches ErrInvalidInput.
func (e *InputError) Is(target error) bool {
	switch target {
	case ErrInvalidInput:
		return true
	case ErrMissingParameter:
		return e.Code == CodeMissingParameter
	case ErrParse:
		return e.Code == CodeParseError
	}
	return false
}

func invalidInput(format string, args ...interface{}) *InputError {
	return &InputError{Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func missingParameter(key string) *InputError {
	return &InputError{Code: CodeMissingParameter, Key: key, Message: fmt.Sprintf("did not find %s in data map", key)}
}

func parseError(key, value string) *InputError {
	return &InputError{Code: CodeParseError, Key: key, Message: fmt.Sprintf("value %q is not a finite number", value)}
}

// AsInputError unwraps err to an *InputError if it is one.
func AsInputError(err error) (*InputError, bool) {
	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return inputErr, true
	}
	return nil, false
}
