package command

import (
	"errors"
	"fmt"
)

// ErrorKind tags the Error union.
type ErrorKind int

const (
	WrongCommand ErrorKind = iota + 1
	InvalidValue
	MalformedJSON
	InvalidEncoding
)

func (k ErrorKind) String() string {
	switch k {
	case WrongCommand:
		return "wrong_command"
	case InvalidValue:
		return "invalid_value"
	case MalformedJSON:
		return "malformed_json"
	case InvalidEncoding:
		return "invalid_encoding"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

var (
	errMissingName  = errors.New("missing name")
	errMissingValue = errors.New("missing value")
)

// Error is a decode failure. Raw holds the offending payload (WrongCommand,
// MalformedJSON, InvalidEncoding) or the offending JSON value (InvalidValue).
type Error struct {
	Kind ErrorKind
	Raw  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("command %s: %v: %s", e.Kind, e.Err, e.Raw)
	case e.Raw != "":
		return fmt.Sprintf("command %s: %s", e.Kind, e.Raw)
	default:
		return "command " + e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the diagnostic published on the error topic.
func (e *Error) Message() string {
	switch e.Kind {
	case InvalidValue:
		return "missing or wrong value"
	case MalformedJSON:
		return "invalid JSON"
	case InvalidEncoding:
		return "invalid encoding ( utf8 parsing failed )"
	case WrongCommand:
		if errors.Is(e.Err, errMissingValue) {
			return "missing or wrong value"
		}
		return "unknown command"
	default:
		return "unknown error"
	}
}
