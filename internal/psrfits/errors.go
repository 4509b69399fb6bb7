package psrfits

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session errors. The numeric value doubles as the
// status code reported in session summaries.
type ErrorKind int

const (
	KindConfig      ErrorKind = iota + 1 // unsupported parameters, malformed names
	KindOpen                             // archive file missing or unreadable
	KindFieldDecode                      // one keyword or column could not be read
	KindFieldEncode                      // one keyword or column could not be written
	KindPayload                          // the sample payload of a row failed
)

// Sentinels matched by errors.Is against any *Error of the same kind
var (
	ErrConfig      = errors.New("configuration error")
	ErrOpen        = errors.New("open error")
	ErrFieldDecode = errors.New("field decode error")
	ErrFieldEncode = errors.New("field encode error")
	ErrPayload     = errors.New("payload error")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindConfig:
		return ErrConfig
	case KindOpen:
		return ErrOpen
	case KindFieldDecode:
		return ErrFieldDecode
	case KindFieldEncode:
		return ErrFieldEncode
	case KindPayload:
		return ErrPayload
	}
	return nil
}

func (k ErrorKind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return fmt.Sprintf("error kind %d", int(k))
}

// Error is the error type returned by sessions and the repacker
type Error struct {
	Kind  ErrorKind
	Op    string // operation, e.g. "open", "read row", "append"
	Path  string // file involved, if any
	Field string // keyword or column name, if any
	Err   error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Field != "" {
		msg += " [" + e.Field + "]"
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// StatusCode maps an error to the summary status code: 0 for nil, the
// error kind for session errors and -1 for anything else.
func StatusCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return int(e.Kind)
	}
	return -1
}

func configError(op string, format string, args ...interface{}) error {
	return &Error{Kind: KindConfig, Op: op, Err: fmt.Errorf(format, args...)}
}
