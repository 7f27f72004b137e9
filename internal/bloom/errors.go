package bloom

import "errors"

// Code classifies every failure the filter can report. The set is closed:
// callers can switch over it exhaustively.
type Code uint8

const (
	Success Code = iota
	OutOfMemory
	OpenFailed
	ReadFailed
	WriteFailed
	StatFailed
	InvalidFormat
	InvalidArgument
	StackLimit

	// unknownCode is what CodeOf reports for foreign errors.
	unknownCode Code = 0xff
)

// String returns the human-readable message for c.
func (c Code) String() string {
	switch c {
	case Success:
		return "Success"
	case OutOfMemory:
		return "Out of memory"
	case OpenFailed:
		return "Unable to open file"
	case ReadFailed:
		return "Unable to read file"
	case WriteFailed:
		return "Unable to write to file"
	case StatFailed:
		return "Unable to stat file"
	case InvalidFormat:
		return "Invalid file format"
	case InvalidArgument:
		return "Invalid argument"
	case StackLimit:
		return "Maximum stack count reached"
	default:
		return "Unknown error"
	}
}

// Error is the concrete error type returned by this package. Op names the
// failing operation ("init", "grow", "save", ...), Path is set for file
// operations and Err carries the underlying cause, if any.
type Error struct {
	Code Code
	Op   string
	Path string
	Err  error
}

// Sentinels for errors.Is. Matching is by Code only, so
// errors.Is(err, ErrInvalidFormat) holds for any *Error with that code.
var (
	ErrOutOfMemory     = &Error{Code: OutOfMemory}
	ErrOpen            = &Error{Code: OpenFailed}
	ErrRead            = &Error{Code: ReadFailed}
	ErrWrite           = &Error{Code: WriteFailed}
	ErrStat            = &Error{Code: StatFailed}
	ErrInvalidFormat   = &Error{Code: InvalidFormat}
	ErrInvalidArgument = &Error{Code: InvalidArgument}
	ErrStackLimit      = &Error{Code: StackLimit}
)

func (e *Error) Error() string {
	msg := "bloom: "
	switch {
	case e.Op != "" && e.Path != "":
		msg += e.Op + " " + e.Path + ": "
	case e.Op != "":
		msg += e.Op + ": "
	case e.Path != "":
		msg += e.Path + ": "
	}
	msg += e.Code.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the Code carried by err. A nil error is Success; an error
// that did not originate in this package maps to a code whose message is
// "Unknown error".
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return unknownCode
}

// Strerror returns the message for err's Code.
func Strerror(err error) string {
	return CodeOf(err).String()
}

func newError(code Code, op, path string, err error) *Error {
	return &Error{Code: code, Op: op, Path: path, Err: err}
}
