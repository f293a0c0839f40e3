package engine

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrorKind classifies a failure per the engine's error taxonomy.
type ErrorKind int

const (
	ParseError ErrorKind = iota
	ArityError
	InvalidReference
	TautologyError
	UnresolvedConstant
	InvalidModify
	CorruptInput
	IOError
)

func (k ErrorKind) String() string {
	switch k {
	case ParseError:
		return "ParseError"
	case ArityError:
		return "ArityError"
	case InvalidReference:
		return "InvalidReference"
	case TautologyError:
		return "TautologyError"
	case UnresolvedConstant:
		return "UnresolvedConstant"
	case InvalidModify:
		return "InvalidModify"
	case CorruptInput:
		return "CorruptInput"
	case IOError:
		return "IOError"
	default:
		return "Unknown"
	}
}

// Error is one collected parse/validation failure.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Msg
}

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: errors.Errorf(format, args...).Error()}
}

// ErrorList is an append-only collector. Per design note (a), this replaces
// the source tool's single overwritten error buffer: every validation
// failure the builder finds is retained and reported together.
type ErrorList struct {
	errs []*Error
}

func (l *ErrorList) Add(kind ErrorKind, format string, args ...interface{}) {
	l.errs = append(l.errs, newError(kind, format, args...))
}

func (l *ErrorList) Empty() bool { return len(l.errs) == 0 }

func (l *ErrorList) Errors() []*Error { return l.errs }

func (l *ErrorList) Error() string {
	parts := make([]string, len(l.errs))
	for i, e := range l.errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Err returns an error representing all collected failures, or nil if the
// list is empty. Callers use this as a standard Go error return.
func (l *ErrorList) Err() error {
	if l.Empty() {
		return nil
	}
	return l
}
