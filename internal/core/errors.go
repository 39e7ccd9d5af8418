package core

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies engine failures.
type Kind int

const (
	KindSchemaMismatch Kind = iota + 1
	KindRowShape
	KindUnresolvableReference
	KindInvalidValue
	KindConstraintViolation
	KindReferentialConflict
	KindNotFound
)

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrSchemaMismatch        = errors.New("schema mismatch")
	ErrRowShape              = errors.New("row shape error")
	ErrUnresolvableReference = errors.New("unresolvable reference")
	ErrInvalidValue          = errors.New("invalid value")
	ErrConstraintViolation   = errors.New("constraint violation")
	ErrReferentialConflict   = errors.New("referential conflict")
	ErrNotFound              = errors.New("not found")
)

// ErrDuplicateKey is wrapped by the ConstraintViolation a store returns when
// an insert collides with an existing natural key.
var ErrDuplicateKey = errors.New("duplicate key")

func (k Kind) sentinel() error {
	switch k {
	case KindSchemaMismatch:
		return ErrSchemaMismatch
	case KindRowShape:
		return ErrRowShape
	case KindUnresolvableReference:
		return ErrUnresolvableReference
	case KindInvalidValue:
		return ErrInvalidValue
	case KindConstraintViolation:
		return ErrConstraintViolation
	case KindReferentialConflict:
		return ErrReferentialConflict
	case KindNotFound:
		return ErrNotFound
	}
	return nil
}

// String returns the kind name used in API responses.
func (k Kind) String() string {
	switch k {
	case KindSchemaMismatch:
		return "SchemaMismatch"
	case KindRowShape:
		return "RowShapeError"
	case KindUnresolvableReference:
		return "UnresolvableReference"
	case KindInvalidValue:
		return "InvalidValue"
	case KindConstraintViolation:
		return "ConstraintViolation"
	case KindReferentialConflict:
		return "ReferentialConflict"
	case KindNotFound:
		return "NotFound"
	}
	return "Unknown"
}

// Error is a classified engine failure carrying enough location detail for
// the caller to act: which sheet/row/field, or which referencing entity.
type Error struct {
	Kind  Kind
	Table TableID
	Sheet string
	Row   int    // spreadsheet row number, 0 when not row-specific
	Field string // column name
	Ref   string // referencing or referenced entity
	Msg   string

	// Retryable marks store conflicts that clear on their own (deadlock,
	// serialization failure) as opposed to ones the caller must fix.
	Retryable bool

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.sentinel().Error())

	var loc []string
	if e.Table != "" {
		loc = append(loc, "table "+string(e.Table))
	}
	if e.Sheet != "" {
		loc = append(loc, fmt.Sprintf("sheet %q", e.Sheet))
	}
	if e.Row > 0 {
		loc = append(loc, fmt.Sprintf("row %d", e.Row))
	}
	if e.Field != "" {
		loc = append(loc, "field "+e.Field)
	}
	if len(loc) > 0 {
		b.WriteString(" (" + strings.Join(loc, ", ") + ")")
	}
	if e.Msg != "" {
		b.WriteString(": " + e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// NotFound builds a NotFound error for a table row.
func NotFound(table TableID, key Key) *Error {
	return &Error{Kind: KindNotFound, Table: table, Ref: key.String(), Msg: fmt.Sprintf("%s %q does not exist", table, key.String())}
}

// Invalid builds an InvalidValue error for a column.
func Invalid(table TableID, field, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidValue, Table: table, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Conflict builds a ConstraintViolation wrapping a store error.
func Conflict(table TableID, err error, retryable bool) *Error {
	return &Error{Kind: KindConstraintViolation, Table: table, Err: err, Retryable: retryable}
}

// Duplicate builds the ConstraintViolation for an existing natural key.
func Duplicate(table TableID, key Key) *Error {
	return &Error{
		Kind:  KindConstraintViolation,
		Table: table,
		Ref:   key.String(),
		Msg:   fmt.Sprintf("%s %q already exists", table, key.String()),
		Err:   ErrDuplicateKey,
	}
}

// withRow fills the sheet location on an *Error that lacks one.
func withRow(err error, sheet string, row int) error {
	if e, ok := AsError(err); ok && e.Sheet == "" && e.Row == 0 {
		e.Sheet = sheet
		e.Row = row
	}
	return err
}
