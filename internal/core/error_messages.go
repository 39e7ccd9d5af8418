package core

// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// Classified engine errors (*Error) map by kind first; anything else falls
// back to pattern matching on the error text.
//
// # Ingestion Errors (ING001-ING099)
//
//	ING001 - Schema mismatch: sheet headers match no known table
//	         Action: Compare the sheet headers with GET /api/tables
//
//	ING002 - Row shape: a data row has a different cell count than its header
//	         Action: Fix the row so every header has exactly one cell
//
//	ING003 - Unresolvable reference: a row points at a parent that cannot be found
//	         Action: Fill in the missing identifier or upload the parent first
//
// # Referential Errors (REF001-REF099)
//
//	REF001 - Referential conflict: the record is still referenced
//	         Action: Remove the reference from the named configuration first
//
//	REF002 - Not found: the requested record does not exist
//	         Action: Check the id and try again
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: a record with this ID already exists
//	DB003 - Constraint: the store rejected the write
//	DB004 - Connection refused
//	DB005 - Connection reset
//	DB006 - Timeout
//	DB007 - Busy: conflicting concurrent writes, safe to retry
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid value: a cell or field failed validation
//	VAL002 - Invalid number
//	VAL003 - Invalid JSON body
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - File too large
//	UPL002 - System busy: too many ingestions in progress
//	UPL003 - Invalid workbook
//	UPL004 - Request cancelled
//	UPL005 - Request timeout
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: check application logs for the technical error
//
// Error patterns are matched case-insensitively using strings.Contains.
// The first matching pattern wins, so more specific patterns are defined
// before general ones.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var kindMessages = map[Kind]UserMessage{
	KindSchemaMismatch: {
		Message: "Sheet headers do not match any known table",
		Action:  "Compare the sheet headers with the table catalog",
		Code:    "ING001",
	},
	KindRowShape: {
		Message: "A row has a different number of cells than the header",
		Action:  "Fix the row so every header has exactly one cell",
		Code:    "ING002",
	},
	KindUnresolvableReference: {
		Message: "A referenced record could not be found",
		Action:  "Fill in the missing identifier or create the referenced record first",
		Code:    "ING003",
	},
	KindInvalidValue: {
		Message: "A value failed validation",
		Action:  "Correct the named field and try again",
		Code:    "VAL001",
	},
	KindReferentialConflict: {
		Message: "The record is still referenced",
		Action:  "Remove the reference from the named configuration first",
		Code:    "REF001",
	},
	KindNotFound: {
		Message: "The requested record does not exist",
		Action:  "Check the id and try again",
		Code:    "REF002",
	},
}

var (
	duplicateMessage = UserMessage{
		Message: "A record with this ID already exists",
		Action:  "Use a different id or update the existing record",
		Code:    "DB001",
	}
	constraintMessage = UserMessage{
		Message: "The database rejected the write",
		Action:  "Check the batch for conflicting values and try again",
		Code:    "DB003",
	}
	busyMessage = UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so order matters.
var errorPatterns = []errorPattern{
	{
		pattern: "duplicate key",
		msg:     duplicateMessage,
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Ensure parent records exist first",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "deadlock",
		msg:     busyMessage,
	},
	{
		pattern: "too many uploads",
		msg: UserMessage{
			Message: "Too many uploads in progress",
			Action:  "Please wait a moment and try again",
			Code:    "UPL002",
		},
	},
	{
		pattern: "request body too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the workbook into smaller uploads",
			Code:    "UPL001",
		},
	},
	{
		pattern: "invalid workbook",
		msg: UserMessage{
			Message: "The file is not a readable .xlsx workbook",
			Action:  "Save the file as .xlsx and upload again",
			Code:    "UPL003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller batch or check your connection",
			Code:    "UPL005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller batch or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "invalid json",
		msg: UserMessage{
			Message: "Request body is not valid JSON",
			Action:  "Check the request body format",
			Code:    "VAL003",
		},
	},
	{
		pattern: "invalid number",
		msg: UserMessage{
			Message: "Invalid number format detected",
			Action:  "Remove symbols and use standard decimal format",
			Code:    "VAL002",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Classified errors map by kind; others by the first matching pattern.
// If nothing matches, a generic fallback with code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if e, ok := AsError(err); ok {
		if e.Kind == KindConstraintViolation {
			switch {
			case errors.Is(err, ErrDuplicateKey):
				return duplicateMessage
			case e.Retryable:
				return busyMessage
			}
			return constraintMessage
		}
		if msg, ok := kindMessages[e.Kind]; ok {
			return msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
