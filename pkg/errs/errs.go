// Package errs defines the error taxonomy shared by every chatmem
// component. It mirrors a classic runtime_error/bad_exception class
// hierarchy as a flat Kind enum plus a static ancestry table, so that
// errors.Is(err, errs.ErrBadDatabase) matches any more specific database
// error the same way a catch(bad_database&) would catch a thrown
// sqlite_extension_error.
package errs

import (
	"fmt"
	"runtime"
)

// Kind identifies a position in the error hierarchy.
type Kind int

const (
	Unknown Kind = iota
	RuntimeError
	BadException
	BadFunctionCall
	BadStmt
	StmtCallError
	StmtBindError
	StmtResetError
	BadTransaction
	BadDatabase
	SQLiteCallError
	SQLiteExtensionError
	InvalidArgument
	LengthError
	OutOfRange
	OverflowError
	BadAlloc
)

var kindNames = map[Kind]string{
	Unknown:               "unknown",
	RuntimeError:          "runtime_error",
	BadException:          "bad_exception",
	BadFunctionCall:       "bad_function_call",
	BadStmt:               "bad_stmt",
	StmtCallError:         "stmt_call_error",
	StmtBindError:         "stmt_bind_error",
	StmtResetError:        "stmt_reset_error",
	BadTransaction:        "bad_transaction",
	BadDatabase:           "bad_database",
	SQLiteCallError:       "sqlite_call_error",
	SQLiteExtensionError:  "sqlite_extension_error",
	InvalidArgument:       "invalid_argument",
	LengthError:           "length_error",
	OutOfRange:            "out_of_range",
	OverflowError:         "overflow_error",
	BadAlloc:              "bad_alloc",
}

// parent records the immediate ancestor of each Kind, reproducing the
// hierarchy: runtime_error -> bad_exception -> {bad_function_call,
// bad_stmt -> {stmt_call_error, stmt_bind_error, stmt_reset_error},
// bad_transaction, bad_database -> {sqlite_call_error ->
// sqlite_extension_error}, invalid_argument, length_error,
// out_of_range -> overflow_error, bad_alloc}.
var parent = map[Kind]Kind{
	RuntimeError:         Unknown,
	BadException:         RuntimeError,
	BadFunctionCall:      BadException,
	BadStmt:              BadException,
	StmtCallError:        BadStmt,
	StmtBindError:        BadStmt,
	StmtResetError:       BadStmt,
	BadTransaction:       BadException,
	BadDatabase:          BadException,
	SQLiteCallError:      BadDatabase,
	SQLiteExtensionError: SQLiteCallError,
	InvalidArgument:      BadException,
	LengthError:          BadException,
	OutOfRange:           BadException,
	OverflowError:        OutOfRange,
	BadAlloc:             BadException,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(?)"
}

// Is reports whether k is target or target is an ancestor of k.
func (k Kind) Is(target Kind) bool {
	for cur := k; ; {
		if cur == target {
			return true
		}
		p, ok := parent[cur]
		if !ok {
			return false
		}
		cur = p
	}
}

// Error is the concrete error type every chatmem component returns.
type Error struct {
	Op   string // operation that failed, e.g. "table.add"
	Kind Kind
	Err  error
	file string
	line int
}

// New builds an *Error, capturing the call site for diagnostics.
func New(kind Kind, op string, err error) *Error {
	e := &Error{Op: op, Kind: kind, Err: err}
	if _, file, line, ok := runtime.Caller(1); ok {
		e.file, e.line = file, line
	}
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Location returns the file:line captured when the error was created.
func (e *Error) Location() string {
	return fmt.Sprintf("%s:%d", e.file, e.line)
}

// Is lets errors.Is(err, errs.ErrBadDatabase) match any *Error whose Kind
// descends from the target sentinel Kinds below.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	if other.Err != nil {
		return false
	}
	return e.Kind.Is(other.Kind)
}

// sentinel returns a bare *Error carrying only a Kind, usable as an
// errors.Is match target: errors.Is(err, errs.ErrBadDatabase).
func sentinel(k Kind) *Error { return &Error{Kind: k} }

var (
	ErrRuntime          = sentinel(RuntimeError)
	ErrBadException     = sentinel(BadException)
	ErrBadFunctionCall  = sentinel(BadFunctionCall)
	ErrBadStmt          = sentinel(BadStmt)
	ErrStmtCallError    = sentinel(StmtCallError)
	ErrStmtBindError    = sentinel(StmtBindError)
	ErrStmtResetError   = sentinel(StmtResetError)
	ErrBadTransaction   = sentinel(BadTransaction)
	ErrBadDatabase      = sentinel(BadDatabase)
	ErrSQLiteCall       = sentinel(SQLiteCallError)
	ErrSQLiteExtension  = sentinel(SQLiteExtensionError)
	ErrInvalidArgument  = sentinel(InvalidArgument)
	ErrLengthError      = sentinel(LengthError)
	ErrOutOfRange       = sentinel(OutOfRange)
	ErrOverflow         = sentinel(OverflowError)
	ErrBadAlloc         = sentinel(BadAlloc)
)
