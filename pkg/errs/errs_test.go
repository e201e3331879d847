package errs

import (
	"errors"
	"testing"
)

func TestKindIsAncestry(t *testing.T) {
	if !SQLiteExtensionError.Is(BadDatabase) {
		t.Fatal("sqlite_extension_error should descend from bad_database")
	}
	if !StmtBindError.Is(BadException) {
		t.Fatal("stmt_bind_error should descend from bad_exception")
	}
	if OverflowError.Is(BadTransaction) {
		t.Fatal("overflow_error should not descend from bad_transaction")
	}
}

func TestErrorsIsMatchesAncestor(t *testing.T) {
	err := New(SQLiteExtensionError, "database.open", errors.New("load_extension failed"))
	if !errors.Is(err, ErrBadDatabase) {
		t.Fatal("errors.Is should match the ancestor sentinel")
	}
	if errors.Is(err, ErrBadTransaction) {
		t.Fatal("errors.Is should not match an unrelated sentinel")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := New(BadAlloc, "table.add", cause)
	if !errors.Is(err, cause) {
		t.Fatal("Unwrap should expose the wrapped cause")
	}
}
