package utils

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// Catalog error taxonomy. Repositories return these sentinels (wrapped or
// bare); the gateway translates them into stable wire codes via ErrorCode.
// Store-specific error shapes must never travel past the service layer.
var (
	ErrorRecordNotFound     = errors.New("record not found")
	ErrorDuplicate          = errors.New("duplicate record")
	ErrorImmutableField     = errors.New("immutable field")
	ErrorNoUpdate           = errors.New("no data provided to update")
	ErrorReferenceIntegrity = errors.New("reference integrity violated")
	ErrorTransactionAborted = errors.New("transaction aborted")
)

const (
	CodeNotFound           = "NOT_FOUND"
	CodeDuplicateKey       = "DUPLICATE_KEY"
	CodeImmutableField     = "IMMUTABLE_FIELD"
	CodeNoOp               = "NO_OP"
	CodeReferenceIntegrity = "REFERENCE_INTEGRITY"
	CodeTransactionAborted = "TRANSACTION_ABORTED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// ErrorCode maps a service-layer error to its client-facing code.
// Anything outside the taxonomy is an internal error and must be logged
// with full context server-side before being returned.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrorRecordNotFound):
		return CodeNotFound
	case errors.Is(err, ErrorDuplicate):
		return CodeDuplicateKey
	case errors.Is(err, ErrorImmutableField):
		return CodeImmutableField
	case errors.Is(err, ErrorNoUpdate):
		return CodeNoOp
	case errors.Is(err, ErrorReferenceIntegrity):
		return CodeReferenceIntegrity
	case errors.Is(err, ErrorTransactionAborted):
		return CodeTransactionAborted
	default:
		return CodeInternalError
	}
}

// MySQL server error numbers that matter to us.
const (
	mysqlErrDuplicateEntry = 1062
	mysqlErrLockWait       = 1205
	mysqlErrDeadlock       = 1213
)

func mysqlErrNumber(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// IsDuplicateKeyError reports whether err is the store's unique-index
// violation. The application-level uniqueness check runs first, but the
// index remains the last line of defense under concurrency.
func IsDuplicateKeyError(err error) bool {
	return mysqlErrNumber(err) == mysqlErrDuplicateEntry
}

// IsRetryableTxError reports whether the transaction failed on a transient
// write-write conflict and can be retried from the top.
func IsRetryableTxError(err error) bool {
	switch mysqlErrNumber(err) {
	case mysqlErrLockWait, mysqlErrDeadlock:
		return true
	}
	return false
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
