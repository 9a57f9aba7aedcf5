package utils_test

import (
	"errors"
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/catalog_backend/utils"
	"github.com/go-sql-driver/mysql"
)

func TestErrorCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"not found", utils.ErrorRecordNotFound, utils.CodeNotFound},
		{"not found wrapped", fmt.Errorf("category: %w", utils.ErrorRecordNotFound), utils.CodeNotFound},
		{"duplicate", utils.ErrorDuplicate, utils.CodeDuplicateKey},
		{"immutable wrapped", fmt.Errorf("categoryCode: %w", utils.ErrorImmutableField), utils.CodeImmutableField},
		{"no update", utils.ErrorNoUpdate, utils.CodeNoOp},
		{"reference integrity", utils.ErrorReferenceIntegrity, utils.CodeReferenceIntegrity},
		{"tx aborted wrapped", fmt.Errorf("%w: deadlock", utils.ErrorTransactionAborted), utils.CodeTransactionAborted},
		{"unknown", errors.New("driver: bad connection"), utils.CodeInternalError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := utils.ErrorCode(c.err); got != c.want {
				t.Fatalf("ErrorCode(%v) = %q; want %q", c.err, got, c.want)
			}
		})
	}
}

func TestIsDuplicateKeyError(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'BEV' for key 'idx_category_code'"}
	if !utils.IsDuplicateKeyError(dup) {
		t.Fatal("expected 1062 to be a duplicate key error")
	}
	if !utils.IsDuplicateKeyError(fmt.Errorf("insert failed: %w", dup)) {
		t.Fatal("expected wrapped 1062 to be a duplicate key error")
	}
	if utils.IsDuplicateKeyError(&mysql.MySQLError{Number: 1213}) {
		t.Fatal("1213 is not a duplicate key error")
	}
	if utils.IsDuplicateKeyError(errors.New("duplicate")) {
		t.Fatal("plain errors are not duplicate key errors")
	}
	if utils.IsDuplicateKeyError(nil) {
		t.Fatal("nil is not a duplicate key error")
	}
}

func TestIsRetryableTxError(t *testing.T) {
	if !utils.IsRetryableTxError(&mysql.MySQLError{Number: 1213}) {
		t.Fatal("deadlock should be retryable")
	}
	if !utils.IsRetryableTxError(fmt.Errorf("commit: %w", &mysql.MySQLError{Number: 1205})) {
		t.Fatal("lock wait timeout should be retryable")
	}
	if utils.IsRetryableTxError(&mysql.MySQLError{Number: 1062}) {
		t.Fatal("duplicate entry is not retryable by itself")
	}
	if utils.IsRetryableTxError(errors.New("deadlock found")) {
		t.Fatal("plain errors are not retryable")
	}
}
