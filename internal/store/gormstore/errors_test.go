package gormstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestClassifyDriverError(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name   string
		err    error
		target error
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: pgSerializationFailureCode}, target: ledger.ErrConcurrencyConflict},
		{name: "deadlock", err: fmt.Errorf("exec: %w", &pgconn.PgError{Code: pgDeadlockDetectedCode}), target: ledger.ErrConcurrencyConflict},
		{name: "lock not available", err: &pgconn.PgError{Code: pgLockNotAvailableCode}, target: ledger.ErrConcurrencyConflict},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, target: ledger.ErrStoreUnavailable},
		{name: "admin shutdown", err: &pgconn.PgError{Code: pgAdminShutdownCode}, target: ledger.ErrStoreUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, target: ledger.ErrStoreUnavailable},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			classified := classifyDriverError(testCase.err)
			if !errors.Is(classified, testCase.target) {
				t.Fatalf("expected %v, got %v", testCase.target, classified)
			}
			if !ledger.IsRetryable(classified) {
				t.Fatalf("expected %v to be retryable", classified)
			}
		})
	}
}

func TestClassifyDriverErrorLeavesOtherErrorsAlone(t *testing.T) {
	t.Parallel()
	for _, err := range []error{
		nil,
		ledger.ErrInsufficientBalance,
		&pgconn.PgError{Code: pgUniqueViolationCode},
		errors.New("syntax error"),
	} {
		classified := classifyDriverError(err)
		if classified != err {
			t.Fatalf("expected %v to pass through, got %v", err, classified)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()
	if !isUniqueViolation(&pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintGrantContent}, constraintGrantContent) {
		t.Fatalf("expected grant constraint violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: "accounts_pkey"}, constraintGrantContent) {
		t.Fatalf("expected other constraint to be ignored")
	}
	if !isUniqueViolation(gorm.ErrDuplicatedKey, constraintEntryIdempotency) {
		t.Fatalf("expected translated duplicate key")
	}
	if isUniqueViolation(nil, constraintEntryIdempotency) {
		t.Fatalf("expected nil to be no violation")
	}
}

func TestWrapStoreErrorKeepsSentinel(t *testing.T) {
	t.Parallel()
	wrapped := wrapStoreError(errorSubjectGrant, errorCodeDuplicate, ledger.ErrDuplicateGrant)
	var operationError ledger.OperationError
	if !errors.As(wrapped, &operationError) {
		t.Fatalf("expected OperationError, got %T", wrapped)
	}
	if operationError.Operation() != errorOperationStore || operationError.Subject() != errorSubjectGrant || operationError.Code() != errorCodeDuplicate {
		t.Fatalf("unexpected operation error %v", operationError)
	}
	if !errors.Is(wrapped, ledger.ErrDuplicateGrant) {
		t.Fatalf("expected ErrDuplicateGrant in chain")
	}
}
