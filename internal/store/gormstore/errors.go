package gormstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	constraintEntryIdempotency = "uniq_entries_user_idem"
	constraintGrantContent     = "uniq_grants_user_content"

	pgUniqueViolationCode       = "23505"
	pgSerializationFailureCode  = "40001"
	pgDeadlockDetectedCode      = "40P01"
	pgLockNotAvailableCode      = "55P03"
	pgConnectionExceptionPrefix = "08"
	pgAdminShutdownCode         = "57P01"
	pgCannotConnectNowCode      = "57P03"

	sqliteBusyCode                 = 5
	sqliteLockedCode               = 6
	sqliteConstraintUniqueCode     = 2067
	sqliteConstraintPrimaryKeyCode = 1555
	sqlitePrimaryCodeMask          = 0xFF
)

// classifyDriverError folds transient driver failures into the ledger sentinels.
// Errors that already carry a ledger sentinel pass through untouched.
func classifyDriverError(err error) error {
	if err == nil || errors.Is(err, ledger.ErrConcurrencyConflict) || errors.Is(err, ledger.ErrStoreUnavailable) {
		return err
	}
	switch {
	case isConcurrencyConflict(err):
		return fmt.Errorf("%w: %v", ledger.ErrConcurrencyConflict, err)
	case isUnavailable(err):
		return fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err)
	}
	return err
}

func isConcurrencyConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailureCode, pgDeadlockDetectedCode, pgLockNotAvailableCode:
			return true
		}
		return false
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & sqlitePrimaryCodeMask
		return code == sqliteBusyCode || code == sqliteLockedCode
	}
	return false
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) || pgconn.Timeout(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, pgConnectionExceptionPrefix) || pgErr.Code == pgAdminShutdownCode || pgErr.Code == pgCannotConnectNowCode
	}
	return false
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqliteConstraintUniqueCode || code == sqliteConstraintPrimaryKeyCode
	}
	return false
}
