// Package oplog writes ledger operation callbacks to a zap logger.
package oplog

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"go.uber.org/zap"
)

const logMessage = "ledger operation"

var expectedFailures = []error{
	ledger.ErrInsufficientBalance,
	ledger.ErrBelowMinimumWithdrawal,
	ledger.ErrInvalidAmount,
	ledger.ErrInvalidUserID,
	ledger.ErrInvalidContentID,
	ledger.ErrInvalidContentType,
	ledger.ErrInvalidEntryKind,
	ledger.ErrInvalidIdempotencyKey,
	ledger.ErrInvalidMetadataJSON,
	ledger.ErrInvalidPayoutMethod,
	ledger.ErrAccountNotFound,
	ledger.ErrContentNotFound,
	ledger.ErrContentInactive,
	ledger.ErrDuplicateIdempotencyKey,
	ledger.ErrUnknownWithdrawal,
	ledger.ErrWithdrawalClosed,
}

// Logger implements ledger.OperationLogger.
type Logger struct {
	logger *zap.Logger
}

// New returns a Logger writing to logger. A nil logger discards everything.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger}
}

func (operationLogger *Logger) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.UserID.IsZero() {
		fields = append(fields, zap.String("user_id", entry.UserID.String()))
	}
	if entry.Amount > 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount.Int64()))
	}
	if entry.Kind != "" {
		fields = append(fields, zap.String("kind", entry.Kind.String()))
	}
	if entry.Content != nil {
		fields = append(fields, zap.String("content", entry.Content.String()))
	}
	if !entry.IdempotencyKey.IsZero() {
		fields = append(fields, zap.String("idempotency_key", entry.IdempotencyKey.String()))
	}
	if entry.Outcome != "" {
		fields = append(fields, zap.String("outcome", entry.Outcome))
	}
	if entry.Error == nil {
		operationLogger.logger.Info(logMessage, fields...)
		return
	}
	fields = append(fields, zap.Error(entry.Error))
	if isExpected(entry.Error) {
		operationLogger.logger.Warn(logMessage, fields...)
		return
	}
	operationLogger.logger.Error(logMessage, fields...)
}

func isExpected(err error) bool {
	for _, target := range expectedFailures {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
