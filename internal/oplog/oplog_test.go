package oplog

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogOperationLevels(t *testing.T) {
	t.Parallel()
	userID, err := ledger.NewUserID("user-1")
	if err != nil {
		t.Fatalf("user id: %v", err)
	}
	testCases := []struct {
		name      string
		entry     ledger.OperationLog
		wantLevel zapcore.Level
	}{
		{
			name:      "success",
			entry:     ledger.OperationLog{Operation: ledger.OperationDebit, UserID: userID, Amount: 10, Status: ledger.OperationStatusOK},
			wantLevel: zapcore.InfoLevel,
		},
		{
			name: "insufficient balance",
			entry: ledger.OperationLog{
				Operation: ledger.OperationDebit,
				UserID:    userID,
				Amount:    10,
				Status:    ledger.OperationStatusError,
				Error:     ledger.InsufficientBalanceError{Required: 10, Available: 3},
			},
			wantLevel: zapcore.WarnLevel,
		},
		{
			name: "store failure",
			entry: ledger.OperationLog{
				Operation: ledger.OperationCredit,
				UserID:    userID,
				Status:    ledger.OperationStatusError,
				Error:     ledger.WrapError("store", "balance", "update", errors.Join(ledger.ErrStoreUnavailable, errors.New("dial tcp"))),
			},
			wantLevel: zapcore.ErrorLevel,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			core, logs := observer.New(zapcore.DebugLevel)
			New(zap.New(core)).LogOperation(context.Background(), testCase.entry)
			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("expected one log entry, got %d", len(entries))
			}
			if entries[0].Level != testCase.wantLevel {
				t.Fatalf("expected level %s, got %s", testCase.wantLevel, entries[0].Level)
			}
			fields := entries[0].ContextMap()
			if fields["operation"] != testCase.entry.Operation || fields["user_id"] != "user-1" {
				t.Fatalf("unexpected fields %v", fields)
			}
		})
	}
}

func TestLogOperationPurchaseFields(t *testing.T) {
	t.Parallel()
	ref, err := ledger.NewContentRef("series", "series-1")
	if err != nil {
		t.Fatalf("content ref: %v", err)
	}
	core, logs := observer.New(zapcore.InfoLevel)
	New(zap.New(core)).LogOperation(context.Background(), ledger.OperationLog{
		Operation: ledger.OperationPurchase,
		Content:   &ref,
		Amount:    350,
		Status:    ledger.OperationStatusOK,
		Outcome:   ledger.PurchaseStateCommitted.String(),
	})
	fields := logs.All()[0].ContextMap()
	if fields["content"] != "series:series-1" || fields["outcome"] != "committed" || fields["amount"] != int64(350) {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["user_id"]; ok {
		t.Fatalf("expected empty user id to be omitted")
	}
}

func TestNewWithNilLogger(t *testing.T) {
	t.Parallel()
	New(nil).LogOperation(context.Background(), ledger.OperationLog{Operation: ledger.OperationDebit})
}
