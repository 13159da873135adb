package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCountsOperations(t *testing.T) {
	t.Parallel()
	recorder, err := NewRecorder(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()
	recorder.LogOperation(ctx, ledger.OperationLog{Operation: ledger.OperationDebit, Amount: 40, Status: ledger.OperationStatusOK})
	recorder.LogOperation(ctx, ledger.OperationLog{Operation: ledger.OperationDebit, Amount: 60, Status: ledger.OperationStatusOK})
	recorder.LogOperation(ctx, ledger.OperationLog{
		Operation: ledger.OperationDebit,
		Amount:    500,
		Status:    ledger.OperationStatusError,
		Error:     ledger.ErrInsufficientBalance,
	})

	if got := testutil.ToFloat64(recorder.operations.WithLabelValues(ledger.OperationDebit, ledger.OperationStatusOK)); got != 2 {
		t.Fatalf("expected 2 ok debits, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.operations.WithLabelValues(ledger.OperationDebit, ledger.OperationStatusError)); got != 1 {
		t.Fatalf("expected 1 failed debit, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.coinsMoved.WithLabelValues(ledger.OperationDebit)); got != 100 {
		t.Fatalf("expected 100 coins moved, got %v", got)
	}
}

func TestRecorderCountsTerminalPurchaseStates(t *testing.T) {
	t.Parallel()
	recorder, err := NewRecorder(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()
	for _, entry := range []ledger.OperationLog{
		{Operation: ledger.OperationPurchase, Status: ledger.OperationStatusOK, Outcome: ledger.PurchaseStateCommitted.String(), Amount: 100},
		{Operation: ledger.OperationPurchase, Status: ledger.OperationStatusOK, Outcome: ledger.PurchaseStateAlreadyOwned.String()},
		{Operation: ledger.OperationPurchase, Status: ledger.OperationStatusError, Outcome: ledger.PurchaseStateInsufficientFunds.String(), Error: ledger.ErrInsufficientBalance},
		{Operation: ledger.OperationPurchase, Status: ledger.OperationStatusError, Outcome: ledger.PurchaseStateRequested.String(), Error: errors.New("catalog down")},
	} {
		recorder.LogOperation(ctx, entry)
	}

	for state, want := range map[ledger.PurchaseState]float64{
		ledger.PurchaseStateCommitted:         1,
		ledger.PurchaseStateAlreadyOwned:      1,
		ledger.PurchaseStateInsufficientFunds: 1,
		ledger.PurchaseStateRequested:         0,
	} {
		if got := testutil.ToFloat64(recorder.purchases.WithLabelValues(state.String())); got != want {
			t.Fatalf("state %s: expected %v, got %v", state, want, got)
		}
	}
}

func TestNewRecorderRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	if _, err := NewRecorder(registry); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewRecorder(registry); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
