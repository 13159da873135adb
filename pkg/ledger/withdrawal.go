package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalPolicy holds the persisted coin conversion constants.
// They gate minimum payouts and display only; ledger math stays in coins.
type WithdrawalPolicy struct {
	CoinsPerCurrencyUnit int64
	MinimumCurrencyUnits int64
}

// Validate rejects non-positive conversion rates and negative minimums.
func (policy WithdrawalPolicy) Validate() error {
	if policy.CoinsPerCurrencyUnit <= 0 {
		return fmt.Errorf("%w: coins per currency unit must be positive", ErrInvalidServiceConfig)
	}
	if policy.MinimumCurrencyUnits < 0 {
		return fmt.Errorf("%w: minimum withdrawal must not be negative", ErrInvalidServiceConfig)
	}
	return nil
}

// ToCurrency converts coins into currency units.
func (policy WithdrawalPolicy) ToCurrency(coins Coins) decimal.Decimal {
	return decimal.NewFromInt(coins.Int64()).Div(decimal.NewFromInt(policy.CoinsPerCurrencyUnit))
}

// MinimumCoins is the smallest withdrawal in coins.
func (policy WithdrawalPolicy) MinimumCoins() Coins {
	return Coins(policy.MinimumCurrencyUnits * policy.CoinsPerCurrencyUnit)
}

// WithdrawalRequest is a creator's payout request.
type WithdrawalRequest struct {
	CreatorID      UserID
	Coins          Coins
	Method         PayoutMethod
	AccountDetails MetadataJSON
}

// WithdrawalReceipt is the reserved payout with its currency value.
type WithdrawalReceipt struct {
	Withdrawal     Withdrawal
	CurrencyAmount decimal.Decimal
	NewBalance     Coins
}

// WithdrawalProcessor reserves creator earnings for external settlement.
type WithdrawalProcessor struct {
	service *Service
	policy  WithdrawalPolicy
}

// NewWithdrawalProcessor wires a WithdrawalProcessor.
func NewWithdrawalProcessor(service *Service, policy WithdrawalPolicy) (*WithdrawalProcessor, error) {
	if service == nil {
		return nil, fmt.Errorf("%w: service dependency is nil", ErrInvalidServiceConfig)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &WithdrawalProcessor{service: service, policy: policy}, nil
}

// Policy returns the conversion constants in use.
func (processor *WithdrawalProcessor) Policy() WithdrawalPolicy {
	return processor.policy
}

// RequestWithdrawal debits the creator at request time and records a pending payout.
func (processor *WithdrawalProcessor) RequestWithdrawal(ctx context.Context, request WithdrawalRequest) (WithdrawalReceipt, error) {
	receipt, err := processor.requestWithdrawal(ctx, request)
	processor.service.logOperation(ctx, OperationLog{
		Operation: OperationWithdraw,
		UserID:    request.CreatorID,
		Amount:    request.Coins,
		Kind:      EntryKindWithdraw,
		Error:     err,
	})
	return receipt, err
}

func (processor *WithdrawalProcessor) requestWithdrawal(ctx context.Context, request WithdrawalRequest) (WithdrawalReceipt, error) {
	if request.CreatorID.IsZero() {
		return WithdrawalReceipt{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if request.Coins <= 0 {
		return WithdrawalReceipt{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if _, err := ParsePayoutMethod(request.Method.String()); err != nil {
		return WithdrawalReceipt{}, err
	}
	if processor.policy.ToCurrency(request.Coins).LessThan(decimal.NewFromInt(processor.policy.MinimumCurrencyUnits)) {
		return WithdrawalReceipt{}, BelowMinimumError{Requested: request.Coins, Minimum: processor.policy.MinimumCoins()}
	}

	withdrawalID := uuid.NewString()
	idempotencyKey, err := deriveIdempotencyKey(idempotencyPrefixDraw, withdrawalID)
	if err != nil {
		return WithdrawalReceipt{}, err
	}
	metadata, err := withdrawalMetadata(withdrawalID, request.Method)
	if err != nil {
		return WithdrawalReceipt{}, err
	}

	var receipt WithdrawalReceipt
	err = processor.service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		result, err := processor.service.applyMutation(ctx, transactionStore, mutationPlan{
			request: MutationRequest{
				UserID:         request.CreatorID,
				Amount:         request.Coins,
				Kind:           EntryKindWithdraw,
				IdempotencyKey: idempotencyKey,
				Description:    fmt.Sprintf("withdrawal via %s", request.Method),
				Metadata:       metadata,
			},
			direction: DirectionDebit,
			status:    EntryStatusPending,
			withdrawn: true,
		})
		if err != nil {
			return err
		}
		withdrawal := Withdrawal{
			WithdrawalID:   withdrawalID,
			UserID:         request.CreatorID,
			EntryID:        result.Entry.EntryID,
			Coins:          request.Coins,
			Method:         request.Method,
			AccountDetails: request.AccountDetails,
			Status:         EntryStatusPending,
			CreatedAt:      result.Entry.CreatedAt,
		}
		if err := transactionStore.InsertWithdrawal(ctx, withdrawal); err != nil {
			return err
		}
		receipt = WithdrawalReceipt{
			Withdrawal:     withdrawal,
			CurrencyAmount: processor.policy.ToCurrency(request.Coins),
			NewBalance:     result.NewBalance,
		}
		return nil
	})
	if err != nil {
		return WithdrawalReceipt{}, err
	}
	return receipt, nil
}

// CompleteWithdrawal marks a pending payout and its ledger entry as settled.
func (processor *WithdrawalProcessor) CompleteWithdrawal(ctx context.Context, withdrawalID string) (Withdrawal, error) {
	var completed Withdrawal
	err := processor.service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		withdrawal, err := transactionStore.GetWithdrawal(ctx, withdrawalID)
		if err != nil {
			return err
		}
		if withdrawal.Status != EntryStatusPending {
			return fmt.Errorf("%w: %s is %s", ErrWithdrawalClosed, withdrawalID, withdrawal.Status)
		}
		if err := transactionStore.UpdateWithdrawalStatus(ctx, withdrawalID, EntryStatusPending, EntryStatusCompleted); err != nil {
			return err
		}
		if err := transactionStore.UpdateEntryStatus(ctx, withdrawal.UserID, withdrawal.EntryID, EntryStatusPending, EntryStatusCompleted); err != nil {
			return err
		}
		withdrawal.Status = EntryStatusCompleted
		completed = withdrawal
		return nil
	})
	processor.service.logOperation(ctx, OperationLog{
		Operation: OperationCompleteWithdrawal,
		UserID:    completed.UserID,
		Amount:    completed.Coins,
		Kind:      EntryKindWithdraw,
		Error:     err,
	})
	if err != nil {
		return Withdrawal{}, err
	}
	return completed, nil
}

func withdrawalMetadata(withdrawalID string, method PayoutMethod) (MetadataJSON, error) {
	payload, err := json.Marshal(map[string]string{"withdrawal_id": withdrawalID, "method": method.String()})
	if err != nil {
		return MetadataJSON{}, err
	}
	return NewMetadataJSON(string(payload))
}
