package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time.
type Clock func() time.Time

// Service is the coin transaction surface. It is the only writer of account balances.
type Service struct {
	store   Store
	nowFn   Clock
	loggers []OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now Clock, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// MutationRequest describes one debit or credit.
type MutationRequest struct {
	UserID  UserID
	Amount  Coins
	Kind    EntryKind
	Related *ContentRef
	// IdempotencyKey is optional; a random key is derived when empty.
	IdempotencyKey IdempotencyKey
	Description    string
	Metadata       MetadataJSON
}

// MutationResult carries the appended entry and the balance it left behind.
type MutationResult struct {
	Entry      Entry
	NewBalance Coins
}

// BalanceCheck is the outcome of CheckSufficientBalance.
type BalanceCheck struct {
	Sufficient bool
	Balance    Coins
	Shortfall  Coins
}

type mutationPlan struct {
	request   MutationRequest
	direction Direction
	status    EntryStatus
	earned    bool
	withdrawn bool
	allowZero bool
}

// OpenAccount creates a zero-balance account when the user has none.
func (service *Service) OpenAccount(ctx context.Context, userID UserID) (Account, error) {
	account, err := service.store.GetOrCreateAccount(ctx, userID)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: OperationOpenAccount, UserID: userID, Error: err})
		return Account{}, err
	}
	return account, nil
}

// Account returns the authoritative balance row.
func (service *Service) Account(ctx context.Context, userID UserID) (Account, error) {
	return service.store.GetAccount(ctx, userID)
}

// CheckSufficientBalance reads the stored balance and compares it with amount. It takes no lock;
// debits re-check atomically.
func (service *Service) CheckSufficientBalance(ctx context.Context, userID UserID, amount Coins) (BalanceCheck, error) {
	if amount <= 0 {
		return BalanceCheck{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	account, err := service.store.GetAccount(ctx, userID)
	if err != nil {
		return BalanceCheck{}, err
	}
	check := BalanceCheck{Balance: account.CoinBalance, Sufficient: account.CoinBalance >= amount}
	if !check.Sufficient {
		check.Shortfall = amount - account.CoinBalance
	}
	return check, nil
}

// Debit removes coins from the user's balance and appends one completed debit entry.
func (service *Service) Debit(ctx context.Context, request MutationRequest) (MutationResult, error) {
	var result MutationResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var err error
		result, err = service.applyMutation(ctx, transactionStore, mutationPlan{
			request:   request,
			direction: DirectionDebit,
			status:    EntryStatusCompleted,
		})
		return err
	})
	service.logMutation(ctx, OperationDebit, request, operationError)
	return result, operationError
}

// Credit adds coins to the user's balance and appends one completed credit entry.
func (service *Service) Credit(ctx context.Context, request MutationRequest) (MutationResult, error) {
	var result MutationResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var err error
		result, err = service.applyMutation(ctx, transactionStore, mutationPlan{
			request:   request,
			direction: DirectionCredit,
			status:    EntryStatusCompleted,
		})
		return err
	})
	service.logMutation(ctx, OperationCredit, request, operationError)
	return result, operationError
}

// RecordEarning credits a creator for content and raises their lifetime earnings.
func (service *Service) RecordEarning(ctx context.Context, creatorID UserID, amount Coins, content ContentRef, description string, idempotencyKey IdempotencyKey) (MutationResult, error) {
	contentRef := content
	request := MutationRequest{
		UserID:         creatorID,
		Amount:         amount,
		Kind:           EntryKindPurchaseEarn,
		Related:        &contentRef,
		IdempotencyKey: idempotencyKey,
		Description:    description,
	}
	var result MutationResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var err error
		result, err = service.applyMutation(ctx, transactionStore, mutationPlan{
			request:   request,
			direction: DirectionCredit,
			status:    EntryStatusCompleted,
			earned:    true,
		})
		return err
	})
	service.logMutation(ctx, OperationRecordEarning, request, operationError)
	return result, operationError
}

// applyMutation is the balance guard: it locks the account row, re-checks the balance inside the
// caller's transaction, applies a conditional update, and appends exactly one entry.
func (service *Service) applyMutation(ctx context.Context, transactionStore Store, plan mutationPlan) (MutationResult, error) {
	request := plan.request
	if request.UserID.IsZero() {
		return MutationResult{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if request.Amount < 0 || (request.Amount == 0 && !plan.allowZero) {
		return MutationResult{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if !request.Kind.Allows(plan.direction) {
		return MutationResult{}, fmt.Errorf("%w: %q cannot be a %s", ErrInvalidEntryKind, request.Kind, plan.direction)
	}
	if request.Kind == EntryKindPurchaseEarn && !plan.earned {
		return MutationResult{}, fmt.Errorf("%w: %q entries are written by RecordEarning", ErrInvalidEntryKind, request.Kind)
	}
	if request.Kind == EntryKindWithdraw && !plan.withdrawn {
		return MutationResult{}, fmt.Errorf("%w: %q entries are written by RequestWithdrawal", ErrInvalidEntryKind, request.Kind)
	}

	account, err := transactionStore.LockAccount(ctx, request.UserID)
	if err != nil {
		return MutationResult{}, err
	}

	mutation := BalanceMutation{UserID: request.UserID}
	switch plan.direction {
	case DirectionDebit:
		available := account.CoinBalance
		if plan.withdrawn {
			available = account.Withdrawable()
		}
		if request.Amount > available {
			return MutationResult{}, InsufficientBalanceError{Required: request.Amount, Available: available}
		}
		mutation.BalanceDelta = -request.Amount.Int64()
		if plan.withdrawn {
			mutation.WithdrawnDelta = request.Amount
		}
	case DirectionCredit:
		mutation.BalanceDelta = request.Amount.Int64()
		if plan.earned {
			mutation.EarnedDelta = request.Amount
		}
	}

	updated := account
	if request.Amount > 0 {
		updated, err = transactionStore.UpdateBalance(ctx, mutation)
		if errors.Is(err, ErrInsufficientBalance) {
			current, readErr := transactionStore.GetAccount(ctx, request.UserID)
			if readErr != nil {
				return MutationResult{}, readErr
			}
			available := current.CoinBalance
			if plan.withdrawn {
				available = current.Withdrawable()
			}
			return MutationResult{}, InsufficientBalanceError{Required: request.Amount, Available: available}
		}
		if err != nil {
			return MutationResult{}, err
		}
	}

	idempotencyKey := request.IdempotencyKey
	if idempotencyKey.IsZero() {
		idempotencyKey, err = NewIdempotencyKey(uuid.NewString())
		if err != nil {
			return MutationResult{}, err
		}
	}
	entryInput, err := NewEntryInput(
		request.UserID,
		plan.direction,
		request.Kind,
		request.Amount,
		request.Related,
		plan.status,
		request.Description,
		idempotencyKey,
		request.Metadata,
		updated.CoinBalance,
		service.nowFn(),
	)
	if err != nil {
		return MutationResult{}, err
	}
	entry, err := transactionStore.InsertEntry(ctx, entryInput)
	if err != nil {
		return MutationResult{}, err
	}
	return MutationResult{Entry: entry, NewBalance: updated.CoinBalance}, nil
}

func (service *Service) logMutation(ctx context.Context, operation string, request MutationRequest, operationError error) {
	service.logOperation(ctx, OperationLog{
		Operation:      operation,
		UserID:         request.UserID,
		Amount:         request.Amount,
		Kind:           request.Kind,
		Content:        request.Related,
		IdempotencyKey: request.IdempotencyKey,
		Error:          operationError,
	})
}

// deriveIdempotencyKey joins escaped parts so that ids containing the delimiter cannot collide.
func deriveIdempotencyKey(parts ...string) (IdempotencyKey, error) {
	escaped := make([]string, len(parts))
	for index, part := range parts {
		escaped[index] = url.QueryEscape(part)
	}
	return NewIdempotencyKey(strings.Join(escaped, idempotencyKeyDelimiter))
}
