package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PurchaseState tracks a purchase request through the orchestrator.
type PurchaseState string

const (
	PurchaseStateRequested         PurchaseState = "requested"
	PurchaseStateAccessChecked     PurchaseState = "access_checked"
	PurchaseStateAlreadyOwned      PurchaseState = "already_owned"
	PurchaseStatePriceComputed     PurchaseState = "price_computed"
	PurchaseStateBalanceVerified   PurchaseState = "balance_verified"
	PurchaseStateCommitted         PurchaseState = "committed"
	PurchaseStateInsufficientFunds PurchaseState = "insufficient_funds"
)

func (state PurchaseState) String() string {
	return string(state)
}

// Terminal reports whether no further transition is possible.
func (state PurchaseState) Terminal() bool {
	switch state {
	case PurchaseStateAlreadyOwned, PurchaseStateCommitted, PurchaseStateInsufficientFunds:
		return true
	}
	return false
}

// Receipt describes a finished purchase.
type Receipt struct {
	State            PurchaseState
	Content          ContentRef
	CoinsSpent       Coins
	RemainingBalance Coins
	AccessType       AccessType
	PurchaseDate     *time.Time
	GrantID          string
	DebitEntryID     string
	CreditEntryID    string
	Quote            *PriceQuote
}

// PurchaseOrchestrator charges a buyer, pays the creator, and records the grant in one transaction.
type PurchaseOrchestrator struct {
	service *Service
	catalog Catalog
}

// NewPurchaseOrchestrator wires a PurchaseOrchestrator over the coin service's store.
func NewPurchaseOrchestrator(service *Service, catalog Catalog) (*PurchaseOrchestrator, error) {
	if service == nil {
		return nil, fmt.Errorf("%w: service dependency is nil", ErrInvalidServiceConfig)
	}
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog dependency is nil", ErrInvalidServiceConfig)
	}
	return &PurchaseOrchestrator{service: service, catalog: catalog}, nil
}

// Purchase buys content for buyerID. Existing access short-circuits with zero coins spent.
// Catalog data is read before the transaction opens; entitlement and pricing are re-evaluated
// under the buyer's row lock.
func (orchestrator *PurchaseOrchestrator) Purchase(ctx context.Context, buyerID UserID, ref ContentRef) (Receipt, error) {
	receipt := Receipt{State: PurchaseStateRequested, Content: ref}
	receipt, err := orchestrator.purchase(ctx, buyerID, ref, receipt)
	orchestrator.service.logOperation(ctx, OperationLog{
		Operation: OperationPurchase,
		UserID:    buyerID,
		Amount:    receipt.CoinsSpent,
		Kind:      EntryKindPurchaseSpend,
		Content:   &ref,
		Outcome:   receipt.State.String(),
		Error:     err,
	})
	return receipt, err
}

func (orchestrator *PurchaseOrchestrator) purchase(ctx context.Context, buyerID UserID, ref ContentRef, receipt Receipt) (Receipt, error) {
	if buyerID.IsZero() {
		return receipt, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if ref.ID.IsZero() {
		return receipt, fmt.Errorf("%w: empty value", ErrInvalidContentID)
	}
	if _, err := ParseContentType(ref.Type.String()); err != nil {
		return receipt, err
	}
	content, err := orchestrator.catalog.LookupContent(ctx, ref)
	if err != nil {
		return receipt, err
	}
	if !content.Active {
		return receipt, fmt.Errorf("%w: %s", ErrContentInactive, ref)
	}
	var members []Content
	if ref.Type == ContentTypeSeries {
		members, err = orchestrator.catalog.ListSeriesVideos(ctx, ref.ID)
		if err != nil {
			return receipt, err
		}
	}

	committed := receipt
	err = orchestrator.service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var txErr error
		committed, txErr = orchestrator.commit(ctx, transactionStore, buyerID, content, members, receipt)
		return txErr
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			committed.State = PurchaseStateInsufficientFunds
			committed.CoinsSpent = 0
			committed.GrantID, committed.DebitEntryID, committed.CreditEntryID = "", "", ""
			return committed, err
		}
		return Receipt{State: receipt.State, Content: ref}, err
	}
	return committed, nil
}

func (orchestrator *PurchaseOrchestrator) commit(ctx context.Context, transactionStore Store, buyerID UserID, content Content, members []Content, receipt Receipt) (Receipt, error) {
	buyer, err := transactionStore.LockAccount(ctx, buyerID)
	if err != nil {
		return receipt, err
	}
	receipt.RemainingBalance = buyer.CoinBalance

	access, err := resolveAccess(ctx, transactionStore, buyerID, content)
	if err != nil {
		return receipt, err
	}
	receipt.State = PurchaseStateAccessChecked
	if access.HasAccess {
		receipt.State = PurchaseStateAlreadyOwned
		receipt.AccessType = access.AccessType
		receipt.PurchaseDate = access.PurchaseDate
		return receipt, nil
	}

	price := content.Price
	allOwned := false
	if content.Ref.Type == ContentTypeSeries {
		quote, err := quoteSeries(ctx, transactionStore, buyerID, content, members)
		if err != nil {
			return receipt, err
		}
		receipt.Quote = &quote
		price = quote.AdjustedPrice
		allOwned = quote.AllVideosOwned
	}
	receipt.State = PurchaseStatePriceComputed

	if price > buyer.CoinBalance {
		receipt.State = PurchaseStateInsufficientFunds
		return receipt, InsufficientBalanceError{Required: price, Available: buyer.CoinBalance}
	}
	receipt.State = PurchaseStateBalanceVerified

	related := content.Ref
	spendKey, err := deriveIdempotencyKey(idempotencyPrefixBuy, content.Ref.Type.String(), content.Ref.ID.String(), idempotencySuffixSpend)
	if err != nil {
		return receipt, err
	}
	debit, err := orchestrator.service.applyMutation(ctx, transactionStore, mutationPlan{
		request: MutationRequest{
			UserID:         buyerID,
			Amount:         price,
			Kind:           EntryKindPurchaseSpend,
			Related:        &related,
			IdempotencyKey: spendKey,
			Description:    purchaseDescription(content),
		},
		direction: DirectionDebit,
		status:    EntryStatusCompleted,
		allowZero: true,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return receipt, fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		}
		return receipt, err
	}
	receipt.DebitEntryID = debit.Entry.EntryID
	receipt.RemainingBalance = debit.NewBalance

	if price > 0 {
		if _, err := transactionStore.GetOrCreateAccount(ctx, content.CreatorID); err != nil {
			return receipt, err
		}
		earnKey, err := deriveIdempotencyKey(idempotencyPrefixBuy, content.Ref.Type.String(), content.Ref.ID.String(), idempotencySuffixEarn, buyerID.String())
		if err != nil {
			return receipt, err
		}
		credit, err := orchestrator.service.applyMutation(ctx, transactionStore, mutationPlan{
			request: MutationRequest{
				UserID:         content.CreatorID,
				Amount:         price,
				Kind:           EntryKindPurchaseEarn,
				Related:        &related,
				IdempotencyKey: earnKey,
				Description:    purchaseDescription(content),
			},
			direction: DirectionCredit,
			status:    EntryStatusCompleted,
			earned:    true,
		})
		if err != nil {
			if errors.Is(err, ErrDuplicateIdempotencyKey) {
				return receipt, fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
			}
			return receipt, err
		}
		receipt.CreditEntryID = credit.Entry.EntryID
	}

	purchasedAt := debit.Entry.CreatedAt
	grant, err := transactionStore.InsertGrant(ctx, GrantInput{
		UserID:      buyerID,
		Content:     content.Ref,
		AccessType:  grantTypeFor(content.Ref.Type),
		CoinsSpent:  price,
		DebitEntry:  debit.Entry.EntryID,
		PurchasedAt: purchasedAt,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateGrant) {
			return receipt, fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		}
		return receipt, err
	}

	receipt.GrantID = grant.GrantID
	receipt.CoinsSpent = price
	receipt.AccessType = grant.AccessType
	receipt.PurchaseDate = &purchasedAt
	receipt.State = PurchaseStateCommitted
	if allOwned {
		receipt.State = PurchaseStateAlreadyOwned
	}
	return receipt, nil
}

func purchaseDescription(content Content) string {
	if content.Title == "" {
		return fmt.Sprintf("purchase of %s", content.Ref)
	}
	return fmt.Sprintf("purchase of %s %q", content.Ref.Type, content.Title)
}
