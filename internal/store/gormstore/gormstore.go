package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON    = "{}"
	errorOperationStore    = "store"
	errorSubjectAccount    = "account"
	errorSubjectBalance    = "balance"
	errorSubjectEntry      = "entry"
	errorSubjectGrant      = "grant"
	errorSubjectWithdrawal = "withdrawal"
	errorSubjectContent    = "content"
	errorSubjectConnection = "connection"
	errorSubjectTx         = "transaction"
	errorCodeCreate        = "create"
	errorCodeDuplicate     = "duplicate"
	errorCodeGet           = "get"
	errorCodeLock          = "lock"
	errorCodeInsert        = "insert"
	errorCodeInvalid       = "invalid"
	errorCodeList          = "list"
	errorCodeLookup        = "lookup"
	errorCodePing          = "ping"
	errorCodeSum           = "sum"
	errorCodeUpdate        = "update"
	errorCodeUpdateStatus  = "update_status"
	errorCodeUpsert        = "upsert"
	errorCodeCommit        = "commit"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db            *gorm.DB
	inTransaction bool
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction. Called on a transaction store it joins that transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.inTransaction {
		return fn(ctx, store)
	}
	var fnErr error
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		fnErr = fn(ctx, &Store{db: transaction, inTransaction: true})
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil {
		return fnErr
	}
	return wrapStoreError(errorSubjectTx, errorCodeCommit, err)
}

// Ping checks that the database answers.
func (store *Store) Ping(ctx context.Context) error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return wrapStoreError(errorSubjectConnection, errorCodePing, errors.Join(ledger.ErrStoreUnavailable, err))
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return wrapStoreError(errorSubjectConnection, errorCodePing, errors.Join(ledger.ErrStoreUnavailable, err))
	}
	return nil
}

func (store *Store) GetOrCreateAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	now := time.Now().UTC()
	seed := Account{UserID: userID.String(), CreatedAt: now, UpdatedAt: now}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&seed).Error
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return store.readAccount(ctx, userID, false)
}

func (store *Store) GetAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	return store.readAccount(ctx, userID, false)
}

// LockAccount takes SELECT ... FOR UPDATE on the account row. SQLite has no row locks; its
// write transactions serialize on the database instead.
func (store *Store) LockAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	return store.readAccount(ctx, userID, true)
}

func (store *Store) readAccount(ctx context.Context, userID ledger.UserID, lock bool) (ledger.Account, error) {
	code := errorCodeGet
	query := store.db.WithContext(ctx)
	if lock {
		code = errorCodeLock
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Account
	err := query.Where("user_id = ?", userID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, code, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, code, err)
	}
	account, err := mapAccount(model)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

// UpdateBalance applies the deltas with a single conditional UPDATE.
func (store *Store) UpdateBalance(ctx context.Context, mutation ledger.BalanceMutation) (ledger.Account, error) {
	earned := mutation.EarnedDelta.Int64()
	withdrawn := mutation.WithdrawnDelta.Int64()
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("user_id = ?", mutation.UserID.String()).
		Where("coin_balance + ? >= 0", mutation.BalanceDelta).
		Where("total_withdrawn + ? <= total_earned + ?", withdrawn, earned).
		Updates(map[string]interface{}{
			"coin_balance":    gorm.Expr("coin_balance + ?", mutation.BalanceDelta),
			"total_earned":    gorm.Expr("total_earned + ?", earned),
			"total_withdrawn": gorm.Expr("total_withdrawn + ?", withdrawn),
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.readAccount(ctx, mutation.UserID, false); err != nil {
			return ledger.Account{}, err
		}
		return ledger.Account{}, wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrInsufficientBalance)
	}
	return store.readAccount(ctx, mutation.UserID, false)
}

func (store *Store) InsertEntry(ctx context.Context, entryInput ledger.EntryInput) (ledger.Entry, error) {
	model := LedgerEntry{
		UserID:         entryInput.UserID.String(),
		Direction:      entryInput.Direction.String(),
		Kind:           entryInput.Kind.String(),
		Amount:         entryInput.Amount.Int64(),
		Status:         entryInput.Status.String(),
		Description:    entryInput.Description,
		IdempotencyKey: entryInput.IdempotencyKey.String(),
		Metadata:       datatypesJSON(entryInput.Metadata.String()),
		BalanceAfter:   entryInput.BalanceAfter.Int64(),
		CreatedAt:      entryInput.CreatedAt.UTC(),
	}
	if entryInput.Related != nil {
		contentType := entryInput.Related.Type.String()
		contentID := entryInput.Related.ID.String()
		model.RelatedContentType = &contentType
		model.RelatedContentID = &contentID
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintEntryIdempotency) {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	entry, err := mapLedgerEntry(model)
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

func (store *Store) UpdateEntryStatus(ctx context.Context, userID ledger.UserID, entryID string, from, to ledger.EntryStatus) error {
	result := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("entry_id = ? AND user_id = ? AND status = ?", entryID, userID.String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdateStatus, ledger.ErrWithdrawalClosed)
	}
	return nil
}

// ListEntries returns entries newest first. A zero cursor lists from the latest entry.
func (store *Store) ListEntries(ctx context.Context, userID ledger.UserID, cursor ledger.EntryCursor, limit int) ([]ledger.Entry, error) {
	query := store.db.WithContext(ctx).Where("user_id = ?", userID.String())
	switch {
	case cursor.IsZero():
	case cursor.BeforeEntryID == "":
		query = query.Where("created_at < ?", cursor.Before.UTC())
	default:
		before := cursor.Before.UTC()
		query = query.Where("(created_at < ? OR (created_at = ? AND entry_id < ?))", before, before, cursor.BeforeEntryID)
	}
	var rows []LedgerEntry
	err := query.Order("created_at DESC").Order("entry_id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapLedgerEntries(rows)
}

// ListAllEntries returns every entry of the user in timestamp order.
func (store *Store) ListAllEntries(ctx context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at ASC").
		Order("entry_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapLedgerEntries(rows)
}

// SumCredits totals settled credits of one kind created at or after since.
func (store *Store) SumCredits(ctx context.Context, userID ledger.UserID, kind ledger.EntryKind, since time.Time) (ledger.Coins, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(amount),0) as total").
		Where("user_id = ? AND kind = ? AND direction = ?", userID.String(), kind.String(), ledger.DirectionCredit.String()).
		Where("status IN ?", []string{ledger.EntryStatusCompleted.String(), ledger.EntryStatusPending.String()}).
		Where("created_at >= ?", since.UTC()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeSum, err)
	}
	total, err := ledger.NewCoins(sum.Total)
	if err != nil {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return total, nil
}

func (store *Store) FindGrant(ctx context.Context, userID ledger.UserID, content ledger.ContentRef) (ledger.AccessGrant, bool, error) {
	var model AccessGrant
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND content_type = ? AND content_id = ?", userID.String(), content.Type.String(), content.ID.String()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.AccessGrant{}, false, nil
	}
	if err != nil {
		return ledger.AccessGrant{}, false, wrapStoreError(errorSubjectGrant, errorCodeLookup, err)
	}
	grant, err := mapAccessGrant(model)
	if err != nil {
		return ledger.AccessGrant{}, false, wrapStoreError(errorSubjectGrant, errorCodeInvalid, err)
	}
	return grant, true, nil
}

func (store *Store) InsertGrant(ctx context.Context, grantInput ledger.GrantInput) (ledger.AccessGrant, error) {
	model := AccessGrant{
		UserID:      grantInput.UserID.String(),
		ContentType: grantInput.Content.Type.String(),
		ContentID:   grantInput.Content.ID.String(),
		AccessType:  grantInput.AccessType.String(),
		CoinsSpent:  grantInput.CoinsSpent.Int64(),
		PurchasedAt: grantInput.PurchasedAt.UTC(),
	}
	if grantInput.DebitEntry != "" {
		debitEntry := grantInput.DebitEntry
		model.DebitEntryID = &debitEntry
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintGrantContent) {
		return ledger.AccessGrant{}, wrapStoreError(errorSubjectGrant, errorCodeDuplicate, ledger.ErrDuplicateGrant)
	}
	if err != nil {
		return ledger.AccessGrant{}, wrapStoreError(errorSubjectGrant, errorCodeInsert, err)
	}
	grant, err := mapAccessGrant(model)
	if err != nil {
		return ledger.AccessGrant{}, wrapStoreError(errorSubjectGrant, errorCodeInvalid, err)
	}
	return grant, nil
}

func (store *Store) InsertWithdrawal(ctx context.Context, withdrawal ledger.Withdrawal) error {
	createdAt := withdrawal.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := Withdrawal{
		WithdrawalID:   withdrawal.WithdrawalID,
		UserID:         withdrawal.UserID.String(),
		EntryID:        withdrawal.EntryID,
		Coins:          withdrawal.Coins.Int64(),
		Method:         withdrawal.Method.String(),
		AccountDetails: datatypesJSON(withdrawal.AccountDetails.String()),
		Status:         withdrawal.Status.String(),
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectWithdrawal, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetWithdrawal(ctx context.Context, withdrawalID string) (ledger.Withdrawal, error) {
	var model Withdrawal
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("withdrawal_id = ?", withdrawalID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdrawal, errorCodeGet, ledger.ErrUnknownWithdrawal)
		}
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdrawal, errorCodeGet, err)
	}
	withdrawal, err := mapWithdrawal(model)
	if err != nil {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdrawal, errorCodeInvalid, err)
	}
	return withdrawal, nil
}

func (store *Store) UpdateWithdrawalStatus(ctx context.Context, withdrawalID string, from, to ledger.EntryStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Withdrawal{}).
		Where("withdrawal_id = ? AND status = ?", withdrawalID, from.String()).
		Updates(map[string]interface{}{"status": to.String(), "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return wrapStoreError(errorSubjectWithdrawal, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectWithdrawal, errorCodeUpdateStatus, ledger.ErrWithdrawalClosed)
	}
	return nil
}

// wrapStoreError tags err with the store operation and folds driver failures into
// ErrConcurrencyConflict or ErrStoreUnavailable.
func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, classifyDriverError(err))
}

type sqlSum struct {
	Total int64
}
