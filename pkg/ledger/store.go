package ledger

import (
	"context"
	"time"
)

// Store is the persistence contract used by the ledger services.
// Methods called on the txStore handed to WithTx run inside that transaction;
// WithTx on a txStore joins the running transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	Ping(ctx context.Context) error

	GetOrCreateAccount(ctx context.Context, userID UserID) (Account, error)
	GetAccount(ctx context.Context, userID UserID) (Account, error)
	// LockAccount reads the account row under a row-level lock held until the transaction ends.
	LockAccount(ctx context.Context, userID UserID) (Account, error)
	// UpdateBalance applies the mutation only while the balance covers it and returns the updated row.
	// It fails with ErrInsufficientBalance when the conditional update matches no row.
	UpdateBalance(ctx context.Context, mutation BalanceMutation) (Account, error)

	InsertEntry(ctx context.Context, entry EntryInput) (Entry, error)
	UpdateEntryStatus(ctx context.Context, userID UserID, entryID string, from, to EntryStatus) error
	// ListEntries pages newest first, starting strictly after cursor.
	ListEntries(ctx context.Context, userID UserID, cursor EntryCursor, limit int) ([]Entry, error)
	ListAllEntries(ctx context.Context, userID UserID) ([]Entry, error)
	SumCredits(ctx context.Context, userID UserID, kind EntryKind, since time.Time) (Coins, error)

	FindGrant(ctx context.Context, userID UserID, content ContentRef) (AccessGrant, bool, error)
	// InsertGrant fails with ErrDuplicateGrant when the (user, content) pair already has a grant.
	InsertGrant(ctx context.Context, grant GrantInput) (AccessGrant, error)

	InsertWithdrawal(ctx context.Context, withdrawal Withdrawal) error
	GetWithdrawal(ctx context.Context, withdrawalID string) (Withdrawal, error)
	UpdateWithdrawalStatus(ctx context.Context, withdrawalID string, from, to EntryStatus) error
}

// Catalog resolves content metadata owned by the content service.
type Catalog interface {
	LookupContent(ctx context.Context, ref ContentRef) (Content, error)
	ListSeriesVideos(ctx context.Context, seriesID ContentID) ([]Content, error)
}
