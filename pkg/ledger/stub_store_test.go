package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

var fixedTime = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

type stubFaults struct {
	lockAccountError      error
	getAccountError       error
	insertEntryError      error
	insertEntryFailKind   EntryKind
	findGrantError        error
	insertGrantError      error
	insertWithdrawalError error
	listEntriesError      error
	sumCreditsError       error
}

type stubState struct {
	accounts    map[string]Account
	entries     []Entry
	keys        map[string]struct{}
	grants      map[string]AccessGrant
	withdrawals map[string]Withdrawal
	sequence    int
}

func (state *stubState) clone() *stubState {
	cloned := &stubState{
		accounts:    make(map[string]Account, len(state.accounts)),
		entries:     append([]Entry(nil), state.entries...),
		keys:        make(map[string]struct{}, len(state.keys)),
		grants:      make(map[string]AccessGrant, len(state.grants)),
		withdrawals: make(map[string]Withdrawal, len(state.withdrawals)),
		sequence:    state.sequence,
	}
	for key, value := range state.accounts {
		cloned.accounts[key] = value
	}
	for key := range state.keys {
		cloned.keys[key] = struct{}{}
	}
	for key, value := range state.grants {
		cloned.grants[key] = value
	}
	for key, value := range state.withdrawals {
		cloned.withdrawals[key] = value
	}
	return cloned
}

// stubStore is an in-memory Store. WithTx serializes transactions, works on a copy of the state,
// and publishes the copy only when fn succeeds.
type stubStore struct {
	mutex         *sync.Mutex
	state         *stubState
	inTransaction bool
	faults        *stubFaults
	commits       int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		mutex: &sync.Mutex{},
		state: &stubState{
			accounts:    map[string]Account{},
			keys:        map[string]struct{}{},
			grants:      map[string]AccessGrant{},
			withdrawals: map[string]Withdrawal{},
		},
		faults: &stubFaults{},
	}
}

func (store *stubStore) seedAccount(test *testing.T, userID UserID, balance Coins, earned Coins, withdrawn Coins) {
	test.Helper()
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.state.accounts[userID.String()] = Account{
		UserID:         userID,
		CoinBalance:    balance,
		TotalEarned:    earned,
		TotalWithdrawn: withdrawn,
		UpdatedAt:      fixedTime,
	}
}

func (store *stubStore) account(test *testing.T, userID UserID) Account {
	test.Helper()
	store.mutex.Lock()
	defer store.mutex.Unlock()
	account, ok := store.state.accounts[userID.String()]
	if !ok {
		test.Fatalf("account %s not found", userID)
	}
	return account
}

func (store *stubStore) entriesFor(userID UserID) []Entry {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var entries []Entry
	for _, entry := range store.state.entries {
		if entry.UserID == userID {
			entries = append(entries, entry)
		}
	}
	return entries
}

func (store *stubStore) allEntries() []Entry {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return append([]Entry(nil), store.state.entries...)
}

func (store *stubStore) grantCount() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.state.grants)
}

func (store *stubStore) view(fn func(state *stubState) error) error {
	if store.inTransaction {
		return fn(store.state)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return fn(store.state)
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.inTransaction {
		return fn(ctx, store)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	transactionStore := &stubStore{
		mutex:         store.mutex,
		state:         store.state.clone(),
		inTransaction: true,
		faults:        store.faults,
	}
	if err := fn(ctx, transactionStore); err != nil {
		return err
	}
	store.state = transactionStore.state
	store.commits++
	return nil
}

func (store *stubStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (store *stubStore) GetOrCreateAccount(ctx context.Context, userID UserID) (Account, error) {
	var account Account
	err := store.view(func(state *stubState) error {
		existing, ok := state.accounts[userID.String()]
		if !ok {
			existing = Account{UserID: userID, UpdatedAt: fixedTime}
			state.accounts[userID.String()] = existing
		}
		account = existing
		return nil
	})
	return account, err
}

func (store *stubStore) GetAccount(ctx context.Context, userID UserID) (Account, error) {
	if store.faults.getAccountError != nil {
		return Account{}, store.faults.getAccountError
	}
	var account Account
	err := store.view(func(state *stubState) error {
		existing, ok := state.accounts[userID.String()]
		if !ok {
			return ErrAccountNotFound
		}
		account = existing
		return nil
	})
	return account, err
}

func (store *stubStore) LockAccount(ctx context.Context, userID UserID) (Account, error) {
	if store.faults.lockAccountError != nil {
		return Account{}, store.faults.lockAccountError
	}
	if !store.inTransaction {
		return Account{}, fmt.Errorf("lock outside transaction")
	}
	return store.GetAccount(ctx, userID)
}

func (store *stubStore) UpdateBalance(ctx context.Context, mutation BalanceMutation) (Account, error) {
	var account Account
	err := store.view(func(state *stubState) error {
		existing, ok := state.accounts[mutation.UserID.String()]
		if !ok {
			return ErrAccountNotFound
		}
		nextBalance := existing.CoinBalance.Int64() + mutation.BalanceDelta
		nextEarned := existing.TotalEarned + mutation.EarnedDelta
		nextWithdrawn := existing.TotalWithdrawn + mutation.WithdrawnDelta
		if nextBalance < 0 || nextWithdrawn > nextEarned {
			return ErrInsufficientBalance
		}
		existing.CoinBalance = Coins(nextBalance)
		existing.TotalEarned = nextEarned
		existing.TotalWithdrawn = nextWithdrawn
		state.accounts[mutation.UserID.String()] = existing
		account = existing
		return nil
	})
	return account, err
}

func (store *stubStore) InsertEntry(ctx context.Context, entryInput EntryInput) (Entry, error) {
	if store.faults.insertEntryError != nil && (store.faults.insertEntryFailKind == "" || store.faults.insertEntryFailKind == entryInput.Kind) {
		return Entry{}, store.faults.insertEntryError
	}
	var entry Entry
	err := store.view(func(state *stubState) error {
		key := entryInput.UserID.String() + "|" + entryInput.IdempotencyKey.String()
		if _, exists := state.keys[key]; exists {
			return ErrDuplicateIdempotencyKey
		}
		state.keys[key] = struct{}{}
		state.sequence++
		entry = Entry{EntryID: fmt.Sprintf("entry-%06d", state.sequence), EntryInput: entryInput}
		state.entries = append(state.entries, entry)
		return nil
	})
	return entry, err
}

func (store *stubStore) UpdateEntryStatus(ctx context.Context, userID UserID, entryID string, from, to EntryStatus) error {
	return store.view(func(state *stubState) error {
		for index, entry := range state.entries {
			if entry.EntryID == entryID && entry.UserID == userID {
				if entry.Status != from {
					return ErrWithdrawalClosed
				}
				state.entries[index].Status = to
				return nil
			}
		}
		return ErrWithdrawalClosed
	})
}

func (store *stubStore) ListEntries(ctx context.Context, userID UserID, cursor EntryCursor, limit int) ([]Entry, error) {
	if store.faults.listEntriesError != nil {
		return nil, store.faults.listEntriesError
	}
	var entries []Entry
	err := store.view(func(state *stubState) error {
		for index := len(state.entries) - 1; index >= 0; index-- {
			entry := state.entries[index]
			if entry.UserID != userID {
				continue
			}
			if !cursor.Precedes(entry) {
				continue
			}
			entries = append(entries, entry)
			if len(entries) == limit {
				break
			}
		}
		return nil
	})
	return entries, err
}

func (store *stubStore) ListAllEntries(ctx context.Context, userID UserID) ([]Entry, error) {
	if store.faults.listEntriesError != nil {
		return nil, store.faults.listEntriesError
	}
	var entries []Entry
	err := store.view(func(state *stubState) error {
		for _, entry := range state.entries {
			if entry.UserID == userID {
				entries = append(entries, entry)
			}
		}
		return nil
	})
	sort.SliceStable(entries, func(left, right int) bool {
		return entries[left].CreatedAt.Before(entries[right].CreatedAt)
	})
	return entries, err
}

func (store *stubStore) SumCredits(ctx context.Context, userID UserID, kind EntryKind, since time.Time) (Coins, error) {
	if store.faults.sumCreditsError != nil {
		return 0, store.faults.sumCreditsError
	}
	var total Coins
	err := store.view(func(state *stubState) error {
		for _, entry := range state.entries {
			if entry.UserID == userID && entry.Kind == kind && entry.Direction == DirectionCredit && !entry.CreatedAt.Before(since) {
				total += entry.Amount
			}
		}
		return nil
	})
	return total, err
}

func grantKey(userID UserID, content ContentRef) string {
	return userID.String() + "|" + content.String()
}

func (store *stubStore) FindGrant(ctx context.Context, userID UserID, content ContentRef) (AccessGrant, bool, error) {
	if store.faults.findGrantError != nil {
		return AccessGrant{}, false, store.faults.findGrantError
	}
	var (
		grant AccessGrant
		found bool
	)
	err := store.view(func(state *stubState) error {
		grant, found = state.grants[grantKey(userID, content)]
		return nil
	})
	return grant, found, err
}

func (store *stubStore) InsertGrant(ctx context.Context, grantInput GrantInput) (AccessGrant, error) {
	if store.faults.insertGrantError != nil {
		return AccessGrant{}, store.faults.insertGrantError
	}
	var grant AccessGrant
	err := store.view(func(state *stubState) error {
		key := grantKey(grantInput.UserID, grantInput.Content)
		if _, exists := state.grants[key]; exists {
			return ErrDuplicateGrant
		}
		state.sequence++
		grant = AccessGrant{GrantID: fmt.Sprintf("grant-%d", state.sequence), GrantInput: grantInput}
		state.grants[key] = grant
		return nil
	})
	return grant, err
}

func (store *stubStore) seedGrant(test *testing.T, userID UserID, content ContentRef, accessType AccessType, spent Coins) {
	test.Helper()
	if _, err := store.InsertGrant(context.Background(), GrantInput{
		UserID:      userID,
		Content:     content,
		AccessType:  accessType,
		CoinsSpent:  spent,
		PurchasedAt: fixedTime.Add(-time.Hour),
	}); err != nil {
		test.Fatalf("seed grant: %v", err)
	}
}

func (store *stubStore) InsertWithdrawal(ctx context.Context, withdrawal Withdrawal) error {
	if store.faults.insertWithdrawalError != nil {
		return store.faults.insertWithdrawalError
	}
	return store.view(func(state *stubState) error {
		state.withdrawals[withdrawal.WithdrawalID] = withdrawal
		return nil
	})
}

func (store *stubStore) GetWithdrawal(ctx context.Context, withdrawalID string) (Withdrawal, error) {
	var withdrawal Withdrawal
	err := store.view(func(state *stubState) error {
		existing, ok := state.withdrawals[withdrawalID]
		if !ok {
			return ErrUnknownWithdrawal
		}
		withdrawal = existing
		return nil
	})
	return withdrawal, err
}

func (store *stubStore) UpdateWithdrawalStatus(ctx context.Context, withdrawalID string, from, to EntryStatus) error {
	return store.view(func(state *stubState) error {
		existing, ok := state.withdrawals[withdrawalID]
		if !ok {
			return ErrUnknownWithdrawal
		}
		if existing.Status != from {
			return ErrWithdrawalClosed
		}
		existing.Status = to
		state.withdrawals[withdrawalID] = existing
		return nil
	})
}

type stubCatalog struct {
	items   map[string]Content
	members map[string][]Content
	lookups int
}

func newStubCatalog(items ...Content) *stubCatalog {
	catalog := &stubCatalog{items: map[string]Content{}, members: map[string][]Content{}}
	for _, item := range items {
		catalog.items[item.Ref.String()] = item
		if item.SeriesID != nil {
			catalog.members[item.SeriesID.String()] = append(catalog.members[item.SeriesID.String()], item)
		}
	}
	return catalog
}

func (catalog *stubCatalog) LookupContent(ctx context.Context, ref ContentRef) (Content, error) {
	catalog.lookups++
	item, ok := catalog.items[ref.String()]
	if !ok {
		return Content{}, fmt.Errorf("%w: %s", ErrContentNotFound, ref)
	}
	return item, nil
}

func (catalog *stubCatalog) ListSeriesVideos(ctx context.Context, seriesID ContentID) ([]Content, error) {
	return catalog.members[seriesID.String()], nil
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() time.Time { return fixedTime }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustContentID(test *testing.T, raw string) ContentID {
	test.Helper()
	contentID, err := NewContentID(raw)
	if err != nil {
		test.Fatalf("content id: %v", err)
	}
	return contentID
}

func mustContentRef(test *testing.T, rawType string, rawID string) ContentRef {
	test.Helper()
	ref, err := NewContentRef(rawType, rawID)
	if err != nil {
		test.Fatalf("content ref: %v", err)
	}
	return ref
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	key, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return key
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return metadata
}

// seriesFixture is a series listed at 500 with members priced 100, 150, and 200.
type seriesFixture struct {
	creator UserID
	series  Content
	videos  []Content
	catalog *stubCatalog
}

func newSeriesFixture(test *testing.T) seriesFixture {
	test.Helper()
	creator := mustUserID(test, "creator-1")
	seriesID := mustContentID(test, "series-1")
	series := Content{
		Ref:       ContentRef{Type: ContentTypeSeries, ID: seriesID},
		Title:     "Go Concurrency",
		Price:     500,
		CreatorID: creator,
		Active:    true,
	}
	var videos []Content
	for index, price := range []Coins{100, 150, 200} {
		videos = append(videos, Content{
			Ref:       mustContentRef(test, "video", fmt.Sprintf("video-%d", index+1)),
			Title:     fmt.Sprintf("Episode %d", index+1),
			Price:     price,
			CreatorID: creator,
			SeriesID:  &seriesID,
			Active:    true,
		})
	}
	items := append([]Content{series}, videos...)
	return seriesFixture{creator: creator, series: series, videos: videos, catalog: newStubCatalog(items...)}
}
