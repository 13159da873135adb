package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Coins is the integer platform currency. It is never negative.
type Coins int64

// NewCoins validates a non-negative coin amount.
func NewCoins(raw int64) (Coins, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	}
	return Coins(raw), nil
}

// NewPositiveCoins validates an operation amount and ensures it is strictly positive.
func NewPositiveCoins(raw int64) (Coins, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Coins(raw), nil
}

// Int64 returns the raw coin count.
func (coins Coins) Int64() int64 {
	return int64(coins)
}

// UserID identifies an account owner.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// ContentID identifies a video or a series.
type ContentID struct {
	value string
}

// NewContentID validates and normalizes a content id.
func NewContentID(raw string) (ContentID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ContentID{}, fmt.Errorf("%w: empty value", ErrInvalidContentID)
	}
	return ContentID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ContentID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id ContentID) IsZero() bool {
	return id.value == ""
}

// IdempotencyKey scopes duplicate detection per user.
type IdempotencyKey struct {
	value string
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// IsZero reports whether the key was never set.
func (key IdempotencyKey) IsZero() bool {
	return key.value == ""
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// ContentType enumerates purchasable content.
type ContentType string

const (
	ContentTypeVideo  ContentType = "video"
	ContentTypeSeries ContentType = "series"
)

// ParseContentType validates a raw content type.
func ParseContentType(raw string) (ContentType, error) {
	switch ContentType(strings.ToLower(strings.TrimSpace(raw))) {
	case ContentTypeVideo:
		return ContentTypeVideo, nil
	case ContentTypeSeries:
		return ContentTypeSeries, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidContentType, raw)
}

func (contentType ContentType) String() string {
	return string(contentType)
}

// ContentRef points at one content item.
type ContentRef struct {
	Type ContentType
	ID   ContentID
}

// NewContentRef validates a content reference.
func NewContentRef(rawType string, rawID string) (ContentRef, error) {
	contentType, err := ParseContentType(rawType)
	if err != nil {
		return ContentRef{}, err
	}
	contentID, err := NewContentID(rawID)
	if err != nil {
		return ContentRef{}, err
	}
	return ContentRef{Type: contentType, ID: contentID}, nil
}

func (ref ContentRef) String() string {
	return ref.Type.String() + idempotencyKeyDelimiter + ref.ID.String()
}

// Direction tells whether an entry adds or removes coins.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// ParseDirection validates a raw direction.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(raw) {
	case DirectionCredit:
		return DirectionCredit, nil
	case DirectionDebit:
		return DirectionDebit, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
}

func (direction Direction) String() string {
	return string(direction)
}

// EntryKind enumerates ledger entry kinds.
type EntryKind string

const (
	EntryKindPurchaseSpend EntryKind = "purchase_spend"
	EntryKindPurchaseEarn  EntryKind = "purchase_earn"
	EntryKindWithdraw      EntryKind = "withdraw"
	EntryKindDeposit       EntryKind = "deposit"
	EntryKindRefund        EntryKind = "refund"
	EntryKindAdjustment    EntryKind = "adjustment"
)

// ParseEntryKind validates a raw entry kind.
func ParseEntryKind(raw string) (EntryKind, error) {
	kind := EntryKind(raw)
	switch kind {
	case EntryKindPurchaseSpend, EntryKindPurchaseEarn, EntryKindWithdraw, EntryKindDeposit, EntryKindRefund, EntryKindAdjustment:
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryKind, raw)
}

func (kind EntryKind) String() string {
	return string(kind)
}

// Allows reports whether entries of this kind may move coins in the given direction.
func (kind EntryKind) Allows(direction Direction) bool {
	switch kind {
	case EntryKindPurchaseSpend, EntryKindWithdraw:
		return direction == DirectionDebit
	case EntryKindPurchaseEarn, EntryKindDeposit, EntryKindRefund:
		return direction == DirectionCredit
	case EntryKindAdjustment:
		return direction == DirectionCredit || direction == DirectionDebit
	}
	return false
}

// EntryStatus defines the entry lifecycle.
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusFailed    EntryStatus = "failed"
)

// ParseEntryStatus validates a raw entry status.
func ParseEntryStatus(raw string) (EntryStatus, error) {
	status := EntryStatus(raw)
	switch status {
	case EntryStatusPending, EntryStatusCompleted, EntryStatusFailed:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryStatus, raw)
}

func (status EntryStatus) String() string {
	return string(status)
}

// Settles reports whether entries in this status count towards the stored balance.
func (status EntryStatus) Settles() bool {
	return status == EntryStatusCompleted || status == EntryStatusPending
}

// AccessType names the path that entitles a user to content.
type AccessType string

const (
	AccessTypeNone           AccessType = ""
	AccessTypeSeriesPurchase AccessType = "series_purchase"
	AccessTypeVideoPurchase  AccessType = "video_purchase"
	AccessTypeCreatorAccess  AccessType = "creator_access"
)

// ParseAccessType validates a stored grant type.
func ParseAccessType(raw string) (AccessType, error) {
	accessType := AccessType(raw)
	switch accessType {
	case AccessTypeSeriesPurchase, AccessTypeVideoPurchase:
		return accessType, nil
	}
	return AccessTypeNone, fmt.Errorf("%w: %q", ErrInvalidAccessType, raw)
}

func (accessType AccessType) String() string {
	return string(accessType)
}

// grantTypeFor maps purchased content to the grant variant that records it.
func grantTypeFor(contentType ContentType) AccessType {
	if contentType == ContentTypeSeries {
		return AccessTypeSeriesPurchase
	}
	return AccessTypeVideoPurchase
}

// Content is the catalog view of a purchasable item.
type Content struct {
	Ref       ContentRef
	Title     string
	Price     Coins
	CreatorID UserID
	SeriesID  *ContentID
	Active    bool
}

// Account is the materialized balance row of one user.
type Account struct {
	UserID         UserID
	CoinBalance    Coins
	TotalEarned    Coins
	TotalWithdrawn Coins
	UpdatedAt      time.Time
}

// Withdrawable returns the coins a creator may still pay out.
func (account Account) Withdrawable() Coins {
	unpaid := account.TotalEarned - account.TotalWithdrawn
	if unpaid < 0 {
		unpaid = 0
	}
	if account.CoinBalance < unpaid {
		return account.CoinBalance
	}
	return unpaid
}

// BalanceMutation is applied atomically to one account row. The store must refuse it when the
// resulting coin balance would be negative or when withdrawn would exceed earned.
type BalanceMutation struct {
	UserID         UserID
	BalanceDelta   int64
	EarnedDelta    Coins
	WithdrawnDelta Coins
}

// EntryInput is a validated ledger line ready to be appended.
type EntryInput struct {
	UserID         UserID
	Direction      Direction
	Kind           EntryKind
	Amount         Coins
	Related        *ContentRef
	Status         EntryStatus
	Description    string
	IdempotencyKey IdempotencyKey
	Metadata       MetadataJSON
	BalanceAfter   Coins
	CreatedAt      time.Time
}

// NewEntryInput validates the pieces of a ledger line.
func NewEntryInput(userID UserID, direction Direction, kind EntryKind, amount Coins, related *ContentRef, status EntryStatus, description string, idempotencyKey IdempotencyKey, metadata MetadataJSON, balanceAfter Coins, createdAt time.Time) (EntryInput, error) {
	if userID.IsZero() {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if _, err := ParseDirection(direction.String()); err != nil {
		return EntryInput{}, err
	}
	if _, err := ParseEntryKind(kind.String()); err != nil {
		return EntryInput{}, err
	}
	if !kind.Allows(direction) {
		return EntryInput{}, fmt.Errorf("%w: %s cannot be a %s", ErrInvalidEntryKind, kind, direction)
	}
	if amount < 0 || balanceAfter < 0 {
		return EntryInput{}, fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	}
	if _, err := ParseEntryStatus(status.String()); err != nil {
		return EntryInput{}, err
	}
	if idempotencyKey.IsZero() {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return EntryInput{
		UserID:         userID,
		Direction:      direction,
		Kind:           kind,
		Amount:         amount,
		Related:        related,
		Status:         status,
		Description:    strings.TrimSpace(description),
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		BalanceAfter:   balanceAfter,
		CreatedAt:      createdAt.UTC(),
	}, nil
}

// Entry is a single immutable line in the ledger.
type Entry struct {
	EntryID string
	EntryInput
}

// SignedAmount returns the entry amount with credits positive and debits negative.
func (entry Entry) SignedAmount() int64 {
	if entry.Direction == DirectionDebit {
		return -entry.Amount.Int64()
	}
	return entry.Amount.Int64()
}

// Cursor positions a page boundary just past this entry.
func (entry Entry) Cursor() EntryCursor {
	return EntryCursor{Before: entry.CreatedAt, BeforeEntryID: entry.EntryID}
}

// EntryCursor is a keyset position in a user's history ordered by (created_at, entry_id) descending.
// An empty BeforeEntryID excludes every entry at the Before instant.
type EntryCursor struct {
	Before        time.Time
	BeforeEntryID string
}

// IsZero reports whether the cursor starts from the latest entry.
func (cursor EntryCursor) IsZero() bool {
	return cursor.Before.IsZero()
}

// Precedes reports whether entry sorts strictly after the cursor in newest-first order.
func (cursor EntryCursor) Precedes(entry Entry) bool {
	if cursor.IsZero() {
		return true
	}
	if entry.CreatedAt.Before(cursor.Before) {
		return true
	}
	return cursor.BeforeEntryID != "" && entry.CreatedAt.Equal(cursor.Before) && entry.EntryID < cursor.BeforeEntryID
}

// GrantInput records a new entitlement.
type GrantInput struct {
	UserID      UserID
	Content     ContentRef
	AccessType  AccessType
	CoinsSpent  Coins
	DebitEntry  string
	PurchasedAt time.Time
}

// AccessGrant is a durable entitlement record.
type AccessGrant struct {
	GrantID string
	GrantInput
}

// PayoutMethod enumerates supported payout rails.
type PayoutMethod string

const (
	PayoutMethodBankTransfer PayoutMethod = "bank_transfer"
	PayoutMethodUPI          PayoutMethod = "upi"
)

// ParsePayoutMethod validates a raw payout method.
func ParsePayoutMethod(raw string) (PayoutMethod, error) {
	method := PayoutMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch method {
	case PayoutMethodBankTransfer, PayoutMethodUPI:
		return method, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPayoutMethod, raw)
}

func (method PayoutMethod) String() string {
	return string(method)
}

// Withdrawal is a pending payout awaiting external settlement.
type Withdrawal struct {
	WithdrawalID   string
	UserID         UserID
	EntryID        string
	Coins          Coins
	Method         PayoutMethod
	AccountDetails MetadataJSON
	Status         EntryStatus
	CreatedAt      time.Time
}
