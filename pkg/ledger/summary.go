package ledger

import (
	"context"
	"time"
)

// CreatorTotals is the earned side of a balance summary.
type CreatorTotals struct {
	TotalEarned    Coins
	TotalWithdrawn Coins
	Withdrawable   Coins
	MonthlyEarned  Coins
}

// BalanceSummary is the caller's wallet view.
type BalanceSummary struct {
	CoinBalance   Coins
	Creator       *CreatorTotals
	RecentEntries []Entry
}

// AuditReport compares the stored balance with a replay of the ledger.
type AuditReport struct {
	UserID          UserID
	StoredBalance   Coins
	ReplayedBalance int64
	EntryCount      int
	// DivergentEntryID is the first entry whose recorded balance does not match the replay.
	DivergentEntryID string
}

// Consistent reports whether the replay reproduces the stored balance.
func (report AuditReport) Consistent() bool {
	return report.ReplayedBalance == report.StoredBalance.Int64() && report.DivergentEntryID == ""
}

// BalanceSummary returns the balance, optional creator totals, and the most recent entries.
func (service *Service) BalanceSummary(ctx context.Context, userID UserID, includeCreatorTotals bool, recentLimit int) (BalanceSummary, error) {
	account, err := service.store.GetAccount(ctx, userID)
	if err != nil {
		return BalanceSummary{}, err
	}
	entries, err := service.store.ListEntries(ctx, userID, EntryCursor{}, normalizeEntriesLimit(recentLimit))
	if err != nil {
		return BalanceSummary{}, err
	}
	summary := BalanceSummary{CoinBalance: account.CoinBalance, RecentEntries: entries}
	if !includeCreatorTotals {
		return summary, nil
	}
	monthlyEarned, err := service.store.SumCredits(ctx, userID, EntryKindPurchaseEarn, monthStart(service.nowFn()))
	if err != nil {
		return BalanceSummary{}, err
	}
	summary.Creator = &CreatorTotals{
		TotalEarned:    account.TotalEarned,
		TotalWithdrawn: account.TotalWithdrawn,
		Withdrawable:   account.Withdrawable(),
		MonthlyEarned:  monthlyEarned,
	}
	return summary, nil
}

// ListEntries pages a user's history newest first. A zero cursor starts from the latest entry;
// pass the last entry's Cursor to fetch the next page.
func (service *Service) ListEntries(ctx context.Context, userID UserID, cursor EntryCursor, limit int) ([]Entry, error) {
	if userID.IsZero() {
		return nil, ErrInvalidUserID
	}
	return service.store.ListEntries(ctx, userID, cursor, normalizeEntriesLimit(limit))
}

// Audit replays every entry of the user in timestamp order under the account lock.
// Failed entries are skipped; pending withdrawals already hold their coins.
func (service *Service) Audit(ctx context.Context, userID UserID) (AuditReport, error) {
	report := AuditReport{UserID: userID}
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		entries, err := transactionStore.ListAllEntries(ctx, userID)
		if err != nil {
			return err
		}
		report.StoredBalance = account.CoinBalance
		report.EntryCount = len(entries)
		var running int64
		for _, entry := range entries {
			if !entry.Status.Settles() {
				continue
			}
			running += entry.SignedAmount()
			if report.DivergentEntryID == "" && running != entry.BalanceAfter.Int64() {
				report.DivergentEntryID = entry.EntryID
			}
		}
		report.ReplayedBalance = running
		return nil
	})
	if err != nil {
		return AuditReport{}, err
	}
	return report, nil
}

func normalizeEntriesLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentEntriesLimit
	}
	if limit > maxListEntriesLimit {
		return maxListEntriesLimit
	}
	return limit
}

func monthStart(now time.Time) time.Time {
	utc := now.UTC()
	return time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC)
}
