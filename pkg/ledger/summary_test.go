package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBalanceSummaryIncludesCreatorTotals(test *testing.T) {
	test.Parallel()
	fixture := newSeriesFixture(test)
	store := newStubStore(test)
	buyer := mustUserID(test, "member-1")
	store.seedAccount(test, buyer, 1000, 0, 0)
	service := mustNewService(test, store)
	orchestrator, err := NewPurchaseOrchestrator(service, fixture.catalog)
	if err != nil {
		test.Fatalf("orchestrator: %v", err)
	}
	for _, video := range fixture.videos[:2] {
		if _, err := orchestrator.Purchase(context.Background(), buyer, video.Ref); err != nil {
			test.Fatalf("purchase: %v", err)
		}
	}
	processor, err := NewWithdrawalProcessor(service, testWithdrawalPolicy)
	if err != nil {
		test.Fatalf("processor: %v", err)
	}
	if _, err := processor.RequestWithdrawal(context.Background(), withdrawalRequest(fixture.creator, 200)); err != nil {
		test.Fatalf("withdraw: %v", err)
	}

	summary, err := service.BalanceSummary(context.Background(), fixture.creator, true, 0)
	if err != nil {
		test.Fatalf("summary: %v", err)
	}
	if summary.CoinBalance != 50 || summary.Creator == nil {
		test.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Creator.TotalEarned != 250 || summary.Creator.TotalWithdrawn != 200 || summary.Creator.MonthlyEarned != 250 || summary.Creator.Withdrawable != 50 {
		test.Fatalf("unexpected creator totals: %+v", summary.Creator)
	}
	if len(summary.RecentEntries) != 3 || summary.RecentEntries[0].Kind != EntryKindWithdraw {
		test.Fatalf("expected newest entry first, got %+v", summary.RecentEntries)
	}

	member, err := service.BalanceSummary(context.Background(), buyer, false, 1)
	if err != nil {
		test.Fatalf("member summary: %v", err)
	}
	if member.CoinBalance != 750 || member.Creator != nil || len(member.RecentEntries) != 1 {
		test.Fatalf("unexpected member summary: %+v", member)
	}
}

func TestBalanceSummaryPropagatesErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(faults *stubFaults)
	}{
		{name: "account lookup", configure: func(faults *stubFaults) { faults.getAccountError = errStoreFailure }},
		{name: "list entries", configure: func(faults *stubFaults) { faults.listEntriesError = errStoreFailure }},
		{name: "sum credits", configure: func(faults *stubFaults) { faults.sumCreditsError = errStoreFailure }},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			userID := mustUserID(test, "creator-1")
			store.seedAccount(test, userID, 10, 10, 0)
			testCase.configure(store.faults)
			service := mustNewService(test, store)
			if _, err := service.BalanceSummary(context.Background(), userID, true, 5); !errors.Is(err, errStoreFailure) {
				test.Fatalf("expected store failure, got %v", err)
			}
		})
	}
}

func TestListEntriesNormalizesLimit(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	userID := mustUserID(test, "member-1")
	store.seedAccount(test, userID, 0, 0, 0)
	service := mustNewService(test, store)
	for index := 0; index < 12; index++ {
		if _, err := service.Credit(context.Background(), MutationRequest{UserID: userID, Amount: 1, Kind: EntryKindDeposit}); err != nil {
			test.Fatalf("credit: %v", err)
		}
	}
	entries, err := service.ListEntries(context.Background(), userID, EntryCursor{}, 0)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(entries) != defaultRecentEntriesLimit {
		test.Fatalf("expected default limit %d, got %d", defaultRecentEntriesLimit, len(entries))
	}
	if entries[0].BalanceAfter != 12 {
		test.Fatalf("expected newest entry first, got %+v", entries[0])
	}
	if got := normalizeEntriesLimit(maxListEntriesLimit + 1); got != maxListEntriesLimit {
		test.Fatalf("expected limit clamp to %d, got %d", maxListEntriesLimit, got)
	}
}

func TestAuditReplaysLedger(test *testing.T) {
	test.Parallel()
	processor, store, creator := newWithdrawalHarness(test)
	store.seedAccount(test, creator, 0, 0, 0)
	service := processor.service
	video := mustContentRef(test, "video", "v-1")
	if _, err := service.RecordEarning(context.Background(), creator, 900, video, "sale", IdempotencyKey{}); err != nil {
		test.Fatalf("earning: %v", err)
	}
	if _, err := service.Credit(context.Background(), MutationRequest{UserID: creator, Amount: 100, Kind: EntryKindRefund}); err != nil {
		test.Fatalf("refund: %v", err)
	}
	if _, err := processor.RequestWithdrawal(context.Background(), withdrawalRequest(creator, 400)); err != nil {
		test.Fatalf("withdraw: %v", err)
	}

	report, err := service.Audit(context.Background(), creator)
	if err != nil {
		test.Fatalf("audit: %v", err)
	}
	if !report.Consistent() || report.ReplayedBalance != 600 || report.EntryCount != 3 {
		test.Fatalf("expected consistent replay of 600, got %+v", report)
	}

	store.seedAccount(test, creator, 650, 900, 400)
	drifted, err := service.Audit(context.Background(), creator)
	if err != nil {
		test.Fatalf("audit: %v", err)
	}
	if drifted.Consistent() || drifted.StoredBalance != 650 {
		test.Fatalf("expected drift to be reported, got %+v", drifted)
	}
}

func TestAuditHoldsAccountLock(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	userID := mustUserID(test, "member-1")
	store.seedAccount(test, userID, 0, 0, 0)
	service := mustNewService(test, store)
	if _, err := service.Credit(context.Background(), MutationRequest{UserID: userID, Amount: 40, Kind: EntryKindDeposit}); err != nil {
		test.Fatalf("credit: %v", err)
	}
	store.faults.lockAccountError = errStoreFailure
	if _, err := service.Audit(context.Background(), userID); !errors.Is(err, errStoreFailure) {
		test.Fatalf("expected audit to take the account lock, got %v", err)
	}
	store.faults.lockAccountError = nil
	report, err := service.Audit(context.Background(), userID)
	if err != nil {
		test.Fatalf("audit: %v", err)
	}
	if !report.Consistent() || report.ReplayedBalance != 40 {
		test.Fatalf("unexpected report %+v", report)
	}
}

func TestMonthStart(test *testing.T) {
	test.Parallel()
	local := time.FixedZone("IST", 5*3600+1800)
	got := monthStart(time.Date(2026, time.April, 1, 2, 0, 0, 0, local))
	want := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		test.Fatalf("expected %s, got %s", want, got)
	}
}
