package ledger

// Operation names reported through OperationLog.
const (
	OperationOpenAccount        = "open_account"
	OperationDebit              = "debit"
	OperationCredit             = "credit"
	OperationRecordEarning      = "record_earning"
	OperationPurchase           = "purchase"
	OperationWithdraw           = "withdraw"
	OperationCompleteWithdrawal = "complete_withdrawal"

	OperationStatusOK    = "ok"
	OperationStatusError = "error"
)

const (
	idempotencyKeyDelimiter = ":"
	idempotencyPrefixBuy    = "purchase"
	idempotencyPrefixDraw   = "withdraw"
	idempotencySuffixSpend  = "spend"
	idempotencySuffixEarn   = "earn"

	defaultRecentEntriesLimit = 10
	maxListEntriesLimit       = 200
)
