package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/gin-gonic/gin"
)

type purchaseRequest struct {
	ContentID   string `json:"contentId"`
	ContentType string `json:"contentType"`
}

type withdrawRequest struct {
	CoinAmount     json.Number     `json:"coinAmount"`
	Method         string          `json:"method"`
	AccountDetails json.RawMessage `json:"accountDetails"`
}

type creditRequest struct {
	UserID         string          `json:"userId"`
	CoinAmount     json.Number     `json:"coinAmount"`
	Kind           string          `json:"kind"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Description    string          `json:"description"`
	Metadata       json.RawMessage `json:"metadata"`
}

type purchaseResponse struct {
	Success          bool       `json:"success"`
	State            string     `json:"state"`
	AlreadyOwned     bool       `json:"alreadyOwned"`
	CoinsSpent       int64      `json:"coinsSpent"`
	RemainingBalance int64      `json:"remainingBalance"`
	AccessType       string     `json:"accessType"`
	PurchaseDate     *time.Time `json:"purchaseDate,omitempty"`
	GrantID          string     `json:"grantId,omitempty"`
}

type withdrawResponse struct {
	Success                 bool        `json:"success"`
	WithdrawalID            string      `json:"withdrawalId"`
	Coins                   int64       `json:"coins"`
	Rupees                  json.Number `json:"rupees"`
	Status                  string      `json:"status"`
	EstimatedProcessingTime string      `json:"estimatedProcessingTime"`
	RemainingBalance        int64       `json:"remainingBalance"`
}

type balanceResponse struct {
	CoinBalance         int64          `json:"coinBalance"`
	TotalEarned         *int64         `json:"totalEarned,omitempty"`
	TotalWithdrawn      *int64         `json:"totalWithdrawn,omitempty"`
	Withdrawable        *int64         `json:"withdrawable,omitempty"`
	MonthlyEarned       *int64         `json:"monthlyEarned,omitempty"`
	RecentLedgerEntries []entryPayload `json:"recentLedgerEntries"`
}

type entryPayload struct {
	EntryID        string          `json:"entryId"`
	Direction      string          `json:"direction"`
	Kind           string          `json:"kind"`
	Amount         int64           `json:"amount"`
	ContentType    string          `json:"contentType,omitempty"`
	ContentID      string          `json:"contentId,omitempty"`
	Status         string          `json:"status"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Metadata       json.RawMessage `json:"metadata"`
	BalanceAfter   int64           `json:"balanceAfter"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type ownedVideoPayload struct {
	VideoID string `json:"videoId"`
	Title   string `json:"title"`
	Price   int64  `json:"price"`
}

func (handler *httpHandler) handlePurchase(ctx *gin.Context) {
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return
	}
	ref, err := ledger.NewContentRef(request.ContentType, request.ContentID)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	buyerID := callerID(ctx)
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	receipt, err := ledger.RetryOnce(requestCtx, func(attemptCtx context.Context) (ledger.Receipt, error) {
		return handler.purchases.Purchase(attemptCtx, buyerID, ref)
	})
	if err != nil {
		var insufficient ledger.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			handler.respondError(ctx, err, gin.H{
				"coinsRequired":  insufficient.Required.Int64(),
				"coinsAvailable": insufficient.Available.Int64(),
				"coinsShortfall": insufficient.Shortfall().Int64(),
			})
			return
		}
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.JSON(http.StatusOK, purchaseResponse{
		Success:          true,
		State:            receipt.State.String(),
		AlreadyOwned:     receipt.State == ledger.PurchaseStateAlreadyOwned,
		CoinsSpent:       receipt.CoinsSpent.Int64(),
		RemainingBalance: receipt.RemainingBalance.Int64(),
		AccessType:       receipt.AccessType.String(),
		PurchaseDate:     receipt.PurchaseDate,
		GrantID:          receipt.GrantID,
	})
}

func (handler *httpHandler) handleWithdraw(ctx *gin.Context) {
	var request withdrawRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return
	}
	coins, err := parseCoinAmount(request.CoinAmount)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	method, err := ledger.ParsePayoutMethod(request.Method)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	details, err := ledger.NewMetadataJSON(string(request.AccountDetails))
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	receipt, err := handler.withdrawals.RequestWithdrawal(requestCtx, ledger.WithdrawalRequest{
		CreatorID:      callerID(ctx),
		Coins:          coins,
		Method:         method,
		AccountDetails: details,
	})
	if err != nil {
		var insufficient ledger.InsufficientBalanceError
		var belowMinimum ledger.BelowMinimumError
		switch {
		case errors.As(err, &insufficient):
			handler.respondError(ctx, err, gin.H{
				"requested": insufficient.Required.Int64(),
				"available": insufficient.Available.Int64(),
				"shortfall": insufficient.Shortfall().Int64(),
			})
		case errors.As(err, &belowMinimum):
			handler.respondError(ctx, err, gin.H{
				"requested": belowMinimum.Requested.Int64(),
				"minimum":   belowMinimum.Minimum.Int64(),
			})
		default:
			handler.respondError(ctx, err, nil)
		}
		return
	}
	ctx.JSON(http.StatusOK, withdrawResponse{
		Success:                 true,
		WithdrawalID:            receipt.Withdrawal.WithdrawalID,
		Coins:                   receipt.Withdrawal.Coins.Int64(),
		Rupees:                  json.Number(receipt.CurrencyAmount.String()),
		Status:                  receipt.Withdrawal.Status.String(),
		EstimatedProcessingTime: handler.cfg.PayoutProcessingTime,
		RemainingBalance:        receipt.NewBalance.Int64(),
	})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	includeCreatorTotals := hasRole(getClaims(ctx), handler.cfg.CreatorRole)
	summary, err := handler.service.BalanceSummary(requestCtx, callerID(ctx), includeCreatorTotals, handler.cfg.RecentEntriesLimit)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	response := balanceResponse{
		CoinBalance:         summary.CoinBalance.Int64(),
		RecentLedgerEntries: entryPayloads(summary.RecentEntries),
	}
	if summary.Creator != nil {
		response.TotalEarned = coinsPointer(summary.Creator.TotalEarned)
		response.TotalWithdrawn = coinsPointer(summary.Creator.TotalWithdrawn)
		response.Withdrawable = coinsPointer(summary.Creator.Withdrawable)
		response.MonthlyEarned = coinsPointer(summary.Creator.MonthlyEarned)
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleEntries(ctx *gin.Context) {
	var cursor ledger.EntryCursor
	if rawBefore := strings.TrimSpace(ctx.Query("before")); rawBefore != "" {
		parsed, err := time.Parse(time.RFC3339Nano, rawBefore)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidCursor, "before must be an RFC 3339 timestamp"))
			return
		}
		cursor = ledger.EntryCursor{Before: parsed, BeforeEntryID: strings.TrimSpace(ctx.Query("beforeId"))}
	} else if strings.TrimSpace(ctx.Query("beforeId")) != "" {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidCursor, "beforeId requires before"))
		return
	}
	limit := 0
	if rawLimit := strings.TrimSpace(ctx.Query("limit")); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidCursor, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, err := handler.service.ListEntries(requestCtx, callerID(ctx), cursor, limit)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	response := gin.H{"entries": entryPayloads(entries)}
	if len(entries) > 0 {
		next := entries[len(entries)-1].Cursor()
		response["nextBefore"] = next.Before.UTC().Format(time.RFC3339Nano)
		response["nextBeforeId"] = next.BeforeEntryID
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleAccess(ctx *gin.Context) {
	ref, err := ledger.NewContentRef(ctx.Param("contentType"), ctx.Param("contentID"))
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.access.CheckAccess(requestCtx, callerID(ctx), ref)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	response := gin.H{"hasAccess": result.HasAccess, "accessType": result.AccessType.String()}
	if result.PurchaseDate != nil {
		response["purchaseDate"] = result.PurchaseDate
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleSeriesPrice(ctx *gin.Context) {
	seriesID, err := ledger.NewContentID(ctx.Param("seriesID"))
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	quote, err := handler.pricing.CalculateAdjustedPrice(requestCtx, callerID(ctx), seriesID)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	owned := make([]ownedVideoPayload, 0, len(quote.OwnedVideos))
	for _, video := range quote.OwnedVideos {
		owned = append(owned, ownedVideoPayload{VideoID: video.VideoID.String(), Title: video.Title, Price: video.Price.Int64()})
	}
	ctx.JSON(http.StatusOK, gin.H{
		"seriesId":       seriesID.String(),
		"listPrice":      quote.ListPrice.Int64(),
		"adjustedPrice":  quote.AdjustedPrice.Int64(),
		"allVideosOwned": quote.AllVideosOwned,
		"ownedVideos":    owned,
	})
}

func (handler *httpHandler) handleAdminCredit(ctx *gin.Context) {
	var request creditRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return
	}
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	coins, err := parseCoinAmount(request.CoinAmount)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	kind, err := ledger.ParseEntryKind(defaultIfEmpty(request.Kind, ledger.EntryKindDeposit.String()))
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	idempotencyKey, err := ledger.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	metadata, err := ledger.NewMetadataJSON(string(request.Metadata))
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if _, err := handler.service.OpenAccount(requestCtx, userID); err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	result, err := handler.service.Credit(requestCtx, ledger.MutationRequest{
		UserID:         userID,
		Amount:         coins,
		Kind:           kind,
		IdempotencyKey: idempotencyKey,
		Description:    request.Description,
		Metadata:       metadata,
	})
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":    true,
		"entry":      entryPayloads([]ledger.Entry{result.Entry})[0],
		"newBalance": result.NewBalance.Int64(),
	})
}

func (handler *httpHandler) handleCompleteWithdrawal(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	withdrawal, err := handler.withdrawals.CompleteWithdrawal(requestCtx, ctx.Param("withdrawalID"))
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":      true,
		"withdrawalId": withdrawal.WithdrawalID,
		"userId":       withdrawal.UserID.String(),
		"coins":        withdrawal.Coins.Int64(),
		"status":       withdrawal.Status.String(),
	})
}

func (handler *httpHandler) handleAudit(ctx *gin.Context) {
	userID, err := ledger.NewUserID(ctx.Param("userID"))
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	report, err := handler.service.Audit(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"userId":           report.UserID.String(),
		"consistent":       report.Consistent(),
		"storedBalance":    report.StoredBalance.Int64(),
		"replayedBalance":  report.ReplayedBalance,
		"entryCount":       report.EntryCount,
		"divergentEntryId": report.DivergentEntryID,
	})
}

// parseCoinAmount accepts whole positive numbers only; fractional coins are rejected.
func parseCoinAmount(raw json.Number) (ledger.Coins, error) {
	value, err := strconv.ParseInt(raw.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a whole number of coins", ledger.ErrInvalidAmount, raw.String())
	}
	return ledger.NewPositiveCoins(value)
}

func entryPayloads(entries []ledger.Entry) []entryPayload {
	payloads := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload := entryPayload{
			EntryID:        entry.EntryID,
			Direction:      entry.Direction.String(),
			Kind:           entry.Kind.String(),
			Amount:         entry.Amount.Int64(),
			Status:         entry.Status.String(),
			Description:    entry.Description,
			IdempotencyKey: entry.IdempotencyKey.String(),
			Metadata:       json.RawMessage(entry.Metadata.String()),
			BalanceAfter:   entry.BalanceAfter.Int64(),
			CreatedAt:      entry.CreatedAt,
		}
		if entry.Related != nil {
			payload.ContentType = entry.Related.Type.String()
			payload.ContentID = entry.Related.ID.String()
		}
		payloads = append(payloads, payload)
	}
	return payloads
}

func coinsPointer(coins ledger.Coins) *int64 {
	value := coins.Int64()
	return &value
}
