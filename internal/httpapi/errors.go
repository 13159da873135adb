package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	errorCodeUnauthorized      = "unauthorized"
	errorCodeForbidden         = "forbidden"
	errorCodeInvalidPayload    = "invalid_payload"
	errorCodeInvalidCursor     = "invalid_cursor"
	errorCodeInternal          = "internal_error"
	errorCodeInsufficient      = "insufficient_balance"
	errorCodeBelowMinimum      = "below_minimum_withdrawal"
	errorMessageMissingSession = "missing session"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{target: ledger.ErrInsufficientBalance, status: http.StatusPaymentRequired, code: errorCodeInsufficient},
	{target: ledger.ErrBelowMinimumWithdrawal, status: http.StatusUnprocessableEntity, code: errorCodeBelowMinimum},
	{target: ledger.ErrInvalidAmount, status: http.StatusBadRequest, code: "invalid_amount"},
	{target: ledger.ErrInvalidUserID, status: http.StatusBadRequest, code: "invalid_user_id"},
	{target: ledger.ErrInvalidContentID, status: http.StatusBadRequest, code: "invalid_content_id"},
	{target: ledger.ErrInvalidContentType, status: http.StatusBadRequest, code: "invalid_content_type"},
	{target: ledger.ErrInvalidEntryKind, status: http.StatusBadRequest, code: "invalid_entry_kind"},
	{target: ledger.ErrInvalidIdempotencyKey, status: http.StatusBadRequest, code: "invalid_idempotency_key"},
	{target: ledger.ErrInvalidMetadataJSON, status: http.StatusBadRequest, code: "invalid_metadata_json"},
	{target: ledger.ErrInvalidPayoutMethod, status: http.StatusBadRequest, code: "invalid_payout_method"},
	{target: ledger.ErrAccountNotFound, status: http.StatusNotFound, code: "account_not_found"},
	{target: ledger.ErrContentNotFound, status: http.StatusNotFound, code: "content_not_found"},
	{target: ledger.ErrContentInactive, status: http.StatusGone, code: "content_inactive"},
	{target: ledger.ErrUnknownWithdrawal, status: http.StatusNotFound, code: "unknown_withdrawal"},
	{target: ledger.ErrWithdrawalClosed, status: http.StatusConflict, code: "withdrawal_closed"},
	{target: ledger.ErrDuplicateIdempotencyKey, status: http.StatusConflict, code: "duplicate_idempotency_key"},
	{target: ledger.ErrConcurrencyConflict, status: http.StatusConflict, code: "concurrency_conflict"},
	{target: ledger.ErrStoreUnavailable, status: http.StatusServiceUnavailable, code: "store_unavailable"},
}

// respondError writes the error body for err. Unmapped errors are logged and hidden behind a generic message.
func (handler *httpHandler) respondError(ctx *gin.Context, err error, details gin.H) {
	status, code := classifyError(err)
	message := err.Error()
	if code == errorCodeInternal {
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		message = "internal error"
	}
	body := errorResponse(code, message)
	for key, value := range details {
		body[key] = value
	}
	ctx.JSON(status, body)
}

func classifyError(err error) (int, string) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.status, mapping.code
		}
	}
	return http.StatusInternalServerError, errorCodeInternal
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
