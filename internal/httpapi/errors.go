package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/dispatch"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/funding"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/geo"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/orders"
	"github.com/gin-gonic/gin"
)

const (
	errorInvalidPayload = "invalid_payload"
	errorUnauthorized   = "unauthorized"
	errorInternal       = "internal_error"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is checked in order; the first errors.Is match wins.
var errorMappings = []errorMapping{
	{target: ledger.ErrChainBroken, status: http.StatusLocked, code: "ledger_chain_broken"},
	{target: ledger.ErrAccountFrozen, status: http.StatusLocked, code: "account_frozen"},
	{target: ledger.ErrInsufficientBalance, status: http.StatusUnprocessableEntity, code: "insufficient_balance"},

	{target: funding.ErrInvalidAuthorization, status: http.StatusForbidden, code: "invalid_authorization"},
	{target: orders.ErrNotOrderParty, status: http.StatusForbidden, code: "not_order_party"},
	{target: orders.ErrInvalidDispatchCode, status: http.StatusForbidden, code: "invalid_dispatch_code"},

	{target: orders.ErrUnknownOrder, status: http.StatusNotFound, code: "unknown_order"},
	{target: funding.ErrUnknownRequest, status: http.StatusNotFound, code: "unknown_funding_request"},
	{target: ledger.ErrUnknownEntry, status: http.StatusNotFound, code: "unknown_entry"},

	{target: dispatch.ErrAlreadyAssigned, status: http.StatusConflict, code: "already_assigned"},
	{target: dispatch.ErrAlreadyReleased, status: http.StatusConflict, code: "already_released"},
	{target: dispatch.ErrNotAssigned, status: http.StatusConflict, code: "not_assigned"},
	{target: dispatch.ErrNotSearching, status: http.StatusConflict, code: "not_searching"},
	{target: dispatch.ErrSearchClosed, status: http.StatusConflict, code: "search_closed"},
	{target: dispatch.ErrStateConflict, status: http.StatusConflict, code: "dispatch_conflict"},
	{target: dispatch.ErrCourierUnavailable, status: http.StatusConflict, code: "courier_unavailable"},
	{target: funding.ErrAlreadyResolved, status: http.StatusConflict, code: "already_resolved"},
	{target: orders.ErrStatusConflict, status: http.StatusConflict, code: "status_conflict"},
	{target: orders.ErrInvalidTransition, status: http.StatusConflict, code: "invalid_transition"},
	{target: orders.ErrCourierMismatch, status: http.StatusConflict, code: "courier_mismatch"},
	{target: ledger.ErrIdempotencyMismatch, status: http.StatusConflict, code: "idempotency_mismatch"},
	{target: ledger.ErrDuplicateIdempotencyKey, status: http.StatusConflict, code: "duplicate_idempotency_key"},

	{target: errInvalidMoney, status: http.StatusBadRequest, code: "invalid_amount"},
	{target: geo.ErrInvalidCoordinates, status: http.StatusBadRequest, code: "invalid_coordinates"},
	{target: orders.ErrInvalidItems, status: http.StatusBadRequest, code: "invalid_items"},
	{target: orders.ErrUnknownItem, status: http.StatusBadRequest, code: "unknown_item"},
	{target: orders.ErrInvalidPaymentMethod, status: http.StatusBadRequest, code: "invalid_payment_method"},
	{target: orders.ErrInvalidCustomerID, status: http.StatusBadRequest, code: "invalid_customer_id"},
	{target: orders.ErrInvalidMerchantID, status: http.StatusBadRequest, code: "invalid_merchant_id"},
	{target: dispatch.ErrInvalidCourierID, status: http.StatusBadRequest, code: "invalid_courier_id"},
	{target: dispatch.ErrInvalidOrderID, status: http.StatusBadRequest, code: "invalid_order_id"},
	{target: funding.ErrInvalidRequestID, status: http.StatusBadRequest, code: "invalid_request_id"},
	{target: funding.ErrInvalidDirection, status: http.StatusBadRequest, code: "invalid_direction"},
	{target: funding.ErrInvalidMethod, status: http.StatusBadRequest, code: "invalid_method"},
	{target: funding.ErrInvalidReviewer, status: http.StatusBadRequest, code: "invalid_reviewer"},
	{target: ledger.ErrInvalidAccount, status: http.StatusBadRequest, code: "invalid_account"},
	{target: ledger.ErrInvalidOwnerType, status: http.StatusBadRequest, code: "invalid_owner_type"},
	{target: ledger.ErrInvalidOwnerID, status: http.StatusBadRequest, code: "invalid_owner_id"},
	{target: ledger.ErrInvalidAmount, status: http.StatusBadRequest, code: "invalid_amount"},
	{target: ledger.ErrInvalidTransactionType, status: http.StatusBadRequest, code: "invalid_transaction_type"},
	{target: ledger.ErrInvalidIdempotencyKey, status: http.StatusBadRequest, code: "invalid_idempotency_key"},
	{target: ledger.ErrInvalidListLimit, status: http.StatusBadRequest, code: "invalid_list_limit"},
}

func classifyError(err error) (int, string) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.status, mapping.code
		}
	}
	return http.StatusInternalServerError, errorInternal
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
