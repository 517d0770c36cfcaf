package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/funding"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
	"github.com/gin-gonic/gin"
)

const defaultEntriesLimit = 50

func (handler *httpHandler) handleSubmitFunding(ctx *gin.Context) {
	actorID, ok := handler.actor(ctx)
	if !ok {
		return
	}
	var payload submitFundingRequest
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "expected JSON body"))
		return
	}
	ownerType, err := ledger.ParseOwnerType(payload.OwnerType)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	account, err := ledger.NewAccount(ownerType, actorID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	minor, err := parseMoney(payload.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	amount, err := ledger.NewAmount(minor)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	direction, err := funding.ParseDirection(payload.Direction)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	key, err := ledger.NewIdempotencyKey(payload.IdempotencyKey)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	request, replayed, err := handler.funding.Submit(requestCtx, funding.SubmitRequest{
		Account:        account,
		Amount:         amount,
		Direction:      direction,
		Method:         payload.Method,
		ProofReference: payload.ProofReference,
		IdempotencyKey: key,
		RequestedBy:    actorID,
		Notes:          payload.Notes,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	ctx.JSON(status, gin.H{"request": newFundingPayload(request), "replayed": replayed})
}

func (handler *httpHandler) handleGetFunding(ctx *gin.Context) {
	actorID, ok := handler.actor(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	request, err := handler.funding.Get(requestCtx, ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if request.RequestedBy != actorID && request.Account.OwnerID() != actorID {
		// Reviewers resolve by id and secret; reads stay with the requester and the account owner.
		handler.respondError(ctx, fmt.Errorf("%w: not the requester", funding.ErrUnknownRequest))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"request": newFundingPayload(request)})
}

func (handler *httpHandler) handleApproveFunding(ctx *gin.Context) {
	actorID, ok := handler.actor(ctx)
	if !ok {
		return
	}
	var payload resolveFundingRequest
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	request, entry, err := handler.funding.Approve(requestCtx, ctx.Param("id"), actorID, payload.Secret, payload.Notes)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"request": newFundingPayload(request), "entry": newEntryPayload(entry)})
}

func (handler *httpHandler) handleRejectFunding(ctx *gin.Context) {
	actorID, ok := handler.actor(ctx)
	if !ok {
		return
	}
	var payload resolveFundingRequest
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	request, err := handler.funding.Reject(requestCtx, ctx.Param("id"), actorID, payload.Secret, payload.Reason)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"request": newFundingPayload(request)})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	account, ok := handler.ownedAccount(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	balance, err := handler.ledger.Balance(requestCtx, account)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	state, err := handler.ledger.AccountState(requestCtx, account)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"owner_type": account.OwnerType().String(),
		"owner_id":   account.OwnerID(),
		"balance":    formatMoney(balance.Int64()),
		"frozen":     state.FrozenAt != nil,
	})
}

func (handler *httpHandler) handleEntries(ctx *gin.Context) {
	account, ok := handler.ownedAccount(ctx)
	if !ok {
		return
	}
	var (
		before int64
		limit  = defaultEntriesLimit
		err    error
	)
	if raw := ctx.Query("before"); raw != "" {
		if before, err = strconv.ParseInt(raw, 10, 64); err != nil || before < 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "before must be a sequence number"))
			return
		}
	}
	if raw := ctx.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "limit must be an integer"))
			return
		}
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, err := handler.ledger.ListEntries(requestCtx, account, before, limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, newEntryPayload(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payloads})
}

func (handler *httpHandler) handleVerify(ctx *gin.Context) {
	account, ok := handler.ownedAccount(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	report, err := handler.ledger.VerifyChainReport(requestCtx, account)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"valid":              report.Valid,
		"entries_checked":    report.EntriesChecked,
		"broken_at_sequence": report.BrokenAtSequence,
		"reason":             report.Reason,
		"tail_balance":       formatMoney(report.TailBalance.Int64()),
	})
}

// ownedAccount resolves the path account and requires the session user to own it.
func (handler *httpHandler) ownedAccount(ctx *gin.Context) (ledger.Account, bool) {
	actorID, ok := handler.actor(ctx)
	if !ok {
		return ledger.Account{}, false
	}
	ownerType, err := ledger.ParseOwnerType(ctx.Param("owner_type"))
	if err != nil {
		handler.respondError(ctx, err)
		return ledger.Account{}, false
	}
	account, err := ledger.NewAccount(ownerType, ctx.Param("owner_id"))
	if err != nil {
		handler.respondError(ctx, err)
		return ledger.Account{}, false
	}
	if account.OwnerID() != actorID {
		ctx.JSON(http.StatusForbidden, errorResponse("not_account_owner", "account belongs to another user"))
		return ledger.Account{}, false
	}
	return account, true
}
