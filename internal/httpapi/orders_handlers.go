package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/dispatch"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/orders"
	"github.com/gin-gonic/gin"
)

func (handler *httpHandler) handlePlaceOrder(ctx *gin.Context) {
	actorID, ok := handler.actor(ctx)
	if !ok {
		return
	}
	var payload placeOrderRequest
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "expected JSON body"))
		return
	}
	method, err := orders.ParsePaymentMethod(payload.PaymentMethod)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	items := make([]orders.Item, 0, len(payload.Items))
	for _, item := range payload.Items {
		unitPrice, parseErr := parseMoney(item.UnitPrice)
		if parseErr != nil {
			handler.respondError(ctx, fmt.Errorf("item %q: %w", item.ItemID, parseErr))
			return
		}
		items = append(items, orders.Item{
			ItemID:         item.ItemID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceMinor: unitPrice,
		})
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	order, replayed, err := handler.orders.PlaceOrder(requestCtx, orders.PlaceOrderRequest{
		CustomerID:     actorID,
		MerchantID:     payload.MerchantID,
		Items:          items,
		PaymentMethod:  method,
		Pickup:         payload.Pickup.point(),
		Dropoff:        payload.Dropoff.point(),
		IdempotencyKey: payload.IdempotencyKey,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	ctx.JSON(status, gin.H{"order": newOrderPayload(order, actorID), "replayed": replayed})
}

func (handler *httpHandler) handleGetOrder(ctx *gin.Context) {
	actorID, ok := handler.actor(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	order, err := handler.partyOrder(requestCtx, ctx.Param("id"), actorID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": newOrderPayload(order, actorID)})
}

func (handler *httpHandler) handleOrderRefunds(ctx *gin.Context) {
	actorID, ok := handler.actor(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	order, err := handler.partyOrder(requestCtx, ctx.Param("id"), actorID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	refunds, err := handler.orders.Refunds(requestCtx, order.ID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]fundingPayload, 0, len(refunds))
	for _, refund := range refunds {
		payloads = append(payloads, newFundingPayload(refund))
	}
	ctx.JSON(http.StatusOK, gin.H{"refunds": payloads})
}

func (handler *httpHandler) handleAccept(ctx *gin.Context) {
	handler.orderStep(ctx, func(requestCtx context.Context, orderID string, actorID string) (orders.Order, error) {
		return handler.orders.Accept(requestCtx, orderID, actorID)
	})
}

func (handler *httpHandler) handleDecline(ctx *gin.Context) {
	var payload reasonRequest
	if !bindJSON(ctx, &payload) {
		return
	}
	handler.orderStep(ctx, func(requestCtx context.Context, orderID string, actorID string) (orders.Order, error) {
		return handler.orders.Decline(requestCtx, orderID, actorID, payload.Reason)
	})
}

func (handler *httpHandler) handleMarkReady(ctx *gin.Context) {
	handler.orderStep(ctx, func(requestCtx context.Context, orderID string, actorID string) (orders.Order, error) {
		return handler.orders.MarkReady(requestCtx, orderID, actorID)
	})
}

func (handler *httpHandler) handleDeclineItems(ctx *gin.Context) {
	var payload declineItemsRequest
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "expected JSON body"))
		return
	}
	handler.orderStep(ctx, func(requestCtx context.Context, orderID string, actorID string) (orders.Order, error) {
		return handler.orders.DeclineItems(requestCtx, orderID, actorID, payload.ItemIDs, payload.Reason)
	})
}

func (handler *httpHandler) handleClaim(ctx *gin.Context) {
	handler.orderStep(ctx, func(requestCtx context.Context, orderID string, actorID string) (orders.Order, error) {
		return handler.orders.Claim(requestCtx, orderID, actorID)
	})
}

func (handler *httpHandler) handleUnassign(ctx *gin.Context) {
	var payload reasonRequest
	if !bindJSON(ctx, &payload) {
		return
	}
	handler.orderStep(ctx, func(requestCtx context.Context, orderID string, actorID string) (orders.Order, error) {
		return handler.orders.Unassign(requestCtx, orderID, actorID, payload.Reason)
	})
}

func (handler *httpHandler) handleRelease(ctx *gin.Context) {
	handler.orderStep(ctx, func(requestCtx context.Context, orderID string, actorID string) (orders.Order, error) {
		return handler.orders.Release(requestCtx, orderID, actorID)
	})
}

func (handler *httpHandler) handleHandoff(ctx *gin.Context) {
	var payload handoffRequest
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "expected JSON body"))
		return
	}
	handler.orderStep(ctx, func(requestCtx context.Context, orderID string, actorID string) (orders.Order, error) {
		return handler.orders.VerifyHandoff(requestCtx, orderID, actorID, payload.CourierID, payload.Code)
	})
}

func (handler *httpHandler) handleComplete(ctx *gin.Context) {
	handler.orderStep(ctx, func(requestCtx context.Context, orderID string, actorID string) (orders.Order, error) {
		return handler.orders.Complete(requestCtx, orderID, actorID)
	})
}

func (handler *httpHandler) handlePresence(ctx *gin.Context) {
	actorID, ok := handler.actor(ctx)
	if !ok {
		return
	}
	var payload presenceRequest
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	presence, err := handler.dispatch.UpdatePresence(requestCtx, dispatch.PresenceUpdate{
		CourierID: actorID,
		Online:    payload.Online,
		Location:  pointPayload{Lat: payload.Lat, Lon: payload.Lon}.point(),
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"courier_id":           presence.CourierID,
		"online":               presence.Online,
		"location":             newPointPayload(presence.Location),
		"last_location_update": presence.LastLocationUpdate,
	})
}

type orderStepFunc func(requestCtx context.Context, orderID string, actorID string) (orders.Order, error)

// orderStep runs a lifecycle action as the session user; the service enforces who may act.
func (handler *httpHandler) orderStep(ctx *gin.Context, step orderStepFunc) {
	actorID, ok := handler.actor(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	order, err := step(requestCtx, ctx.Param("id"), actorID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": newOrderPayload(order, actorID)})
}

// partyOrder loads an order visible to the customer, the merchant or the assigned courier.
func (handler *httpHandler) partyOrder(ctx context.Context, orderID string, actorID string) (orders.Order, error) {
	order, err := handler.orders.Get(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	switch actorID {
	case order.CustomerID, order.MerchantID:
		return order, nil
	}
	if order.Dispatch.CourierID != "" && order.Dispatch.CourierID == actorID {
		return order, nil
	}
	return orders.Order{}, fmt.Errorf("%w: %q", orders.ErrNotOrderParty, actorID)
}
