package httpapi

import (
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/funding"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/geo"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/orders"
)

type pointPayload struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (payload pointPayload) point() geo.Point {
	return geo.Point{Lat: payload.Lat, Lon: payload.Lon}
}

func newPointPayload(point geo.Point) pointPayload {
	return pointPayload{Lat: point.Lat, Lon: point.Lon}
}

type itemPayload struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type placeOrderRequest struct {
	MerchantID     string        `json:"merchant_id"`
	Items          []itemPayload `json:"items"`
	PaymentMethod  string        `json:"payment_method"`
	Pickup         pointPayload  `json:"pickup"`
	Dropoff        pointPayload  `json:"dropoff"`
	IdempotencyKey string        `json:"idempotency_key"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type declineItemsRequest struct {
	ItemIDs []string `json:"item_ids"`
	Reason  string   `json:"reason"`
}

type handoffRequest struct {
	CourierID string `json:"courier_id"`
	Code      string `json:"code"`
}

type presenceRequest struct {
	Online bool    `json:"online"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
}

type submitFundingRequest struct {
	OwnerType      string `json:"owner_type"`
	Amount         string `json:"amount"`
	Direction      string `json:"direction"`
	Method         string `json:"method"`
	ProofReference string `json:"proof_reference"`
	IdempotencyKey string `json:"idempotency_key"`
	Notes          string `json:"notes"`
}

type resolveFundingRequest struct {
	Secret string `json:"secret"`
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

type dispatchPayload struct {
	State        string     `json:"state"`
	CourierID    string     `json:"courier_id,omitempty"`
	RadiusKm     float64    `json:"radius_km,omitempty"`
	DispatchCode string     `json:"dispatch_code,omitempty"`
	PickupETA    *time.Time `json:"pickup_eta,omitempty"`
	DeliveryETA  *time.Time `json:"delivery_eta,omitempty"`
}

type orderPayload struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	MerchantID    string          `json:"merchant_id"`
	Items         []itemPayload   `json:"items"`
	Total         string          `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	Status        string          `json:"status"`
	CancelReason  string          `json:"cancel_reason,omitempty"`
	ItemsRevision int             `json:"items_revision"`
	Pickup        pointPayload    `json:"pickup"`
	Dropoff       pointPayload    `json:"dropoff"`
	Dispatch      dispatchPayload `json:"dispatch"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// newOrderPayload hides the dispatch code from everyone but the customer and the assigned
// courier, since the merchant is the one verifying it.
func newOrderPayload(order orders.Order, actorID string) orderPayload {
	items := make([]itemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, itemPayload{
			ItemID:    item.ItemID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: formatMoney(item.UnitPriceMinor),
		})
	}
	job := order.Dispatch
	payload := dispatchPayload{
		State:       job.State.String(),
		CourierID:   job.CourierID,
		RadiusKm:    job.RadiusKm,
		PickupETA:   job.PickupETA,
		DeliveryETA: job.DeliveryETA,
	}
	if actorID == order.CustomerID || (actorID != "" && actorID == job.CourierID) {
		payload.DispatchCode = job.DispatchCode
	}
	return orderPayload{
		ID:            order.ID,
		CustomerID:    order.CustomerID,
		MerchantID:    order.MerchantID,
		Items:         items,
		Total:         formatMoney(order.TotalMinor),
		PaymentMethod: order.PaymentMethod.String(),
		Status:        order.Status.String(),
		CancelReason:  order.CancelReason,
		ItemsRevision: order.ItemsRevision,
		Pickup:        newPointPayload(order.Pickup),
		Dropoff:       newPointPayload(order.Dropoff),
		Dispatch:      payload,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}

type fundingPayload struct {
	ID             string     `json:"id"`
	OwnerType      string     `json:"owner_type"`
	OwnerID        string     `json:"owner_id"`
	Amount         string     `json:"amount"`
	Direction      string     `json:"direction"`
	Method         string     `json:"method"`
	ProofReference string     `json:"proof_reference,omitempty"`
	ReferenceID    string     `json:"reference_id,omitempty"`
	Status         string     `json:"status"`
	RequestedBy    string     `json:"requested_by"`
	ReviewedBy     string     `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	LedgerEntryID  string     `json:"ledger_entry_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func newFundingPayload(request funding.Request) fundingPayload {
	return fundingPayload{
		ID:             request.ID,
		OwnerType:      request.Account.OwnerType().String(),
		OwnerID:        request.Account.OwnerID(),
		Amount:         formatMoney(request.Amount.Int64()),
		Direction:      request.Direction.String(),
		Method:         request.Method,
		ProofReference: request.ProofReference,
		ReferenceID:    request.ReferenceID,
		Status:         request.Status.String(),
		RequestedBy:    request.RequestedBy,
		ReviewedBy:     request.ReviewedBy,
		ReviewedAt:     request.ReviewedAt,
		Notes:          request.Notes,
		LedgerEntryID:  request.LedgerEntryID,
		CreatedAt:      request.CreatedAt,
	}
}

type entryPayload struct {
	EntryID         string    `json:"entry_id"`
	Sequence        int64     `json:"sequence"`
	Type            string    `json:"type"`
	TransactionType string    `json:"transaction_type"`
	Amount          string    `json:"amount"`
	RunningBalance  string    `json:"running_balance"`
	ReferenceID     string    `json:"reference_id,omitempty"`
	IdempotencyKey  string    `json:"idempotency_key"`
	EntryHash       string    `json:"entry_hash"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

func newEntryPayload(entry ledger.Entry) entryPayload {
	return entryPayload{
		EntryID:         entry.EntryID,
		Sequence:        entry.Sequence,
		Type:            entry.Type.String(),
		TransactionType: entry.TransactionType.String(),
		Amount:          formatMoney(entry.Amount.Int64()),
		RunningBalance:  formatMoney(entry.RunningBalance.Int64()),
		ReferenceID:     entry.ReferenceID,
		IdempotencyKey:  entry.IdempotencyKey.String(),
		EntryHash:       entry.EntryHash,
		Status:          string(entry.Status),
		CreatedAt:       entry.CreatedAt,
	}
}
