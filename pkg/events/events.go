// Package events defines the outbound event contract of the dispatch and ledger core.
// Transports (NATS, websockets, push) implement Publisher outside the core.
package events

import (
	"context"
	"sync"
	"time"
)

// Topic names an outbound event stream.
type Topic string

const (
	TopicOrderUpdate       Topic = "order_update"
	TopicNewOrderAvailable Topic = "new_order_available"
	TopicOrderClaimed      Topic = "order_claimed"
	TopicOrderClaimDenied  Topic = "order_claim_denied"
	TopicOrderUnassigned   Topic = "order_unassigned"
	TopicOrderReleased     Topic = "order_released"
	TopicOrderDelivered    Topic = "order_delivered"
	TopicWalletUpdated     Topic = "wallet_updated"
)

// Publisher delivers events to external subscribers.
type Publisher interface {
	Publish(ctx context.Context, topic Topic, payload any) error
}

// Event pairs a topic with its payload.
type Event struct {
	Topic   Topic
	Payload any
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Topic, any) error {
	return nil
}

// Batch buffers events produced inside a transaction so they are only
// published once the transaction has committed.
type Batch struct {
	events []Event
}

// Add queues an event.
func (batch *Batch) Add(topic Topic, payload any) {
	batch.events = append(batch.events, Event{Topic: topic, Payload: payload})
}

// Len reports the number of queued events.
func (batch *Batch) Len() int {
	return len(batch.events)
}

// Reset drops all queued events. Used when a transaction is retried or rolled back.
func (batch *Batch) Reset() {
	batch.events = batch.events[:0]
}

// Flush publishes queued events in order. Failures are handed to onError and never abort the flush.
func (batch *Batch) Flush(ctx context.Context, publisher Publisher, onError func(Event, error)) {
	if publisher == nil {
		batch.Reset()
		return
	}
	for _, event := range batch.events {
		if err := publisher.Publish(ctx, event.Topic, event.Payload); err != nil && onError != nil {
			onError(event, err)
		}
	}
	batch.Reset()
}

// Recorder is an in-memory Publisher that keeps every event. Safe for concurrent use.
type Recorder struct {
	mutex  sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (recorder *Recorder) Publish(_ context.Context, topic Topic, payload any) error {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.events = append(recorder.events, Event{Topic: topic, Payload: payload})
	return nil
}

// Events returns a copy of the recorded events.
func (recorder *Recorder) Events() []Event {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return append([]Event(nil), recorder.events...)
}

// ByTopic returns the recorded events for one topic.
func (recorder *Recorder) ByTopic(topic Topic) []Event {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	var matched []Event
	for _, event := range recorder.events {
		if event.Topic == topic {
			matched = append(matched, event)
		}
	}
	return matched
}

// Location is a coordinate pair as carried in event payloads.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// OrderUpdate notifies a customer of an order status change.
type OrderUpdate struct {
	OrderID    string     `json:"order_id"`
	CustomerID string     `json:"customer_id"`
	Status     string     `json:"status"`
	Message    string     `json:"message"`
	ETA        *time.Time `json:"eta,omitempty"`
}

// NewOrderAvailable offers an order to one eligible courier.
type NewOrderAvailable struct {
	OrderID     string   `json:"order_id"`
	CourierID   string   `json:"courier_id"`
	Pickup      Location `json:"pickup"`
	AmountMinor int64    `json:"amount_minor"`
	DistanceKm  float64  `json:"distance_km"`
	RadiusKm    float64  `json:"radius_km"`
}

// OrderClaimed tells the merchant which courier took the order.
type OrderClaimed struct {
	OrderID    string    `json:"order_id"`
	MerchantID string    `json:"merchant_id"`
	CourierID  string    `json:"courier_id"`
	PickupETA  time.Time `json:"pickup_eta"`
}

// OrderClaimDenied tells a courier that another courier won the claim.
type OrderClaimDenied struct {
	OrderID   string `json:"order_id"`
	CourierID string `json:"courier_id"`
}

// OrderUnassigned tells the previous courier and the merchant that an assignment was cleared.
type OrderUnassigned struct {
	OrderID    string `json:"order_id"`
	CourierID  string `json:"courier_id"`
	MerchantID string `json:"merchant_id"`
	Reason     string `json:"reason"`
}

// OrderReleased tells the courier and merchant that the physical handoff happened.
type OrderReleased struct {
	OrderID     string    `json:"order_id"`
	CourierID   string    `json:"courier_id"`
	MerchantID  string    `json:"merchant_id"`
	CustomerID  string    `json:"customer_id"`
	DeliveryETA time.Time `json:"delivery_eta"`
}

// OrderDelivered marks the terminal delivery of an order.
type OrderDelivered struct {
	OrderID     string `json:"order_id"`
	CourierID   string `json:"courier_id"`
	MerchantID  string `json:"merchant_id"`
	CustomerID  string `json:"customer_id"`
	AmountMinor int64  `json:"amount_minor"`
}

// WalletUpdated tells an account owner their balance changed.
type WalletUpdated struct {
	OwnerType       string `json:"owner_type"`
	OwnerID         string `json:"owner_id"`
	NewBalanceMinor int64  `json:"new_balance_minor"`
	EntryID         string `json:"entry_id"`
}
