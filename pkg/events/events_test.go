package events

import (
	"context"
	"errors"
	"testing"
)

type failingPublisher struct {
	failTopic Topic
	published []Topic
}

func (publisher *failingPublisher) Publish(_ context.Context, topic Topic, _ any) error {
	if topic == publisher.failTopic {
		return errors.New("transport down")
	}
	publisher.published = append(publisher.published, topic)
	return nil
}

func TestBatchFlushContinuesAfterFailure(test *testing.T) {
	test.Parallel()
	batch := &Batch{}
	batch.Add(TopicOrderUpdate, OrderUpdate{OrderID: "o-1"})
	batch.Add(TopicOrderClaimed, OrderClaimed{OrderID: "o-1"})
	batch.Add(TopicWalletUpdated, WalletUpdated{OwnerID: "c-1"})

	publisher := &failingPublisher{failTopic: TopicOrderClaimed}
	var failed []Topic
	batch.Flush(context.Background(), publisher, func(event Event, err error) {
		failed = append(failed, event.Topic)
	})

	if len(publisher.published) != 2 {
		test.Fatalf("expected 2 published events, got %v", publisher.published)
	}
	if len(failed) != 1 || failed[0] != TopicOrderClaimed {
		test.Fatalf("expected claimed topic to fail, got %v", failed)
	}
	if batch.Len() != 0 {
		test.Fatalf("expected batch to be empty after flush, got %d", batch.Len())
	}
}

func TestRecorderByTopic(test *testing.T) {
	test.Parallel()
	recorder := &Recorder{}
	_ = recorder.Publish(context.Background(), TopicOrderUpdate, OrderUpdate{OrderID: "o-1"})
	_ = recorder.Publish(context.Background(), TopicNewOrderAvailable, NewOrderAvailable{OrderID: "o-1", CourierID: "r-1"})
	_ = recorder.Publish(context.Background(), TopicNewOrderAvailable, NewOrderAvailable{OrderID: "o-1", CourierID: "r-2"})

	if got := len(recorder.ByTopic(TopicNewOrderAvailable)); got != 2 {
		test.Fatalf("expected 2 offers, got %d", got)
	}
	if got := len(recorder.Events()); got != 3 {
		test.Fatalf("expected 3 events, got %d", got)
	}
}
