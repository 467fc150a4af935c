package queue

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBrokerDeliverAndComplete(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	if err := b.Send(ctx, "write", []byte(`{"job_id":"j1"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs, err := b.Receive(ctx, "write", 10, time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("receive: want 1 message, got %d", len(msgs))
	}
	if msgs[0].Delivery != 1 {
		t.Fatalf("delivery: want=1 got=%d", msgs[0].Delivery)
	}
	if err := b.Complete(ctx, "write", msgs[0]); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := b.Len("write"); got != 0 {
		t.Fatalf("queue len after complete: want=0 got=%d", got)
	}
}

func TestMemoryBrokerAbandonRedelivers(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	_ = b.Send(ctx, "verify", []byte(`{}`))

	msgs, _ := b.Receive(ctx, "verify", 1, 0)
	if err := b.Abandon(ctx, "verify", msgs[0]); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	again, _ := b.Receive(ctx, "verify", 1, 0)
	if len(again) != 1 {
		t.Fatalf("redelivery: want 1 message, got %d", len(again))
	}
	if again[0].Delivery != 2 {
		t.Fatalf("redelivery count: want=2 got=%d", again[0].Delivery)
	}
	if again[0].ReceiptID == msgs[0].ReceiptID {
		t.Fatalf("redelivery must carry a fresh receipt id")
	}
}

func TestMemoryBrokerBatchCap(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	for i := 0; i < 15; i++ {
		_ = b.Send(ctx, "review_general", []byte(`{}`))
	}
	msgs, _ := b.Receive(ctx, "review_general", 50, 0)
	if len(msgs) != MaxReceiveBatch {
		t.Fatalf("batch cap: want=%d got=%d", MaxReceiveBatch, len(msgs))
	}
}
