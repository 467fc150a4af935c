package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBroker is an in-process Broker for tests and local runs. Locks are
// tracked but never expire; Abandon makes a message immediately
// redeliverable with a bumped delivery count.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string][]memEntry
	locked map[string]lockedEntry // receipt id -> entry
}

type memEntry struct {
	body     []byte
	attempts int
}

type lockedEntry struct {
	queue string
	memEntry
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: map[string][]memEntry{},
		locked: map[string]lockedEntry{},
	}
}

func (b *MemoryBroker) Send(_ context.Context, queue string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[queue] = append(b.queues[queue], memEntry{body: append([]byte(nil), body...), attempts: 1})
	return nil
}

func (b *MemoryBroker) Receive(_ context.Context, queue string, max int, _ time.Duration) ([]Message, error) {
	if max <= 0 || max > MaxReceiveBatch {
		max = MaxReceiveBatch
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	pending := b.queues[queue]
	if len(pending) == 0 {
		return nil, nil
	}
	n := max
	if n > len(pending) {
		n = len(pending)
	}
	out := make([]Message, 0, n)
	for _, e := range pending[:n] {
		id := uuid.NewString()
		b.locked[id] = lockedEntry{queue: queue, memEntry: e}
		out = append(out, Message{ReceiptID: id, Body: append([]byte(nil), e.body...), Delivery: e.attempts})
	}
	b.queues[queue] = pending[n:]
	return out, nil
}

func (b *MemoryBroker) Complete(_ context.Context, queue string, m Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	le, ok := b.locked[m.ReceiptID]
	if !ok || le.queue != queue {
		return fmt.Errorf("complete: unknown receipt %q on %q", m.ReceiptID, queue)
	}
	delete(b.locked, m.ReceiptID)
	return nil
}

func (b *MemoryBroker) Abandon(_ context.Context, queue string, m Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	le, ok := b.locked[m.ReceiptID]
	if !ok || le.queue != queue {
		return fmt.Errorf("abandon: unknown receipt %q on %q", m.ReceiptID, queue)
	}
	delete(b.locked, m.ReceiptID)
	le.attempts++
	b.queues[queue] = append(b.queues[queue], le.memEntry)
	return nil
}

func (b *MemoryBroker) RenewLock(_ context.Context, queue string, m Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if le, ok := b.locked[m.ReceiptID]; !ok || le.queue != queue {
		return fmt.Errorf("renew lock: unknown receipt %q on %q", m.ReceiptID, queue)
	}
	return nil
}

func (b *MemoryBroker) Close() error { return nil }

// Len reports the number of pending (unlocked) messages on a queue.
func (b *MemoryBroker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}
