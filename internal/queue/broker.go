package queue

import (
	"context"
	"time"
)

/*
Message is one delivery from a named queue. Body is the raw UTF-8 JSON the
producer enqueued. ReceiptID identifies this delivery for Complete, Abandon
and RenewLock; a redelivered message gets a fresh ReceiptID.
*/
type Message struct {
	ReceiptID string
	Body      []byte
	Delivery  int // 1 on first delivery
}

/*
Broker is the at-least-once queue contract every stage runs on.

Semantics:
  - Send enqueues one message on the named queue.
  - Receive blocks up to wait for up to max messages (max is capped at 10 by
    implementations) and takes a visibility lock on each.
  - Complete removes a locked message permanently.
  - Abandon releases the lock and makes the message immediately redeliverable.
  - RenewLock extends the visibility lock; callers renew periodically for
    long handlers, up to the configured ceiling.

A message whose lock expires without Complete is redelivered to the next
receiver, so handlers must be idempotent.
*/
type Broker interface {
	Send(ctx context.Context, queue string, body []byte) error
	Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]Message, error)
	Complete(ctx context.Context, queue string, m Message) error
	Abandon(ctx context.Context, queue string, m Message) error
	RenewLock(ctx context.Context, queue string, m Message) error
	Close() error
}

// StatusTopic fans status events out to subscribers. Publish tries each
// configured channel in order and stops at the first success.
type StatusTopic interface {
	Publish(ctx context.Context, body []byte) error
}

// MaxReceiveBatch caps the batch size a single Receive may return.
const MaxReceiveBatch = 10

// DefaultReceiveWait is the long-poll interval used by the worker harness.
const DefaultReceiveWait = 30 * time.Second
