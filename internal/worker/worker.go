package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/messaging"
	"github.com/yungbote/docwriter-backend/internal/observability"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
	"github.com/yungbote/docwriter-backend/internal/queue"
)

// Job is one in-flight delivery handed to a stage handler.
type Job struct {
	Payload *document.Payload
	Msg     queue.Message

	queueName string
	broker    queue.Broker
}

// NewJob builds a detached job for callers outside the receive loop, such as
// synchronous invocation in tests. RenewLock on a detached job is a no-op.
func NewJob(payload *document.Payload) *Job {
	return &Job{Payload: payload}
}

// RenewLock cooperatively extends the message visibility lock. Long handlers
// call this at intervals of 60s or less.
func (j *Job) RenewLock(ctx context.Context) error {
	if j.broker == nil {
		return nil
	}
	return j.broker.RenewLock(ctx, j.queueName, j.Msg)
}

// Handler processes one decoded payload. A returned error abandons the
// message for redelivery.
type Handler func(ctx context.Context, job *Job) error

// Options tunes one queue consumer.
type Options struct {
	// Stage name for the auto-emitted START event; empty disables it.
	Stage string
	// Handler pool size; minimum (and default) 1.
	Pool int
	// Auto-renewal cadence; lock renewal stops after RenewCeiling.
	RenewEvery   time.Duration
	RenewCeiling time.Duration
}

/*
Worker drives one queue: a single receive loop feeding a bounded handler
pool. Each message is decoded, announced with a START event, auto-renewed in
the background, then completed or abandoned based on the handler outcome.
Multiple worker processes may consume the same queue; the broker's
per-message lock keeps a job on exactly one handler at a time.
*/
type Worker struct {
	log     *logger.Logger
	broker  queue.Broker
	pub     *messaging.Publisher
	queue   string
	handler Handler
	opts    Options
}

func New(log *logger.Logger, broker queue.Broker, pub *messaging.Publisher, queueName string, handler Handler, opts Options) *Worker {
	if opts.Pool < 1 {
		opts.Pool = 1
	}
	if opts.RenewEvery <= 0 {
		opts.RenewEvery = 30 * time.Second
	}
	if opts.RenewCeiling <= 0 {
		opts.RenewCeiling = 900 * time.Second
	}
	return &Worker{
		log:     log.With("component", "Worker", "queue", queueName),
		broker:  broker,
		pub:     pub,
		queue:   queueName,
		handler: handler,
		opts:    opts,
	}
}

// Run consumes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started", "pool", w.opts.Pool, "stage", w.opts.Stage)
	for {
		if ctx.Err() != nil {
			w.log.Info("worker stopped")
			return
		}
		msgs, err := w.broker.Receive(ctx, w.queue, queue.MaxReceiveBatch, queue.DefaultReceiveWait)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info("worker stopped")
				return
			}
			observability.TrackException(ctx, err)
			w.log.Warn("receive failed", "error", err)
			time.Sleep(2 * time.Second)
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		w.processBatch(ctx, msgs)
	}
}

func (w *Worker) processBatch(ctx context.Context, msgs []queue.Message) {
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(w.opts.Pool)
	for _, msg := range msgs {
		msg := msg
		g.Go(func() error {
			w.processOne(gctx, msg)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *Worker) processOne(ctx context.Context, msg queue.Message) {
	payload, err := document.DecodePayload(msg.Body)
	if err != nil {
		observability.TrackException(ctx, err)
		w.log.Error("message decode failed, abandoning", "receipt_id", msg.ReceiptID, "error", err)
		if aErr := w.broker.Abandon(ctx, w.queue, msg); aErr != nil {
			w.log.Error("abandon failed", "receipt_id", msg.ReceiptID, "error", aErr)
		}
		return
	}

	if w.opts.Stage != "" && w.pub != nil {
		w.pub.PublishStageEvent(ctx, w.opts.Stage, "START", payload, nil)
	}

	renewCtx, stopRenew := context.WithCancel(ctx)
	go w.autoRenew(renewCtx, msg)

	job := &Job{Payload: payload, Msg: msg, queueName: w.queue, broker: w.broker}
	err = w.runHandler(ctx, job)
	stopRenew()

	if err != nil {
		observability.TrackException(ctx, err)
		w.log.Error("handler failed, abandoning",
			"job_id", payload.JobID,
			"receipt_id", msg.ReceiptID,
			"delivery", msg.Delivery,
			"error", err,
		)
		if aErr := w.broker.Abandon(ctx, w.queue, msg); aErr != nil {
			w.log.Error("abandon failed", "receipt_id", msg.ReceiptID, "error", aErr)
		}
		return
	}
	if cErr := w.broker.Complete(ctx, w.queue, msg); cErr != nil {
		w.log.Error("complete failed", "receipt_id", msg.ReceiptID, "error", cErr)
	}
}

func (w *Worker) runHandler(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, job)
}

// autoRenew extends the visibility lock on a cadence until the handler
// finishes or the renewal ceiling is reached.
func (w *Worker) autoRenew(ctx context.Context, msg queue.Message) {
	deadline := time.Now().Add(w.opts.RenewCeiling)
	ticker := time.NewTicker(w.opts.RenewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Now().After(deadline) {
				w.log.Warn("lock renewal ceiling reached", "receipt_id", msg.ReceiptID)
				return
			}
			if err := w.broker.RenewLock(ctx, w.queue, msg); err != nil {
				w.log.Warn("lock renewal failed", "receipt_id", msg.ReceiptID, "error", err)
				return
			}
		}
	}
}
