package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/docwriter-backend/internal/platform/logger"
)

/*
redisBroker implements Broker over redis lists.

Per queue <q> (under the key prefix):
  - <q>            pending list, LPUSH to enqueue, BLMOVE to receive
  - <q>:processing entries currently locked by some consumer
  - <q>:lock:<id>  per-delivery visibility lock with TTL

Receive moves an entry from the pending list onto the processing list and
takes a lock key with the visibility TTL. Complete removes both. Abandon
pushes the entry back to the head of the pending list with a bumped attempt
counter. A background reaper requeues processing entries whose lock key has
expired, which is what makes delivery at-least-once across process crashes.
*/
type redisBroker struct {
	log        *logger.Logger
	rdb        *goredis.Client
	prefix     string
	visibility time.Duration

	mu      sync.Mutex
	pending map[string]string // receipt id -> raw entry on the processing list

	stopReaper context.CancelFunc
}

type entry struct {
	ID       string          `json:"id"`
	Attempts int             `json:"attempts"`
	Body     json.RawMessage `json:"body"`
}

type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string        // defaults to "docwriter"
	Visibility time.Duration // initial lock TTL, defaults to 60s
}

func NewRedisBroker(log *logger.Logger, opts RedisOptions) (Broker, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr is empty")
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "docwriter"
	}
	if opts.Visibility <= 0 {
		opts.Visibility = 60 * time.Second
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	reaperCtx, stop := context.WithCancel(context.Background())
	b := &redisBroker{
		log:        log.With("service", "RedisBroker"),
		rdb:        rdb,
		prefix:     opts.KeyPrefix,
		visibility: opts.Visibility,
		pending:    map[string]string{},
		stopReaper: stop,
	}
	go b.runReaper(reaperCtx)
	return b, nil
}

func (b *redisBroker) queueKey(q string) string      { return b.prefix + ":q:" + q }
func (b *redisBroker) processingKey(q string) string { return b.prefix + ":q:" + q + ":processing" }
func (b *redisBroker) lockKey(q, id string) string   { return b.prefix + ":q:" + q + ":lock:" + id }

func (b *redisBroker) Send(ctx context.Context, queue string, body []byte) error {
	e := entry{ID: uuid.NewString(), Attempts: 1, Body: json.RawMessage(body)}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode queue entry: %w", err)
	}
	if err := b.rdb.LPush(ctx, b.queueKey(queue), raw).Err(); err != nil {
		return fmt.Errorf("enqueue on %q: %w", queue, err)
	}
	return nil
}

func (b *redisBroker) Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 || max > MaxReceiveBatch {
		max = MaxReceiveBatch
	}
	src, dst := b.queueKey(queue), b.processingKey(queue)

	out := []Message{}
	// Block for the first message, then drain opportunistically.
	raw, err := b.rdb.BLMove(ctx, src, dst, "RIGHT", "LEFT", wait).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receive from %q: %w", queue, err)
	}
	if m, ok := b.claim(ctx, queue, raw); ok {
		out = append(out, m)
	}
	for len(out) < max {
		raw, err := b.rdb.LMove(ctx, src, dst, "RIGHT", "LEFT").Result()
		if err == goredis.Nil {
			break
		}
		if err != nil {
			return out, nil
		}
		if m, ok := b.claim(ctx, queue, raw); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (b *redisBroker) claim(ctx context.Context, queue, raw string) (Message, bool) {
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		// Poison entry: drop it from the processing list.
		b.log.Warn("dropping undecodable queue entry", "queue", queue, "error", err)
		_ = b.rdb.LRem(ctx, b.processingKey(queue), 1, raw).Err()
		return Message{}, false
	}
	if err := b.rdb.Set(ctx, b.lockKey(queue, e.ID), raw, b.visibility).Err(); err != nil {
		b.log.Warn("failed to take lock, leaving entry for reaper", "queue", queue, "error", err)
		return Message{}, false
	}
	b.mu.Lock()
	b.pending[e.ID] = raw
	b.mu.Unlock()
	return Message{ReceiptID: e.ID, Body: append([]byte(nil), e.Body...), Delivery: e.Attempts}, true
}

func (b *redisBroker) takePending(id string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	return raw, ok
}

func (b *redisBroker) Complete(ctx context.Context, queue string, m Message) error {
	raw, ok := b.takePending(m.ReceiptID)
	if !ok {
		return fmt.Errorf("complete: unknown receipt %q on %q", m.ReceiptID, queue)
	}
	if err := b.rdb.LRem(ctx, b.processingKey(queue), 1, raw).Err(); err != nil {
		return fmt.Errorf("complete on %q: %w", queue, err)
	}
	_ = b.rdb.Del(ctx, b.lockKey(queue, m.ReceiptID)).Err()
	return nil
}

func (b *redisBroker) Abandon(ctx context.Context, queue string, m Message) error {
	raw, ok := b.takePending(m.ReceiptID)
	if !ok {
		return fmt.Errorf("abandon: unknown receipt %q on %q", m.ReceiptID, queue)
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return fmt.Errorf("abandon: decode entry: %w", err)
	}
	e.ID = uuid.NewString()
	e.Attempts++
	requeued, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("abandon: encode entry: %w", err)
	}
	pipe := b.rdb.TxPipeline()
	pipe.LRem(ctx, b.processingKey(queue), 1, raw)
	pipe.RPush(ctx, b.queueKey(queue), requeued)
	pipe.Del(ctx, b.lockKey(queue, m.ReceiptID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("abandon on %q: %w", queue, err)
	}
	return nil
}

func (b *redisBroker) RenewLock(ctx context.Context, queue string, m Message) error {
	ok, err := b.rdb.Expire(ctx, b.lockKey(queue, m.ReceiptID), b.visibility).Result()
	if err != nil {
		return fmt.Errorf("renew lock on %q: %w", queue, err)
	}
	if !ok {
		return fmt.Errorf("renew lock on %q: lock for %q already expired", queue, m.ReceiptID)
	}
	return nil
}

// runReaper periodically requeues processing entries whose lock expired,
// covering consumers that died without completing or abandoning.
func (b *redisBroker) runReaper(ctx context.Context) {
	ticker := time.NewTicker(b.visibility / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.reapOnce(ctx)
		}
	}
}

func (b *redisBroker) reapOnce(ctx context.Context) {
	pattern := b.prefix + ":q:*:processing"
	iter := b.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		procKey := iter.Val()
		queue := procKey[len(b.prefix+":q:") : len(procKey)-len(":processing")]
		raws, err := b.rdb.LRange(ctx, procKey, 0, -1).Result()
		if err != nil {
			continue
		}
		for _, raw := range raws {
			var e entry
			if json.Unmarshal([]byte(raw), &e) != nil {
				_ = b.rdb.LRem(ctx, procKey, 1, raw).Err()
				continue
			}
			exists, err := b.rdb.Exists(ctx, b.lockKey(queue, e.ID)).Result()
			if err != nil || exists > 0 {
				continue
			}
			removed, err := b.rdb.LRem(ctx, procKey, 1, raw).Result()
			if err != nil || removed == 0 {
				continue
			}
			e.ID = uuid.NewString()
			e.Attempts++
			requeued, err := json.Marshal(e)
			if err != nil {
				continue
			}
			_ = b.rdb.RPush(ctx, b.queueKey(queue), requeued).Err()
			b.log.Warn("requeued expired delivery", "queue", queue, "attempts", e.Attempts)
		}
	}
}

func (b *redisBroker) Close() error {
	if b.stopReaper != nil {
		b.stopReaper()
	}
	return b.rdb.Close()
}
