package queue

import (
	"context"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/docwriter-backend/internal/platform/logger"
)

// redisTopic publishes status events over redis pub/sub. Channels are tried
// in order; the first successful publish wins.
type redisTopic struct {
	log      *logger.Logger
	rdb      *goredis.Client
	channels []string
}

func NewRedisTopic(log *logger.Logger, rdb *goredis.Client, channels []string) (StatusTopic, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("at least one status channel required")
	}
	return &redisTopic{
		log:      log.With("service", "StatusTopic"),
		rdb:      rdb,
		channels: channels,
	}, nil
}

// NewRedisTopicFromAddr dials its own connection; used when the topic does
// not share the broker's client.
func NewRedisTopicFromAddr(log *logger.Logger, addr, password string, db int, channels []string) (StatusTopic, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	return NewRedisTopic(log, rdb, channels)
}

func (t *redisTopic) Publish(ctx context.Context, body []byte) error {
	var lastErr error
	for _, ch := range t.channels {
		if err := t.rdb.Publish(ctx, ch, body).Err(); err != nil {
			lastErr = err
			t.log.Warn("status publish failed, trying fallback", "channel", ch, "error", err)
			continue
		}
		return nil
	}
	return fmt.Errorf("status publish failed on all channels: %w", lastErr)
}

// MemoryTopic collects published events for tests.
type MemoryTopic struct {
	mu     sync.Mutex
	Events [][]byte
}

func NewMemoryTopic() *MemoryTopic { return &MemoryTopic{} }

func (t *MemoryTopic) Publish(_ context.Context, body []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Events = append(t.Events, append([]byte(nil), body...))
	return nil
}

func (t *MemoryTopic) Published() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.Events))
	copy(out, t.Events)
	return out
}
