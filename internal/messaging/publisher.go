package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/docwriter-backend/internal/cycles"
	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
	"github.com/yungbote/docwriter-backend/internal/queue"
	"github.com/yungbote/docwriter-backend/internal/status"
)

// cyclicStages get a cycle number attached to their stage events.
var cyclicStages = map[string]bool{"REVIEW": true, "VERIFY": true, "REWRITE": true}

/*
Publisher is the messaging facade every stage talks through: queue sends,
normalized status publication, and the durable status/document-index
mirroring that rides along with each event.
*/
type Publisher struct {
	log    *logger.Logger
	broker queue.Broker
	topic  queue.StatusTopic
	table  status.Table
	index  status.DocumentIndex
}

func NewPublisher(log *logger.Logger, broker queue.Broker, topic queue.StatusTopic, table status.Table, index status.DocumentIndex) *Publisher {
	return &Publisher{
		log:    log.With("service", "Publisher"),
		broker: broker,
		topic:  topic,
		table:  table,
		index:  index,
	}
}

// SendQueue enqueues a job payload on the named queue.
func (p *Publisher) SendQueue(ctx context.Context, queueName string, payload *document.Payload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload for %q: %w", queueName, err)
	}
	if err := p.broker.Send(ctx, queueName, raw); err != nil {
		return fmt.Errorf("send to %q: %w", queueName, err)
	}
	return nil
}

/*
PublishStatus normalizes and delivers one status event: fills a default
message when missing, publishes to the topic, records to the status table,
and mirrors headline fields into the document index when the event carries a
user id.
*/
func (p *Publisher) PublishStatus(ctx context.Context, e status.Event) {
	if strings.TrimSpace(e.Message) == "" {
		e.Message = DefaultMessage(e.Stage, e.Cycle)
	}
	payload := e.Payload()
	raw, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("failed to encode status event", "job_id", e.JobID, "stage", e.Stage, "error", err)
		return
	}
	if p.topic != nil {
		if err := p.topic.Publish(ctx, raw); err != nil {
			p.log.Error("failed to publish status event", "job_id", e.JobID, "stage", e.Stage, "error", err)
		}
	}
	if p.table != nil {
		if err := p.table.Record(ctx, payload); err != nil {
			p.log.Error("failed to record status event", "job_id", e.JobID, "stage", e.Stage, "error", err)
		}
	}
	p.mirrorDocument(ctx, e, payload)
}

func (p *Publisher) mirrorDocument(ctx context.Context, e status.Event, payload map[string]interface{}) {
	if p.index == nil {
		return
	}
	userID, _ := payload["user_id"].(string)
	if userID == "" {
		return
	}
	fields := map[string]interface{}{
		"stage":   e.Stage,
		"message": e.Message,
		"ts":      e.TS,
	}
	if e.Artifact != "" {
		fields["artifact"] = e.Artifact
	}
	if title, ok := payload["title"].(string); ok && title != "" {
		fields["title"] = title
	}
	if audience, ok := payload["audience"].(string); ok && audience != "" {
		fields["audience"] = audience
	}
	if details, ok := payload["details"].(map[string]interface{}); ok {
		if v, ok := details["requested_cycles"]; ok {
			fields["cycles_requested"] = v
		}
		if v, ok := details["cycles_completed"]; ok {
			fields["cycles_completed"] = v
		}
	}
	failed := strings.HasSuffix(e.Stage, "_FAILED")
	fields["has_error"] = failed
	if failed {
		fields["last_error"] = e.Message
	}
	if err := p.index.Upsert(ctx, userID, e.JobID, fields); err != nil {
		p.log.Error("failed to mirror document index", "job_id", e.JobID, "user_id", userID, "error", err)
	}
}

/*
PublishStageEvent emits the transition event "<stage>_<event>" for a payload
with an auto-generated message. For cyclic stages (REVIEW, VERIFY, REWRITE)
the in-flight cycle number is attached.
*/
func (p *Publisher) PublishStageEvent(ctx context.Context, stage, event string, payload *document.Payload, extra map[string]interface{}) {
	if payload == nil || payload.JobID == "" {
		return
	}
	e := status.NewEvent(payload.JobID, stage+"_"+event)
	if cyclicStages[stage] {
		cycle := cycles.FromPayload(payload).CycleIndex()
		e.Cycle = &cycle
	}
	e.Message = DefaultMessage(e.Stage, e.Cycle)
	e.Extra = map[string]interface{}{"user_id": payload.UserID}
	for key, value := range extra {
		if value == nil {
			continue
		}
		switch key {
		case "artifact":
			if s, ok := value.(string); ok {
				e.Artifact = s
			}
		case "message":
			if s, ok := value.(string); ok {
				e.Message = s
			}
		default:
			e.Extra[key] = value
		}
	}
	p.PublishStatus(ctx, e)
}

// PrettyStage turns "REVIEW_IN_PROGRESS" into "Review in progress".
func PrettyStage(stage string) string {
	if strings.TrimSpace(stage) == "" {
		return "Status update"
	}
	parts := strings.Split(stage, "_")
	words := make([]string, 0, len(parts))
	for i, part := range parts {
		if part == "" {
			continue
		}
		lower := strings.ToLower(part)
		if i == 0 {
			lower = strings.ToUpper(lower[:1]) + lower[1:]
		}
		words = append(words, lower)
	}
	if len(words) == 0 {
		return "Status update"
	}
	return strings.Join(words, " ")
}

// DefaultMessage is the auto-generated human message for a stage event.
func DefaultMessage(stage string, cycle *int) string {
	label := PrettyStage(stage)
	if cycle != nil {
		return fmt.Sprintf("%s (cycle %d)", label, *cycle)
	}
	return label
}
