package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/docwriter-backend/internal/platform/logger"
)

// StatusEntry is one row of the status table: partition = job id, row key =
// "latest" or "<ts_microseconds>_<stage>". The full coerced payload rides in
// Fields; the scalar columns exist for querying.
type StatusEntry struct {
	Partition string         `gorm:"primaryKey;size:64"`
	RowKey    string         `gorm:"primaryKey;size:128"`
	JobID     string         `gorm:"size:64;index"`
	Stage     string         `gorm:"size:64"`
	Message   string         `gorm:"type:text"`
	Artifact  string         `gorm:"type:text"`
	Updated   float64        `gorm:"index"`
	Fields    datatypes.JSON `gorm:"type:jsonb"`
}

func (StatusEntry) TableName() string { return "status_entries" }

// DocumentEntry is one row of the per-user document index.
type DocumentEntry struct {
	Partition string         `gorm:"primaryKey;size:64"` // user id
	RowKey    string         `gorm:"primaryKey;size:64"` // job id
	Updated   float64        `gorm:"index"`
	Fields    datatypes.JSON `gorm:"type:jsonb"`
}

func (DocumentEntry) TableName() string { return "document_entries" }

type PostgresStore struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewPostgresStore(log *logger.Logger, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	store := &PostgresStore{log: log.With("service", "StatusStore"), db: db}
	if err := db.AutoMigrate(&StatusEntry{}, &DocumentEntry{}); err != nil {
		return nil, fmt.Errorf("status table migration failed: %w", err)
	}
	return store, nil
}

// NewPostgresStoreFromDB wraps an already-open connection (tests, shared pools).
func NewPostgresStoreFromDB(log *logger.Logger, db *gorm.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if err := db.AutoMigrate(&StatusEntry{}, &DocumentEntry{}); err != nil {
		return nil, fmt.Errorf("status table migration failed: %w", err)
	}
	return &PostgresStore{log: log.With("service", "StatusStore"), db: db}, nil
}

func (s *PostgresStore) Record(ctx context.Context, payload map[string]interface{}) error {
	jobID, _ := payload["job_id"].(string)
	if jobID == "" {
		return nil
	}
	coerced := CoercePayload(payload)
	raw, err := json.Marshal(coerced)
	if err != nil {
		return fmt.Errorf("encode status payload: %w", err)
	}
	stage, _ := payload["stage"].(string)
	message, _ := payload["message"].(string)
	artifact, _ := payload["artifact"].(string)
	updated := tsOf(payload)

	rows := []StatusEntry{
		{Partition: jobID, RowKey: "latest", JobID: jobID, Stage: stage, Message: message, Artifact: artifact, Updated: updated, Fields: raw},
		{Partition: jobID, RowKey: HistoryRowKey(updated, stage), JobID: jobID, Stage: stage, Message: message, Artifact: artifact, Updated: updated, Fields: raw},
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "partition"}, {Name: "row_key"}},
		UpdateAll: true,
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("record status for %s: %w", jobID, err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, jobID string) (map[string]interface{}, error) {
	var row StatusEntry
	err := s.db.WithContext(ctx).
		Where("partition = ? AND row_key = ?", jobID, "latest").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("latest for %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest for %s: %w", jobID, err)
	}
	return decodeFields(row)
}

func (s *PostgresStore) Timeline(ctx context.Context, jobID string) ([]map[string]interface{}, error) {
	var rows []StatusEntry
	err := s.db.WithContext(ctx).
		Where("partition = ? AND row_key <> ?", jobID, "latest").
		Order("row_key asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("timeline for %s: %w", jobID, err)
	}
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		payload, err := decodeFields(row)
		if err != nil {
			continue
		}
		out = append(out, payload)
	}
	return out, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, userID, jobID string, fields map[string]interface{}) error {
	if userID == "" || jobID == "" {
		return nil
	}
	merged := map[string]interface{}{}
	if existing, err := s.Get(ctx, userID, jobID); err == nil {
		merged = existing
	}
	for key, value := range CoercePayload(fields) {
		if value == nil {
			continue
		}
		merged[key] = value
	}
	merged["user_id"] = userID
	merged["job_id"] = jobID
	updated := tsOf(fields)
	merged["updated"] = updated

	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode document entry: %w", err)
	}
	row := DocumentEntry{Partition: userID, RowKey: jobID, Updated: updated, Fields: raw}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "partition"}, {Name: "row_key"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert document %s/%s: %w", userID, jobID, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, userID string) ([]map[string]interface{}, error) {
	var rows []DocumentEntry
	err := s.db.WithContext(ctx).
		Where("partition = ?", userID).
		Order("updated desc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list documents for user: %w", err)
	}
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		doc := map[string]interface{}{}
		if json.Unmarshal(row.Fields, &doc) != nil {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID, jobID string) (map[string]interface{}, error) {
	var row DocumentEntry
	err := s.db.WithContext(ctx).
		Where("partition = ? AND row_key = ?", userID, jobID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("document %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", jobID, err)
	}
	doc := map[string]interface{}{}
	if err := json.Unmarshal(row.Fields, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", jobID, err)
	}
	return doc, nil
}

func decodeFields(row StatusEntry) (map[string]interface{}, error) {
	payload := map[string]interface{}{}
	if err := json.Unmarshal(row.Fields, &payload); err != nil {
		return nil, fmt.Errorf("decode status row %s/%s: %w", row.Partition, row.RowKey, err)
	}
	if _, ok := payload["job_id"]; !ok {
		payload["job_id"] = row.Partition
	}
	return payload, nil
}

// HistoryRowKey builds the per-event row key. Microsecond timestamps are
// zero-padded so lexicographic row-key order is chronological.
func HistoryRowKey(ts float64, stage string) string {
	us := int64(ts * 1e6)
	if us < 0 {
		us = 0
	}
	return fmt.Sprintf("%020d_%s", us, stage)
}

// CoercePayload makes every value table-safe: scalars pass through,
// everything else becomes a JSON string, mirroring the wire contract that
// non-scalar fields are serialized.
func CoercePayload(payload map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		out[key] = coerceValue(value)
	}
	return out
}

func coerceValue(value interface{}) interface{} {
	switch value.(type) {
	case nil, string, bool,
		int, int32, int64, float32, float64:
		return value
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(raw)
	}
}

func tsOf(payload map[string]interface{}) float64 {
	switch v := payload["ts"].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return Now()
	}
}
