package status

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryTable implements Table and DocumentIndex in memory for tests.
type MemoryTable struct {
	mu      sync.Mutex
	rows    map[string]map[string]map[string]interface{} // partition -> row key -> payload
	docs    map[string]map[string]map[string]interface{} // user -> job -> fields
	history map[string][]string                          // partition -> ordered history row keys
}

func NewMemoryTable() *MemoryTable {
	return &MemoryTable{
		rows:    map[string]map[string]map[string]interface{}{},
		docs:    map[string]map[string]map[string]interface{}{},
		history: map[string][]string{},
	}
}

func (t *MemoryTable) Record(_ context.Context, payload map[string]interface{}) error {
	jobID, _ := payload["job_id"].(string)
	if jobID == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	coerced := CoercePayload(payload)
	if t.rows[jobID] == nil {
		t.rows[jobID] = map[string]map[string]interface{}{}
	}
	stage, _ := payload["stage"].(string)
	key := HistoryRowKey(tsOf(payload), stage)
	t.rows[jobID]["latest"] = clonePayload(coerced)
	if _, exists := t.rows[jobID][key]; !exists {
		t.history[jobID] = append(t.history[jobID], key)
	}
	t.rows[jobID][key] = clonePayload(coerced)
	return nil
}

func (t *MemoryTable) Latest(_ context.Context, jobID string) (map[string]interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[jobID]["latest"]
	if !ok {
		return nil, fmt.Errorf("latest for %s: %w", jobID, ErrNotFound)
	}
	return clonePayload(row), nil
}

func (t *MemoryTable) Timeline(_ context.Context, jobID string) ([]map[string]interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := append([]string(nil), t.history[jobID]...)
	sort.Strings(keys)
	out := make([]map[string]interface{}, 0, len(keys))
	for _, key := range keys {
		out = append(out, clonePayload(t.rows[jobID][key]))
	}
	return out, nil
}

func (t *MemoryTable) Upsert(_ context.Context, userID, jobID string, fields map[string]interface{}) error {
	if userID == "" || jobID == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.docs[userID] == nil {
		t.docs[userID] = map[string]map[string]interface{}{}
	}
	doc := t.docs[userID][jobID]
	if doc == nil {
		doc = map[string]interface{}{}
	}
	for key, value := range CoercePayload(fields) {
		if value == nil {
			continue
		}
		doc[key] = value
	}
	doc["user_id"] = userID
	doc["job_id"] = jobID
	doc["updated"] = tsOf(fields)
	t.docs[userID][jobID] = doc
	return nil
}

func (t *MemoryTable) List(_ context.Context, userID string) ([]map[string]interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := []map[string]interface{}{}
	for _, doc := range t.docs[userID] {
		out = append(out, clonePayload(doc))
	}
	sort.Slice(out, func(i, j int) bool {
		ui, _ := out[i]["updated"].(float64)
		uj, _ := out[j]["updated"].(float64)
		return ui > uj
	})
	return out, nil
}

func (t *MemoryTable) Get(_ context.Context, userID, jobID string) (map[string]interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	doc, ok := t.docs[userID][jobID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", jobID, ErrNotFound)
	}
	return clonePayload(doc), nil
}

func clonePayload(in map[string]interface{}) map[string]interface{} {
	raw, err := json.Marshal(in)
	if err != nil {
		out := make(map[string]interface{}, len(in))
		for k, v := range in {
			out[k] = v
		}
		return out
	}
	out := map[string]interface{}{}
	_ = json.Unmarshal(raw, &out)
	return out
}
