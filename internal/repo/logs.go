package repo

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/docstore"
)

// LogEntry 同时用于 system_logs（管理操作审计）与 activity（用户行为）。
type LogEntry struct {
	ID      string         `json:"id"`
	Level   string         `json:"level,omitempty"`
	Action  string         `json:"action"`
	ActorID string         `json:"actorId,omitempty"`
	Target  string         `json:"target,omitempty"`
	Message string         `json:"message,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
	At      time.Time      `json:"at"`
	TS      int64          `json:"ts"`
}

type Logs struct {
	st  docstore.Store
	now func() time.Time
}

func (r *Logs) write(ctx context.Context, coll string, e LogEntry) error {
	now := r.now()
	e.ID = newID()
	e.At = now
	e.TS = now.UnixMilli()
	if err := r.st.Create(ctx, coll, e.ID, e); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", coll, err)
	}
	return nil
}

func (r *Logs) System(ctx context.Context, e LogEntry) error {
	if e.Level == "" {
		e.Level = "info"
	}
	return r.write(ctx, docstore.CollSystemLogs, e)
}

func (r *Logs) Activity(ctx context.Context, e LogEntry) error {
	return r.write(ctx, docstore.CollActivity, e)
}

type LogFilter struct {
	Action  string
	ActorID string
	Limit   int
	Offset  int
}

func (r *Logs) ListSystem(ctx context.Context, f LogFilter) ([]LogEntry, error) {
	return r.list(ctx, docstore.CollSystemLogs, f)
}

func (r *Logs) ListActivity(ctx context.Context, f LogFilter) ([]LogEntry, error) {
	return r.list(ctx, docstore.CollActivity, f)
}

func (r *Logs) list(ctx context.Context, coll string, f LogFilter) ([]LogEntry, error) {
	q := docstore.Query{
		OrderBy: "ts",
		Desc:    true,
		Limit:   clampLimit(f.Limit, 100, 1000),
		Offset:  f.Offset,
	}
	if f.Action != "" {
		q.Where = append(q.Where, docstore.Where("action", docstore.OpEq, f.Action))
	}
	if f.ActorID != "" {
		q.Where = append(q.Where, docstore.Where("actorId", docstore.OpEq, f.ActorID))
	}
	docs, err := r.st.Query(ctx, coll, q)
	if err != nil {
		return nil, fmt.Errorf("查询 %s 失败: %w", coll, err)
	}
	out := make([]LogEntry, 0, len(docs))
	for _, d := range docs {
		var e LogEntry
		if err := d.Decode(&e); err != nil {
			return nil, err
		}
		e.ID = d.ID
		out = append(out, e)
	}
	return out, nil
}
