package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"futures-orders/internal/store"
)

// Recorder 负责持久化订单流水与策略生命周期事件。
// 流水仅用于审计与排查，不用于恢复会话状态：进程重启后网格与TWAP会话全部丢失，
// 这是设计上的已知限制。
type Recorder struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRecorder 初始化流水记录器，创建所需表结构。
func NewRecorder(store *store.Store, logger *zap.Logger) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("journal: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		db:     store.DB(),
		logger: logger,
	}

	if err := r.initSchema(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Recorder) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS order_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	symbol TEXT,
	session_id TEXT,
	payload TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_events_type ON order_events(event_type);
CREATE INDEX IF NOT EXISTS idx_order_events_session ON order_events(session_id);
`
	if _, err := r.db.Exec(stmt); err != nil {
		return fmt.Errorf("journal: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单条事件。
func (r *Recorder) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("journal: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO order_events (event_type, symbol, session_id, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(event.Type), event.Symbol, event.SessionID, string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("journal: 写入事件失败: %w", err)
	}

	return nil
}

// RecordAsync 写入事件，失败只记日志。用于策略循环中不应中断执行的记录点。
func (r *Recorder) RecordAsync(ctx context.Context, event Event) {
	if err := r.Record(ctx, event); err != nil {
		r.logger.Warn("记录流水事件失败",
			zap.String("event_type", string(event.Type)),
			zap.String("session_id", event.SessionID),
			zap.Error(err),
		)
	}
}

// Recent 返回最近的N条事件，按时间倒序。
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT event_type, symbol, session_id, payload, created_at FROM order_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: 查询事件失败: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event      Event
			rawPayload sql.NullString
			symbol     sql.NullString
			sessionID  sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&event.Type, &symbol, &sessionID, &rawPayload, &createdAt); err != nil {
			return nil, fmt.Errorf("journal: 读取事件失败: %w", err)
		}
		event.Symbol = symbol.String
		event.SessionID = sessionID.String
		if rawPayload.Valid && rawPayload.String != "" && rawPayload.String != "null" {
			var payload interface{}
			if err := json.Unmarshal([]byte(rawPayload.String), &payload); err == nil {
				event.Payload = payload
			}
		}
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			event.Timestamp = ts
		}
		events = append(events, event)
	}

	return events, rows.Err()
}
