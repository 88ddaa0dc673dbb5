// Package events 將房間生命週期事件發佈到 NATS。
//
// 設計考量：
//   - 事件只是旁路資訊（監控、分析），發佈失敗不影響房間邏輯
//   - Subject 格式：<prefix>.<room_id>.<event>，訂閱者可用 rooms.*.game_started 之類的萬用字元
//   - 沒有設定 NATS 時使用 NopPublisher
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Type 事件類型
type Type string

const (
	RoomCreated  Type = "room_created"
	PlayerJoined Type = "player_joined"
	GameStarted  Type = "game_started"
	PlayerLeft   Type = "player_left"
	RoomClosed   Type = "room_closed"
)

// Event 房間生命週期事件
type Event struct {
	Type        Type      `json:"type"`
	RoomID      string    `json:"room_id"`
	PlayerID    string    `json:"player_id,omitempty"`
	GameType    string    `json:"game_type,omitempty"`
	PlayerCount int       `json:"player_count"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher 事件發佈者
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher 丟棄所有事件
type NopPublisher struct{}

// Publish 什麼都不做
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close 什麼都不做
func (NopPublisher) Close() error { return nil }

// DefaultSubjectPrefix 預設 subject 前綴
const DefaultSubjectPrefix = "rooms"

// NATSPublisher 以 core NATS 發佈事件
//
// 不使用 JetStream：事件不需要持久化，斷線期間由 nats.go 的重連緩衝暫存。
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher 連接 NATS
func NewNATSPublisher(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	conn, err := nats.Connect(
		url,
		nats.Name("game-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 連線中斷", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS 已重新連線", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	return &NATSPublisher{
		conn:   conn,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Subject 事件對應的 subject
func Subject(prefix string, event Event) string {
	return fmt.Sprintf("%s.%s.%s", prefix, event.RoomID, event.Type)
}

// Publish 發佈事件
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失敗: %w", err)
	}

	if err := p.conn.Publish(Subject(p.prefix, event), data); err != nil {
		return fmt.Errorf("發佈事件失敗: %w", err)
	}
	return nil
}

// Close 送出緩衝中的事件後關閉連線
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
