package internal

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/system-design/14-game-relay/internal/events"
)

// maxIDAttempts 房間 ID 衝突時的重試上限
const maxIDAttempts = 5

// publishTimeout 單一事件發佈的時間上限
const publishTimeout = 2 * time.Second

// Admission 建立或加入房間的結果
type Admission struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

// Manager 房間生命週期控制器
//
// 鎖順序：Room.mu → Store.mu / Manager.mu。
// 持有 Store 或 Manager 的鎖時絕不去拿房間鎖。
type Manager struct {
	store      *Store
	playerRoom map[string]string // playerID -> roomID
	mu         sync.RWMutex
	publisher  events.Publisher
	logger     *slog.Logger
	newID      func() string
}

// Option Manager 選項
type Option func(*Manager)

// WithPublisher 設定生命週期事件發佈者
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithIDGenerator 替換 ID 生成器
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		m.newID = fn
	}
}

// WithStore 使用外部提供的房間儲存
func WithStore(s *Store) Option {
	return func(m *Manager) {
		m.store = s
	}
}

// NewManager 創建房間管理器
func NewManager(logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:      NewStore(),
		playerRoom: make(map[string]string),
		publisher:  events.NopPublisher{},
		logger:     logger,
		newID:      generateID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateRoom 創建房間，建立者成為第一位成員
//
// room_created 在房間鎖內回覆，確保建立者一定先收到自己的 ID，
// 才可能收到其他人加入的 player_joined。
func (m *Manager) CreateRoom(kind GameKind, playerName string, conn Sender) (*Admission, error) {
	player := &Player{
		ID:       m.reservePlayerID(),
		Name:     playerName,
		JoinedAt: time.Now(),
		conn:     conn,
	}

	var room *Room
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		candidate := NewRoom(m.newID(), kind)
		candidate.appendPlayer(player)
		candidate.mu.Lock()

		err := m.store.Create(candidate)
		if err == nil {
			room = candidate
			break
		}
		candidate.mu.Unlock()

		if !errors.Is(err, ErrDuplicateRoom) {
			return nil, err
		}
		m.logger.Warn("房間 ID 衝突，重新生成", "room_id", candidate.ID, "attempt", attempt+1)
	}
	if room == nil {
		return nil, ErrDuplicateRoom
	}

	m.bindPlayer(player.ID, room.ID)

	admission := &Admission{RoomID: room.ID, PlayerID: player.ID}
	if frame, err := encodeFrame(RoomCreatedMessage{
		Type:     TypeRoomCreated,
		RoomID:   room.ID,
		PlayerID: player.ID,
	}); err == nil {
		m.sendTo(conn, frame)
	}
	room.mu.Unlock()

	m.logger.Info("房間已創建",
		"room_id", room.ID,
		"player_id", player.ID,
		"player_name", playerName,
		"game_type", kind)

	m.publish(events.Event{
		Type:        events.RoomCreated,
		RoomID:      room.ID,
		PlayerID:    player.ID,
		GameType:    string(kind),
		PlayerCount: 1,
	})

	return admission, nil
}

// JoinRoom 加入房間
//
// 成功時向所有成員（含加入者）廣播 player_joined；
// 第二位成員加入時狀態轉為 playing 並廣播 game_start。
func (m *Manager) JoinRoom(roomID, playerName string, conn Sender) (*Admission, error) {
	room, err := m.store.Get(roomID)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()

	// 取得指標後房間可能已被最後一位成員拆除
	if room.closed {
		room.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	if len(room.Players) >= MaxPlayers || room.Status != StatusWaiting {
		room.mu.Unlock()
		return nil, ErrRoomFull
	}

	player := &Player{
		ID:       m.reservePlayerID(),
		Name:     playerName,
		JoinedAt: time.Now(),
		conn:     conn,
	}
	room.appendPlayer(player)
	m.bindPlayer(player.ID, room.ID)

	players := room.playerInfos()
	if frame, err := encodeFrame(PlayerJoinedMessage{
		Type:       TypePlayerJoined,
		PlayerID:   player.ID,
		PlayerName: playerName,
		Players:    players,
	}); err == nil {
		room.broadcast(frame, "")
	}

	started := false
	if len(room.Players) == MaxPlayers {
		room.Status = StatusPlaying
		started = true
		if frame, err := encodeFrame(GameStartMessage{
			Type:    TypeGameStart,
			Players: players,
		}); err == nil {
			room.broadcast(frame, "")
		}
	}
	kind := room.GameKind
	count := len(room.Players)
	room.mu.Unlock()

	m.logger.Info("玩家加入房間",
		"room_id", roomID,
		"player_id", player.ID,
		"player_name", playerName,
		"players", count)

	m.publish(events.Event{
		Type:        events.PlayerJoined,
		RoomID:      roomID,
		PlayerID:    player.ID,
		GameType:    string(kind),
		PlayerCount: count,
	})
	if started {
		m.logger.Info("遊戲開始", "room_id", roomID)
		m.publish(events.Event{
			Type:        events.GameStarted,
			RoomID:      roomID,
			GameType:    string(kind),
			PlayerCount: count,
		})
	}

	return &Admission{RoomID: roomID, PlayerID: player.ID}, nil
}

// LeaveRoom 離開房間
//
// roomID 為空、房間不存在或玩家不在房間內時靜默返回 false；
// 連接從未加入房間就斷線是正常情況。最後一人離開時房間立即刪除，
// 否則通知剩下的成員。狀態不會退回 waiting。
func (m *Manager) LeaveRoom(roomID, playerID string) bool {
	if roomID == "" || playerID == "" {
		return false
	}

	room, err := m.store.Get(roomID)
	if err != nil {
		return false
	}

	room.mu.Lock()
	if !room.removePlayer(playerID) {
		room.mu.Unlock()
		return false
	}
	m.unbindPlayer(playerID, roomID)

	remaining := len(room.Players)
	kind := room.GameKind
	if remaining == 0 {
		room.closed = true
		m.store.Delete(roomID)
	} else if frame, err := encodeFrame(PlayerLeftMessage{
		Type:     TypePlayerLeft,
		PlayerID: playerID,
		Players:  room.playerInfos(),
	}); err == nil {
		room.broadcast(frame, "")
	}
	room.mu.Unlock()

	m.logger.Info("玩家離開房間",
		"room_id", roomID,
		"player_id", playerID,
		"remaining", remaining)

	m.publish(events.Event{
		Type:        events.PlayerLeft,
		RoomID:      roomID,
		PlayerID:    playerID,
		GameType:    string(kind),
		PlayerCount: remaining,
	})
	if remaining == 0 {
		m.logger.Info("房間已移除", "room_id", roomID)
		m.publish(events.Event{
			Type:     events.RoomClosed,
			RoomID:   roomID,
			GameType: string(kind),
		})
	}

	return true
}

// GetRoom 獲取房間
func (m *Manager) GetRoom(roomID string) (*Room, error) {
	return m.store.Get(roomID)
}

// GetPlayerRoom 獲取玩家所在房間
func (m *Manager) GetPlayerRoom(playerID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roomID, exists := m.playerRoom[playerID]
	return roomID, exists
}

// Stats 獲取統計資訊
func (m *Manager) Stats() map[string]any {
	statusCount := make(map[RoomStatus]int)
	kindCount := make(map[GameKind]int)
	totalPlayers := 0

	rooms := m.store.All()
	for _, room := range rooms {
		detail := room.Detail()
		statusCount[detail.Status]++
		kindCount[detail.GameType]++
		totalPlayers += len(detail.Players)
	}

	return map[string]any{
		"total_rooms":   len(rooms),
		"total_players": totalPlayers,
		"by_status":     statusCount,
		"by_game_type":  kindCount,
	}
}

// Stop 停止管理器，送出剩餘事件
func (m *Manager) Stop() {
	if err := m.publisher.Close(); err != nil {
		m.logger.Error("關閉事件發佈者失敗", "error", err)
	}
	m.logger.Info("房間管理器已停止", "rooms", m.store.Len())
}

// bindPlayer 記錄玩家所在房間
func (m *Manager) bindPlayer(playerID, roomID string) {
	m.mu.Lock()
	m.playerRoom[playerID] = roomID
	m.mu.Unlock()
}

// unbindPlayer 清除玩家房間記錄（只清除指向該房間的記錄）
func (m *Manager) unbindPlayer(playerID, roomID string) {
	m.mu.Lock()
	if m.playerRoom[playerID] == roomID {
		delete(m.playerRoom, playerID)
	}
	m.mu.Unlock()
}

// reservePlayerID 生成未被使用的玩家 ID，多次衝突後退回完整 UUID
func (m *Manager) reservePlayerID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := m.newID()
		if _, taken := m.playerRoom[id]; !taken {
			return id
		}
	}
	return uuid.NewString()
}

// sendTo 單播，失敗只記錄
func (m *Manager) sendTo(conn Sender, frame []byte) {
	if conn == nil {
		return
	}
	if err := conn.Send(frame); err != nil {
		m.logger.Debug("單播失敗", "conn_id", conn.ID(), "error", err)
	}
}

// publish 發佈生命週期事件，失敗只記錄
func (m *Manager) publish(event events.Event) {
	event.OccurredAt = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Warn("發佈房間事件失敗",
			"event", event.Type,
			"room_id", event.RoomID,
			"error", err)
	}
}

// generateID 生成簡短的隨機 ID（12 個十六進位字元）
//
// 取 UUIDv4 前 6 個位元組，這段全是隨機位元（版本號在第 7 個位元組）。
func generateID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:6])
}
