package internal

import (
	"log/slog"
	"sync"

	"github.com/koopa0/system-design/14-game-relay/internal/limiter"
)

// Session 一條連接在房間系統中的身分
//
// 只有該連接的讀取 goroutine 會變更 Session，
// mu 讓其他 goroutine（統計、測試）能安全讀取。
type Session struct {
	conn     Sender
	limiter  *limiter.TokenBucket
	mu       sync.Mutex
	playerID string
	roomID   string
}

// Identity 目前的玩家與房間 ID，未加入房間時皆為空字串
func (s *Session) Identity() (playerID, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerID, s.roomID
}

// ConnID 連接 ID
func (s *Session) ConnID() string {
	return s.conn.ID()
}

func (s *Session) bind(a *Admission) {
	s.mu.Lock()
	s.playerID = a.PlayerID
	s.roomID = a.RoomID
	s.mu.Unlock()
}

// clear 清除身分並回傳清除前的值
func (s *Session) clear() (playerID, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	playerID, roomID = s.playerID, s.roomID
	s.playerID, s.roomID = "", ""
	return playerID, roomID
}

func (s *Session) allow() bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}

// Registry 連接註冊中心
//
// 追蹤所有存活的連接，依 type 分派入站訊息，
// 並在連接關閉時替它補發 leave：客戶端斷網、關分頁時不會留下半開的房間。
type Registry struct {
	manager      *Manager
	sessions     map[string]*Session // connID -> Session
	mu           sync.RWMutex
	logger       *slog.Logger
	messageBurst int64
	messageRate  int64
}

// RegistryOption Registry 選項
type RegistryOption func(*Registry)

// WithMessageLimit 每條連接的入站訊息限流
func WithMessageLimit(burst, ratePerSecond int64) RegistryOption {
	return func(r *Registry) {
		r.messageBurst = burst
		r.messageRate = ratePerSecond
	}
}

// NewRegistry 創建連接註冊中心
func NewRegistry(manager *Manager, logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		manager:  manager,
		sessions: make(map[string]*Session),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register 註冊連接
func (r *Registry) Register(conn Sender) *Session {
	session := &Session{conn: conn}
	if r.messageBurst > 0 && r.messageRate > 0 {
		session.limiter = limiter.NewTokenBucket(r.messageBurst, r.messageRate)
	}

	r.mu.Lock()
	r.sessions[conn.ID()] = session
	total := len(r.sessions)
	r.mu.Unlock()

	r.logger.Debug("連接已註冊", "conn_id", conn.ID(), "connections", total)
	return session
}

// Unregister 註銷連接，並對目前所在房間補發 leave
func (r *Registry) Unregister(session *Session) {
	r.mu.Lock()
	delete(r.sessions, session.ConnID())
	total := len(r.sessions)
	r.mu.Unlock()

	r.leaveCurrent(session)
	r.logger.Debug("連接已註銷", "conn_id", session.ConnID(), "connections", total)
}

// Count 存活連接數
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// HandleMessage 處理一個入站 frame
//
// 無法解析的 frame 只記錄後丟棄，不回覆、不關閉連接。
// 單一訊息處理中的 panic 會被攔下，不影響其他連接。
func (r *Registry) HandleMessage(session *Session, frame []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("處理訊息時發生 panic",
				"conn_id", session.ConnID(),
				"panic", rec)
		}
	}()

	if !session.allow() {
		r.logger.Warn("訊息超過速率限制", "conn_id", session.ConnID())
		r.replyError(session, ErrRateLimited)
		return
	}

	msg, err := DecodeInbound(frame)
	if err != nil {
		r.logger.Warn("解析客戶端訊息失敗",
			"conn_id", session.ConnID(),
			"error", err)
		return
	}

	switch msg.Type {
	case TypeCreateRoom:
		r.handleCreateRoom(session, msg)
	case TypeJoin:
		r.handleJoin(session, msg)
	case TypeGameMove:
		playerID, roomID := session.Identity()
		r.manager.RelayMove(roomID, playerID, msg.Data)
	case TypeGameAction:
		playerID, roomID := session.Identity()
		r.manager.RelayAction(roomID, playerID, msg.Action, msg.Data)
	case TypeListRooms:
		r.reply(session, RoomsListMessage{
			Type:  TypeRoomsList,
			Rooms: r.manager.ListRooms(),
		})
	case TypeLeave:
		r.leaveCurrent(session)
	default:
		r.logger.Debug("收到未知訊息類型",
			"type", msg.Type,
			"conn_id", session.ConnID())
	}
}

func (r *Registry) handleCreateRoom(session *Session, msg *InboundMessage) {
	admission, err := r.manager.CreateRoom(ParseGameKind(msg.GameType), msg.PlayerName, session.conn)
	if err != nil {
		r.replyError(session, err)
		return
	}
	r.switchRoom(session, admission)
}

func (r *Registry) handleJoin(session *Session, msg *InboundMessage) {
	// 已經在目標房間：再加入一次會讓同一條連接佔滿兩個位置
	if _, roomID := session.Identity(); roomID != "" && roomID == msg.RoomID {
		r.logger.Debug("重複加入同一房間", "room_id", roomID, "conn_id", session.ConnID())
		return
	}

	admission, err := r.manager.JoinRoom(msg.RoomID, msg.PlayerName, session.conn)
	if err != nil {
		r.logger.Info("加入房間失敗",
			"room_id", msg.RoomID,
			"conn_id", session.ConnID(),
			"error", err)
		r.replyError(session, err)
		return
	}
	r.switchRoom(session, admission)
}

// switchRoom 綁定新身分，並離開先前所在的房間（一位玩家同時只屬於一個房間）
func (r *Registry) switchRoom(session *Session, admission *Admission) {
	prevPlayerID, prevRoomID := session.clear()
	session.bind(admission)
	if prevRoomID != "" {
		r.manager.LeaveRoom(prevRoomID, prevPlayerID)
	}
}

func (r *Registry) leaveCurrent(session *Session) {
	playerID, roomID := session.clear()
	r.manager.LeaveRoom(roomID, playerID)
}

func (r *Registry) reply(session *Session, msg any) {
	frame, err := encodeFrame(msg)
	if err != nil {
		r.logger.Error("序列化回覆失敗", "conn_id", session.ConnID(), "error", err)
		return
	}
	if err := session.conn.Send(frame); err != nil {
		r.logger.Debug("回覆失敗", "conn_id", session.ConnID(), "error", err)
	}
}

func (r *Registry) replyError(session *Session, err error) {
	r.reply(session, ErrorMessage{
		Type:    TypeError,
		Message: PublicMessage(err),
	})
}
