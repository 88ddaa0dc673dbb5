package internal

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// 系統設計問題：
//   兩位玩家如何被配對進同一個房間，並安全地共享房間狀態？
//
// 核心挑戰：
//   1. 容量：房間最多 2 人，滿員瞬間要切換狀態並通知雙方
//   2. 並發：每條連接各自有 goroutine，同一房間的加入/離開可能同時發生
//   3. 順序：同一連接必須按順序看到 player_joined → game_start
//   4. 回收：最後一人離開時房間立即刪除
//
// 設計方案：
//   ✅ 每個房間一把 Mutex，成員變更與廣播都在鎖內完成
//   ✅ closed 標記，讓持有舊指標的操作得知房間已被拆除
//   ✅ 廣播非阻塞，送不出去就跳過

// RoomStatus 房間狀態
//
// 狀態機：
//
//	waiting --(第 2 位玩家加入)--> playing
//
// finished 只是應用層約定（由客戶端透過 action 訊息表達），
// 服務器本身從不設置，也不裁判遊戲結果。
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"  // 等待第二位玩家
	StatusPlaying  RoomStatus = "playing"  // 遊戲進行中
	StatusFinished RoomStatus = "finished" // 遊戲結束
)

// GameKind 遊戲種類
type GameKind string

const (
	GameTicTacToe  GameKind = "tictactoe"
	GameFlappyBird GameKind = "flappybird"
)

// MaxPlayers 每個房間的人數上限
const MaxPlayers = 2

// ticTacToeCells 井字棋棋盤格數（客戶端使用 4x3 棋盤）
const ticTacToeCells = 12

// ParseGameKind 正規化遊戲種類
//
// 接受 "tic-tac-toe" / "flappy-bird" 之類的寫法；
// 未知種類原樣保留，建立房間不因種類失敗。
func ParseGameKind(s string) GameKind {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer("-", "", "_", "", " ", "").Replace(normalized)
	switch normalized {
	case string(GameTicTacToe):
		return GameTicTacToe
	case string(GameFlappyBird):
		return GameFlappyBird
	default:
		return GameKind(s)
	}
}

// Known 是否為服務器認識的遊戲種類
func (k GameKind) Known() bool {
	return k == GameTicTacToe || k == GameFlappyBird
}

// Sender 一條可以送出 frame 的連接
//
// Send 不可阻塞：連接已關閉時回傳 ErrConnectionClosed，
// 緩衝區滿時回傳其他錯誤，呼叫者一律跳過。
type Sender interface {
	ID() string
	Send(frame []byte) error
}

// Player 玩家
type Player struct {
	ID       string
	Name     string
	JoinedAt time.Time

	conn Sender
}

// Room 遊戲房間
//
// 欄位由 mu 保護；Manager 在鎖內完成「變更成員 → 轉換狀態 → 廣播」，
// 所以同一房間的事件對每條連接都是有序的。
// 對外序列化一律經過 Detail 的 RoomDetail 投影。
//
// Scores 是保留欄位：轉發器不解讀遊戲內容，從不寫入分數，
// 只在成員離開時刪除對應項目。
type Room struct {
	ID        string
	GameKind  GameKind
	Status    RoomStatus
	Players   []*Player
	GameState json.RawMessage
	Scores    map[string]int
	CreatedAt time.Time
	UpdatedAt time.Time

	mu     sync.Mutex
	closed bool // 已從 Store 移除
}

// RoomDetail 房間完整快照（HTTP 詳情 API 使用）
type RoomDetail struct {
	ID        string          `json:"id"`
	GameType  GameKind        `json:"game_type"`
	Status    RoomStatus      `json:"status"`
	Players   []PlayerInfo    `json:"players"`
	GameState json.RawMessage `json:"game_state,omitempty"`
	Scores    map[string]int  `json:"scores"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewRoom 創建空房間
func NewRoom(id string, kind GameKind) *Room {
	now := time.Now()
	return &Room{
		ID:        id,
		GameKind:  kind,
		Status:    StatusWaiting,
		Players:   make([]*Player, 0, MaxPlayers),
		GameState: initialGameState(kind),
		Scores:    make(map[string]int),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// initialGameState 井字棋以空棋盤開局，其他遊戲沒有伺服器端狀態
func initialGameState(kind GameKind) json.RawMessage {
	if kind != GameTicTacToe {
		return nil
	}
	board := make([]*string, ticTacToeCells)
	data, _ := json.Marshal(board)
	return data
}

// PlayerCount 當前成員數
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Players)
}

// CurrentStatus 當前狀態
func (r *Room) CurrentStatus() RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Status
}

// HasPlayer 玩家是否在房間內
func (r *Room) HasPlayer(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexOf(playerID) >= 0
}

// Detail 房間快照
func (r *Room) Detail() RoomDetail {
	r.mu.Lock()
	defer r.mu.Unlock()

	scores := make(map[string]int, len(r.Scores))
	for id, score := range r.Scores {
		scores[id] = score
	}

	return RoomDetail{
		ID:        r.ID,
		GameType:  r.GameKind,
		Status:    r.Status,
		Players:   r.playerInfos(),
		GameState: r.GameState,
		Scores:    scores,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// summary 列表投影；第二個回傳值表示房間是否可加入
func (r *Room) summary() (RoomSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	joinable := !r.closed && r.Status == StatusWaiting && len(r.Players) < MaxPlayers
	host := ""
	if len(r.Players) > 0 {
		host = r.Players[0].Name
	}

	return RoomSummary{
		ID:          r.ID,
		GameType:    r.GameKind,
		PlayerCount: len(r.Players),
		Host:        host,
	}, joinable
}

// 以下方法呼叫者需持有 r.mu

func (r *Room) indexOf(playerID string) int {
	for i, p := range r.Players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

func (r *Room) appendPlayer(p *Player) {
	r.Players = append(r.Players, p)
	r.UpdatedAt = time.Now()
}

// removePlayer 移除玩家並保持其餘成員順序
func (r *Room) removePlayer(playerID string) bool {
	i := r.indexOf(playerID)
	if i < 0 {
		return false
	}
	r.Players = append(r.Players[:i], r.Players[i+1:]...)
	delete(r.Scores, playerID)
	r.UpdatedAt = time.Now()
	return true
}

func (r *Room) playerInfos() []PlayerInfo {
	infos := make([]PlayerInfo, 0, len(r.Players))
	for _, p := range r.Players {
		infos = append(infos, PlayerInfo{ID: p.ID, Name: p.Name})
	}
	return infos
}

// broadcast 送給所有成員（exceptID 除外），回傳成功送出的數量
//
// 已關閉或塞滿的連接直接跳過，不影響其他成員。
func (r *Room) broadcast(frame []byte, exceptID string) int {
	delivered := 0
	for _, p := range r.Players {
		if p.ID == exceptID || p.conn == nil {
			continue
		}
		if err := p.conn.Send(frame); err != nil {
			continue
		}
		delivered++
	}
	return delivered
}
