// Package client 是遊戲轉發服務器的終端客戶端。
//
// Client 負責 WebSocket 連線與訊息收發，Display 負責把服務器訊息以顏色輸出，
// ParseInput 把使用者輸入的一行文字轉成要送出的訊息。
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Player 成員
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Room 可加入的房間
type Room struct {
	ID          string `json:"id"`
	GameType    string `json:"game_type"`
	PlayerCount int    `json:"player_count"`
	Host        string `json:"host"`
}

// Message 服務器送來的訊息
//
// 所有出站訊息共用一個結構，依 Type 決定哪些欄位有值。
type Message struct {
	Type       string          `json:"type"`
	RoomID     string          `json:"room_id,omitempty"`
	PlayerID   string          `json:"player_id,omitempty"`
	PlayerName string          `json:"player_name,omitempty"`
	Players    []Player        `json:"players,omitempty"`
	Rooms      []Room          `json:"rooms,omitempty"`
	Action     string          `json:"action,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// Client WebSocket 客戶端
type Client struct {
	conn     *websocket.Conn
	messages chan Message
	mu       sync.Mutex // 串行化寫入
	err      error
	errMu    sync.Mutex
}

// Dial 連接服務器並開始讀取
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("連接 %s 失敗: %w", url, err)
	}

	c := &Client{
		conn:     conn,
		messages: make(chan Message, 64),
	}
	go c.readLoop()
	return c, nil
}

// Messages 服務器訊息；連線結束時關閉
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Err 讀取迴圈結束的原因
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// CreateRoom 建立房間
func (c *Client) CreateRoom(gameType, playerName string) error {
	return c.send(map[string]string{
		"type":        "create_room",
		"game_type":   gameType,
		"player_name": playerName,
	})
}

// Join 加入房間
func (c *Client) Join(roomID, playerName string) error {
	return c.send(map[string]string{
		"type":        "join",
		"room_id":     roomID,
		"player_name": playerName,
	})
}

// Move 送出 game_move
func (c *Client) Move(data json.RawMessage) error {
	return c.send(map[string]any{
		"type": "game_move",
		"data": data,
	})
}

// Action 送出 game_action
func (c *Client) Action(action string, data json.RawMessage) error {
	return c.send(map[string]any{
		"type":   "game_action",
		"action": action,
		"data":   data,
	})
}

// ListRooms 請求房間列表
func (c *Client) ListRooms() error {
	return c.send(map[string]string{"type": "list_rooms"})
}

// Leave 離開目前的房間
func (c *Client) Leave() error {
	return c.send(map[string]string{"type": "leave"})
}

// Close 送出 close frame 後關閉連線
func (c *Client) Close() error {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *Client) readLoop() {
	defer close(c.messages)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.errMu.Lock()
				c.err = err
				c.errMu.Unlock()
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.messages <- msg
	}
}

// InputKind 使用者輸入的種類
type InputKind int

const (
	InputMove InputKind = iota
	InputAction
	InputLeave
	InputRooms
	InputQuit
)

// Input 解析後的使用者輸入
type Input struct {
	Kind   InputKind
	Action string
	Data   json.RawMessage
}

// ErrEmptyInput 空白輸入
var ErrEmptyInput = errors.New("empty input")

// ParseInput 解析一行輸入
//
//	/action <name> [json]  送出 game_action
//	/leave                 離開房間
//	/rooms                 列出房間
//	/quit                  結束
//	其他文字               作為 game_move 的 data；不是合法 JSON 時包成字串
func ParseInput(line string) (Input, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Input{}, ErrEmptyInput
	}

	if !strings.HasPrefix(line, "/") {
		return Input{Kind: InputMove, Data: toJSON(line)}, nil
	}

	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch command {
	case "/action":
		name, payload, _ := strings.Cut(rest, " ")
		if name == "" {
			return Input{}, errors.New("用法: /action <name> [json]")
		}
		input := Input{Kind: InputAction, Action: name}
		if payload = strings.TrimSpace(payload); payload != "" {
			input.Data = toJSON(payload)
		}
		return input, nil
	case "/leave":
		return Input{Kind: InputLeave}, nil
	case "/rooms":
		return Input{Kind: InputRooms}, nil
	case "/quit", "/exit":
		return Input{Kind: InputQuit}, nil
	default:
		return Input{}, fmt.Errorf("未知指令: %s", command)
	}
}

func toJSON(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}
