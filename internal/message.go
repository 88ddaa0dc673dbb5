package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// 入站訊息類型（客戶端 → 服務器）
const (
	TypeCreateRoom = "create_room"
	TypeJoin       = "join"
	TypeGameMove   = "game_move"
	TypeGameAction = "game_action"
	TypeListRooms  = "list_rooms"
	TypeLeave      = "leave"
)

// 出站訊息類型（服務器 → 客戶端）
const (
	TypeRoomCreated  = "room_created"
	TypePlayerJoined = "player_joined"
	TypeGameStart    = "game_start"
	TypePlayerLeft   = "player_left"
	TypeMove         = "move"
	TypeAction       = "action"
	TypeRoomsList    = "rooms_list"
	TypeError        = "error"
)

// InboundMessage 客戶端訊息信封
//
// 外層欄位是已知的聯合型別，Data 保持原始位元組：
// 服務器不解讀遊戲內容，只負責轉發。
type InboundMessage struct {
	Type       string          `json:"type"`
	GameType   string          `json:"game_type,omitempty"`
	PlayerName string          `json:"player_name,omitempty"`
	RoomID     string          `json:"room_id,omitempty"`
	Action     string          `json:"action,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// DecodeInbound 解析一個入站 frame
//
// 非 UTF-8 的 frame 直接拒絕：data 會原樣轉發到對方的文字 frame，
// 瀏覽器收到非法 UTF-8 會斷開連接。
func DecodeInbound(frame []byte) (*InboundMessage, error) {
	if !utf8.Valid(frame) {
		return nil, WrapError(fmt.Errorf("frame 不是合法的 UTF-8"), ErrCodeMalformedMessage, "Malformed message")
	}

	var msg InboundMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, WrapError(err, ErrCodeMalformedMessage, "Malformed message")
	}
	if msg.Type == "" {
		return nil, WrapError(fmt.Errorf("缺少 type 欄位"), ErrCodeMalformedMessage, "Malformed message")
	}
	return &msg, nil
}

// PlayerInfo 成員列表中的玩家
type PlayerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoomSummary 可加入房間的投影（rooms_list）
type RoomSummary struct {
	ID          string   `json:"id"`
	GameType    GameKind `json:"game_type"`
	PlayerCount int      `json:"player_count"`
	Host        string   `json:"host"`
}

// RoomCreatedMessage room_created
type RoomCreatedMessage struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

// PlayerJoinedMessage player_joined
type PlayerJoinedMessage struct {
	Type       string       `json:"type"`
	PlayerID   string       `json:"player_id"`
	PlayerName string       `json:"player_name"`
	Players    []PlayerInfo `json:"players"`
}

// GameStartMessage game_start
type GameStartMessage struct {
	Type    string       `json:"type"`
	Players []PlayerInfo `json:"players"`
}

// PlayerLeftMessage player_left
type PlayerLeftMessage struct {
	Type     string       `json:"type"`
	PlayerID string       `json:"player_id"`
	Players  []PlayerInfo `json:"players"`
}

// MoveMessage move
type MoveMessage struct {
	Type     string          `json:"type"`
	PlayerID string          `json:"player_id"`
	Data     json.RawMessage `json:"data"`
}

// ActionMessage action
type ActionMessage struct {
	Type     string          `json:"type"`
	PlayerID string          `json:"player_id"`
	Action   string          `json:"action"`
	Data     json.RawMessage `json:"data"`
}

// RoomsListMessage rooms_list
type RoomsListMessage struct {
	Type  string        `json:"type"`
	Rooms []RoomSummary `json:"rooms"`
}

// ErrorMessage error
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// encodeFrame 序列化出站訊息
//
// 出站結構都是固定欄位，唯一可能失敗的是 RawMessage 內容非法，
// 入站解析時已經驗證過，這裡失敗只記錄不重試。
// 不做 HTML 跳脫，轉發的 data 保持 <、>、& 原字元。
func encodeFrame(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("序列化訊息失敗: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
