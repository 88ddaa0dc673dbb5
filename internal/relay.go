package internal

import "encoding/json"

// 轉發器：把一位成員的 move / action 原封不動送給房間內其他成員。
//
// 服務器不驗證內容，勝負與碰撞判定完全在兩端客戶端各自計算，
// 相同的輸入在兩端得到相同的結果。

// RelayMove 轉發 game_move，回傳送達的成員數
//
// 房間不存在（可能剛被並發的 leave 拆除）或發送者不是成員時靜默丟棄。
func (m *Manager) RelayMove(roomID, senderID string, data json.RawMessage) int {
	return m.relay(roomID, senderID, MoveMessage{
		Type:     TypeMove,
		PlayerID: senderID,
		Data:     data,
	})
}

// RelayAction 轉發 game_action，回傳送達的成員數
func (m *Manager) RelayAction(roomID, senderID, action string, data json.RawMessage) int {
	return m.relay(roomID, senderID, ActionMessage{
		Type:     TypeAction,
		PlayerID: senderID,
		Action:   action,
		Data:     data,
	})
}

func (m *Manager) relay(roomID, senderID string, msg any) int {
	if roomID == "" || senderID == "" {
		return 0
	}

	room, err := m.store.Get(roomID)
	if err != nil {
		m.logger.Debug("轉發目標房間不存在", "room_id", roomID, "player_id", senderID)
		return 0
	}

	frame, err := encodeFrame(msg)
	if err != nil {
		m.logger.Warn("轉發訊息序列化失敗", "room_id", roomID, "player_id", senderID, "error", err)
		return 0
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed || room.indexOf(senderID) < 0 {
		return 0
	}
	return room.broadcast(frame, senderID)
}
