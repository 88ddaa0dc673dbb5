package internal

// ListRooms 列出可加入的房間
//
// 只回傳 waiting 且未滿的房間，依創建時間排序（最早的在前）。
// 唯讀、永遠成功，沒有房間時回傳空切片而非 nil，序列化為 []。
func (m *Manager) ListRooms() []RoomSummary {
	rooms := m.store.All()

	result := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summary, joinable := room.summary()
		if !joinable {
			continue
		}
		result = append(result, summary)
	}
	return result
}
