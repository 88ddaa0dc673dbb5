package internal

import (
	"sort"
	"sync"
)

// Store 房間儲存（記憶體）
//
// 房間成員與狀態的唯一真相來源。Store 只保護 map 本身，
// 單一房間內的變更由 Room.mu 串行化。
type Store struct {
	rooms map[string]*Room // roomID -> Room
	mu    sync.RWMutex
}

// NewStore 創建房間儲存
func NewStore() *Store {
	return &Store{
		rooms: make(map[string]*Room),
	}
}

// Create 插入房間，ID 衝突時回傳 ErrDuplicateRoom
func (s *Store) Create(room *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rooms[room.ID]; exists {
		return ErrDuplicateRoom
	}
	s.rooms[room.ID] = room
	return nil
}

// Get 取得房間
func (s *Store) Get(roomID string) (*Room, error) {
	s.mu.RLock()
	room, exists := s.rooms[roomID]
	s.mu.RUnlock()

	if !exists {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// Delete 移除房間；不存在時什麼都不做
func (s *Store) Delete(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}

// Len 房間數
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// All 依創建時間排序的房間快照
func (s *Store) All() []*Room {
	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.mu.RUnlock()

	// CreatedAt 建立後不再變動，不需要房間鎖
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms
}
