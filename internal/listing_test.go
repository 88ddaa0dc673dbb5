package internal_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-game-relay/internal"
)

// TestManager_ListRooms_Empty 沒有房間時序列化為 []
func TestManager_ListRooms_Empty(t *testing.T) {
	manager := internal.NewManager(testLogger())
	defer manager.Stop()

	rooms := manager.ListRooms()
	require.NotNil(t, rooms)

	data, err := json.Marshal(rooms)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

// TestManager_ListRooms 只列出等待中且未滿的房間，最早的在前
func TestManager_ListRooms(t *testing.T) {
	manager := internal.NewManager(testLogger())
	defer manager.Stop()

	first, err := manager.CreateRoom(internal.GameTicTacToe, "Alice", newFakeConn("a"))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	// 已開始的房間不列出
	full, err := manager.CreateRoom(internal.GameTicTacToe, "Bob", newFakeConn("b"))
	require.NoError(t, err)
	_, err = manager.JoinRoom(full.RoomID, "Carol", newFakeConn("c"))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	last, err := manager.CreateRoom(internal.GameFlappyBird, "Dave", newFakeConn("d"))
	require.NoError(t, err)

	rooms := manager.ListRooms()
	require.Len(t, rooms, 2)

	assert.Equal(t, internal.RoomSummary{
		ID:          first.RoomID,
		GameType:    internal.GameTicTacToe,
		PlayerCount: 1,
		Host:        "Alice",
	}, rooms[0])
	assert.Equal(t, last.RoomID, rooms[1].ID)
	assert.Equal(t, internal.GameFlappyBird, rooms[1].GameType)
	assert.Equal(t, "Dave", rooms[1].Host)

	// 最後一人離開後房間從列表消失
	manager.LeaveRoom(first.RoomID, first.PlayerID)
	rooms = manager.ListRooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, last.RoomID, rooms[0].ID)
}

// TestManager_ListRooms_AfterLeave 已開始的房間有人離開後仍不可加入，也不列出
func TestManager_ListRooms_AfterLeave(t *testing.T) {
	manager := internal.NewManager(testLogger())
	defer manager.Stop()

	_, _, a, b := pairedRoom(t, manager)
	manager.LeaveRoom(a.RoomID, b.PlayerID)

	assert.Empty(t, manager.ListRooms())
}
