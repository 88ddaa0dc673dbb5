package internal_test

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-game-relay/internal"
)

// TestStress_ConcurrentJoin 同時搶同一個房間，只有一人成功
func TestStress_ConcurrentJoin(t *testing.T) {
	manager := internal.NewManager(testLogger())
	defer manager.Stop()

	a, err := manager.CreateRoom(internal.GameTicTacToe, "Host", newFakeConn("host"))
	require.NoError(t, err)

	const numJoiners = 50

	var (
		wg        sync.WaitGroup
		succeeded int32
		full      int32
	)

	for i := 0; i < numJoiners; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := manager.JoinRoom(a.RoomID, fmt.Sprintf("玩家_%d", id), newFakeConn(fmt.Sprintf("conn-%d", id)))
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case assert.ErrorIs(t, err, internal.ErrRoomFull):
				atomic.AddInt32(&full, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded)
	assert.Equal(t, int32(numJoiners-1), full)

	room, err := manager.GetRoom(a.RoomID)
	require.NoError(t, err)
	assert.Equal(t, 2, room.PlayerCount())
	assert.Equal(t, internal.StatusPlaying, room.CurrentStatus())
}

// TestStress_JoinLeaveRace 加入與離開交錯，房間人數永遠不超過 2
func TestStress_JoinLeaveRace(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	manager := internal.NewManager(testLogger())
	defer manager.Stop()

	const (
		numRooms   = 20
		numWorkers = 8
		rounds     = 50
	)

	roomIDs := make([]string, 0, numRooms)
	hosts := make([]*internal.Admission, 0, numRooms)
	for i := 0; i < numRooms; i++ {
		a, err := manager.CreateRoom(internal.GameFlappyBird, fmt.Sprintf("房主_%d", i), newFakeConn(fmt.Sprintf("host-%d", i)))
		require.NoError(t, err)
		roomIDs = append(roomIDs, a.RoomID)
		hosts = append(hosts, a)
	}

	var (
		wg         sync.WaitGroup
		violations int32
	)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				roomID := roomIDs[(worker+r)%numRooms]
				conn := newFakeConn(fmt.Sprintf("w%d-r%d", worker, r))

				admission, err := manager.JoinRoom(roomID, "訪客", conn)
				if err != nil {
					continue
				}
				if room, err := manager.GetRoom(roomID); err == nil && room.PlayerCount() > internal.MaxPlayers {
					atomic.AddInt32(&violations, 1)
				}
				manager.RelayMove(roomID, admission.PlayerID, json.RawMessage(`{"r":1}`))
				manager.LeaveRoom(roomID, admission.PlayerID)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int32(0), violations)

	// 每個房間只剩房主；有人加入過的房間已進入 playing 且不再可加入
	for _, host := range hosts {
		room, err := manager.GetRoom(host.RoomID)
		require.NoError(t, err)
		assert.Equal(t, 1, room.PlayerCount())
		assert.True(t, room.HasPlayer(host.PlayerID))
	}
	assert.Empty(t, manager.ListRooms())
}

// TestStress_ConcurrentCreate 大量並發建立房間，ID 不重複
func TestStress_ConcurrentCreate(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	manager := internal.NewManager(testLogger())
	defer manager.Stop()

	const (
		numGoroutines     = 50
		roomsPerGoroutine = 20
	)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{})
	)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < roomsPerGoroutine; j++ {
				a, err := manager.CreateRoom(internal.GameTicTacToe, fmt.Sprintf("玩家_%d_%d", id, j), newFakeConn("c"))
				if !assert.NoError(t, err) {
					continue
				}
				mu.Lock()
				ids[a.RoomID] = struct{}{}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, ids, numGoroutines*roomsPerGoroutine)
	assert.Equal(t, numGoroutines*roomsPerGoroutine, manager.Stats()["total_rooms"])
	assert.Len(t, manager.ListRooms(), numGoroutines*roomsPerGoroutine)
}

// BenchmarkRelayMove 轉發效能
func BenchmarkRelayMove(b *testing.B) {
	manager := internal.NewManager(testLogger())
	defer manager.Stop()

	a, err := manager.CreateRoom(internal.GameTicTacToe, "Alice", newFakeConn("a"))
	require.NoError(b, err)
	_, err = manager.JoinRoom(a.RoomID, "Bob", discardConn{})
	require.NoError(b, err)

	data := json.RawMessage(`{"index":4,"symbol":"X"}`)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		manager.RelayMove(a.RoomID, a.PlayerID, data)
	}
}

// discardConn 丟棄所有 frame
type discardConn struct{}

func (discardConn) ID() string        { return "discard" }
func (discardConn) Send([]byte) error { return nil }
