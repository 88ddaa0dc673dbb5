package internal_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-game-relay/internal"
)

// testStack 完整的服務器組裝
type testStack struct {
	manager  *internal.Manager
	registry *internal.Registry
	hub      *internal.WebSocketHub
	server   *httptest.Server
}

func newTestStack(t *testing.T, opts ...internal.HandlerOption) *testStack {
	t.Helper()
	logger := testLogger()

	manager := internal.NewManager(logger)
	registry := internal.NewRegistry(manager, logger)
	hub := internal.NewWebSocketHub(registry, internal.DefaultHubConfig(), logger)
	handler := internal.NewHandler(manager, hub, logger, opts...)

	server := httptest.NewServer(handler.Routes())
	t.Cleanup(func() {
		hub.Stop()
		server.Close()
		manager.Stop()
	})

	return &testStack{
		manager:  manager,
		registry: registry,
		hub:      hub,
		server:   server,
	}
}

func (s *testStack) wsURL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
}

func (s *testStack) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// readMessage 讀取下一則訊息，逾時視為失敗
func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// TestWebSocket_Scenario Alice 建立、Bob 加入、互相轉發、Bob 斷線
func TestWebSocket_Scenario(t *testing.T) {
	stack := newTestStack(t)

	alice := stack.dial(t)
	bob := stack.dial(t)

	// Alice 建立房間
	writeJSON(t, alice, map[string]any{"type": "create_room", "game_type": "tictactoe", "player_name": "Alice"})
	created := readMessage(t, alice)
	require.Equal(t, "room_created", created["type"])
	roomID := created["room_id"].(string)
	aliceID := created["player_id"].(string)

	// Bob 看到可加入的房間
	writeJSON(t, bob, map[string]any{"type": "list_rooms"})
	list := readMessage(t, bob)
	require.Equal(t, "rooms_list", list["type"])
	rooms := list["rooms"].([]any)
	require.Len(t, rooms, 1)
	assert.Equal(t, roomID, rooms[0].(map[string]any)["id"])
	assert.Equal(t, "Alice", rooms[0].(map[string]any)["host"])

	// Bob 加入：雙方依序收到 player_joined → game_start
	writeJSON(t, bob, map[string]any{"type": "join", "room_id": roomID, "player_name": "Bob"})
	for _, conn := range []*websocket.Conn{alice, bob} {
		joined := readMessage(t, conn)
		assert.Equal(t, "player_joined", joined["type"])
		assert.Equal(t, "Bob", joined["player_name"])
		assert.Equal(t, []string{"Alice", "Bob"}, playerNames(t, joined))

		start := readMessage(t, conn)
		assert.Equal(t, "game_start", start["type"])
	}

	// Alice 落子，Bob 原樣收到
	writeJSON(t, alice, map[string]any{"type": "game_move", "data": map[string]any{"index": 4, "symbol": "X"}})
	move := readMessage(t, bob)
	assert.Equal(t, "move", move["type"])
	assert.Equal(t, aliceID, move["player_id"])
	assert.Equal(t, map[string]any{"index": float64(4), "symbol": "X"}, move["data"])

	// Bob 動作，Alice 原樣收到
	writeJSON(t, bob, map[string]any{"type": "game_action", "action": "jump", "data": map[string]any{"y": 100}})
	action := readMessage(t, alice)
	assert.Equal(t, "action", action["type"])
	assert.Equal(t, "jump", action["action"])
	assert.Equal(t, map[string]any{"y": float64(100)}, action["data"])

	// Bob 斷線：Alice 收到 player_left
	require.NoError(t, bob.Close())
	left := readMessage(t, alice)
	assert.Equal(t, "player_left", left["type"])
	assert.Equal(t, []string{"Alice"}, playerNames(t, left))

	room, err := stack.manager.GetRoom(roomID)
	require.NoError(t, err)
	assert.Equal(t, 1, room.PlayerCount())
	assert.Equal(t, internal.StatusPlaying, room.CurrentStatus())
}

// TestWebSocket_JoinFull 第三位玩家收到 Room is full
func TestWebSocket_JoinFull(t *testing.T) {
	stack := newTestStack(t)

	alice := stack.dial(t)
	writeJSON(t, alice, map[string]any{"type": "create_room", "game_type": "flappybird", "player_name": "Alice"})
	roomID := readMessage(t, alice)["room_id"].(string)

	bob := stack.dial(t)
	writeJSON(t, bob, map[string]any{"type": "join", "room_id": roomID, "player_name": "Bob"})
	assert.Equal(t, "player_joined", readMessage(t, bob)["type"])

	carol := stack.dial(t)
	writeJSON(t, carol, map[string]any{"type": "join", "room_id": roomID, "player_name": "Carol"})
	msg := readMessage(t, carol)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "Room is full", msg["message"])

	writeJSON(t, carol, map[string]any{"type": "join", "room_id": "nonexistent", "player_name": "Carol"})
	msg = readMessage(t, carol)
	assert.Equal(t, "Room not found", msg["message"])
}

// TestWebSocket_MalformedFrameKeepsConnection 無法解析的 frame 不會斷線
func TestWebSocket_MalformedFrameKeepsConnection(t *testing.T) {
	stack := newTestStack(t)

	conn := stack.dial(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
	writeJSON(t, conn, map[string]any{"type": "list_rooms"})

	msg := readMessage(t, conn)
	assert.Equal(t, "rooms_list", msg["type"])
	assert.Equal(t, []any{}, msg["rooms"])
}

// TestWebSocket_DisconnectRemovesEmptyRoom 唯一成員斷線後房間刪除
func TestWebSocket_DisconnectRemovesEmptyRoom(t *testing.T) {
	stack := newTestStack(t)

	conn := stack.dial(t)
	writeJSON(t, conn, map[string]any{"type": "create_room", "game_type": "tictactoe", "player_name": "Alice"})
	roomID := readMessage(t, conn)["room_id"].(string)
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		_, err := stack.manager.GetRoom(roomID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return stack.hub.ConnectionCount() == 0 && stack.registry.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// TestWebSocketHub_Stop 關閉 Hub 會斷開所有連接並清空房間
func TestWebSocketHub_Stop(t *testing.T) {
	stack := newTestStack(t)

	conn := stack.dial(t)
	writeJSON(t, conn, map[string]any{"type": "create_room", "game_type": "tictactoe", "player_name": "Alice"})
	roomID := readMessage(t, conn)["room_id"].(string)
	require.Equal(t, 1, stack.hub.ConnectionCount())

	stack.hub.Stop()

	// 客戶端收到 close frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	assert.Equal(t, 0, stack.hub.ConnectionCount())
	_, err = stack.manager.GetRoom(roomID)
	assert.ErrorIs(t, err, internal.ErrRoomNotFound)

	// 停止後拒絕新連接
	_, resp, err := websocket.DefaultDialer.Dial(stack.wsURL(), nil)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, 503, resp.StatusCode)
	}
}

// TestWebSocketHub_CheckOrigin 設定白名單後拒絕其他來源
func TestWebSocketHub_CheckOrigin(t *testing.T) {
	logger := testLogger()
	manager := internal.NewManager(logger)
	defer manager.Stop()

	config := internal.DefaultHubConfig()
	config.AllowedOrigins = []string{"https://game.example.com"}
	hub := internal.NewWebSocketHub(internal.NewRegistry(manager, logger), config, logger)
	defer hub.Stop()

	server := httptest.NewServer(internal.NewHandler(manager, hub, logger).Routes())
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	header := map[string][]string{"Origin": {"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, 403, resp.StatusCode)
	}

	header = map[string][]string{"Origin": {"https://game.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = conn.Close()
}
