package internal_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-game-relay/internal"
	"github.com/koopa0/system-design/14-game-relay/internal/events"
)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // 測試時只顯示錯誤
	}))
}

// fakeConn 記錄收到的 frame 的假連接
type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return internal.ErrConnectionClosed
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func (c *fakeConn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// Types 依序取出每個 frame 的 type
func (c *fakeConn) Types(t *testing.T) []string {
	t.Helper()
	var types []string
	for _, m := range c.Messages(t) {
		types = append(types, m["type"].(string))
	}
	return types
}

func (c *fakeConn) Messages(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, frame := range c.Frames() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(frame, &m))
		out = append(out, m)
	}
	return out
}

// Last 最後一個 frame
func (c *fakeConn) Last(t *testing.T) map[string]any {
	t.Helper()
	msgs := c.Messages(t)
	require.NotEmpty(t, msgs, "連接 %s 沒有收到任何訊息", c.id)
	return msgs[len(msgs)-1]
}

// recordingPublisher 記錄所有發佈的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	closed bool
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *recordingPublisher) Types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

// sequenceIDs 依序回傳指定的 ID，用完後回傳最後一個
func sequenceIDs(ids ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[min(i, len(ids)-1)]
		i++
		return id
	}
}

// playerNames 取出成員列表中的名稱
func playerNames(t *testing.T, msg map[string]any) []string {
	t.Helper()
	raw, ok := msg["players"].([]any)
	require.True(t, ok, "訊息沒有 players 欄位: %v", msg)
	var names []string
	for _, p := range raw {
		names = append(names, p.(map[string]any)["name"].(string))
	}
	return names
}

// pairedRoom 建立一個 Alice 與 Bob 已配對的房間
func pairedRoom(t *testing.T, manager *internal.Manager) (alice, bob *fakeConn, a, b *internal.Admission) {
	t.Helper()
	alice = newFakeConn("conn-alice")
	bob = newFakeConn("conn-bob")

	a, err := manager.CreateRoom(internal.GameTicTacToe, "Alice", alice)
	require.NoError(t, err)
	b, err = manager.JoinRoom(a.RoomID, "Bob", bob)
	require.NoError(t, err)

	alice.Reset()
	bob.Reset()
	return alice, bob, a, b
}
