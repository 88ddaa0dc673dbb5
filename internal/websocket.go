package internal

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   兩位玩家的操作如何低延遲地互相轉發，又不讓單一慢連接拖累整個服務？
//
// 設計方案：
//   ✅ WebSocket - 全雙工，服務器可主動推送
//   ✅ 每條連接一對 read/write goroutine
//   ✅ 緩衝 channel - 發送端非阻塞，滿了就丟
//   ✅ Ping/Pong 心跳 - 偵測消失的客戶端，觸發補發 leave

// errSendBufferFull 連接發送緩衝已滿
var errSendBufferFull = errors.New("發送緩衝區已滿")

// HubConfig WebSocket 參數
type HubConfig struct {
	ReadLimit      int64
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration // 必須小於 PongWait
	AllowedOrigins []string      // 空 = 允許所有來源
}

// DefaultHubConfig 預設參數
//
// 54s Ping / 60s Pong 超時：在常見代理的 60 秒閒置超時前送出 Ping。
func DefaultHubConfig() HubConfig {
	return HubConfig{
		ReadLimit:  64 * 1024,
		SendBuffer: 256,
		WriteWait:  10 * time.Second,
		PongWait:   60 * time.Second,
		PingPeriod: 54 * time.Second,
	}
}

// HubConfigFrom 從應用配置取出 WebSocket 參數
func HubConfigFrom(cfg *Config) HubConfig {
	return HubConfig{
		ReadLimit:      cfg.WebSocket.ReadLimit,
		SendBuffer:     cfg.WebSocket.SendBuffer,
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		PingPeriod:     cfg.WebSocket.PingPeriod,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
}

// WebSocketHub WebSocket 連接中心
//
// Hub 只負責傳輸層：握手、讀寫、心跳、關閉。
// 訊息語意交給 Registry，房間狀態交給 Manager。
type WebSocketHub struct {
	registry *Registry
	logger   *slog.Logger
	config   HubConfig
	upgrader websocket.Upgrader
	clients  map[*Client]struct{}
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopped  bool
}

// Client 一條 WebSocket 連接，實現 Sender
type Client struct {
	id       string
	hub      *WebSocketHub
	conn     *websocket.Conn
	session  *Session
	send     chan []byte
	mu       sync.Mutex
	closed   bool
	lastPing time.Time
}

// NewWebSocketHub 創建 WebSocket Hub
func NewWebSocketHub(registry *Registry, config HubConfig, logger *slog.Logger) *WebSocketHub {
	hub := &WebSocketHub{
		registry: registry,
		logger:   logger,
		config:   config,
		clients:  make(map[*Client]struct{}),
	}
	hub.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     hub.checkOrigin,
	}
	return hub
}

// checkOrigin 未設定白名單時允許所有來源（瀏覽器遊戲常由其他網域載入）
func (hub *WebSocketHub) checkOrigin(r *http.Request) bool {
	if len(hub.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range hub.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeWS 處理 WebSocket 握手
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	hub.mu.Lock()
	stopped := hub.stopped
	hub.mu.Unlock()
	if stopped {
		http.Error(w, "服務器正在關閉", http.StatusServiceUnavailable)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 失敗時已經寫入 HTTP 錯誤回應
		hub.logger.Warn("升級 WebSocket 失敗", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	client := &Client{
		id:       uuid.NewString(),
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, hub.config.SendBuffer),
		lastPing: time.Now(),
	}

	hub.mu.Lock()
	if hub.stopped {
		hub.mu.Unlock()
		_ = conn.Close()
		return
	}
	hub.clients[client] = struct{}{}
	hub.wg.Add(2)
	hub.mu.Unlock()

	client.session = hub.registry.Register(client)

	go client.writePump()
	go client.readPump()

	hub.logger.Info("WebSocket 連接建立",
		"conn_id", client.id,
		"remote_addr", r.RemoteAddr)
}

// ConnectionCount 連接數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.clients)
}

// Stop 關閉所有連接並等待讀寫 goroutine 結束
//
// 關閉連接會觸發每條連接的補發 leave，房間隨之清空。
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	if hub.stopped {
		hub.mu.Unlock()
		return
	}
	hub.stopped = true
	clients := make([]*Client, 0, len(hub.clients))
	for c := range hub.clients {
		clients = append(clients, c)
	}
	hub.mu.Unlock()

	for _, c := range clients {
		// 關閉 send channel 讓 writePump 送出 close frame 後結束
		c.close()
	}
	hub.wg.Wait()

	hub.logger.Info("WebSocket Hub 已停止", "closed_connections", len(clients))
}

func (hub *WebSocketHub) remove(c *Client) {
	hub.mu.Lock()
	delete(hub.clients, c)
	hub.mu.Unlock()
}

// ID 實現 Sender
func (c *Client) ID() string {
	return c.id
}

// Send 實現 Sender：非阻塞地放入發送緩衝
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.hub.logger.Warn("連接緩衝區滿，丟棄訊息", "conn_id", c.id)
		return errSendBufferFull
	}
}

// close 關閉發送通道，可重複呼叫
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump 讀取客戶端訊息
//
// 迴圈結束（客戶端關閉、網路錯誤、心跳超時）時：
// 註銷連接 → Registry 補發 leave → 關閉發送端 → 關閉底層連接。
func (c *Client) readPump() {
	defer func() {
		c.hub.registry.Unregister(c.session)
		c.hub.remove(c)
		c.close()
		_ = c.conn.Close()
		c.hub.wg.Done()
	}()

	c.conn.SetReadLimit(c.hub.config.ReadLimit)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.config.PongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	// 收到 Pong 重置超時
	c.conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.config.PongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("WebSocket 讀取錯誤",
					"error", err,
					"conn_id", c.id)
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.hub.logger.Debug("忽略非文字訊息", "conn_id", c.id, "message_type", messageType)
			continue
		}
		c.hub.registry.HandleMessage(c.session, message)
	}
}

// writePump 寫入訊息到客戶端
//
// 每則訊息獨立一個 frame：客戶端以一個 frame 一個 JSON 的方式解析，
// 因此不合併佇列中的訊息。
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.config.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// 發送端已關閉，嘗試送出 close frame，忽略錯誤（連接可能已斷）
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("發送訊息失敗", "conn_id", c.id, "error", err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
