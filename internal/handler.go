package internal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/koopa0/system-design/14-game-relay/internal/limiter"
)

// limiterTimeout 單次限流判斷的時間上限（Redis 慢時不拖住握手）
const limiterTimeout = 100 * time.Millisecond

type ctxKey int

const requestIDKey ctxKey = iota

// Handler HTTP 請求處理器
type Handler struct {
	manager        *Manager
	hub            *WebSocketHub
	logger         *slog.Logger
	wsPath         string
	connectLimiter limiter.Limiter
}

// HandlerOption Handler 選項
type HandlerOption func(*Handler)

// WithWSPath 設定 WebSocket 路徑
func WithWSPath(path string) HandlerOption {
	return func(h *Handler) {
		h.wsPath = path
	}
}

// WithConnectLimiter 設定 WebSocket 握手的每 IP 限流器
func WithConnectLimiter(l limiter.Limiter) HandlerOption {
	return func(h *Handler) {
		h.connectLimiter = l
	}
}

// NewHandler 創建 HTTP 處理器
func NewHandler(manager *Manager, hub *WebSocketHub, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		manager: manager,
		hub:     hub,
		logger:  logger,
		wsPath:  "/ws",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()

	// 中間件鏈：recoverer 最外層，確保 panic 也會被記錄
	r.Use(h.recoverer, h.requestID, h.loggerMiddleware)

	// WebSocket 入口
	r.Handle(h.wsPath, h.connectLimit(http.HandlerFunc(h.hub.ServeWS)))

	// 房間查詢 API（唯讀）
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rooms", h.listRooms).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{room_id}", h.getRoomDetail).Methods(http.MethodGet)

	// 健康檢查
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.stats).Methods(http.MethodGet)

	return r
}

// listRooms 列出可加入的房間
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.manager.ListRooms()
	h.jsonResponse(w, map[string]any{
		"rooms": rooms,
		"total": len(rooms),
	}, http.StatusOK)
}

// getRoomDetail 獲取房間詳情
func (h *Handler) getRoomDetail(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]

	room, err := h.manager.GetRoom(roomID)
	if err != nil {
		h.errorResponse(w, PublicMessage(err), http.StatusNotFound)
		return
	}

	h.jsonResponse(w, room.Detail(), http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.manager.Stats()
	stats["connections"] = h.hub.ConnectionCount()
	h.jsonResponse(w, stats, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// connectLimit 每 IP 的握手限流
//
// 限流器出錯（例如 Redis 不可用）時放行：可用性優先。
func (h *Handler) connectLimit(next http.Handler) http.Handler {
	if h.connectLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), limiterTimeout)
		defer cancel()

		ip := clientIP(r)
		allowed, err := h.connectLimiter.Allow(ctx, ip)
		if err != nil {
			h.logger.Warn("連線限流器錯誤，放行", "ip", ip, "error", err)
		}
		if !allowed {
			w.Header().Set("Retry-After", "1")
			h.errorResponse(w, ErrRateLimited.Message, http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP 取出來源 IP（不含埠）
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestID 為每個請求附上 ID，沿用客戶端帶來的 X-Request-ID
func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFrom 取出請求 ID
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start),
			"request_id", RequestIDFrom(r.Context()))
	})
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
//
// 需要支援 Hijack，WebSocket 握手才能穿過日誌中間件。
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack 實現 http.Hijacker
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("底層 ResponseWriter 不支援 Hijack")
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		return nil, nil, fmt.Errorf("hijack: %w", err)
	}
	w.statusCode = http.StatusSwitchingProtocols
	return conn, rw, nil
}

// Unwrap 讓 http.ResponseController 取得底層 ResponseWriter
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
