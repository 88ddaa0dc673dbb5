// Package internal 實現兩人對戰遊戲的配對與訊息轉發服務器。
//
// 服務器不理解任何遊戲規則：它把兩條 WebSocket 連接配對進同一個房間，
// 並把一方的操作原封不動地轉發給另一方，勝負判定由兩端客戶端各自計算。
//
// # 房間生命週期
//
//   - create_room：建立房間，建立者成為第一位成員，收到 room_created
//   - join：第二位成員加入，雙方收到 player_joined 與 game_start
//   - leave 或斷線：剩下的成員收到 player_left；最後一人離開時房間立即刪除
//
// 每位玩家同時只屬於一個房間，建立或加入新房間會離開先前的房間。
//
// # 訊息轉發
//
// game_move 轉為 move、game_action 轉為 action，送給房間內除發送者以外的成員。
// data 欄位保持原始 JSON，不做任何解讀。
//
// # 分層
//
//   - WebSocketHub：握手、讀寫 goroutine、心跳
//   - Registry：每條連接的身分、訊息分派、斷線補發 leave
//   - Manager：房間建立、加入、離開、轉發、列表
//   - Store：房間的記憶體儲存
//   - Handler：HTTP 路由（/ws、唯讀房間查詢、健康檢查）
//
// # 使用範例
//
//	manager := internal.NewManager(logger)
//	registry := internal.NewRegistry(manager, logger)
//	hub := internal.NewWebSocketHub(registry, internal.DefaultHubConfig(), logger)
//	handler := internal.NewHandler(manager, hub, logger)
//
//	log.Fatal(http.ListenAndServe(":8080", handler.Routes()))
//
// 客戶端連接：
//
//	conn, _, err := websocket.DefaultDialer.Dial("ws://localhost:8080/ws", nil)
//	conn.WriteJSON(map[string]string{"type": "create_room", "game_type": "tictactoe", "player_name": "Alice"})
package internal
