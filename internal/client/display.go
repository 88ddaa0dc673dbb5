package client

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
)

// Display 以顏色輸出服務器訊息
type Display struct {
	out         io.Writer
	roomColor   *color.Color
	joinColor   *color.Color
	startColor  *color.Color
	leaveColor  *color.Color
	moveColor   *color.Color
	actionColor *color.Color
	errorColor  *color.Color
	infoColor   *color.Color
}

// NewDisplay 創建輸出
func NewDisplay(out io.Writer) *Display {
	return &Display{
		out:         out,
		roomColor:   color.New(color.FgCyan, color.Bold),
		joinColor:   color.New(color.FgGreen),
		startColor:  color.New(color.FgYellow, color.Bold),
		leaveColor:  color.New(color.FgMagenta),
		moveColor:   color.New(color.FgBlue),
		actionColor: color.New(color.FgBlue, color.Bold),
		errorColor:  color.New(color.FgRed, color.Bold),
		infoColor:   color.New(color.FgWhite),
	}
}

// Banner 啟動畫面
func (d *Display) Banner() {
	d.startColor.Fprintln(d.out, `
╔═══════════════════════════════════════╗
║           GAME RELAY CLIENT           ║
╚═══════════════════════════════════════╝
  /action <name> [json]  /leave  /rooms  /quit`)
}

// Info 一般提示
func (d *Display) Info(format string, args ...any) {
	d.infoColor.Fprintf(d.out, "[%s] %s\n", timestamp(), fmt.Sprintf(format, args...))
}

// Error 本地錯誤
func (d *Display) Error(err error) {
	d.errorColor.Fprintf(d.out, "[%s] [ERROR] %v\n", timestamp(), err)
}

// Render 輸出一則服務器訊息
func (d *Display) Render(msg Message) {
	ts := timestamp()

	switch msg.Type {
	case "room_created":
		d.roomColor.Fprintf(d.out, "[%s] [ROOM] 房間 %s 已建立，你的 ID: %s\n", ts, msg.RoomID, msg.PlayerID)
	case "player_joined":
		d.joinColor.Fprintf(d.out, "[%s] [JOIN] %s 加入 (%s)\n", ts, msg.PlayerName, playerNames(msg.Players))
	case "game_start":
		d.startColor.Fprintf(d.out, "[%s] [START] 遊戲開始: %s\n", ts, strings.Join(names(msg.Players), " vs "))
	case "player_left":
		d.leaveColor.Fprintf(d.out, "[%s] [LEAVE] %s 離開 (%s)\n", ts, msg.PlayerID, playerNames(msg.Players))
	case "move":
		d.moveColor.Fprintf(d.out, "[%s] [MOVE] %s: %s\n", ts, msg.PlayerID, string(msg.Data))
	case "action":
		d.actionColor.Fprintf(d.out, "[%s] [ACTION] %s %s: %s\n", ts, msg.PlayerID, msg.Action, string(msg.Data))
	case "rooms_list":
		d.renderRooms(ts, msg.Rooms)
	case "error":
		d.errorColor.Fprintf(d.out, "[%s] [ERROR] %s\n", ts, msg.Message)
	default:
		d.infoColor.Fprintf(d.out, "[%s] [%s]\n", ts, msg.Type)
	}
}

func (d *Display) renderRooms(ts string, rooms []Room) {
	if len(rooms) == 0 {
		d.infoColor.Fprintf(d.out, "[%s] [ROOMS] 沒有可加入的房間\n", ts)
		return
	}
	d.roomColor.Fprintf(d.out, "[%s] [ROOMS] %d 個可加入的房間\n", ts, len(rooms))
	for _, r := range rooms {
		d.infoColor.Fprintf(d.out, "  %-14s %-12s %d/2  host=%s\n", r.ID, r.GameType, r.PlayerCount, r.Host)
	}
}

func names(players []Player) []string {
	out := make([]string, 0, len(players))
	for _, p := range players {
		out = append(out, p.Name)
	}
	return out
}

func playerNames(players []Player) string {
	return strings.Join(names(players), ", ")
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}
