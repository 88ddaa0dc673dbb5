package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/koopa0/system-design/14-game-relay/internal/client"
)

func main() {
	cmd := &cli.Command{
		Name:  "relayctl",
		Usage: "遊戲轉發服務器的終端客戶端",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "ws://localhost:8080/ws",
				Usage:   "服務器 WebSocket 位址",
				Sources: cli.EnvVars("RELAY_URL"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "rooms",
				Usage:  "列出可加入的房間",
				Action: listRooms,
			},
			{
				Name:  "create",
				Usage: "建立房間並等待對手",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "game", Aliases: []string{"g"}, Value: "tictactoe", Usage: "遊戲種類"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "玩家名稱"},
				},
				Action: createRoom,
			},
			{
				Name:  "join",
				Usage: "加入房間",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "room", Aliases: []string{"r"}, Required: true, Usage: "房間 ID"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "玩家名稱"},
				},
				Action: joinRoom,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		os.Exit(1)
	}
}

func dial(ctx context.Context, cmd *cli.Command) (*client.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return client.Dial(dialCtx, cmd.String("server"))
}

func listRooms(ctx context.Context, cmd *cli.Command) error {
	c, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.ListRooms(); err != nil {
		return err
	}

	display := client.NewDisplay(os.Stdout)
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-c.Messages():
			if !ok {
				return errors.New("連線已關閉")
			}
			if msg.Type == "rooms_list" {
				display.Render(msg)
				return nil
			}
		case <-timeout:
			return errors.New("等待房間列表逾時")
		case <-ctx.Done():
			return nil
		}
	}
}

func createRoom(ctx context.Context, cmd *cli.Command) error {
	c, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.CreateRoom(cmd.String("game"), cmd.String("name")); err != nil {
		return err
	}
	return interact(ctx, c)
}

func joinRoom(ctx context.Context, cmd *cli.Command) error {
	c, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Join(cmd.String("room"), cmd.String("name")); err != nil {
		return err
	}
	return interact(ctx, c)
}

// interact 一邊輸出服務器訊息，一邊把標準輸入轉成訊息送出
func interact(ctx context.Context, c *client.Client) error {
	display := client.NewDisplay(os.Stdout)
	display.Banner()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-c.Messages():
			if !ok {
				if err := c.Err(); err != nil {
					return fmt.Errorf("連線中斷: %w", err)
				}
				display.Info("服務器已關閉連線")
				return nil
			}
			display.Render(msg)

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			input, err := client.ParseInput(line)
			if errors.Is(err, client.ErrEmptyInput) {
				continue
			}
			if err != nil {
				display.Error(err)
				continue
			}
			if input.Kind == client.InputQuit {
				return nil
			}
			if err := dispatch(c, input); err != nil {
				return fmt.Errorf("送出訊息失敗: %w", err)
			}
		}
	}
}

func dispatch(c *client.Client, input client.Input) error {
	switch input.Kind {
	case client.InputMove:
		return c.Move(input.Data)
	case client.InputAction:
		return c.Action(input.Action, input.Data)
	case client.InputLeave:
		return c.Leave()
	case client.InputRooms:
		return c.ListRooms()
	default:
		return nil
	}
}
