package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/wfunc/arcaderoom/config"
	"github.com/wfunc/arcaderoom/game"
	"github.com/wfunc/arcaderoom/game/omok"
	"github.com/wfunc/arcaderoom/game/pingpong"
	"github.com/wfunc/arcaderoom/gameclient"
	"github.com/wfunc/arcaderoom/logger"
)

const usage = `commands:
  list              show open rooms
  create            open a room
  join <room-id>    join a room
  leave             leave the current room
  move <args>       omok: move <x> <y>; pingpong: move paddle <y> | move miss
  quit`

func endpoint(cfg config.ClientConfig) string {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return cfg.Endpoint
	}
	q := u.Query()
	if cfg.UserID != "" {
		q.Set("user_id", cfg.UserID)
	}
	if cfg.DisplayName != "" {
		q.Set("name", cfg.DisplayName)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// parseMove turns command arguments into the game's move payload.
func parseMove(gameType string, args []string) (any, error) {
	switch gameType {
	case omok.Type:
		if len(args) != 2 {
			return nil, fmt.Errorf("usage: move <x> <y>")
		}
		x, errX := strconv.Atoi(args[0])
		y, errY := strconv.Atoi(args[1])
		if errX != nil || errY != nil {
			return nil, fmt.Errorf("coordinates must be integers")
		}
		return omok.Stone{X: x, Y: y}, nil
	case pingpong.Type:
		if len(args) == 0 {
			return nil, fmt.Errorf("usage: move paddle <y> | move miss")
		}
		u := pingpong.Update{Kind: args[0]}
		if u.Kind == pingpong.KindPaddle && len(args) > 1 {
			y, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return nil, err
			}
			u.Y = y
		}
		return u, nil
	default:
		return json.RawMessage(strings.Join(args, " ")), nil
	}
}

func main() {
	configPath := flag.String("config", ".", "directory holding config.yaml")
	gameType := flag.String("game", omok.Type, "game to play")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	catalog := game.NewCatalog(omok.Definition(), pingpong.Definition())
	def, err := catalog.Lookup(*gameType)
	if err != nil {
		logger.Log.Fatalf("%v (have %s)", err, strings.Join(catalog.Types(), ", "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := endpoint(cfg.Client)
	logger.Log.Infof("Connecting to %s", addr)
	transport, err := gameclient.DialWS(ctx, addr, gameclient.WSOptions{
		ReconnectAttempts: cfg.Client.ReconnectAttempts,
		ReconnectDelay:    cfg.Client.ReconnectDelay,
	})
	if err != nil {
		logger.Log.Fatalf("Dial failed: %v", err)
	}
	defer transport.Close()

	controller := gameclient.NewController(def, transport, gameclient.NewTextRenderer(os.Stdout, def.Dialogs), cfg.Client.ResponseTimeout)
	defer controller.Cleanup()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println(usage)
	for {
		select {
		case <-ctx.Done():
			return
		case <-transport.Done():
			fmt.Println("disconnected")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !run(ctx, controller, def, strings.Fields(line)) {
				return
			}
		}
	}
}

// run executes one command; false means quit. Failures are already shown by
// the renderer.
func run(ctx context.Context, c *gameclient.RoomController, def *game.Definition, fields []string) bool {
	if len(fields) == 0 {
		return true
	}
	switch fields[0] {
	case "list":
		c.RequestRoomList(ctx)
	case "create":
		c.CreateRoom(ctx)
	case "join":
		if len(fields) != 2 {
			fmt.Println("usage: join <room-id>")
			return true
		}
		c.JoinRoom(ctx, fields[1])
	case "leave":
		if err := c.LeaveRoom(ctx); err == gameclient.ErrNotInRoom {
			fmt.Println(err)
		}
	case "move":
		payload, err := parseMove(def.Type, fields[1:])
		if err != nil {
			fmt.Println(err)
			return true
		}
		if err := c.SubmitMove(payload); err != nil {
			fmt.Println(err)
		}
	case "quit", "exit":
		return false
	default:
		fmt.Println(usage)
	}
	return true
}
