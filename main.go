package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wfunc/arcaderoom/broadcast"
	"github.com/wfunc/arcaderoom/config"
	"github.com/wfunc/arcaderoom/game"
	"github.com/wfunc/arcaderoom/game/omok"
	"github.com/wfunc/arcaderoom/game/pingpong"
	"github.com/wfunc/arcaderoom/logger"
	"github.com/wfunc/arcaderoom/monitor"
	"github.com/wfunc/arcaderoom/persistence"
	"github.com/wfunc/arcaderoom/ranking"
	"github.com/wfunc/arcaderoom/room"
	"github.com/wfunc/arcaderoom/rpc"
	"github.com/wfunc/arcaderoom/server"
	"github.com/wfunc/arcaderoom/services"
	"github.com/wfunc/arcaderoom/session"
	"github.com/wfunc/arcaderoom/state"
	"github.com/wfunc/arcaderoom/timer"
)

func openDatabase(cfg config.DatabaseConfig) (persistence.Database, error) {
	pg := cfg.Postgres
	switch cfg.Driver {
	case "gorm":
		return persistence.NewGormPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	case "sql":
		return persistence.NewPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	default:
		return persistence.NewMemory(), nil
	}
}

func main() {
	configPath := flag.String("config", ".", "directory holding config.yaml")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	// Initialize logger
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	// Initialize Database
	db, err := openDatabase(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Log.Infof("Match history stored with driver %q", cfg.Database.Driver)

	var board ranking.Leaderboard
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		board = ranking.NewRedisLeaderboard(rdb, "arcade")
	}

	sessions := session.NewManager()
	var lobby broadcast.Fanout
	lobby = append(lobby, broadcast.NewLobbyBroadcaster(sessions))

	var publisher services.ResultPublisher
	if cfg.NATS.Enabled {
		nc, err := broadcast.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			logger.Log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer nc.Drain()
		pub := broadcast.NewNATSPublisher(nc, "arcade")
		lobby = append(lobby, pub)
		publisher = pub
	}

	mon := monitor.NewMonitor("arcade")
	metricsServer := mon.StartServer(cfg.Server.MetricsAddress)

	matches := services.NewMatchService(db, board, publisher)

	timers := timer.NewTimerManager(cfg.Room.TimerResolution)
	defer timers.Stop()

	catalog := game.NewCatalog(omok.Definition(), pingpong.Definition())
	rooms := room.NewRoomManager(catalog, room.Options{
		MaxRooms: cfg.Room.MaxRooms,
		Timing: state.Timing{
			ReadyGrace: cfg.Room.ReadyGrace,
			AbortGrace: cfg.Room.AbortGrace,
			CloseGrace: cfg.Room.CloseGrace,
		},
		Timers:   timers,
		Recorder: matches,
		Lobby:    lobby,
		Stats:    mon,
	})

	rpcServer, err := rpc.NewServer(cfg.Server.RPCAddress, rpc.NewAdminService(rooms, matches))
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	go rpcServer.Start()

	// Initialize Game Server
	gameServer := server.NewGameServer(cfg.Server.HTTPAddress, catalog, rooms, sessions, server.Options{
		Session: session.Options{
			Attempts:  cfg.Room.SendAttempts,
			Backoff:   cfg.Room.SendBackoff,
			Queue:     cfg.Room.SendQueue,
			Heartbeat: cfg.Room.Heartbeat,
		},
		Stats: mon,
	})

	errc := make(chan error, 1)
	go func() { errc <- gameServer.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Log.Infof("Received %s, shutting down", sig)
	case err := <-errc:
		if err != nil {
			logger.Log.Errorf("Game server stopped: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gameServer.Shutdown(ctx); err != nil {
		logger.Log.Warnf("Game server shutdown: %v", err)
	}
	rpcServer.Stop()
	metricsServer.Shutdown(ctx)
	logger.Log.Info("Server stopped.")
}
