package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/wfunc/arcaderoom/game"
	"github.com/wfunc/arcaderoom/persistence"
	"github.com/wfunc/arcaderoom/room"
	"github.com/wfunc/arcaderoom/services"
)

type staticRooms map[string][]game.RoomSummary

func (s staticRooms) ListRooms(gameType string) []game.RoomSummary { return s[gameType] }

func dial(t *testing.T, admin *AdminService) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServerWithListener(lis, admin)
	go srv.Start()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestAdmin_ListRoomsAndHealth(t *testing.T) {
	rooms := staticRooms{"omok": {{ID: "r2", Game: "omok", Participants: 1, MaxParticipants: 2, Phase: "WAITING"}}}
	conn := dial(t, NewAdminService(rooms, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, health.Status)

	client := NewClient(conn)
	list, err := client.ListRooms(ctx, "omok")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "r2", list[0].ID)

	empty, err := client.ListRooms(ctx, "pingpong")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = client.ListRooms(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.PlayerStats(ctx, PlayerRequest{UserID: "alice"})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestAdmin_PlayerStatsFromHistory(t *testing.T) {
	svc := services.NewMatchService(persistence.NewMemory(), nil, nil)
	now := time.Now()
	svc.OnGameOver(room.MatchResult{
		RoomID:  "r1",
		Game:    "omok",
		Outcome: game.Win(1, "five in a row"),
		Seats: []game.Seat{
			{UserID: "alice", Side: 0},
			{UserID: "bob", Side: 1},
		},
		StartedAt: now.Add(-time.Minute),
		EndedAt:   now,
	})

	conn := dial(t, NewAdminService(staticRooms{}, svc))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client := NewClient(conn)

	reply, err := client.PlayerStats(ctx, PlayerRequest{UserID: "bob", Game: "omok", Limit: 5})
	require.NoError(t, err)
	require.NotNil(t, reply.Stats)
	assert.Equal(t, 1, reply.Stats.TotalGames)
	assert.Equal(t, 1, reply.Stats.Wins)
	require.Len(t, reply.Recent, 1)
	assert.Equal(t, "bob", reply.Recent[0].WinnerID)
	assert.Zero(t, reply.Rank)

	entries, err := client.Leaderboard(ctx, "omok", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
