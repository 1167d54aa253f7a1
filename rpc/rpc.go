package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/wfunc/arcaderoom/game"
	"github.com/wfunc/arcaderoom/logger"
	"github.com/wfunc/arcaderoom/models"
	"github.com/wfunc/arcaderoom/persistence"
	"github.com/wfunc/arcaderoom/ranking"
)

// ServiceName is the fully qualified name of the admin service.
const ServiceName = "arcade.Admin"

// CodecName is the content subtype clients pass with grpc.CallContentSubtype.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// RoomDirectory lists open rooms; *room.Manager implements it.
type RoomDirectory interface {
	ListRooms(gameType string) []game.RoomSummary
}

// Records answers history queries; *services.MatchService implements it.
type Records interface {
	PlayerStats(ctx context.Context, userID string) (*models.PlayerStats, error)
	RecentMatches(ctx context.Context, userID string, limit int) ([]models.MatchRecord, error)
	Leaderboard(ctx context.Context, gameType string, n int) ([]ranking.Entry, error)
	Rank(ctx context.Context, gameType, userID string) (int64, error)
}

type ListRoomsRequest struct {
	Game string `json:"game"`
}

type ListRoomsReply struct {
	Rooms []game.RoomSummary `json:"rooms"`
}

// PlayerRequest asks for a user's history; Game, when set, adds the
// user's leaderboard rank in that game.
type PlayerRequest struct {
	UserID string `json:"userId"`
	Game   string `json:"game,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type PlayerStatsReply struct {
	Stats  *models.PlayerStats  `json:"stats"`
	Recent []models.MatchRecord `json:"recent,omitempty"`
	Rank   int64                `json:"rank,omitempty"`
}

type LeaderboardRequest struct {
	Game  string `json:"game"`
	Limit int    `json:"limit,omitempty"`
}

type LeaderboardReply struct {
	Entries []ranking.Entry `json:"entries"`
}

// AdminService is the server side of arcade.Admin.
type AdminService struct {
	rooms   RoomDirectory
	records Records
}

func NewAdminService(rooms RoomDirectory, records Records) *AdminService {
	return &AdminService{rooms: rooms, records: records}
}

func (a *AdminService) ListRooms(ctx context.Context, req *ListRoomsRequest) (*ListRoomsReply, error) {
	if req.Game == "" {
		return nil, status.Error(codes.InvalidArgument, "game is required")
	}
	return &ListRoomsReply{Rooms: a.rooms.ListRooms(req.Game)}, nil
}

func (a *AdminService) PlayerStats(ctx context.Context, req *PlayerRequest) (*PlayerStatsReply, error) {
	if req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "userId is required")
	}
	if a.records == nil {
		return nil, status.Error(codes.Unavailable, "match history disabled")
	}
	stats, err := a.records.PlayerStats(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	recent, err := a.records.RecentMatches(ctx, req.UserID, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	reply := &PlayerStatsReply{Stats: stats, Recent: recent}
	if req.Game != "" {
		if reply.Rank, err = a.records.Rank(ctx, req.Game, req.UserID); err != nil {
			return nil, toStatus(err)
		}
	}
	return reply, nil
}

func (a *AdminService) Leaderboard(ctx context.Context, req *LeaderboardRequest) (*LeaderboardReply, error) {
	if req.Game == "" {
		return nil, status.Error(codes.InvalidArgument, "game is required")
	}
	if a.records == nil {
		return &LeaderboardReply{}, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	entries, err := a.records.Leaderboard(ctx, req.Game, limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &LeaderboardReply{Entries: entries}, nil
}

func toStatus(err error) error {
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

type adminServer interface {
	ListRooms(context.Context, *ListRoomsRequest) (*ListRoomsReply, error)
	PlayerStats(context.Context, *PlayerRequest) (*PlayerStatsReply, error)
	Leaderboard(context.Context, *LeaderboardRequest) (*LeaderboardReply, error)
}

func unary[Req any](method string, call func(adminServer, context.Context, *Req) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(adminServer), ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
				return call(srv.(adminServer), ctx, r.(*Req))
			})
		},
	}
}

// adminServiceDesc is written by hand; payloads travel through the json codec.
var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*adminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListRooms", func(s adminServer, ctx context.Context, r *ListRoomsRequest) (any, error) {
			return s.ListRooms(ctx, r)
		}),
		unary("PlayerStats", func(s adminServer, ctx context.Context, r *PlayerRequest) (any, error) {
			return s.PlayerStats(ctx, r)
		}),
		unary("Leaderboard", func(s adminServer, ctx context.Context, r *LeaderboardRequest) (any, error) {
			return s.Leaderboard(ctx, r)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "arcade/admin",
}

// Server manages the RPC listener.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	listener net.Listener
	address  string
}

// NewServer listens on addr and registers the admin and health services.
func NewServer(addr string, admin *AdminService) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewServerWithListener(listener, admin), nil
}

func NewServerWithListener(listener net.Listener, admin *AdminService) *Server {
	gs := grpc.NewServer(grpc.UnaryInterceptor(logUnary))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	gs.RegisterService(&adminServiceDesc, admin)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &Server{
		grpc:     gs,
		health:   hs,
		listener: listener,
		address:  listener.Addr().String(),
	}
}

// Start serves until Stop is called.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	if err := s.grpc.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		logger.Log.Errorf("RPC server error: %v", err)
	}
}

// Stop marks the server not serving and drains in-flight calls.
func (s *Server) Stop() {
	logger.Log.Info("Stopping RPC server.")
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		logger.Log.Warnf("RPC %s failed: %v", info.FullMethod, err)
	}
	return resp, err
}

// Client is a thin caller for arcade.Admin.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) invoke(ctx context.Context, method string, req, reply any) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, reply, grpc.CallContentSubtype(CodecName))
}

func (c *Client) ListRooms(ctx context.Context, gameType string) ([]game.RoomSummary, error) {
	var reply ListRoomsReply
	if err := c.invoke(ctx, "ListRooms", &ListRoomsRequest{Game: gameType}, &reply); err != nil {
		return nil, err
	}
	return reply.Rooms, nil
}

func (c *Client) PlayerStats(ctx context.Context, req PlayerRequest) (*PlayerStatsReply, error) {
	var reply PlayerStatsReply
	if err := c.invoke(ctx, "PlayerStats", &req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) Leaderboard(ctx context.Context, gameType string, limit int) ([]ranking.Entry, error) {
	var reply LeaderboardReply
	if err := c.invoke(ctx, "Leaderboard", &LeaderboardRequest{Game: gameType, Limit: limit}, &reply); err != nil {
		return nil, err
	}
	return reply.Entries, nil
}
