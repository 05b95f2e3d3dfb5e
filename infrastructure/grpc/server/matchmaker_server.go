// Package server is the gRPC ops surface of the matchmaker.
// The service is described by hand: it only carries well-known types.
package server

import (
	"chat-roulette/contract"
	"chat-roulette/errors"
	"context"
	"log/slog"

	grpc3 "github.com/mama165/sdk-go/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName     = "chatroulette.v1.Matchmaker"
	GetStatusMethod = "/" + ServiceName + "/GetStatus"
)

type MatchmakerServiceServer interface {
	GetStatus(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
}

var MatchmakerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MatchmakerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chatroulette/v1/matchmaker.proto",
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MatchmakerServiceServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetStatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MatchmakerServiceServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// GetStatus calls the ops service on conn.
func GetStatus(ctx context.Context, conn grpc.ClientConnInterface) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, GetStatusMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

type MatchmakerServer struct {
	matchmaker contract.IMatchmaker
	log        *slog.Logger
}

func NewMatchmakerServer(matchmaker contract.IMatchmaker, log *slog.Logger) *MatchmakerServer {
	return &MatchmakerServer{matchmaker: matchmaker, log: log}
}

func (s *MatchmakerServer) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	status, err := s.matchmaker.Status(ctx)
	if err != nil {
		return nil, errors.MapToGRPCError(err)
	}
	return structpb.NewStruct(map[string]any{
		"waitingCount":   status.WaitingCount,
		"totalConnected": status.TotalConnected,
	})
}

// NewGRPCServer registers the ops service and the standard health service.
func NewGRPCServer(log *slog.Logger, matchmakerServer *MatchmakerServer) *grpc.Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpc3.UnaryLoggingInterceptor(log)))
	s.RegisterService(&MatchmakerServiceDesc, matchmakerServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, healthServer)
	return s
}
