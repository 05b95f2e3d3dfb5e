package server

import (
	"chat-roulette/domain/matchmaking"
	"chat-roulette/errors"
	"chat-roulette/mocks"
	"context"
	"log/slog"
	"net"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func dial(t *testing.T, matchmaker *mocks.MockIMatchmaker) *grpc.ClientConn {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	listener := bufconn.Listen(1024 * 1024)
	s := NewGRPCServer(log, NewMatchmakerServer(matchmaker, log))
	go func() { _ = s.Serve(listener) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestMatchmakerServer_GetStatus(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	matchmaker := mocks.NewMockIMatchmaker(ctrl)
	matchmaker.EXPECT().Status(gomock.Any()).Return(matchmaking.Status{WaitingCount: 3, TotalConnected: 7}, nil)
	conn := dial(t, matchmaker)

	out, err := GetStatus(context.Background(), conn)

	req.NoError(err)
	req.Equal(3.0, out.Fields["waitingCount"].GetNumberValue())
	req.Equal(7.0, out.Fields["totalConnected"].GetNumberValue())
}

func TestMatchmakerServer_GetStatus_Stopped(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	matchmaker := mocks.NewMockIMatchmaker(ctrl)
	matchmaker.EXPECT().Status(gomock.Any()).Return(matchmaking.Status{}, errors.ErrMatchmakerStopped)
	conn := dial(t, matchmaker)

	_, err := GetStatus(context.Background(), conn)

	req.Equal(codes.Unavailable, status.Code(err))
}

func TestMatchmakerServer_Health(t *testing.T) {
	req := require.New(t)
	conn := dial(t, mocks.NewMockIMatchmaker(gomock.NewController(t)))

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: ServiceName})

	req.NoError(err)
	req.Equal(healthpb.HealthCheckResponse_SERVING, resp.Status)
}
