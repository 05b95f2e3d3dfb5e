package workers

import (
	"chat-roulette/domain/matchmaking"
	"chat-roulette/mocks"
	"chat-roulette/observability"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestTelemetryWorker_Samples_Process(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	matchmaker := mocks.NewMockIMatchmaker(ctrl)
	metrics := observability.NewMetrics()
	matchmaker.EXPECT().Status(gomock.Any()).Return(matchmaking.Status{WaitingCount: 1, TotalConnected: 2}, nil).MinTimes(1)

	worker := NewTelemetryWorker(log, 10*time.Millisecond, matchmaker, metrics)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	// Then the resident memory of the test binary shows up
	req.Eventually(func() bool {
		return testutil.ToFloat64(metrics.ProcessRSS) > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	req.ErrorIs(<-done, context.Canceled)
}
