package workers

import (
	"chat-roulette/contract"
	"chat-roulette/observability"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// TelemetryWorker samples the process and the matchmaker on a fixed interval.
type TelemetryWorker struct {
	log            *slog.Logger
	metricInterval time.Duration
	matchmaker     contract.IMatchmaker
	metrics        *observability.Metrics
}

func NewTelemetryWorker(log *slog.Logger, metricInterval time.Duration,
	matchmaker contract.IMatchmaker, metrics *observability.Metrics) *TelemetryWorker {
	return &TelemetryWorker{
		log:            log.With("component", "telemetry"),
		metricInterval: metricInterval,
		matchmaker:     matchmaker,
		metrics:        metrics,
	}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sample(ctx, p)
		}
	}
}

func (w *TelemetryWorker) sample(ctx context.Context, p *process.Process) {
	rss, cpu, err := selfStats(p)
	if err != nil {
		w.log.Warn("Failed to collect self stats", "error", err)
	} else {
		w.metrics.ProcessRSS.Set(float64(rss))
		w.metrics.ProcessCPU.Set(cpu)
	}

	status, err := w.matchmaker.Status(ctx)
	if err != nil {
		w.log.Warn("Matchmaker status unavailable", "error", err)
		return
	}
	w.log.Info("Telemetry",
		"waiting", status.WaitingCount,
		"connected", status.TotalConnected,
		"rss_bytes", rss,
		"cpu_percent", cpu)
}

func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
