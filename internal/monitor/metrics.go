package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/supertrack-ai/orchestrator/internal/model"
)

const metricsSubject = "metrics.orchestrator"

// StatsSource provides orchestrator counters for every sample
type StatsSource interface {
	Stats() model.OrchestratorStats
}

// Metrics is one published sample of host health plus orchestrator
// counters
type Metrics struct {
	Timestamp    time.Time               `json:"timestamp"`
	CPUUsage     float64                 `json:"cpu_usage"`
	MemoryUsage  float64                 `json:"memory_usage"`
	Orchestrator model.OrchestratorStats `json:"orchestrator"`
}

// MetricsCollector samples system and orchestrator metrics
type MetricsCollector struct {
	logger   *zap.Logger
	nc       *nats.Conn
	source   StatsSource
	interval time.Duration
	mu       sync.RWMutex
	latest   *Metrics
	stop     chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(nc *nats.Conn, source StatsSource, interval time.Duration, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		logger:   logger.Named("metrics-collector"),
		nc:       nc,
		source:   source,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start starts the metrics collector
func (c *MetricsCollector) Start(ctx context.Context) error {
	c.logger.Info("Starting metrics collector",
		zap.Duration("interval", c.interval))

	go c.collectLoop(ctx)
	return nil
}

// Stop stops the metrics collector
func (c *MetricsCollector) Stop() {
	c.logger.Info("Stopping metrics collector")
	close(c.stop)
}

// collectLoop runs the metrics collection loop
func (c *MetricsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// collect takes one sample and publishes it
func (c *MetricsCollector) collect() {
	// Interval 0 measures since the previous call, so sampling stays
	// cheap on tight intervals
	cpuPercent, err := cpu.Percent(0, false)
	if err != nil {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
		return
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
		return
	}

	sample := &Metrics{
		Timestamp:   time.Now(),
		MemoryUsage: memInfo.UsedPercent,
	}
	if len(cpuPercent) > 0 {
		sample.CPUUsage = cpuPercent[0]
	}
	if c.source != nil {
		sample.Orchestrator = c.source.Stats()
	}

	c.mu.Lock()
	c.latest = sample
	c.mu.Unlock()

	data, err := json.Marshal(sample)
	if err != nil {
		c.logger.Error("Failed to marshal metrics", zap.Error(err))
		return
	}

	if err := c.nc.Publish(metricsSubject, data); err != nil {
		c.logger.Error("Failed to publish metrics", zap.Error(err))
		return
	}

	c.logger.Debug("Metrics collected",
		zap.Float64("cpu_usage", sample.CPUUsage),
		zap.Float64("memory_usage", sample.MemoryUsage),
		zap.Int("active_runs", sample.Orchestrator.ActiveRuns))
}

// GetMetrics returns the most recent sample, nil before the first one
func (c *MetricsCollector) GetMetrics() *Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.latest == nil {
		return nil
	}
	sample := *c.latest
	return &sample
}
