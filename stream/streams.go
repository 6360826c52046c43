package stream

import (
	"context"

	"github.com/opsdash/go-fresh/logger"
)

// Channel names recognized by the push endpoint.
const (
	ChannelMetrics = "metrics"
	ChannelWorkers = "workers"
	ChannelAlerts  = "alerts"
	ChannelTasks   = "tasks"
)

// NewMetricsStream returns a Client subscribed to the live metrics feed:
// metrics snapshots, worker health, and alerts.
func NewMetricsStream(parent context.Context, url string, h Handlers, log logger.Logger) *Client {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.Channels = []string{ChannelMetrics, ChannelWorkers, ChannelAlerts}
	cfg.Handlers = h
	return New(parent, cfg, log)
}

// NewTaskStream returns a Client subscribed to task lifecycle events.
func NewTaskStream(parent context.Context, url string, onTask func(TaskEvent), log logger.Logger) *Client {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.Channels = []string{ChannelTasks}
	cfg.Handlers = Handlers{OnTaskEvent: onTask}
	return New(parent, cfg, log)
}
