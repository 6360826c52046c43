package stream

import (
	"encoding/json"
	"time"
)

// MessageType is the discriminant carried in every server envelope.
type MessageType string

const (
	TypeMetricsUpdate MessageType = "metrics_update"
	TypeWorkerHealth  MessageType = "worker_health"
	TypeAlert         MessageType = "alert"
	TypeTaskEvent     MessageType = "task_event"
)

// Envelope is the wire frame for every inbound message.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MetricsSnapshot is a point-in-time reading of the system being watched.
type MetricsSnapshot struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	QueueDepth    int       `json:"queue_depth"`
	Throughput    float64   `json:"throughput"`
	CollectedAt   time.Time `json:"collected_at"`
}

// WorkerHealth describes one worker's liveness.
type WorkerHealth struct {
	WorkerID    string    `json:"worker_id"`
	Status      string    `json:"status"`
	ActiveTasks int       `json:"active_tasks"`
	LastSeen    time.Time `json:"last_seen"`
}

// Alert is a raised operational alert.
type Alert struct {
	ID       string    `json:"id"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	RaisedAt time.Time `json:"raised_at"`
}

// TaskEvent is a task lifecycle transition.
type TaskEvent struct {
	TaskID    string    `json:"task_id"`
	State     string    `json:"state"`
	Progress  float64   `json:"progress"`
	UpdatedAt time.Time `json:"updated_at"`
}

// subscribeRequest is the client→server control frame sent on every
// successful connect, reconnects included.
type subscribeRequest struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
	ClientID string   `json:"client_id,omitempty"`
}
