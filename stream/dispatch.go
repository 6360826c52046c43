package stream

import (
	"encoding/json"

	"github.com/opsdash/go-fresh/logger"
)

// Handlers holds the typed callbacks a consumer registers for inbound
// messages. Nil callbacks drop their message type silently. Handlers run on
// the connection's read goroutine, so dispatch order matches arrival order.
type Handlers struct {
	OnMetrics      func(MetricsSnapshot)
	OnWorkerHealth func(WorkerHealth)
	OnAlert        func(Alert)
	OnTaskEvent    func(TaskEvent)
}

type dispatcher struct {
	handlers Handlers
	log      logger.Logger
}

// dispatch decodes one raw frame and routes it. A frame that fails to parse,
// carries no discriminant, or names an unknown type is logged and dropped —
// it never takes down the connection.
func (d *dispatcher) dispatch(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.log.Warn("dropping malformed message: %s", err)
		return
	}
	if env.Type == "" {
		d.log.Warn("dropping message without a type")
		return
	}
	switch env.Type {
	case TypeMetricsUpdate:
		decodeAndCall(d, env, d.handlers.OnMetrics)
	case TypeWorkerHealth:
		decodeAndCall(d, env, d.handlers.OnWorkerHealth)
	case TypeAlert:
		decodeAndCall(d, env, d.handlers.OnAlert)
	case TypeTaskEvent:
		decodeAndCall(d, env, d.handlers.OnTaskEvent)
	default:
		d.log.Debug("dropping message with unrecognized type %q", env.Type)
	}
}

func decodeAndCall[T any](d *dispatcher, env Envelope, handler func(T)) {
	if handler == nil {
		return
	}
	var payload T
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		d.log.Warn("dropping %s message with undecodable payload: %s", env.Type, err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("%s handler panicked: %v", env.Type, r)
		}
	}()
	handler(payload)
}
