package stream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsdash/go-fresh/logger"
)

func TestDispatchRoutesTypedMessages(t *testing.T) {
	var metrics []MetricsSnapshot
	var workers []WorkerHealth
	var alerts []Alert
	var tasks []TaskEvent
	d := &dispatcher{
		handlers: Handlers{
			OnMetrics:      func(m MetricsSnapshot) { metrics = append(metrics, m) },
			OnWorkerHealth: func(w WorkerHealth) { workers = append(workers, w) },
			OnAlert:        func(a Alert) { alerts = append(alerts, a) },
			OnTaskEvent:    func(e TaskEvent) { tasks = append(tasks, e) },
		},
		log: logger.NewTestLogger(),
	}

	d.dispatch([]byte(`{"type":"metrics_update","payload":{"cpu_percent":81.5,"queue_depth":12}}`))
	d.dispatch([]byte(`{"type":"worker_health","payload":{"worker_id":"w-1","status":"healthy","active_tasks":3}}`))
	d.dispatch([]byte(`{"type":"alert","payload":{"id":"a-1","severity":"critical","message":"disk full"}}`))
	d.dispatch([]byte(`{"type":"task_event","payload":{"task_id":"t-9","state":"running","progress":0.4}}`))

	assert.Len(t, metrics, 1)
	assert.Equal(t, 81.5, metrics[0].CPUPercent)
	assert.Equal(t, 12, metrics[0].QueueDepth)
	assert.Len(t, workers, 1)
	assert.Equal(t, "w-1", workers[0].WorkerID)
	assert.Len(t, alerts, 1)
	assert.Equal(t, "critical", alerts[0].Severity)
	assert.Len(t, tasks, 1)
	assert.Equal(t, 0.4, tasks[0].Progress)
}

func TestDispatchMalformedThenValid(t *testing.T) {
	log := logger.NewTestLogger()
	var tasks []TaskEvent
	d := &dispatcher{
		handlers: Handlers{OnTaskEvent: func(e TaskEvent) { tasks = append(tasks, e) }},
		log:      log,
	}

	d.dispatch([]byte("not json at all"))
	d.dispatch([]byte(`{"type":"task_event","payload":{"task_id":"t-1","state":"done"}}`))

	// The garbage frame is logged and dropped, the next one still arrives.
	assert.Len(t, log.EntriesBySeverity("WARN"), 1)
	assert.Len(t, tasks, 1)
	assert.Equal(t, "done", tasks[0].State)
}

func TestDispatchMissingType(t *testing.T) {
	log := logger.NewTestLogger()
	called := false
	d := &dispatcher{
		handlers: Handlers{OnTaskEvent: func(TaskEvent) { called = true }},
		log:      log,
	}

	d.dispatch([]byte(`{"payload":{"task_id":"t-1"}}`))

	assert.False(t, called)
	assert.Len(t, log.EntriesBySeverity("WARN"), 1)
}

func TestDispatchUnknownType(t *testing.T) {
	log := logger.NewTestLogger()
	d := &dispatcher{handlers: Handlers{}, log: log}

	d.dispatch([]byte(`{"type":"billing_update","payload":{}}`))

	assert.Len(t, log.EntriesBySeverity("DEBUG"), 1)
	assert.Empty(t, log.EntriesBySeverity("ERROR"))
}

func TestDispatchUndecodablePayload(t *testing.T) {
	log := logger.NewTestLogger()
	called := false
	d := &dispatcher{
		handlers: Handlers{OnMetrics: func(MetricsSnapshot) { called = true }},
		log:      log,
	}

	d.dispatch([]byte(`{"type":"metrics_update","payload":{"cpu_percent":"not a number"}}`))

	assert.False(t, called)
	assert.Len(t, log.EntriesBySeverity("WARN"), 1)
}

func TestDispatchNilHandlerSkips(t *testing.T) {
	log := logger.NewTestLogger()
	d := &dispatcher{handlers: Handlers{}, log: log}

	// No handler registered for this type: silently skipped, no warning.
	d.dispatch([]byte(`{"type":"alert","payload":{"id":"a-1"}}`))

	assert.Empty(t, log.EntriesBySeverity("WARN"))
	assert.Empty(t, log.EntriesBySeverity("ERROR"))
}

func TestDispatchHandlerPanicRecovered(t *testing.T) {
	log := logger.NewTestLogger()
	var after []string
	d := &dispatcher{
		handlers: Handlers{
			OnAlert:     func(Alert) { panic("handler bug") },
			OnTaskEvent: func(e TaskEvent) { after = append(after, e.TaskID) },
		},
		log: log,
	}

	d.dispatch([]byte(`{"type":"alert","payload":{"id":"a-1"}}`))
	d.dispatch([]byte(`{"type":"task_event","payload":{"task_id":"t-2"}}`))

	assert.Len(t, log.EntriesBySeverity("ERROR"), 1)
	assert.Equal(t, []string{"t-2"}, after)
}

func TestMessageTypeRoundTrip(t *testing.T) {
	for _, mt := range []MessageType{TypeMetricsUpdate, TypeWorkerHealth, TypeAlert, TypeTaskEvent} {
		raw := fmt.Sprintf(`{"type":%q,"payload":{}}`, mt)
		log := logger.NewTestLogger()
		d := &dispatcher{handlers: Handlers{}, log: log}
		d.dispatch([]byte(raw))
		assert.Empty(t, log.EntriesBySeverity("DEBUG"), "type %s should be recognized", mt)
	}
}
