package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelops/orchestrator/audit"
	"github.com/sentinelops/orchestrator/bus"
	"github.com/sentinelops/orchestrator/core"
)

// InboundTopics are the seven topics the Dispatcher subscribes to.
var InboundTopics = []string{
	"new_incident",
	"analysis_complete",
	"remediation_proposed",
	"remediation_complete",
	"approval_decision",
	"notification_ack",
	"control",
}

// DeadLetterTopic receives structurally valid but unrecognized or
// unroutable messages.
const DeadLetterTopic = "dead_letter"

// DeadLetterEnvelope wraps a dead-lettered payload with why it was
// rejected and a stable ID a later replay or inspection tool can key on,
// since the original payload alone doesn't say which required field it
// was missing or when.
type DeadLetterEnvelope struct {
	ID            string          `json:"id"`
	OriginalTopic string          `json:"original_topic"`
	Reason        string          `json:"reason"`
	Payload       json.RawMessage `json:"payload"`
}

// requiredFields lists the JSON fields each topic's payload must carry
// for the Dispatcher to consider it structurally valid.
var requiredFields = map[string][]string{
	"new_incident":          {"incident_id", "source", "severity"},
	"analysis_complete":     {"incident_id", "confidence"},
	"remediation_proposed":  {"incident_id", "actions"},
	"remediation_complete":  {"incident_id", "per_action_status"},
	"approval_decision":     {"incident_id", "outcome"},
	"notification_ack":      {"incident_id"},
	"control":               {"incident_id", "command"},
}

// Handler receives a routed, schema-validated inbound message.
type Handler interface {
	OnInboundMessage(ctx context.Context, incidentID, topic string, payload []byte) error
}

// Dispatcher subscribes to every inbound topic and routes validated
// payloads to a Handler (the Workflow Engine in production), grounded on
// the framework's worker-pool dequeue loop (one goroutine per resource,
// tracked by a shared WaitGroup and a cancellable context) generalized
// from a single task queue to one goroutine per topic.
type Dispatcher struct {
	b       bus.Bus
	handler Handler
	audit   *audit.Log
	logger  core.Logger
	metrics core.MetricsRegistry

	receiveTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. A nil logger/metrics falls back to
// no-ops; a nil audit log disables malformed/dead-letter recording.
func NewDispatcher(b bus.Bus, handler Handler, log *audit.Log, logger core.Logger, metrics core.MetricsRegistry, receiveTimeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestration/dispatcher")
	}
	if metrics == nil {
		metrics = core.GetGlobalMetricsRegistry()
	}
	if metrics == nil {
		metrics = core.NoOpMetricsRegistry{}
	}
	if receiveTimeout <= 0 {
		receiveTimeout = 5 * time.Second
	}
	return &Dispatcher{
		b:              b,
		handler:        handler,
		audit:          log,
		logger:         logger,
		metrics:        metrics,
		receiveTimeout: receiveTimeout,
	}
}

// Start begins one subscriber goroutine per inbound topic. It returns
// immediately; call Stop to shut the goroutines down.
func (d *Dispatcher) Start(ctx context.Context) {
	dispatchCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for _, topic := range InboundTopics {
		d.wg.Add(1)
		go d.subscribeLoop(dispatchCtx, topic)
	}
}

// Stop cancels every subscriber goroutine and waits for them to exit.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) subscribeLoop(ctx context.Context, topic string) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := d.b.Receive(ctx, topic, d.receiveTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("receive failed", map[string]interface{}{"topic": topic, "error": err.Error()})
			continue
		}
		if msg == nil {
			continue // timeout, nothing available
		}

		d.handle(ctx, topic, msg)
	}
}

func (d *Dispatcher) handle(ctx context.Context, topic string, msg *bus.Message) {
	incidentID, fields, err := parsePayload(msg.Payload)
	if err != nil {
		d.metrics.Counter("dispatcher_malformed_total", "topic", topic)
		d.recordAudit("", "dispatch_malformed", msg.Payload)
		d.logger.Warn("dropping malformed message", map[string]interface{}{"topic": topic, "error": err.Error()})
		if msg.Ack != nil {
			_ = msg.Ack(ctx)
		}
		return
	}

	if err := validateRequired(topic, fields); err != nil {
		d.metrics.Counter("dispatcher_dead_letter_total", "topic", topic)
		d.recordAudit(incidentID, "dispatch_dead_letter", msg.Payload)
		d.logger.Warn("dead-lettering unrecognized message", map[string]interface{}{"topic": topic, "error": err.Error()})
		envelope := DeadLetterEnvelope{
			ID:            uuid.NewString(),
			OriginalTopic: topic,
			Reason:        err.Error(),
			Payload:       json.RawMessage(msg.Payload),
		}
		if encoded, encErr := json.Marshal(envelope); encErr == nil {
			if pubErr := d.b.Publish(ctx, DeadLetterTopic, encoded); pubErr != nil {
				d.logger.Error("dead-letter publish failed", map[string]interface{}{"error": pubErr.Error(), "envelope_id": envelope.ID})
			}
		} else {
			d.logger.Error("dead-letter envelope encoding failed", map[string]interface{}{"error": encErr.Error()})
		}
		if msg.Ack != nil {
			_ = msg.Ack(ctx)
		}
		return
	}

	if err := d.handler.OnInboundMessage(ctx, incidentID, topic, msg.Payload); err != nil {
		d.logger.Error("handler rejected message", map[string]interface{}{"topic": topic, "incident_id": incidentID, "error": err.Error()})
		if msg.Reject != nil {
			_ = msg.Reject(ctx, err.Error())
		}
		return
	}

	if msg.Ack != nil {
		_ = msg.Ack(ctx)
	}
}

func (d *Dispatcher) recordAudit(incidentID, kind string, payload []byte) {
	if d.audit == nil {
		return
	}
	_, _ = d.audit.Append(incidentID, kind, payload)
}

func parsePayload(payload []byte) (incidentID string, fields map[string]interface{}, err error) {
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", nil, fmt.Errorf("invalid JSON payload: %w", err)
	}
	if id, ok := fields["incident_id"].(string); ok {
		incidentID = id
	}
	return incidentID, fields, nil
}

func validateRequired(topic string, fields map[string]interface{}) error {
	required, known := requiredFields[topic]
	if !known {
		return fmt.Errorf("unrecognized topic %q", topic)
	}
	for _, f := range required {
		if _, ok := fields[f]; !ok {
			return fmt.Errorf("missing required field %q for topic %q", f, topic)
		}
	}
	return nil
}
