package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/comigor/citizen-assistant/internal/assistant"
)

// Metrics counts conversation transitions and failures. It implements
// assistant.Observer.
type Metrics struct {
	transitions metric.Int64Counter
	failures    metric.Int64Counter
	replies     metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	transitions, err := meter.Int64Counter("assistant.transitions",
		metric.WithDescription("Conversation state machine transitions"))
	if err != nil {
		return nil, fmt.Errorf("transitions counter: %w", err)
	}
	failures, err := meter.Int64Counter("assistant.failures",
		metric.WithDescription("Failed chat exchanges by error kind"))
	if err != nil {
		return nil, fmt.Errorf("failures counter: %w", err)
	}
	replies, err := meter.Int64Counter("assistant.replies",
		metric.WithDescription("Assistant replies appended to the conversation"))
	if err != nil {
		return nil, fmt.Errorf("replies counter: %w", err)
	}
	return &Metrics{transitions: transitions, failures: failures, replies: replies}, nil
}

func (m *Metrics) Observe(t assistant.Transition) {
	ctx := context.Background()
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(t.From)),
		attribute.String("to", string(t.To)),
		attribute.String("trigger", string(t.Trigger)),
	))
	if t.Err != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(t.Err.Kind)),
			attribute.Int("status", t.Err.StatusCode),
		))
	}
	if t.Reply != nil {
		m.replies.Add(ctx, 1)
	}
}
