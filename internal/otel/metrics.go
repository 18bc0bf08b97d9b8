package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all Giskard metrics instruments.
type Metrics struct {
	TurnDuration    metric.Float64Histogram
	LLMCallDuration metric.Float64Histogram
	ActionDuration  metric.Float64Histogram
	ActionErrors    metric.Int64Counter
	StepsTotal      metric.Int64Counter
	TurnTimeouts    metric.Int64Counter
	ClassifyQueue   metric.Int64UpDownCounter
	ClassifyRuns    metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TurnDuration, err = meter.Float64Histogram("giskard.turn.duration",
		metric.WithDescription("Agent turn duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("giskard.llm.duration",
		metric.WithDescription("LLM API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ActionDuration, err = meter.Float64Histogram("giskard.action.duration",
		metric.WithDescription("Action execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ActionErrors, err = meter.Int64Counter("giskard.action.errors",
		metric.WithDescription("Action failure count"),
	)
	if err != nil {
		return nil, err
	}

	m.StepsTotal, err = meter.Int64Counter("giskard.trace.steps",
		metric.WithDescription("Total pipeline steps recorded"),
	)
	if err != nil {
		return nil, err
	}

	m.TurnTimeouts, err = meter.Int64Counter("giskard.turn.timeouts",
		metric.WithDescription("Agent turns abandoned after the wall-clock deadline"),
	)
	if err != nil {
		return nil, err
	}

	m.ClassifyQueue, err = meter.Int64UpDownCounter("giskard.classify.queue",
		metric.WithDescription("Tasks waiting for categorization"),
	)
	if err != nil {
		return nil, err
	}

	m.ClassifyRuns, err = meter.Int64Counter("giskard.classify.runs",
		metric.WithDescription("Categorization attempts"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
