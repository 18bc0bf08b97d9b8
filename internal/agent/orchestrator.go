package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/giskard/internal/actions"
	"github.com/basket/giskard/internal/audit"
	"github.com/basket/giskard/internal/otel"
	"github.com/basket/giskard/internal/shared"
	"github.com/basket/giskard/internal/store"
)

// timeoutText is returned when a turn exceeds the wall-clock deadline.
const timeoutText = "I'm taking longer than expected to process your request. Please try with a simpler request or try again later."

// historyWindow is how many prior conversation entries the planner sees.
const historyWindow = 6

// Run statuses recorded on the completion step.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// RunRequest is one user turn handed to the pipeline.
type RunRequest struct {
	SessionID string
	TraceID   string
	Input     string
}

// RunResult is the outcome of one turn.
type RunResult struct {
	SessionID    string
	TraceID      string
	Status       string
	FinalMessage string
	Results      []actions.Result
}

// Config bounds one pipeline run.
type Config struct {
	// Timeout is the wall-clock budget for a whole turn.
	Timeout time.Duration
	// MaxActions caps how many planner-selected actions run in one turn.
	MaxActions int
}

// Orchestrator drives the ingest, plan, execute, synthesize pipeline and
// appends one trace step per stage.
type Orchestrator struct {
	store    *store.Store
	router   *Router
	synth    *Synthesizer
	executor *actions.Executor
	cfg      Config
	tracer   trace.Tracer
	metrics  *otel.Metrics
	logger   *slog.Logger
}

func NewOrchestrator(st *store.Store, router *Router, synth *Synthesizer, executor *actions.Executor, cfg Config, tracer trace.Tracer, metrics *otel.Metrics, logger *slog.Logger) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxActions <= 0 {
		cfg.MaxActions = 10
	}
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer(otel.TracerName)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    st,
		router:   router,
		synth:    synth,
		executor: executor,
		cfg:      cfg,
		tracer:   tracer,
		metrics:  metrics,
		logger:   logger,
	}
}

// RunTurn executes one user turn under the configured wall-clock deadline.
// On timeout the in-flight pipeline is abandoned; its goroutine may still
// finish writing trace steps in the background, but the caller gets the
// timeout reply immediately.
func (o *Orchestrator) RunTurn(ctx context.Context, req RunRequest) *RunResult {
	if req.SessionID == "" {
		req.SessionID = shared.NewSessionID()
	}
	if req.TraceID == "" {
		req.TraceID = shared.NewTraceID()
	}

	started := time.Now()
	done := make(chan *RunResult, 1)

	// The pipeline runs on a context detached from the deadline so an
	// abandoned run can still finish logging its steps.
	pipelineCtx := shared.WithTraceID(context.WithoutCancel(ctx), req.TraceID)
	pipelineCtx = shared.WithSessionID(pipelineCtx, req.SessionID)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("agent turn panicked", "trace_id", req.TraceID, "panic", r)
				done <- &RunResult{
					SessionID:    req.SessionID,
					TraceID:      req.TraceID,
					Status:       StatusError,
					FinalMessage: synthFallbackText,
				}
			}
		}()
		done <- o.runPipeline(pipelineCtx, req)
	}()

	timer := time.NewTimer(o.cfg.Timeout)
	defer timer.Stop()

	var res *RunResult
	select {
	case res = <-done:
	case <-timer.C:
		o.logger.Error("agent turn timed out", "trace_id", req.TraceID, "timeout", o.cfg.Timeout)
		if o.metrics != nil {
			o.metrics.TurnTimeouts.Add(ctx, 1)
		}
		res = &RunResult{
			SessionID:    req.SessionID,
			TraceID:      req.TraceID,
			Status:       StatusTimeout,
			FinalMessage: timeoutText,
		}
	}

	if o.metrics != nil {
		o.metrics.TurnDuration.Record(ctx, time.Since(started).Seconds())
	}
	audit.Record("run_completed", res.SessionID, res.TraceID, res.Status, res.FinalMessage)
	return res
}

func (o *Orchestrator) runPipeline(ctx context.Context, req RunRequest) *RunResult {
	ctx, span := otel.StartSpan(ctx, o.tracer, "agent.turn",
		otel.AttrSessionID.String(req.SessionID),
		otel.AttrTraceID.String(req.TraceID),
	)
	defer span.End()

	if err := o.store.EnsureSession(ctx, req.SessionID); err != nil {
		o.logger.Error("ensure session failed", "session_id", req.SessionID, "error", err)
		return o.complete(ctx, req, StatusError, synthFallbackText, nil, err.Error())
	}

	// Replay recent exchanges from earlier traces into the planner window.
	// Loaded before the ingest step so the current input is not doubled.
	history, err := o.store.SessionHistory(ctx, req.SessionID, historyWindow)
	if err != nil {
		o.logger.Warn("load session history failed", "session_id", req.SessionID, "error", err)
		history = nil
	}

	// Ingest: record the raw user input as the trace's first step.
	o.logStep(ctx, req, &store.AgentStep{
		StepType:  store.StepTypeIngest,
		InputData: mustJSON(map[string]any{"input_text": req.Input}),
	})

	// Plan.
	planCtx, planSpan := otel.StartClientSpan(ctx, o.tracer, "agent.plan")
	planStarted := time.Now()
	plan, planTrace := o.router.Plan(planCtx, req.Input, history)
	planSpan.End()
	if o.metrics != nil {
		o.metrics.LLMCallDuration.Record(ctx, time.Since(planStarted).Seconds())
	}
	o.logStep(ctx, req, &store.AgentStep{
		StepType:       store.StepTypePlannerLLM,
		InputData:      mustJSON(map[string]any{"input_text": req.Input}),
		OutputData:     mustJSON(map[string]any{"assistant_text": plan.AssistantText, "calls": plan.Calls}),
		RenderedPrompt: planTrace.RenderedPrompt,
		LLMInput:       planTrace.LLMInput,
		LLMOutput:      planTrace.LLMOutput,
		LLMModel:       o.modelName(),
		Error:          planTrace.Error,
	})

	// Execute.
	calls := plan.Calls
	if len(calls) > o.cfg.MaxActions {
		o.logger.Warn("plan exceeds action cap, truncating", "planned", len(calls), "cap", o.cfg.MaxActions)
		calls = calls[:o.cfg.MaxActions]
	}
	var results []actions.Result
	for _, call := range calls {
		o.logStep(ctx, req, &store.AgentStep{
			StepType:  store.StepTypeActionCall,
			InputData: mustJSON(map[string]any{"tool_name": call.Name, "tool_args": call.Args}),
		})

		execCtx, execSpan := otel.StartSpan(ctx, o.tracer, "agent.action",
			otel.AttrActionName.String(call.Name),
		)
		execStarted := time.Now()
		res := o.executor.Execute(execCtx, call.Name, call.Args)
		execSpan.End()
		if o.metrics != nil {
			o.metrics.ActionDuration.Record(ctx, time.Since(execStarted).Seconds())
			if !res.OK {
				o.metrics.ActionErrors.Add(ctx, 1)
			}
		}
		results = append(results, res)

		errStr := ""
		if !res.OK {
			if msg, ok := res.Payload["error"].(string); ok {
				errStr = msg
			}
		}
		o.logStep(ctx, req, &store.AgentStep{
			StepType:   store.StepTypeActionResult,
			InputData:  mustJSON(map[string]any{"tool_name": call.Name}),
			OutputData: mustJSON(res),
			Error:      errStr,
		})
	}

	// Synthesize.
	synthCtx, synthSpan := otel.StartClientSpan(ctx, o.tracer, "agent.synthesize")
	synthStarted := time.Now()
	finalMessage, synthTrace := o.synth.Synthesize(synthCtx, req.Input, plan.AssistantText, results)
	synthSpan.End()
	if o.metrics != nil {
		o.metrics.LLMCallDuration.Record(ctx, time.Since(synthStarted).Seconds())
	}
	o.logStep(ctx, req, &store.AgentStep{
		StepType:       store.StepTypeSynthesis,
		InputData:      mustJSON(map[string]any{"input_text": req.Input, "result_count": len(results)}),
		OutputData:     mustJSON(map[string]any{"final_message": finalMessage}),
		RenderedPrompt: synthTrace.RenderedPrompt,
		LLMOutput:      synthTrace.LLMOutput,
		LLMModel:       o.modelName(),
		Error:          synthTrace.Error,
	})

	status := StatusOK
	for _, res := range results {
		if !res.OK {
			status = StatusError
			break
		}
	}
	// A synthesis failure means the user saw the apology, not a real reply.
	if synthTrace.Error != "" {
		status = StatusError
	}
	return o.complete(ctx, req, status, finalMessage, results, synthTrace.Error)
}

func (o *Orchestrator) complete(ctx context.Context, req RunRequest, status, finalMessage string, results []actions.Result, errStr string) *RunResult {
	o.logStep(ctx, req, &store.AgentStep{
		StepType:   store.StepTypeComplete,
		OutputData: mustJSON(map[string]any{"status": status, "final_message": finalMessage}),
		Error:      errStr,
	})
	return &RunResult{
		SessionID:    req.SessionID,
		TraceID:      req.TraceID,
		Status:       status,
		FinalMessage: finalMessage,
		Results:      results,
	}
}

// logStep appends one trace step. Trace logging is best-effort: a failed
// append is logged and the turn continues.
func (o *Orchestrator) logStep(ctx context.Context, req RunRequest, step *store.AgentStep) {
	step.SessionID = req.SessionID
	step.TraceID = req.TraceID
	if err := o.store.AppendStep(ctx, step); err != nil {
		o.logger.Error("append trace step failed",
			"trace_id", req.TraceID,
			"step_type", step.StepType,
			"error", err,
		)
		return
	}
	if o.metrics != nil {
		o.metrics.StepsTotal.Add(ctx, 1)
	}
}

func (o *Orchestrator) modelName() string {
	if o.router == nil || o.router.client == nil || !o.router.client.Enabled() {
		return ""
	}
	return o.router.client.Model()
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
