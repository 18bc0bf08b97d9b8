package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/basket/giskard/internal/bus"
)

// Step types written by the orchestration pipeline.
const (
	StepTypeIngest       = "ingest"
	StepTypePlannerLLM   = "planner_llm"
	StepTypeActionCall   = "action_call"
	StepTypeActionResult = "action_result"
	StepTypeSynthesis    = "synthesis_llm"
	StepTypeComplete     = "complete"
)

// AgentStep is one appended record in the trace log: a snapshot of a single
// pipeline stage execution. Rows are never mutated after insert.
type AgentStep struct {
	ID             int64           `json:"id"`
	SessionID      string          `json:"session_id"`
	TraceID        string          `json:"trace_id"`
	StepNumber     int             `json:"step_number"`
	StepType       string          `json:"step_type"`
	Timestamp      time.Time       `json:"timestamp"`
	InputData      json.RawMessage `json:"input_data"`
	OutputData     json.RawMessage `json:"output_data"`
	RenderedPrompt string          `json:"rendered_prompt,omitempty"`
	LLMInput       string          `json:"llm_input,omitempty"`
	LLMOutput      string          `json:"llm_output,omitempty"`
	LLMModel       string          `json:"llm_model,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Session groups the traces of one ongoing conversation.
type Session struct {
	ID        string    `json:"id"`
	Metadata  string    `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EnsureSession creates the session row if absent and bumps its updated_at.
func (s *Store) EnsureSession(ctx context.Context, id string) error {
	return retryOnBusy(ctx, busyMaxRetries, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id) VALUES (?)
			ON CONFLICT(id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP;
		`, id)
		if err != nil {
			return fmt.Errorf("ensure session: %w", err)
		}
		return nil
	})
}

// GetSession returns the session row, or nil for unknown IDs.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := retryOnBusy(ctx, busyMaxRetries, func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT id, metadata, created_at, updated_at FROM sessions WHERE id = ?;
		`, id).Scan(&sess.ID, &sess.Metadata, &sess.CreatedAt, &sess.UpdatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns all sessions, most recently active first.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	var sessions []*Session
	err := retryOnBusy(ctx, busyMaxRetries, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, metadata, created_at, updated_at
			FROM sessions ORDER BY updated_at DESC;
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		sessions = sessions[:0]
		for rows.Next() {
			var sess Session
			if err := rows.Scan(&sess.ID, &sess.Metadata, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
				return err
			}
			sessions = append(sessions, &sess)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session and its steps. The returned bool reports
// whether a session row actually went away.
func (s *Store) DeleteSession(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := retryOnBusy(ctx, busyMaxRetries, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete session tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM agent_steps WHERE session_id = ?;`, id); err != nil {
			return fmt.Errorf("delete session steps: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?;`, id)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete session rows affected: %w", err)
		}
		deleted = n > 0
		return tx.Commit()
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// AppendStep inserts a new trace log entry. The step number is allocated as
// max(existing for the trace)+1 inside the insert transaction, so sequential
// writers on one trace get 1, 2, 3... Concurrent turns on the same trace are
// not supported; callers serialize per trace.
func (s *Store) AppendStep(ctx context.Context, step *AgentStep) error {
	if step.TraceID == "" {
		return fmt.Errorf("append step: empty trace_id")
	}
	if step.SessionID == "" {
		return fmt.Errorf("append step: empty session_id")
	}
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now()
	}
	if len(step.InputData) == 0 {
		step.InputData = json.RawMessage("{}")
	}
	if len(step.OutputData) == 0 {
		step.OutputData = json.RawMessage("{}")
	}

	err := retryOnBusy(ctx, busyMaxRetries, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin step tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var maxNumber int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(step_number), 0) FROM agent_steps WHERE trace_id = ?;
		`, step.TraceID).Scan(&maxNumber); err != nil {
			return fmt.Errorf("read max step_number: %w", err)
		}
		step.StepNumber = maxNumber + 1

		res, err := tx.ExecContext(ctx, `
			INSERT INTO agent_steps (session_id, trace_id, step_number, step_type, timestamp,
				input_data, output_data, rendered_prompt, llm_input, llm_output, llm_model, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''));
		`, step.SessionID, step.TraceID, step.StepNumber, step.StepType, step.Timestamp,
			string(step.InputData), string(step.OutputData), step.RenderedPrompt,
			step.LLMInput, step.LLMOutput, step.LLMModel, step.Error)
		if err != nil {
			return fmt.Errorf("insert agent_step: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("agent_step last insert id: %w", err)
		}
		step.ID = id
		return tx.Commit()
	})
	if err != nil {
		return err
	}

	s.publish(bus.TopicStepAppended, bus.StepAppendedEvent{
		TraceID:    step.TraceID,
		SessionID:  step.SessionID,
		StepNumber: step.StepNumber,
		Role:       step.StepType,
	})
	return nil
}

// ListStepsByTrace returns a trace's steps ordered by step number.
func (s *Store) ListStepsByTrace(ctx context.Context, traceID string) ([]*AgentStep, error) {
	return s.listSteps(ctx, `
		SELECT `+stepColumns+`
		FROM agent_steps WHERE trace_id = ?
		ORDER BY step_number ASC;
	`, traceID)
}

// ListStepsBySession returns every step for a session ordered by timestamp,
// spanning all of its traces.
func (s *Store) ListStepsBySession(ctx context.Context, sessionID string) ([]*AgentStep, error) {
	return s.listSteps(ctx, `
		SELECT `+stepColumns+`
		FROM agent_steps WHERE session_id = ?
		ORDER BY timestamp ASC, id ASC;
	`, sessionID)
}

// HistoryEntry is one side of a past exchange, reconstructed from the
// step log for replay into the planner's context window.
type HistoryEntry struct {
	Role    string // user or assistant
	Content string
}

// SessionHistory rebuilds the last limit conversation entries for a session
// from its ingest and complete steps, oldest first.
func (s *Store) SessionHistory(ctx context.Context, sessionID string, limit int) ([]HistoryEntry, error) {
	steps, err := s.listSteps(ctx, `
		SELECT `+stepColumns+`
		FROM agent_steps
		WHERE session_id = ? AND step_type IN ('ingest', 'complete')
		ORDER BY timestamp ASC, id ASC;
	`, sessionID)
	if err != nil {
		return nil, err
	}

	var history []HistoryEntry
	for _, step := range steps {
		switch step.StepType {
		case StepTypeIngest:
			var in struct {
				InputText string `json:"input_text"`
			}
			if json.Unmarshal(step.InputData, &in) == nil && in.InputText != "" {
				history = append(history, HistoryEntry{Role: "user", Content: in.InputText})
			}
		case StepTypeComplete:
			var out struct {
				FinalMessage string `json:"final_message"`
			}
			if json.Unmarshal(step.OutputData, &out) == nil && out.FinalMessage != "" {
				history = append(history, HistoryEntry{Role: "assistant", Content: out.FinalMessage})
			}
		}
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

const stepColumns = `id, session_id, trace_id, step_number, step_type, timestamp,
	input_data, output_data, rendered_prompt, llm_input, llm_output, llm_model, error`

func (s *Store) listSteps(ctx context.Context, query string, arg any) ([]*AgentStep, error) {
	var steps []*AgentStep
	err := retryOnBusy(ctx, busyMaxRetries, func() error {
		rows, err := s.db.QueryContext(ctx, query, arg)
		if err != nil {
			return err
		}
		defer rows.Close()

		steps = steps[:0]
		for rows.Next() {
			var step AgentStep
			var input, output string
			var prompt, llmIn, llmOut, llmModel, stepErr sql.NullString
			if err := rows.Scan(
				&step.ID,
				&step.SessionID,
				&step.TraceID,
				&step.StepNumber,
				&step.StepType,
				&step.Timestamp,
				&input,
				&output,
				&prompt,
				&llmIn,
				&llmOut,
				&llmModel,
				&stepErr,
			); err != nil {
				return err
			}
			step.InputData = json.RawMessage(input)
			step.OutputData = json.RawMessage(output)
			step.RenderedPrompt = prompt.String
			step.LLMInput = llmIn.String
			step.LLMOutput = llmOut.String
			step.LLMModel = llmModel.String
			step.Error = stepErr.String
			steps = append(steps, &step)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list agent steps: %w", err)
	}
	return steps, nil
}
