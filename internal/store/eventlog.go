package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/rigflow/pkg/schema"
)

// AppendRunEvent appends ev to its run's log with the next per-run sequence.
// The payload holds the fields that vary by event type.
func (s *LibSQLStore) AppendRunEvent(ctx context.Context, ev schema.RunEvent) (*RunEventRecord, error) {
	if ev.RunID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "run event has no run id")
	}
	payload, err := eventPayload(ev)
	if err != nil {
		return nil, err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeError("begin append event", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, ev.RunID,
	).Scan(&seq); err != nil {
		return nil, storeError("next event sequence", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, sequence, event_type, step_index, payload, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.RunID, seq, ev.Type, ev.StepIndex, payload, ev.Timestamp,
	)
	if err != nil {
		return nil, storeError("insert event", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storeError("commit event", err)
	}

	id, _ := res.LastInsertId()
	rec := &RunEventRecord{
		ID:        id,
		RunID:     ev.RunID,
		Sequence:  seq,
		Type:      ev.Type,
		StepIndex: ev.StepIndex,
		Timestamp: ev.Timestamp,
	}
	if payload != nil {
		rec.Payload = json.RawMessage(payload.(string))
	}
	return rec, nil
}

type eventBody struct {
	From      schema.StepStatus `json:"from,omitempty"`
	To        schema.StepStatus `json:"to,omitempty"`
	Completed int               `json:"completed,omitempty"`
	Total     int               `json:"total,omitempty"`
	Message   string            `json:"message,omitempty"`
	Status    schema.RunStatus  `json:"status,omitempty"`
}

func eventPayload(ev schema.RunEvent) (any, error) {
	body := eventBody{
		From:      ev.From,
		To:        ev.To,
		Completed: ev.Completed,
		Total:     ev.Total,
		Message:   ev.Message,
	}
	if ev.Result != nil {
		body.Status = ev.Result.Status
	}
	if body == (eventBody{}) {
		return nil, nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return string(b), nil
}

// EventLog persists engine events as they are published and replays them.
type EventLog struct {
	store  *LibSQLStore
	logger *slog.Logger
}

// NewEventLog creates an EventLog over s. A nil logger uses slog.Default().
func NewEventLog(s *LibSQLStore, logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLog{store: s, logger: logger}
}

// AppendEvent appends ev to the store. The engine calls it synchronously for
// every event it publishes; failures are logged and do not stop the run.
func (el *EventLog) AppendEvent(ctx context.Context, ev schema.RunEvent) {
	if _, err := el.store.AppendRunEvent(ctx, ev); err != nil {
		el.logger.WarnContext(ctx, "append run event",
			slog.String("run_id", ev.RunID),
			slog.String("event", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}

// Replay rebuilds the last known status of every top-level step of runID
// from its step_status_changed events. A gap in the sequence is an error.
func (el *EventLog) Replay(ctx context.Context, runID string) (map[int]schema.StepStatus, error) {
	events, err := el.store.GetRunEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	states := make(map[int]schema.StepStatus)
	for i, e := range events {
		if want := int64(i + 1); e.Sequence != want {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, want, e.Sequence)
		}
		if e.Type != schema.EventStepStatusChanged || len(e.Payload) == 0 {
			continue
		}
		var body eventBody
		if err := json.Unmarshal(e.Payload, &body); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", e.Sequence, err)
		}
		states[e.StepIndex] = body.To
	}
	return states, nil
}
