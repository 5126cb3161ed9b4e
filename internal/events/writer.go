package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the world.
const (
	TypeSignal     = "signal"
	TypeNotice     = "notice"
	TypeEffect     = "effect"
	TypeVisibility = "visibility"
	TypeSchedule   = "schedule"
	TypeEncounter  = "encounter"
	TypeEntity     = "entity"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Record is an event produced during a tick and not yet written.
type Record struct {
	Tick    int64
	Type    string
	Subject string
	Payload EventPayload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, worldID string, tick int64, evtType, subject string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(world_id,tick,ts,type,subject,payload_json) VALUES (?,?,?,?,?,?)`,
		worldID, tick, ts, evtType, nullable(subject), string(data))
	return err
}

// AppendAll writes records in order.
func (w Writer) AppendAll(ctx context.Context, tx *sql.Tx, worldID string, records []Record) error {
	for _, r := range records {
		if err := w.Append(ctx, tx, worldID, r.Tick, r.Type, r.Subject, r.Payload); err != nil {
			return fmt.Errorf("append %s event: %w", r.Type, err)
		}
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
