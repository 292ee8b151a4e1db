// Package audit records the disposition of every message the bridge
// handles. Each pipeline decision, whether the message was accepted,
// rejected, forwarded, or failed, produces one immutable event.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/bridge/pkg/message"
)

// Outcome is the disposition of a message at a pipeline stage.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeRejected  Outcome = "rejected"
	OutcomeForwarded Outcome = "forwarded"
	OutcomeError     Outcome = "error"
)

// Event is a single audit record. Events are append-only; the bridge
// never updates or deletes a recorded event.
type Event struct {
	ID          string          `json:"id"`
	Outcome     Outcome         `json:"outcome"`
	Channel     message.Channel `json:"channel"`
	MessageID   string          `json:"messageId"`
	SenderID    string          `json:"senderId,omitempty"`
	Target      message.Channel `json:"target,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	TimestampMs int64           `json:"timestampMs"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// Log records audit events.
type Log interface {
	Record(ctx context.Context, event Event) error
}

// writerLog implements Log, appending one JSON object per line to a
// configurable Writer.
type writerLog struct {
	mu     sync.Mutex
	writer io.Writer
	now    func() time.Time
}

// NewWriterLog creates a Log writing JSONL to the given writer.
// A nil writer falls back to os.Stdout.
func NewWriterLog(w io.Writer) Log {
	if w == nil {
		w = os.Stdout
	}
	return &writerLog{writer: w, now: time.Now}
}

func (l *writerLog) Record(_ context.Context, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fill(&event, l.now)

	bytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = l.writer.Write(append(bytes, '\n'))
	return err
}

// fill assigns the identifiers a caller may omit.
func fill(event *Event, now func() time.Time) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.TimestampMs == 0 {
		event.TimestampMs = now().UnixMilli()
	}
}

// multiLog fans each event out to several sinks.
type multiLog struct {
	logs []Log
}

// NewMultiLog returns a Log recording to every given sink. All sinks
// are attempted; the first error wins.
func NewMultiLog(logs ...Log) Log {
	return &multiLog{logs: logs}
}

func (l *multiLog) Record(ctx context.Context, event Event) error {
	fill(&event, time.Now)

	var firstErr error
	for _, log := range l.logs {
		if err := log.Record(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// nopLog discards every event.
type nopLog struct{}

// NewNopLog returns a Log that drops all events. Useful when auditing
// is disabled by configuration.
func NewNopLog() Log { return nopLog{} }

func (nopLog) Record(context.Context, Event) error { return nil }
