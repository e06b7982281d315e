package events

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/session"
	"github.com/redis/go-redis/v9"
)

// Stream entry field names. Each record field is stored flat so XRANGE output
// stays readable from redis-cli.
const (
	fieldKind       = "kind"
	fieldRunID      = "run_id"
	fieldGeneration = "generation"
	fieldText       = "text"
	fieldCompletion = "completion"
	fieldAt         = "at"
)

// ErrUnknownKind rejects records whose kind the session never emits.
var ErrUnknownKind = errors.New("unknown session event kind")

// Record is one mirrored session event. ID is the stream entry id and is only
// set on records read back from Redis.
type Record struct {
	ID         string                 `json:"id,omitempty"`
	Kind       session.EventKind      `json:"kind"`
	RunID      string                 `json:"run_id,omitempty"`
	Generation uint64                 `json:"generation"`
	Text       string                 `json:"text,omitempty"`
	Completion session.CompletionKind `json:"completion,omitempty"`
	At         time.Time              `json:"at"`
}

// FromEvent copies a session event into a record.
func FromEvent(e session.Event) Record {
	return Record{
		Kind:       e.Kind,
		RunID:      e.RunID,
		Generation: e.Generation,
		Text:       e.Text,
		Completion: e.Completion,
		At:         e.At.UTC(),
	}
}

func (r Record) validate() error {
	switch r.Kind {
	case session.EventRunStarted, session.EventProgress, session.EventQuestion,
		session.EventAnswer, session.EventCompletion, session.EventReset:
	case "":
		return fmt.Errorf("event kind is required")
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}
	if r.Kind == session.EventCompletion && r.Completion == "" {
		return fmt.Errorf("completion event without completion kind")
	}
	return nil
}

func (r Record) values() map[string]interface{} {
	v := map[string]interface{}{
		fieldKind:       string(r.Kind),
		fieldGeneration: strconv.FormatUint(r.Generation, 10),
		fieldAt:         r.At.UTC().Format(time.RFC3339Nano),
	}
	if r.RunID != "" {
		v[fieldRunID] = r.RunID
	}
	if r.Text != "" {
		v[fieldText] = r.Text
	}
	if r.Completion != "" {
		v[fieldCompletion] = string(r.Completion)
	}
	return v
}

// parseRecord rebuilds a record from a stream entry.
func parseRecord(msg redis.XMessage) (Record, error) {
	str := func(k string) string {
		s, _ := msg.Values[k].(string)
		return s
	}
	rec := Record{
		ID:         msg.ID,
		Kind:       session.EventKind(str(fieldKind)),
		RunID:      str(fieldRunID),
		Text:       str(fieldText),
		Completion: session.CompletionKind(str(fieldCompletion)),
	}
	if g := str(fieldGeneration); g != "" {
		gen, err := strconv.ParseUint(g, 10, 64)
		if err != nil {
			return rec, fmt.Errorf("entry %s: generation: %w", msg.ID, err)
		}
		rec.Generation = gen
	}
	at, err := time.Parse(time.RFC3339Nano, str(fieldAt))
	if err != nil {
		return rec, fmt.Errorf("entry %s: timestamp: %w", msg.ID, err)
	}
	rec.At = at
	if err := rec.validate(); err != nil {
		return rec, fmt.Errorf("entry %s: %w", msg.ID, err)
	}
	return rec, nil
}
